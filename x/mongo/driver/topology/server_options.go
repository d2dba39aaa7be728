// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"time"

	"github.com/ikmak/mongo-sdam/event"
	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/session"
)

// Server monitoring modes.
const (
	// ServerMonitoringModeAuto streams heartbeats unless the process runs on
	// a function-as-a-service platform.
	ServerMonitoringModeAuto = "auto"

	// ServerMonitoringModePoll always polls.
	ServerMonitoringModePoll = "poll"

	// ServerMonitoringModeStream streams whenever the server supports it.
	ServerMonitoringModeStream = "stream"
)

const (
	defaultHeartbeatInterval    = 10 * time.Second
	defaultMinHeartbeatInterval = 500 * time.Millisecond
)

type serverConfig struct {
	clock                *session.ClusterClock
	appname              string
	heartbeatInterval    time.Duration
	minHeartbeatInterval time.Duration
	heartbeatTimeout     time.Duration
	serverMonitoringMode string
	faasEnv              func() string
	serverMonitor        *event.ServerMonitor
	monitoringDisabled   bool
	loadBalanced         bool
	logger               *logger.Logger

	dialer      Dialer
	poolFactory PoolFactory
	maxConns    uint64
}

func newServerConfig(opts ...ServerOption) *serverConfig {
	cfg := &serverConfig{
		heartbeatInterval:    defaultHeartbeatInterval,
		minHeartbeatInterval: defaultMinHeartbeatInterval,
		heartbeatTimeout:     defaultConnectionTimeout,
		serverMonitoringMode: ServerMonitoringModeAuto,
		dialer:               DefaultDialer,
		poolFactory:          newPool,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(cfg)
	}

	return cfg
}

// ServerOption configures a server.
type ServerOption func(*serverConfig)

func withMonitoringDisabled(fn func(bool) bool) ServerOption {
	return func(cfg *serverConfig) {
		cfg.monitoringDisabled = fn(cfg.monitoringDisabled)
	}
}

// WithServerAppName configures the server's application name.
func WithServerAppName(fn func(string) string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.appname = fn(cfg.appname)
	}
}

// WithHeartbeatInterval configures a server's heartbeat interval.
func WithHeartbeatInterval(fn func(time.Duration) time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.heartbeatInterval = fn(cfg.heartbeatInterval)
	}
}

// WithMinHeartbeatInterval configures how soon after a heartbeat an
// immediate check may run.
func WithMinHeartbeatInterval(fn func(time.Duration) time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.minHeartbeatInterval = fn(cfg.minHeartbeatInterval)
	}
}

// WithHeartbeatTimeout configures how long to wait for a heartbeat socket to
// connection.
func WithHeartbeatTimeout(fn func(time.Duration) time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.heartbeatTimeout = fn(cfg.heartbeatTimeout)
	}
}

// WithServerMonitoringMode configures the mode (stream, poll, or auto) to use
// for monitoring.
func WithServerMonitoringMode(mode *string) ServerOption {
	return func(cfg *serverConfig) {
		if mode != nil {
			cfg.serverMonitoringMode = *mode
			return
		}

		cfg.serverMonitoringMode = ServerMonitoringModeAuto
	}
}

// WithFaaSDetector overrides how a function-as-a-service platform is
// detected for ServerMonitoringModeAuto. fn returns the platform name, or ""
// when there is none.
func WithFaaSDetector(fn func() string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.faasEnv = fn
	}
}

// WithServerMonitor configures the monitor for all SDAM events for a server.
func WithServerMonitor(fn func(*event.ServerMonitor) *event.ServerMonitor) ServerOption {
	return func(cfg *serverConfig) {
		cfg.serverMonitor = fn(cfg.serverMonitor)
	}
}

// WithClock configures the ClusterClock for the server to use.
func WithClock(fn func(clock *session.ClusterClock) *session.ClusterClock) ServerOption {
	return func(cfg *serverConfig) {
		cfg.clock = fn(cfg.clock)
	}
}

// WithServerLoadBalanced specifies whether or not the server is behind a load balancer.
func WithServerLoadBalanced(fn func(bool) bool) ServerOption {
	return func(cfg *serverConfig) {
		cfg.loadBalanced = fn(cfg.loadBalanced)
	}
}

// WithDialer configures how connections to the server are opened, both for
// monitoring and for the connection pool.
func WithDialer(fn func(Dialer) Dialer) ServerOption {
	return func(cfg *serverConfig) {
		cfg.dialer = fn(cfg.dialer)
	}
}

// WithPoolFactory replaces the default connection pool.
func WithPoolFactory(fn func(PoolFactory) PoolFactory) ServerOption {
	return func(cfg *serverConfig) {
		cfg.poolFactory = fn(cfg.poolFactory)
	}
}

// WithMaxConnections configures the maximum number of connections to allow for
// a given server. If max is 0, the pool default is used.
func WithMaxConnections(fn func(uint64) uint64) ServerOption {
	return func(cfg *serverConfig) {
		cfg.maxConns = fn(cfg.maxConns)
	}
}

// withLogger configures the logger for the server to use.
func withLogger(fn func() *logger.Logger) ServerOption {
	return func(cfg *serverConfig) {
		cfg.logger = fn()
	}
}
