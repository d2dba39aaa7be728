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
	"github.com/ikmak/mongo-sdam/x/mongo/driver/dns"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/session"
	"github.com/pkg/errors"
)

const (
	defaultServerSelectionTimeout = 30 * time.Second
	defaultConnectionTimeout      = 30 * time.Second
	defaultLocalThreshold         = 15 * time.Millisecond
	defaultRescanSRVInterval      = 60 * time.Second
	defaultSRVServiceName         = "mongodb"
)

var defaultSeedList = []string{"localhost:27017"}

// MonitorMode represents the way in which a server is monitored.
type MonitorMode uint8

// These constants are the available monitoring modes.
const (
	AutomaticMode MonitorMode = iota
	SingleMode
)

// Config is used to construct a topology.
type Config struct {
	Mode                   MonitorMode
	ReplicaSetName         string
	SeedList               []string
	ServerOpts             []ServerOption
	AppName                string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	LocalThreshold         time.Duration
	HeartbeatInterval      time.Duration
	MinHeartbeatInterval   time.Duration
	ServerMonitor          *event.ServerMonitor
	ServerMonitoringMode   string
	LoadBalanced           bool
	ClusterClock           *session.ClusterClock
	Logger                 *logger.Logger
	Dialer                 Dialer
	PoolFactory            PoolFactory

	// SRVHost, when set, replaces the seed list with the hosts of the SRV
	// records found at _<SRVServiceName>._tcp.<SRVHost>.
	SRVHost           string
	SRVServiceName    string
	SRVMaxHosts       int
	RescanSRVInterval time.Duration

	resolver *dns.Resolver
}

// Option configures a topology.
type Option func(*Config) error

// NewConfig applies opts over the defaults and validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		SeedList:               append([]string(nil), defaultSeedList...),
		ConnectTimeout:         defaultConnectionTimeout,
		ServerSelectionTimeout: defaultServerSelectionTimeout,
		LocalThreshold:         defaultLocalThreshold,
		HeartbeatInterval:      defaultHeartbeatInterval,
		MinHeartbeatInterval:   defaultMinHeartbeatInterval,
		ServerMonitoringMode:   ServerMonitoringModeAuto,
		SRVServiceName:         defaultSRVServiceName,
		RescanSRVInterval:      defaultRescanSRVInterval,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		log, err := logger.New(nil, 0, nil)
		if err != nil {
			return nil, errors.Wrap(err, "error creating logger")
		}
		cfg.Logger = log
	}
	if cfg.resolver == nil {
		cfg.resolver = dns.DefaultResolver
	}

	cfg.ServerOpts = append(cfg.serverOptions(), cfg.ServerOpts...)
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Mode != AutomaticMode && cfg.Mode != SingleMode {
		return errors.Errorf("unknown monitor mode %d", cfg.Mode)
	}
	if cfg.Mode == SingleMode {
		if len(cfg.SeedList) > 1 {
			return errors.New("a direct connection cannot be made if multiple hosts are specified")
		}
		if cfg.SRVHost != "" {
			return errors.New("a direct connection cannot be made if an SRV host is specified")
		}
	}
	if cfg.LoadBalanced {
		if len(cfg.SeedList) > 1 {
			return errors.New("load balanced mode cannot be used with multiple hosts")
		}
		if cfg.ReplicaSetName != "" {
			return errors.New("load balanced mode cannot be used with a replica set name")
		}
		if cfg.Mode == SingleMode {
			return errors.New("load balanced mode cannot be used with a direct connection")
		}
	}
	if cfg.SRVMaxHosts < 0 {
		return errors.New("SRVMaxHosts must not be negative")
	}
	if cfg.SRVMaxHosts > 0 && cfg.ReplicaSetName != "" {
		return errors.New("SRVMaxHosts cannot be used with a replica set name")
	}
	if cfg.SRVHost == "" && len(cfg.SeedList) == 0 {
		return errors.New("at least one seed is required")
	}

	switch cfg.ServerMonitoringMode {
	case ServerMonitoringModeAuto, ServerMonitoringModePoll, ServerMonitoringModeStream:
	default:
		return errors.Errorf("invalid server monitoring mode %q", cfg.ServerMonitoringMode)
	}

	if cfg.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if cfg.MinHeartbeatInterval > cfg.HeartbeatInterval {
		return errors.Errorf("min heartbeat interval %v exceeds heartbeat interval %v",
			cfg.MinHeartbeatInterval, cfg.HeartbeatInterval)
	}
	if cfg.ServerSelectionTimeout <= 0 {
		return errors.New("server selection timeout must be positive")
	}
	return nil
}

// serverOptions carries the topology-wide settings down to each server.
func (cfg *Config) serverOptions() []ServerOption {
	mode := cfg.ServerMonitoringMode
	opts := []ServerOption{
		WithServerAppName(func(string) string { return cfg.AppName }),
		WithHeartbeatInterval(func(time.Duration) time.Duration { return cfg.HeartbeatInterval }),
		WithMinHeartbeatInterval(func(time.Duration) time.Duration { return cfg.MinHeartbeatInterval }),
		WithHeartbeatTimeout(func(time.Duration) time.Duration { return cfg.ConnectTimeout }),
		WithServerMonitoringMode(&mode),
		WithServerMonitor(func(*event.ServerMonitor) *event.ServerMonitor { return cfg.ServerMonitor }),
		WithClock(func(*session.ClusterClock) *session.ClusterClock { return cfg.ClusterClock }),
		WithServerLoadBalanced(func(bool) bool { return cfg.LoadBalanced }),
		withLogger(func() *logger.Logger { return cfg.Logger }),
	}
	if cfg.Dialer != nil {
		opts = append(opts, WithDialer(func(Dialer) Dialer { return cfg.Dialer }))
	}
	if cfg.PoolFactory != nil {
		opts = append(opts, WithPoolFactory(func(PoolFactory) PoolFactory { return cfg.PoolFactory }))
	}
	return opts
}

// WithSeedList configures the hosts the topology starts from.
func WithSeedList(hosts ...string) Option {
	return func(cfg *Config) error {
		cfg.SeedList = append([]string(nil), hosts...)
		return nil
	}
}

// WithDirectConnection connects to the single seed only and never discovers
// other members.
func WithDirectConnection(direct bool) Option {
	return func(cfg *Config) error {
		if direct {
			cfg.Mode = SingleMode
		} else {
			cfg.Mode = AutomaticMode
		}
		return nil
	}
}

// WithReplicaSetName fixes the replica set name servers must report.
func WithReplicaSetName(name string) Option {
	return func(cfg *Config) error {
		cfg.ReplicaSetName = name
		return nil
	}
}

// WithLoadBalanced treats the single seed as a load balancer.
func WithLoadBalanced(loadBalanced bool) Option {
	return func(cfg *Config) error {
		cfg.LoadBalanced = loadBalanced
		return nil
	}
}

// WithAppName sets the application name sent in connection handshakes.
func WithAppName(name string) Option {
	return func(cfg *Config) error {
		cfg.AppName = name
		return nil
	}
}

// WithServerSelectionTimeout bounds how long SelectServer waits for a
// suitable server.
func WithServerSelectionTimeout(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.ServerSelectionTimeout = d
		return nil
	}
}

// WithLocalThreshold configures the width of the latency window.
func WithLocalThreshold(d time.Duration) Option {
	return func(cfg *Config) error {
		if d < 0 {
			return errors.Errorf("local threshold must not be negative, got %v", d)
		}
		cfg.LocalThreshold = d
		return nil
	}
}

// WithHeartbeatFrequency configures how often servers are checked.
func WithHeartbeatFrequency(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.HeartbeatInterval = d
		return nil
	}
}

// WithMinHeartbeatFrequency configures how soon after a check a requested
// check may run.
func WithMinHeartbeatFrequency(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.MinHeartbeatInterval = d
		return nil
	}
}

// WithConnectTimeout bounds connection establishment and non-streaming
// heartbeats.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.ConnectTimeout = d
		return nil
	}
}

// WithSRV seeds the topology from the SRV records of host, polling them
// again while the topology is sharded.
func WithSRV(host string) Option {
	return func(cfg *Config) error {
		cfg.SRVHost = host
		cfg.SeedList = nil
		return nil
	}
}

// WithSRVServiceName overrides the "mongodb" SRV service name.
func WithSRVServiceName(name string) Option {
	return func(cfg *Config) error {
		if name == "" {
			return errors.New("SRV service name must not be empty")
		}
		cfg.SRVServiceName = name
		return nil
	}
}

// WithSRVMaxHosts caps the number of hosts taken from SRV records. Zero
// means no limit.
func WithSRVMaxHosts(n int) Option {
	return func(cfg *Config) error {
		cfg.SRVMaxHosts = n
		return nil
	}
}

// WithRescanSRVInterval configures how often SRV records are polled.
func WithRescanSRVInterval(d time.Duration) Option {
	return func(cfg *Config) error {
		if d <= 0 {
			return errors.Errorf("SRV rescan interval must be positive, got %v", d)
		}
		cfg.RescanSRVInterval = d
		return nil
	}
}

// WithMonitoringMode selects between streaming and polling heartbeats.
func WithMonitoringMode(mode string) Option {
	return func(cfg *Config) error {
		cfg.ServerMonitoringMode = mode
		return nil
	}
}

// WithEventMonitor registers callbacks for SDAM events.
func WithEventMonitor(monitor *event.ServerMonitor) Option {
	return func(cfg *Config) error {
		cfg.ServerMonitor = monitor
		return nil
	}
}

// WithTopologyLogger configures structured logging.
func WithTopologyLogger(log *logger.Logger) Option {
	return func(cfg *Config) error {
		cfg.Logger = log
		return nil
	}
}

// WithClusterClock shares a cluster clock that heartbeats advance.
func WithClusterClock(clock *session.ClusterClock) Option {
	return func(cfg *Config) error {
		cfg.ClusterClock = clock
		return nil
	}
}

// WithConnectionDialer configures how monitoring and pooled connections are
// opened.
func WithConnectionDialer(dialer Dialer) Option {
	return func(cfg *Config) error {
		cfg.Dialer = dialer
		return nil
	}
}

// WithConnectionPoolFactory replaces the default connection pool.
func WithConnectionPoolFactory(factory PoolFactory) Option {
	return func(cfg *Config) error {
		cfg.PoolFactory = factory
		return nil
	}
}

// WithServerOptions appends options applied to every server after the
// topology-wide ones.
func WithServerOptions(opts ...ServerOption) Option {
	return func(cfg *Config) error {
		cfg.ServerOpts = append(cfg.ServerOpts, opts...)
		return nil
	}
}

func withResolver(r *dns.Resolver) Option {
	return func(cfg *Config) error {
		cfg.resolver = r
		return nil
	}
}
