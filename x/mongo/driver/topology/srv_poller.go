// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync"
	"time"

	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/dns"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// srvPoller periodically resolves the SRV records of a host and hands every
// non-empty host list to onHosts. After a failed or empty poll it retries on
// the shorter haInterval until a poll succeeds.
type srvPoller struct {
	host       string
	service    string
	resolver   *dns.Resolver
	interval   time.Duration
	haInterval time.Duration
	onHosts    func([]string)

	topologyID primitive.ObjectID
	logger     *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	haMode  bool
	started bool
}

func newSRVPoller(cfg *Config, topologyID primitive.ObjectID, onHosts func([]string)) *srvPoller {
	return &srvPoller{
		host:       cfg.SRVHost,
		service:    cfg.SRVServiceName,
		resolver:   cfg.resolver,
		interval:   cfg.RescanSRVInterval,
		haInterval: cfg.HeartbeatInterval,
		onHosts:    onHosts,
		topologyID: topologyID,
		logger:     cfg.Logger,
	}
}

// start begins polling. The first poll happens one interval from now. Calling
// start on a running poller does nothing.
func (p *srvPoller) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)
}

// stop ends polling and waits for an in-flight poll to return.
func (p *srvPoller) stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *srvPoller) nextInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haMode {
		return p.haInterval
	}
	return p.interval
}

func (p *srvPoller) loop(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(p.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ok := p.poll(ctx)

		p.mu.Lock()
		p.haMode = !ok
		p.mu.Unlock()

		timer.Reset(p.nextInterval())
	}
}

// poll runs a single lookup and reports whether it produced hosts.
func (p *srvPoller) poll(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	records, err := p.resolver.LookupHosts(ctx, p.host, p.service)
	if len(records.Rejected) > 0 && p.mustLog() {
		p.log(logger.SRVRecordsRejected, logger.KeyRejected, records.Rejected)
	}
	if err != nil {
		if ctx.Err() == nil && p.mustLog() {
			p.log(logger.SRVPollFailed, logger.KeyFailure, err.Error())
		}
		return false
	}

	p.onHosts(records.Hosts)
	return true
}

func (p *srvPoller) mustLog() bool {
	return p.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentTopology)
}

func (p *srvPoller) log(msg string, keysAndValues ...interface{}) {
	p.logger.Print(logger.LevelDebug, logger.ComponentTopology, msg,
		logger.SerializeTopology(logger.Topology{
			ID:      p.topologyID,
			Message: msg,
		}, append([]interface{}{logger.KeySRVHost, p.host}, keysAndValues...)...)...)
}
