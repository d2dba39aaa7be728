// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync"
	"time"

	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/operation"
)

const rtt90MinSamples = 10

type rttConfig struct {
	address    address.Address
	interval   time.Duration
	timeout    time.Duration
	windowSize int
	dialer     Dialer
	hello      func() *operation.Hello
}

// rttMonitor measures round trip times on its own connection while the
// monitoring connection is blocked in a streaming hello.
type rttMonitor struct {
	mu      sync.RWMutex // guards sampler
	sampler *rttSampler

	closeWg  sync.WaitGroup
	cfg      *rttConfig
	ctx      context.Context
	cancelFn context.CancelFunc
}

func newRTTMonitor(cfg *rttConfig) *rttMonitor {
	if cfg.interval <= 0 {
		panic("RTT monitor interval must be greater than 0")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &rttMonitor{
		sampler:  newRTTSampler(cfg.windowSize),
		cfg:      cfg,
		ctx:      ctx,
		cancelFn: cancel,
	}
}

func (r *rttMonitor) connect() {
	r.closeWg.Add(1)
	go r.start()
}

func (r *rttMonitor) disconnect() {
	// Signal for the routine to stop.
	r.cancelFn()
	r.closeWg.Wait()
}

func (r *rttMonitor) start() {
	defer r.closeWg.Done()
	ticker := time.NewTicker(r.cfg.interval)
	defer ticker.Stop()

	var conn Connection
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		conn = r.ping(conn)

		select {
		case <-ticker.C:
		case <-r.ctx.Done():
			return
		}
	}
}

// ping runs a hello on conn and records its duration. A nil conn is dialed
// and handshaked first, and the handshake is the sample for this tick. Errors
// close the connection without touching the samples; it is redialed on the
// next tick.
func (r *rttMonitor) ping(conn Connection) Connection {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.timeout)
	defer cancel()

	start := time.Now()
	cmdFn := r.cfg.hello().Command
	if conn == nil {
		var err error
		conn, err = r.cfg.dialer.DialContext(ctx, r.cfg.address)
		if err != nil {
			return nil
		}
		cmdFn = r.cfg.hello().HandshakeCommand
	}

	cmd, err := cmdFn()
	if err == nil {
		_, err = runCommand(ctx, conn, cmd)
	}
	if err != nil {
		_ = conn.Close()
		return nil
	}
	r.addSample(time.Since(start))
	return conn
}

func (r *rttMonitor) addSample(rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sampler.addSample(rtt)
}

// reset discards all samples. Only the server monitor calls this, after a
// failed check; errors in the RTT monitor itself leave the samples alone.
func (r *rttMonitor) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sampler.clear()
}

// getRTT returns the mean of the sampled round trip times. It reports false
// until the first sample is recorded.
func (r *rttMonitor) getRTT() (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.sampler.last(); !ok {
		return 0, false
	}
	return r.sampler.average(), true
}

// getMinRTT returns the minimum sampled round-trip time.
func (r *rttMonitor) getMinRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sampler.min()
}

// getRTT90 returns the 90th percentile of the sampled round trip times.
func (r *rttMonitor) getRTT90() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sampler.percentile(90.0, rtt90MinSamples)
}
