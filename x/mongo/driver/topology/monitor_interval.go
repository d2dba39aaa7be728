// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync"
	"time"
)

// monitorInterval runs fn every interval. A call to wake runs fn early, but
// never sooner than minInterval after the previous run completed. Only one run
// is ever in flight.
type monitorInterval struct {
	fn          func(context.Context)
	interval    time.Duration
	minInterval time.Duration

	mu                sync.Mutex
	ctx               context.Context
	cancel            context.CancelFunc
	timer             *time.Timer
	seq               uint64 // identifies the currently scheduled timer
	lastCompleted     time.Time
	running           bool
	cannotBeExpedited bool
	stopped           bool
	done              sync.WaitGroup
}

// newMonitorInterval starts running fn. With immediate set, the first run
// starts right away; otherwise it starts after interval.
func newMonitorInterval(
	fn func(context.Context),
	interval, minInterval time.Duration,
	immediate bool,
) *monitorInterval {
	ctx, cancel := context.WithCancel(context.Background())
	mi := &monitorInterval{
		fn:          fn,
		interval:    interval,
		minInterval: minInterval,
		ctx:         ctx,
		cancel:      cancel,
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()

	if immediate {
		mi.scheduleLocked(0)
	} else {
		mi.lastCompleted = time.Now()
		mi.scheduleLocked(interval)
	}
	return mi
}

// wake requests an out-of-turn run.
func (mi *monitorInterval) wake() {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	if mi.stopped || mi.running || mi.cannotBeExpedited {
		return
	}

	sinceLast := time.Since(mi.lastCompleted)
	untilNext := mi.interval - sinceLast
	if untilNext <= 0 {
		mi.scheduleLocked(0)
		return
	}

	wait := mi.minInterval - sinceLast
	if wait < 0 {
		wait = 0
	}
	if wait < untilNext {
		mi.scheduleLocked(wait)
		mi.cannotBeExpedited = true
	}
}

// stop cancels any pending run and the context of an in-flight one. A stopped
// interval never runs fn again.
func (mi *monitorInterval) stop() {
	mi.mu.Lock()
	mi.stopped = true
	mi.seq++
	if mi.timer != nil {
		mi.timer.Stop()
		mi.timer = nil
	}
	mi.lastCompleted = time.Time{}
	mi.cannotBeExpedited = false
	mi.mu.Unlock()

	mi.cancel()
}

// wait blocks until an in-flight run returns.
func (mi *monitorInterval) wait() {
	mi.done.Wait()
}

func (mi *monitorInterval) scheduleLocked(d time.Duration) {
	if mi.stopped {
		return
	}
	if mi.timer != nil {
		mi.timer.Stop()
	}

	mi.seq++
	seq := mi.seq
	mi.timer = time.AfterFunc(d, func() { mi.execute(seq) })
}

func (mi *monitorInterval) execute(seq uint64) {
	mi.mu.Lock()
	if mi.stopped || seq != mi.seq || mi.running {
		mi.mu.Unlock()
		return
	}
	mi.running = true
	mi.cannotBeExpedited = false
	mi.timer = nil
	mi.done.Add(1)
	ctx := mi.ctx
	mi.mu.Unlock()

	defer mi.done.Done()
	mi.fn(ctx)

	mi.mu.Lock()
	defer mi.mu.Unlock()

	mi.running = false
	mi.lastCompleted = time.Now()
	mi.scheduleLocked(mi.interval)
}
