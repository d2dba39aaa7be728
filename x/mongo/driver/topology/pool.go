// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ikmak/mongo-sdam/mongo/address"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConnections = 100

// These constants represent the connection states of a pool or server.
const (
	disconnected int64 = iota
	disconnecting
	connected
)

// ErrPoolClosed is returned when a connection is checked out of a closed pool.
var ErrPoolClosed = errors.New("attempted to check out a connection from closed connection pool")

// PooledConnection is a Connection checked out of a ConnectionPool. It
// remembers the pool generation it was created in so errors it reports after a
// clear can be recognized as stale.
type PooledConnection struct {
	Connection
	Generation uint64

	pool   *pool
	closed int32
}

// ConnectionPool is the handle a Server holds on its application
// connections.
type ConnectionPool interface {
	Checkout(ctx context.Context) (*PooledConnection, error)
	Checkin(pc *PooledConnection) error

	// Clear closes idle connections and advances the generation so that
	// connections created before the call are discarded when checked in.
	Clear(err error)
	Generation() uint64
	Stale(pc *PooledConnection) bool

	Connect()
	Close(ctx context.Context) error
}

// PoolFactory creates the pool for the server at addr.
type PoolFactory func(addr address.Address, dialer Dialer, maxConnections uint64) ConnectionPool

type pool struct {
	address        address.Address
	dialer         Dialer
	idle           chan *PooledConnection
	generation     uint64
	sem            *semaphore.Weighted
	state          int64
	maxConnections uint64

	mu       sync.Mutex
	inflight map[*PooledConnection]struct{}
}

var _ ConnectionPool = (*pool)(nil)

// newPool creates a pool that keeps up to maxConnections connections open.
func newPool(addr address.Address, dialer Dialer, maxConnections uint64) ConnectionPool {
	if maxConnections == 0 {
		maxConnections = defaultMaxConnections
	}
	return &pool{
		address:        addr,
		dialer:         dialer,
		idle:           make(chan *PooledConnection, maxConnections),
		sem:            semaphore.NewWeighted(int64(maxConnections)),
		state:          disconnected,
		maxConnections: maxConnections,
		inflight:       make(map[*PooledConnection]struct{}),
	}
}

func (p *pool) Connect() {
	atomic.CompareAndSwapInt64(&p.state, disconnected, connected)
}

func (p *pool) Generation() uint64 {
	return atomic.LoadUint64(&p.generation)
}

func (p *pool) Stale(pc *PooledConnection) bool {
	return atomic.LoadInt64(&p.state) != connected || pc.Generation < p.Generation()
}

func (p *pool) Checkout(ctx context.Context) (*PooledConnection, error) {
	if atomic.LoadInt64(&p.state) != connected {
		return nil, ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, WaitQueueTimeoutError{Wrapped: err, maxConnections: int64(p.maxConnections)}
	}

	for {
		var pc *PooledConnection
		select {
		case pc = <-p.idle:
		default:
		}
		if pc == nil {
			break
		}
		if p.Stale(pc) {
			_ = p.closeConnection(pc)
			continue
		}
		return pc, nil
	}

	generation := p.Generation()
	conn, err := p.dialer.DialContext(ctx, p.address)
	if err != nil {
		p.sem.Release(1)
		return nil, wrapConnectionError(p.address, err)
	}
	pc := &PooledConnection{Connection: conn, Generation: generation, pool: p}

	p.mu.Lock()
	defer p.mu.Unlock()
	if atomic.LoadInt64(&p.state) != connected {
		p.sem.Release(1)
		_ = conn.Close()
		return nil, ErrPoolClosed
	}
	p.inflight[pc] = struct{}{}
	return pc, nil
}

func (p *pool) Checkin(pc *PooledConnection) error {
	if pc == nil || pc.pool != p {
		return errors.New("connection does not belong to this pool")
	}
	p.sem.Release(1)

	if p.Stale(pc) {
		return p.closeConnection(pc)
	}
	select {
	case p.idle <- pc:
		return nil
	default:
		return p.closeConnection(pc)
	}
}

func (p *pool) Clear(error) {
	atomic.AddUint64(&p.generation, 1)
	p.drainIdle()
}

// Close drains idle connections and then waits, until ctx expires, for
// checked-out connections to be returned. Connections still out after that
// are closed in place.
func (p *pool) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&p.state, connected, disconnecting) {
		return nil
	}
	p.drainIdle()

	err := p.sem.Acquire(ctx, int64(p.maxConnections))
	if err != nil {
		p.mu.Lock()
		toClose := make([]*PooledConnection, 0, len(p.inflight))
		for pc := range p.inflight {
			toClose = append(toClose, pc)
		}
		p.mu.Unlock()
		for _, pc := range toClose {
			_ = p.closeConnection(pc)
		}
	} else {
		p.sem.Release(int64(p.maxConnections))
	}
	atomic.StoreInt64(&p.state, disconnected)
	return nil
}

func (p *pool) drainIdle() {
	for {
		select {
		case pc := <-p.idle:
			_ = p.closeConnection(pc)
		default:
			return
		}
	}
}

func (p *pool) closeConnection(pc *PooledConnection) error {
	if !atomic.CompareAndSwapInt32(&pc.closed, 0, 1) {
		return nil
	}
	p.mu.Lock()
	delete(p.inflight, pc)
	p.mu.Unlock()

	if err := pc.Connection.Close(); err != nil {
		return ConnectionError{Address: p.address.String(), Wrapped: err, message: "failed to close connection"}
	}
	return nil
}
