// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ikmak/mongo-sdam/event"
	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// minWireVersionKeepsPool is the first wire version (MongoDB 4.2) whose
// servers keep connections open across a "not primary" state change.
const minWireVersionKeepsPool = 8

func serverStateString(state int64) string {
	switch state {
	case disconnected:
		return "Disconnected"
	case disconnecting:
		return "Disconnecting"
	case connected:
		return "Connected"
	}

	return ""
}

// ProcessErrorResult describes what ProcessError did with an error.
type ProcessErrorResult int

const (
	// NoChange indicates that the error did not affect the state of the server.
	NoChange ProcessErrorResult = iota
	// ServerMarkedUnknown indicates that the error only resulted in the server being marked as Unknown.
	ServerMarkedUnknown
	// ConnectionPoolCleared indicates that the error resulted in the server being marked as Unknown and its connection
	// pool being cleared.
	ConnectionPoolCleared
)

// SelectedServer represents a specific server that was selected during server selection.
// It contains the kind of the topology it was selected from.
type SelectedServer struct {
	*Server

	Kind description.TopologyKind
}

type updateTopologyCallback func(description.Server) description.Server

// Server is a single server within a topology.
type Server struct {
	// state must be accessed using the atomic package and should be at the beginning of the struct.
	// - atomic bug: https://pkg.go.dev/sync/atomic#pkg-note-BUG
	// - suggested layout: https://go101.org/article/memory-layout.html
	state int64

	cfg        *serverConfig
	address    address.Address
	topologyID primitive.ObjectID

	desc atomic.Value // holds a description.Server

	pool    ConnectionPool
	monitor *monitor
	results chan heartbeatResult

	done    chan struct{}
	closewg sync.WaitGroup

	updateTopologyCallback atomic.Value
	processErrorLock       sync.Mutex

	subLock             sync.Mutex
	subscribers         map[uint64]chan description.Server
	currentSubscriberID uint64
	subscriptionsClosed bool
}

// NewServer creates a new server. The server at the address will be monitored
// on an internal monitoring goroutine once it is connected.
func NewServer(addr address.Address, topologyID primitive.ObjectID, opts ...ServerOption) *Server {
	cfg := newServerConfig(opts...)
	s := &Server{
		state: disconnected,

		cfg:     cfg,
		address: addr,

		done:    make(chan struct{}),
		results: make(chan heartbeatResult),

		topologyID: topologyID,

		subscribers: make(map[uint64]chan description.Server),
	}
	s.desc.Store(description.NewDefaultServer(addr))
	s.updateTopologyCallback.Store(updateTopologyCallback(nil))

	if !cfg.monitoringDisabled && !cfg.loadBalanced {
		s.monitor = newMonitor(addr, topologyID, cfg, s.Description, s.results)
	}
	s.pool = cfg.poolFactory(addr, cfg.dialer, cfg.maxConns)

	return s
}

func mustLogServerMessage(srv *Server) bool {
	return srv.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentTopology)
}

func logServerMessage(srv *Server, msg string, keysAndValues ...interface{}) {
	srv.cfg.logger.Print(logger.LevelDebug,
		logger.ComponentTopology,
		msg,
		logger.SerializeServer(logger.Server{
			TopologyID: srv.topologyID,
			Message:    msg,
			Address:    srv.address.String(),
		}, keysAndValues...)...)
}

// Connect initializes the Server by starting background monitoring goroutines.
// This method must be called before a Server can be used.
func (s *Server) Connect(updateCallback updateTopologyCallback) error {
	if !atomic.CompareAndSwapInt64(&s.state, disconnected, connected) {
		return ErrServerConnected
	}

	desc := description.NewDefaultServer(s.address)
	if s.cfg.loadBalanced {
		// A load balancer is never monitored, so it starts out selectable.
		desc = description.NewServer(s.address, nil, description.WithLoadBalanced())
	}
	s.desc.Store(desc)
	s.updateTopologyCallback.Store(updateCallback)
	s.pool.Connect()

	if s.monitor != nil {
		s.closewg.Add(1)
		go s.update()
		s.monitor.connect()
	}

	return nil
}

// Disconnect stops monitoring, closes subscriptions and closes the pool. In
// use connections are waited for until ctx expires and are then closed.
func (s *Server) Disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&s.state, connected, disconnecting) {
		return ErrServerClosed
	}

	s.updateTopologyCallback.Store(updateTopologyCallback(nil))

	if s.monitor != nil {
		s.monitor.close()
	}
	close(s.done)
	s.closewg.Wait()
	s.closeSubscriptions()

	err := s.pool.Close(ctx)
	atomic.StoreInt64(&s.state, disconnected)

	if mustLogServerMessage(s) {
		logServerMessage(s, logger.TopologyServerClosed)
	}
	return err
}

// Checkout gets a connection to the server.
func (s *Server) Checkout(ctx context.Context) (*PooledConnection, error) {
	if atomic.LoadInt64(&s.state) != connected {
		return nil, ErrServerClosed
	}
	return s.pool.Checkout(ctx)
}

// Checkin returns a connection to the server's pool.
func (s *Server) Checkin(pc *PooledConnection) error {
	return s.pool.Checkin(pc)
}

// Description returns a description of the server as of the last heartbeat.
func (s *Server) Description() description.Server {
	return s.desc.Load().(description.Server)
}

// Subscribe returns a ServerSubscription which has a channel on which all
// updated server descriptions will be sent. The channel will have a buffer
// size of one, and will be pre-populated with the current description.
func (s *Server) Subscribe() (*ServerSubscription, error) {
	if atomic.LoadInt64(&s.state) != connected {
		return nil, ErrSubscribeAfterClosed
	}
	ch := make(chan description.Server, 1)
	ch <- s.Description()

	s.subLock.Lock()
	defer s.subLock.Unlock()
	if s.subscriptionsClosed {
		return nil, ErrSubscribeAfterClosed
	}
	id := s.currentSubscriberID
	s.subscribers[id] = ch
	s.currentSubscriberID++

	ss := &ServerSubscription{
		C:  ch,
		s:  s,
		id: id,
	}

	return ss, nil
}

// RequestImmediateCheck will cause the server to send a heartbeat immediately
// instead of waiting for the heartbeat timeout.
func (s *Server) RequestImmediateCheck() {
	if s.monitor != nil {
		s.monitor.requestCheck()
	}
}

// ProcessError handles an error seen by an operation on a connection checked
// out of this server. State change errors and network errors mark the
// server Unknown; errors from connections created before the last pool clear
// are ignored.
func (s *Server) ProcessError(err error, conn *PooledConnection) ProcessErrorResult {
	if err == nil || s.cfg.loadBalanced {
		return NoChange
	}

	// Hold the lock so the description update and the pool clear are not
	// interleaved with those of a concurrent heartbeat.
	s.processErrorLock.Lock()
	defer s.processErrorLock.Unlock()

	if conn != nil && s.pool.Stale(conn) {
		return NoChange
	}

	desc := s.Description()
	var cerr CommandError
	if errors.As(err, &cerr) && cerr.stateChange() {
		if desc.TopologyVersion.CompareToIncoming(cerr.TopologyVersion) >= 0 {
			return NoChange
		}

		s.updateDescription(description.NewServerFromError(s.address, err, cerr.TopologyVersion))
		s.RequestImmediateCheck()

		res := ServerMarkedUnknown
		if cerr.NodeIsShuttingDown() || desc.MaxWireVersion() < minWireVersionKeepsPool {
			s.clearPool(err)
			res = ConnectionPoolCleared
		}
		return res
	}

	if !isNetworkError(err) || isTimeoutError(err) {
		return NoChange
	}

	s.updateDescription(description.NewServerFromError(s.address, err, nil))
	s.clearPool(err)
	// Only a server that reported a topology version can have a streaming
	// check blocked on it.
	if s.monitor != nil && desc.TopologyVersion != nil {
		s.monitor.reset()
	}
	return ConnectionPoolCleared
}

// update applies heartbeat results until the server is disconnected.
func (s *Server) update() {
	defer s.closewg.Done()

	for {
		select {
		case res := <-s.results:
			s.processErrorLock.Lock()
			s.updateDescription(res.desc)
			if res.clearPool {
				s.clearPool(res.desc.LastError)
			}
			s.processErrorLock.Unlock()
		case <-s.done:
			return
		}
	}
}

// updateDescription hands desc to the topology and stores the description the
// topology settles on.
func (s *Server) updateDescription(desc description.Server) {
	if s.cfg.loadBalanced {
		// In load balanced mode the server stays selectable no matter which
		// errors pooled connections see.
		return
	}

	callback, ok := s.updateTopologyCallback.Load().(updateTopologyCallback)
	if ok && callback != nil {
		desc = callback(desc)
	}
	s.desc.Store(desc)

	s.subLock.Lock()
	for _, c := range s.subscribers {
		select {
		// drain the channel if it isn't empty
		case <-c:
		default:
		}
		c <- desc
	}
	s.subLock.Unlock()
}

func (s *Server) clearPool(err error) {
	s.pool.Clear(err)

	if s.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentConnection) {
		var failure string
		if err != nil {
			failure = err.Error()
		}
		s.cfg.logger.Print(logger.LevelDebug, logger.ComponentConnection, logger.ConnectionPoolCleared,
			logger.SerializeServer(logger.Server{
				TopologyID: s.topologyID,
				Message:    logger.ConnectionPoolCleared,
				Address:    s.address.String(),
			}, logger.KeyGeneration, s.pool.Generation(), logger.KeyFailure, failure)...)
	}
}

func (s *Server) closeSubscriptions() {
	s.subLock.Lock()
	defer s.subLock.Unlock()

	for id, c := range s.subscribers {
		close(c)
		delete(s.subscribers, id)
	}
	s.subscriptionsClosed = true
}

// String implements the Stringer interface.
func (s *Server) String() string {
	desc := s.Description()
	state := atomic.LoadInt64(&s.state)
	str := fmt.Sprintf("Addr: %s, Type: %s, State: %s",
		s.address, desc.Kind, serverStateString(state))
	if len(desc.Tags) != 0 {
		str += fmt.Sprintf(", Tag sets: %s", desc.Tags)
	}
	if rtt := desc.RoundTripTime(); state == connected && rtt != description.UnsetRTT {
		str += fmt.Sprintf(", Average RTT: %s", rtt)
	}
	if desc.LastError != nil {
		str += fmt.Sprintf(", Last error: %s", desc.LastError)
	}

	return str
}

// ServerSubscription represents a subscription to the description.Server updates for
// a specific server.
type ServerSubscription struct {
	C  <-chan description.Server
	s  *Server
	id uint64
}

// Unsubscribe unsubscribes this ServerSubscription from updates and closes the
// subscription channel.
func (ss *ServerSubscription) Unsubscribe() error {
	ss.s.subLock.Lock()
	defer ss.s.subLock.Unlock()
	if ss.s.subscriptionsClosed {
		return nil
	}

	ch, ok := ss.s.subscribers[ss.id]
	if !ok {
		return nil
	}

	close(ch)
	delete(ss.s.subscribers, ss.id)

	return nil
}

// publishes a ServerOpeningEvent to indicate the server is being initialized
func (s *Server) publishServerOpeningEvent() {
	if s.cfg.serverMonitor != nil && s.cfg.serverMonitor.ServerOpening != nil {
		s.cfg.serverMonitor.ServerOpening(&event.ServerOpeningEvent{
			Address:    s.address,
			TopologyID: s.topologyID,
		})
	}

	if mustLogServerMessage(s) {
		logServerMessage(s, logger.TopologyServerOpening)
	}
}
