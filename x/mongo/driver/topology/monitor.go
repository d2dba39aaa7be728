// Copyright (C) MongoDB, Inc. 2024-present.
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
	"time"

	"github.com/ikmak/mongo-sdam/event"
	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/operation"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	monitorClosed int64 = iota
	monitorIdle
	monitorMonitoring
	monitorClosing
)

// heartbeatResult is what a monitor reports to its server after each check.
type heartbeatResult struct {
	desc description.Server

	// clearPool is set when the check failed. The server clears its pool
	// after storing desc.
	clearPool bool
}

// checkLoop holds the connections used by one run of a monitor, from connect
// or reset until the next reset or close.
type checkLoop struct {
	mu     sync.Mutex
	conn   Connection
	rtt    *rttMonitor
	closed bool
}

func (l *checkLoop) connection() Connection {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.conn
}

// setConnection stores conn unless the loop was closed in the meantime.
func (l *checkLoop) setConnection(conn Connection) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.conn = conn
	return true
}

func (l *checkLoop) closeConnection() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (l *checkLoop) startRTT(newFn func() *rttMonitor) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.rtt != nil {
		return
	}
	l.rtt = newFn()
	l.rtt.connect()
}

func (l *checkLoop) stopRTT() {
	l.mu.Lock()
	rtt := l.rtt
	l.rtt = nil
	l.mu.Unlock()

	if rtt != nil {
		rtt.disconnect()
	}
}

// resetRTT clears the pinger's samples. The pinger itself keeps running.
func (l *checkLoop) resetRTT() {
	l.mu.Lock()
	rtt := l.rtt
	l.mu.Unlock()

	if rtt != nil {
		rtt.reset()
	}
}

// streamingRTT records the pinger's statistics on desc. The description is
// returned unchanged until the pinger has a sample.
func (l *checkLoop) streamingRTT(desc description.Server) description.Server {
	l.mu.Lock()
	rtt := l.rtt
	l.mu.Unlock()

	if rtt == nil {
		return desc
	}
	avg, ok := rtt.getRTT()
	if !ok {
		return desc
	}
	desc = desc.AddRTTSample(avg)
	desc.MinRTT = rtt.getMinRTT()
	desc.RTT90 = rtt.getRTT90()
	return desc
}

func (l *checkLoop) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.closeConnection()
	l.stopRTT()
}

// monitor runs the heartbeat checks for a single server and reports each
// resulting description on results. Only one check is in flight at a time.
type monitor struct {
	address    address.Address
	topologyID primitive.ObjectID
	cfg        *serverConfig

	// current returns the description the server holds now.
	current func() description.Server
	results chan<- heartbeatResult

	state int64 // atomic

	mu       sync.Mutex // guards interval and loop
	interval *monitorInterval
	loop     *checkLoop
}

func newMonitor(
	addr address.Address,
	topologyID primitive.ObjectID,
	cfg *serverConfig,
	current func() description.Server,
	results chan<- heartbeatResult,
) *monitor {
	return &monitor{
		address:    addr,
		topologyID: topologyID,
		cfg:        cfg,
		current:    current,
		results:    results,
		state:      monitorClosed,
	}
}

// connect starts monitoring with an immediate check. It does nothing unless
// the monitor is closed.
func (m *monitor) connect() {
	if !atomic.CompareAndSwapInt64(&m.state, monitorClosed, monitorIdle) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.startLocked(true)
}

// requestCheck asks for a check ahead of schedule. It is a no-op while a
// check is in flight.
func (m *monitor) requestCheck() {
	if atomic.LoadInt64(&m.state) != monitorIdle {
		return
	}

	m.mu.Lock()
	interval := m.interval
	m.mu.Unlock()

	if interval != nil {
		interval.wake()
	}
}

// reset abandons the current check and its connections and starts checking
// again after a full heartbeat interval. Any reply still in flight is
// discarded.
func (m *monitor) reset() {
	switch atomic.LoadInt64(&m.state) {
	case monitorClosed, monitorClosing:
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if atomic.LoadInt64(&m.state) == monitorClosing {
		return
	}
	m.stopLocked()
	atomic.StoreInt64(&m.state, monitorIdle)
	m.startLocked(false)
}

// close stops monitoring for good and waits for an in-flight check to
// return.
func (m *monitor) close() {
	for {
		state := atomic.LoadInt64(&m.state)
		if state == monitorClosed || state == monitorClosing {
			return
		}
		if atomic.CompareAndSwapInt64(&m.state, state, monitorClosing) {
			break
		}
	}

	m.mu.Lock()
	interval := m.interval
	m.stopLocked()
	m.mu.Unlock()

	if interval != nil {
		interval.wait()
	}
	atomic.StoreInt64(&m.state, monitorClosed)
}

func (m *monitor) startLocked(immediate bool) {
	loop := &checkLoop{}
	m.loop = loop
	m.interval = newMonitorInterval(
		func(ctx context.Context) { m.run(ctx, loop) },
		m.cfg.heartbeatInterval,
		m.cfg.minHeartbeatInterval,
		immediate,
	)
}

func (m *monitor) stopLocked() {
	if m.interval != nil {
		m.interval.stop()
	}
	if m.loop != nil {
		m.loop.close()
	}
}

func (m *monitor) streamingEnabled() bool {
	switch m.cfg.serverMonitoringMode {
	case ServerMonitoringModeStream:
		return true
	case ServerMonitoringModePoll:
		return false
	default:
		faasEnv := m.cfg.faasEnv
		if faasEnv == nil {
			faasEnv = operation.FaaSEnvName
		}
		return faasEnv() == ""
	}
}

func isStreamable(desc description.Server) bool {
	return desc.Kind != description.Unknown && desc.TopologyVersion != nil
}

func (m *monitor) hello() *operation.Hello {
	return operation.NewHello().
		AppName(m.cfg.appname).
		ClusterClock(m.cfg.clock).
		LoadBalanced(m.cfg.loadBalanced)
}

// run performs checks until one of them says the monitor should wait for the
// next tick. While streaming that is never, so run keeps reading replies the
// server pushes.
func (m *monitor) run(ctx context.Context, loop *checkLoop) {
	if !atomic.CompareAndSwapInt64(&m.state, monitorIdle, monitorMonitoring) {
		return
	}
	defer atomic.CompareAndSwapInt64(&m.state, monitorMonitoring, monitorIdle)

	previous := m.current()
	for ctx.Err() == nil {
		desc, again := m.check(ctx, loop, previous)
		if ctx.Err() != nil {
			return
		}

		select {
		case m.results <- heartbeatResult{desc: desc, clearPool: desc.LastError != nil}:
		case <-ctx.Done():
			return
		}

		// A failed check waits for the next tick or a requested check.
		if desc.LastError != nil || !again {
			return
		}
		previous = desc
	}
}

// check runs one heartbeat and reports whether the next one should start
// right away.
func (m *monitor) check(ctx context.Context, loop *checkLoop, previous description.Server) (description.Server, bool) {
	conn := loop.connection()
	if conn == nil {
		return m.handshake(ctx, loop, previous)
	}

	streamable := m.streamingEnabled() && isStreamable(previous)
	awaited := conn.CurrentlyStreaming() || streamable
	m.publishHeartbeatStarted(awaited)

	start := time.Now()
	var reply bson.Raw
	var err error
	switch {
	case conn.CurrentlyStreaming():
		reply, err = readReply(ctx, conn)
	case streamable:
		loop.startRTT(m.newRTTMonitor)

		timeout := m.cfg.heartbeatTimeout
		if timeout != 0 {
			timeout += m.cfg.heartbeatInterval
		}
		hello := m.hello().
			TopologyVersion(previous.TopologyVersion).
			MaxAwaitTimeMS(m.cfg.heartbeatInterval.Milliseconds())
		reply, err = m.runHello(ctx, conn, hello, timeout, true)
	default:
		reply, err = m.runHello(ctx, conn, m.hello(), m.cfg.heartbeatTimeout, false)
	}
	duration := time.Since(start)

	if err != nil {
		loop.closeConnection()
		loop.resetRTT()
		m.publishHeartbeatFailed(duration, err, awaited)
		return description.NewServerFromError(m.address, err, extractTopologyVersion(err)), false
	}
	m.publishHeartbeatSucceeded(duration, reply, awaited)

	desc := m.describe(reply, previous)
	if awaited {
		desc = loop.streamingRTT(desc)
	} else {
		desc = desc.AddRTTSample(duration)
	}

	again := m.streamingEnabled() && isStreamable(desc)
	if !again {
		loop.stopRTT()
	}
	return desc, again
}

// handshake opens the monitoring connection. Its hello reply is the result
// of the check.
func (m *monitor) handshake(ctx context.Context, loop *checkLoop, previous description.Server) (description.Server, bool) {
	m.publishHeartbeatStarted(false)

	start := time.Now()
	reply, conn, err := m.dial(ctx)
	duration := time.Since(start)

	if err != nil {
		loop.resetRTT()
		m.publishHeartbeatFailed(duration, err, false)
		return description.NewServerFromError(m.address, err, extractTopologyVersion(err)), false
	}
	if !loop.setConnection(conn) {
		_ = conn.Close()
		return previous, false
	}
	m.publishHeartbeatSucceeded(duration, reply, false)

	desc := m.describe(reply, previous).AddRTTSample(duration)
	again := m.streamingEnabled() && isStreamable(desc)
	if !again {
		loop.stopRTT()
	}
	return desc, again
}

func (m *monitor) dial(ctx context.Context) (bson.Raw, Connection, error) {
	if m.cfg.heartbeatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.heartbeatTimeout)
		defer cancel()
	}

	conn, err := m.cfg.dialer.DialContext(ctx, m.address)
	if err != nil {
		return nil, nil, wrapConnectionError(m.address, err)
	}

	cmd, err := m.hello().HandshakeCommand()
	if err == nil {
		var reply bson.Raw
		reply, err = runCommand(ctx, conn, cmd)
		if err == nil {
			return reply, conn, nil
		}
	}
	_ = conn.Close()
	return nil, nil, err
}

func (m *monitor) runHello(
	ctx context.Context,
	conn Connection,
	hello *operation.Hello,
	timeout time.Duration,
	streaming bool,
) (bson.Raw, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd, err := hello.Command()
	if err != nil {
		return nil, err
	}
	conn.SetStreaming(streaming)
	return runCommand(ctx, conn, cmd)
}

func (m *monitor) describe(reply bson.Raw, previous description.Server) description.Server {
	opts := []description.ServerOption{
		description.WithHeartbeatInterval(m.cfg.heartbeatInterval),
	}
	if previous.Addr == m.address {
		opts = append(opts, description.WithRTTSamples(previous.RTTSamples))
	}
	return description.NewServer(m.address, reply, opts...)
}

func (m *monitor) newRTTMonitor() *rttMonitor {
	return newRTTMonitor(&rttConfig{
		address:  m.address,
		interval: m.cfg.heartbeatInterval,
		timeout:  m.cfg.heartbeatTimeout,
		dialer:   m.cfg.dialer,
		hello:    m.hello,
	})
}

// extractTopologyVersion returns the topology version carried by a command
// error, if any.
func extractTopologyVersion(err error) *description.TopologyVersion {
	var ce CommandError
	if errors.As(err, &ce) {
		return ce.TopologyVersion
	}
	return nil
}

func (m *monitor) mustLogMessage() bool {
	return m.cfg.logger.LevelComponentEnabled(logger.LevelDebug, logger.ComponentTopology)
}

func (m *monitor) logMessage(msg string, keysAndValues ...interface{}) {
	m.cfg.logger.Print(logger.LevelDebug, logger.ComponentTopology, msg,
		logger.SerializeServer(logger.Server{
			TopologyID: m.topologyID,
			Message:    msg,
			Address:    m.address.String(),
		}, keysAndValues...)...)
}

// publishes a ServerHeartbeatStartedEvent to indicate a hello command has started
func (m *monitor) publishHeartbeatStarted(awaited bool) {
	if m.cfg.serverMonitor != nil && m.cfg.serverMonitor.ServerHeartbeatStarted != nil {
		m.cfg.serverMonitor.ServerHeartbeatStarted(&event.ServerHeartbeatStartedEvent{
			Address: m.address,
			Awaited: awaited,
		})
	}

	if m.mustLogMessage() {
		m.logMessage(logger.TopologyServerHeartbeatStarted, logger.KeyAwaited, awaited)
	}
}

// publishes a ServerHeartbeatSucceededEvent to indicate hello has succeeded
func (m *monitor) publishHeartbeatSucceeded(duration time.Duration, reply bson.Raw, awaited bool) {
	if m.cfg.serverMonitor != nil && m.cfg.serverMonitor.ServerHeartbeatSucceeded != nil {
		m.cfg.serverMonitor.ServerHeartbeatSucceeded(&event.ServerHeartbeatSucceededEvent{
			Address:  m.address,
			Duration: duration,
			Reply:    reply,
			Awaited:  awaited,
		})
	}

	if m.mustLogMessage() {
		m.logMessage(logger.TopologyServerHeartbeatSucceeded,
			logger.KeyAwaited, awaited,
			logger.KeyDurationMS, duration.Milliseconds(),
			logger.KeyReply, m.cfg.logger.Truncate(reply.String()))
	}
}

// publishes a ServerHeartbeatFailedEvent to indicate hello has failed
func (m *monitor) publishHeartbeatFailed(duration time.Duration, err error, awaited bool) {
	if m.cfg.serverMonitor != nil && m.cfg.serverMonitor.ServerHeartbeatFailed != nil {
		m.cfg.serverMonitor.ServerHeartbeatFailed(&event.ServerHeartbeatFailedEvent{
			Address:  m.address,
			Duration: duration,
			Failure:  err,
			Awaited:  awaited,
		})
	}

	if m.mustLogMessage() {
		m.logMessage(logger.TopologyServerHeartbeatFailed,
			logger.KeyAwaited, awaited,
			logger.KeyDurationMS, duration.Milliseconds(),
			logger.KeyFailure, err.Error())
	}
}
