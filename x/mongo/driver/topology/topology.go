// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology contains types that handles the discovery, monitoring, and
// selection of servers. This package is designed to expose enough inner
// workings of service discovery and monitoring to allow low level applications
// to have fine grained control, while hiding most of the detailed
// implementation of the algorithms.
package topology

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ikmak/mongo-sdam/event"
	"github.com/ikmak/mongo-sdam/internal/logger"
	"github.com/ikmak/mongo-sdam/internal/randutil"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// Topology state constants.
const (
	topologyDisconnected int64 = iota
	topologyDisconnecting
	topologyConnected
	topologyConnecting
)

var random = randutil.NewCryptoSeededLockedRand()

// Topology represents a MongoDB deployment.
type Topology struct {
	state int64

	cfg *Config
	id  primitive.ObjectID

	desc atomic.Value // holds a description.Topology

	// mu guards the state machine, the servers built from it and the
	// selection requests waiting on it.
	mu      sync.Mutex
	fsm     *fsm
	servers map[address.Address]*Server
	waiters waitQueue

	// Events queued under mu, published by whichever caller is flushing.
	events     []func()
	publishing bool

	srvPoller *srvPoller

	subLock             sync.Mutex
	subscribers         map[uint64]chan description.Topology
	currentSubscriberID uint64
	subscriptionsClosed bool
}

// New creates a new topology. A nil cfg uses the defaults of NewConfig.
func New(cfg *Config) (*Topology, error) {
	if cfg == nil {
		var err error
		cfg, err = NewConfig()
		if err != nil {
			return nil, err
		}
	}

	t := &Topology{
		cfg:         cfg,
		id:          primitive.NewObjectID(),
		fsm:         newFSM(),
		servers:     make(map[address.Address]*Server),
		subscribers: make(map[uint64]chan description.Topology),
	}
	t.desc.Store(description.Topology{})

	if cfg.SRVHost != "" {
		t.srvPoller = newSRVPoller(cfg, t.id, t.processSRVResults)
	}

	return t, nil
}

func mustLogTopologyMessage(topo *Topology, level logger.Level) bool {
	return topo.cfg.Logger.LevelComponentEnabled(level, logger.ComponentTopology)
}

func logTopologyMessage(topo *Topology, level logger.Level, msg string, keysAndValues ...interface{}) {
	topo.cfg.Logger.Print(level,
		logger.ComponentTopology,
		msg,
		logger.SerializeTopology(logger.Topology{
			ID:      topo.id,
			Message: msg,
		}, keysAndValues...)...)
}

func mustLogServerSelection(topo *Topology, level logger.Level) bool {
	return topo.cfg.Logger.LevelComponentEnabled(level, logger.ComponentServerSelection)
}

func logServerSelection(
	topo *Topology,
	cfg *selectConfig,
	level logger.Level,
	msg string,
	srvSelector description.ServerSelector,
	keysAndValues ...interface{},
) {
	var srvSelectorString string

	if selectorStringer, ok := srvSelector.(fmt.Stringer); ok {
		srvSelectorString = selectorStringer.String()
	}

	topo.cfg.Logger.Print(level,
		logger.ComponentServerSelection,
		msg,
		logger.SerializeServerSelection(logger.ServerSelection{
			Selector:            srvSelectorString,
			Operation:           cfg.operation,
			TopologyDescription: topo.String(),
		}, keysAndValues...)...)
}

func logServerSelectionSucceeded(topo *Topology, cfg *selectConfig, srvSelector description.ServerSelector, server *SelectedServer) {
	host, port, err := net.SplitHostPort(server.address.String())
	if err != nil {
		host = server.address.String()
		port = ""
	}

	portInt64, _ := strconv.ParseInt(port, 10, 32)

	logServerSelection(topo, cfg, logger.LevelDebug, logger.ServerSelectionSucceeded, srvSelector,
		logger.KeyServerHost, host,
		logger.KeyServerPort, portInt64)
}

// Connect seeds the topology and starts monitoring every seed. It returns
// without waiting for any server to be discovered.
func (t *Topology) Connect() error {
	if !atomic.CompareAndSwapInt64(&t.state, topologyDisconnected, topologyConnecting) {
		return ErrTopologyConnected
	}

	t.publishTopologyOpeningEvent()

	seeds := t.cfg.SeedList
	if t.cfg.SRVHost != "" {
		var err error
		seeds, err = t.resolveSeeds()
		if err != nil {
			atomic.StoreInt64(&t.state, topologyDisconnected)
			return err
		}
	}

	t.mu.Lock()
	defer t.flushEvents()
	defer t.mu.Unlock()

	t.fsm = initialFSM(t.cfg, seeds)
	initial := t.fsm.Topology
	t.desc.Store(initial)
	atomic.StoreInt64(&t.state, topologyConnected)

	var err error
	for _, s := range initial.Servers {
		if err = t.addServerLocked(s.Addr); err != nil {
			break
		}
	}

	t.queueEventLocked(func() { t.publishTopologyDescriptionChangedEvent(description.Topology{}, initial) })
	t.notifySubscribersLocked(initial)

	if err == nil && initial.Kind == description.Sharded {
		t.startSRVPollerLocked()
	}
	return err
}

// initialFSM returns the state machine a topology configured by cfg starts
// from, holding an Unknown description for every seed.
func initialFSM(cfg *Config, seeds []string) *fsm {
	f := newFSM()
	f.HeartbeatInterval = cfg.HeartbeatInterval
	f.LocalThreshold = cfg.LocalThreshold
	switch {
	case cfg.LoadBalanced:
		f.Kind = description.LoadBalanced
	case cfg.Mode == SingleMode:
		f.Kind = description.Single
	case cfg.ReplicaSetName != "":
		f.Kind = description.ReplicaSetNoPrimary
		f.SetName = cfg.ReplicaSetName
	}

	for _, seed := range seeds {
		f.addServer(address.Address(seed))
	}
	if cfg.LoadBalanced {
		// A load balancer is not monitored, so its description is known up
		// front.
		for i, s := range f.Servers {
			f.Servers[i] = description.NewServer(s.Addr, nil, description.WithLoadBalanced())
		}
	}
	f.derive()
	return f
}

// ConnectAndWait connects the topology and blocks until selector, or a
// primary selector when nil, finds a server. On failure the topology is
// disconnected again.
func (t *Topology) ConnectAndWait(ctx context.Context, selector description.ServerSelector) error {
	if err := t.Connect(); err != nil {
		return err
	}
	if selector == nil {
		selector = description.ServerSelectorFunc(selectPrimary)
	}
	if _, err := t.SelectServer(ctx, selector); err != nil {
		_ = t.Disconnect(ctx)
		return err
	}
	return nil
}

func selectPrimary(_ description.Topology, candidates []description.Server, _ *description.DeprioritizedServers) ([]description.Server, error) {
	var out []description.Server
	for _, s := range candidates {
		if s.Writable() {
			out = append(out, s)
		}
	}
	return out, nil
}

// resolveSeeds looks up the SRV records named by the configuration and picks
// at most SRVMaxHosts of them.
func (t *Topology) resolveSeeds() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	defer cancel()

	records, err := t.cfg.resolver.LookupHosts(ctx, t.cfg.SRVHost, t.cfg.SRVServiceName)
	if err != nil {
		return nil, errors.Wrap(err, "error resolving SRV seed list")
	}
	if len(records.Rejected) > 0 && mustLogTopologyMessage(t, logger.LevelDebug) {
		logTopologyMessage(t, logger.LevelDebug, logger.SRVRecordsRejected,
			logger.KeySRVHost, t.cfg.SRVHost,
			logger.KeyRejected, records.Rejected)
	}

	hosts := records.Hosts
	if maxHosts := t.cfg.SRVMaxHosts; maxHosts > 0 && len(hosts) > maxHosts {
		hosts = pickHosts(hosts, maxHosts)
	}
	return hosts, nil
}

// pickHosts returns n of hosts chosen at random.
func pickHosts(hosts []string, n int) []string {
	picked := make([]string, 0, n)
	for _, i := range random.Pick(len(hosts), n) {
		picked = append(picked, hosts[i])
	}
	return picked
}

// Disconnect closes the topology. Pending selections fail with
// ErrTopologyClosed and every server is disconnected.
func (t *Topology) Disconnect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&t.state, topologyConnected, topologyDisconnecting) {
		return ErrTopologyClosed
	}

	if t.srvPoller != nil {
		t.srvPoller.stop()
	}

	t.mu.Lock()
	servers := t.servers
	t.servers = make(map[address.Address]*Server)
	t.waiters.fail(ErrTopologyClosed)
	t.mu.Unlock()

	var g errgroup.Group
	for addr, srv := range servers {
		addr, srv := addr, srv
		g.Go(func() error {
			err := srv.Disconnect(ctx)
			t.publishServerClosedEvent(addr)
			return err
		})
	}
	err := g.Wait()

	t.desc.Store(description.Topology{})
	t.closeSubscriptions()

	atomic.StoreInt64(&t.state, topologyDisconnected)
	t.publishTopologyClosedEvent()

	return err
}

// Description returns a description of the topology.
func (t *Topology) Description() description.Topology {
	td, ok := t.desc.Load().(description.Topology)
	if !ok {
		td = description.Topology{}
	}
	return td
}

// Kind returns the topology kind of this Topology.
func (t *Topology) Kind() description.TopologyKind { return t.Description().Kind }

// SessionTimeoutMinutes returns the logical session timeout of the
// deployment, or nil when sessions are not supported.
func (t *Topology) SessionTimeoutMinutes() *int64 {
	return t.Description().SessionTimeoutMinutes
}

// SupportsSessions reports whether the deployment supports sessions. A load
// balanced deployment always does.
func (t *Topology) SupportsSessions() bool {
	desc := t.Description()
	if desc.Kind == description.LoadBalanced {
		return true
	}
	return desc.SessionTimeoutMinutes != nil
}

// Subscription is a subscription to topology description updates.
type Subscription struct {
	Updates <-chan description.Topology
	ID      uint64
}

// Subscribe returns a Subscription on which all updated description.Topologys
// will be sent. The channel of the subscription will have a buffer size of one,
// and will be pre populated with the current description.Topology.
func (t *Topology) Subscribe() (*Subscription, error) {
	if atomic.LoadInt64(&t.state) != topologyConnected {
		return nil, ErrSubscribeAfterClosed
	}
	ch := make(chan description.Topology, 1)
	ch <- t.Description()

	t.subLock.Lock()
	defer t.subLock.Unlock()
	if t.subscriptionsClosed {
		return nil, ErrSubscribeAfterClosed
	}
	id := t.currentSubscriberID
	t.subscribers[id] = ch
	t.currentSubscriberID++

	return &Subscription{
		Updates: ch,
		ID:      id,
	}, nil
}

// Unsubscribe unsubscribes the given subscription from the topology and closes
// the subscription channel.
func (t *Topology) Unsubscribe(sub *Subscription) error {
	t.subLock.Lock()
	defer t.subLock.Unlock()

	if t.subscriptionsClosed {
		return nil
	}

	ch, ok := t.subscribers[sub.ID]
	if !ok {
		return nil
	}

	close(ch)
	delete(t.subscribers, sub.ID)
	return nil
}

func (t *Topology) notifySubscribersLocked(desc description.Topology) {
	t.subLock.Lock()
	defer t.subLock.Unlock()

	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- desc
	}
}

func (t *Topology) closeSubscriptions() {
	t.subLock.Lock()
	defer t.subLock.Unlock()

	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
	t.subscriptionsClosed = true
}

// RequestImmediateCheck will send heartbeats to all the servers in the
// topology right away, instead of waiting for the heartbeat timeout.
func (t *Topology) RequestImmediateCheck() {
	if atomic.LoadInt64(&t.state) != topologyConnected {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requestChecksLocked()
}

func (t *Topology) requestChecksLocked() {
	for _, server := range t.servers {
		server.RequestImmediateCheck()
	}
}

type selectConfig struct {
	timeout       time.Duration
	deprioritized *description.DeprioritizedServers
	pinned        address.Address
	operation     string
}

// SelectOption configures a single SelectServer call.
type SelectOption func(*selectConfig)

// WithSelectionTimeout overrides the configured server selection timeout.
func WithSelectionTimeout(d time.Duration) SelectOption {
	return func(cfg *selectConfig) {
		cfg.timeout = d
	}
}

// WithDeprioritized avoids the given servers whenever an equally suitable
// server remains.
func WithDeprioritized(d *description.DeprioritizedServers) SelectOption {
	return func(cfg *selectConfig) {
		cfg.deprioritized = d
	}
}

// WithPinnedServer returns the server at addr without running the selector
// when the deployment is sharded, as for a transaction already pinned to a
// mongos.
func WithPinnedServer(addr address.Address) SelectOption {
	return func(cfg *selectConfig) {
		cfg.pinned = addr
	}
}

// WithOperationName names the operation in selection log messages.
func WithOperationName(name string) SelectOption {
	return func(cfg *selectConfig) {
		cfg.operation = name
	}
}

// SelectServer selects a server with the given selector. If no server is
// suitable it waits for the description to change, and fails after the
// server selection timeout or when ctx is done.
func (t *Topology) SelectServer(
	ctx context.Context,
	ss description.ServerSelector,
	opts ...SelectOption,
) (*SelectedServer, error) {
	if atomic.LoadInt64(&t.state) != topologyConnected {
		if mustLogServerSelection(t, logger.LevelDebug) {
			logServerSelection(t, &selectConfig{}, logger.LevelDebug, logger.ServerSelectionFailed, ss,
				logger.KeyFailure, ErrTopologyClosed.Error())
		}
		return nil, ErrTopologyClosed
	}

	cfg := &selectConfig{timeout: t.cfg.ServerSelectionTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	if mustLogServerSelection(t, logger.LevelDebug) {
		logServerSelection(t, cfg, logger.LevelDebug, logger.ServerSelectionStarted, ss)
	}

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	req := newSelectionRequest(ss, cfg.deprioritized)

	t.mu.Lock()
	// Disconnect fails the queued requests once it holds the lock, so a
	// request must not be queued after that.
	if atomic.LoadInt64(&t.state) != topologyConnected {
		t.mu.Unlock()
		return nil, ErrTopologyClosed
	}
	desc := t.fsm.Topology
	if cfg.pinned != "" && desc.Kind == description.Sharded {
		if srv, ok := t.servers[cfg.pinned.Canonicalize()]; ok {
			t.mu.Unlock()
			selected := &SelectedServer{Server: srv, Kind: desc.Kind}
			if mustLogServerSelection(t, logger.LevelDebug) {
				logServerSelectionSucceeded(t, cfg, ss, selected)
			}
			return selected, nil
		}
	}
	resolved := t.trySelectLocked(desc, req)
	if !resolved {
		t.waiters.push(req)
		t.requestChecksLocked()
	}
	t.mu.Unlock()

	if !resolved && mustLogServerSelection(t, logger.LevelInfo) {
		logServerSelection(t, cfg, logger.LevelInfo, logger.ServerSelectionWaiting, ss,
			logger.KeyRemainingTimeMS, cfg.timeout.Milliseconds())
	}

	var res selectionResult
	select {
	case res = <-req.result:
	case <-timer.C:
		res = t.abandon(req, ServerSelectionError{Wrapped: ErrServerSelectionTimeout, Desc: t.Description()})
	case <-ctx.Done():
		res = t.abandon(req, ServerSelectionError{Wrapped: ctx.Err(), Desc: t.Description()})
	}

	if res.err != nil {
		if mustLogServerSelection(t, logger.LevelDebug) {
			logServerSelection(t, cfg, logger.LevelDebug, logger.ServerSelectionFailed, ss,
				logger.KeyFailure, res.err.Error())
		}
		return nil, res.err
	}

	if mustLogServerSelection(t, logger.LevelDebug) {
		logServerSelectionSucceeded(t, cfg, ss, res.server)
	}
	return res.server, nil
}

// abandon takes req out of the wait queue. A request resolved in the
// meantime keeps its result.
func (t *Topology) abandon(req *selectionRequest, err error) selectionResult {
	t.mu.Lock()
	removed := t.waiters.remove(req)
	t.mu.Unlock()

	if removed {
		return selectionResult{err: err}
	}
	return <-req.result
}

// trySelectLocked runs the request's selector against desc and resolves the
// request when it finds a server or fails. Among several suitable servers one
// is picked at random.
func (t *Topology) trySelectLocked(desc description.Topology, req *selectionRequest) bool {
	if desc.CompatibilityErr != nil {
		req.resolve(nil, ServerSelectionError{Wrapped: desc.CompatibilityErr, Desc: desc})
		return true
	}

	suitable, err := req.selector.SelectServer(desc, desc.Servers, req.deprioritized)
	if err != nil {
		req.resolve(nil, ServerSelectionError{Wrapped: err, Desc: desc})
		return true
	}

	// A server can be in the description while its Server is being closed.
	var available []description.Server
	for _, s := range suitable {
		if _, ok := t.servers[s.Addr]; ok {
			available = append(available, s)
		}
	}
	if len(available) == 0 {
		return false
	}

	chosen := available[random.Intn(len(available))]
	req.resolve(&SelectedServer{Server: t.servers[chosen.Addr], Kind: desc.Kind}, nil)
	return true
}

func (t *Topology) processWaitersLocked(desc description.Topology) {
	if t.waiters.len() == 0 {
		return
	}

	t.waiters.process(func(req *selectionRequest) bool {
		return t.trySelectLocked(desc, req)
	})

	if t.waiters.len() > 0 {
		t.requestChecksLocked()
	}
}

// FindServer will attempt to find a server that fits the given server description.
// This method will return nil, nil if a matching server could not be found.
func (t *Topology) FindServer(selected description.Server) (*SelectedServer, error) {
	if atomic.LoadInt64(&t.state) != topologyConnected {
		return nil, ErrTopologyClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	server, ok := t.servers[selected.Addr]
	if !ok {
		return nil, nil
	}

	return &SelectedServer{
		Server: server,
		Kind:   t.fsm.Kind,
	}, nil
}

// processSRVResults replaces the servers of a sharded topology with hosts.
// Hosts beyond SRVMaxHosts are left out, chosen at random.
func (t *Topology) processSRVResults(hosts []string) {
	if atomic.LoadInt64(&t.state) != topologyConnected {
		return
	}

	t.mu.Lock()
	defer t.flushEvents()
	defer t.mu.Unlock()

	if t.fsm.Kind != description.Sharded {
		return
	}

	prev := t.fsm.Topology
	diff := diffHostList(prev, hosts)
	if len(diff.Added) == 0 && len(diff.Removed) == 0 {
		return
	}

	next := &fsm{Topology: prev}
	next.Servers = append([]description.Server(nil), prev.Servers...)
	for _, removed := range diff.Removed {
		next.removeServerByAddr(address.Address(removed))
	}

	added := diff.Added
	if maxHosts := t.cfg.SRVMaxHosts; maxHosts > 0 && len(next.Servers)+len(added) > maxHosts {
		budget := maxHosts - len(next.Servers)
		if budget < 0 {
			budget = 0
		}
		added = pickHosts(added, budget)
	}
	for _, host := range added {
		next.addServer(address.Address(host))
	}
	next.derive()

	t.fsm = next
	t.reconcileLocked(prev, next.Topology)
}

// apply folds a server's new description into the topology and returns the
// description the server should hold.
func (t *Topology) apply(desc description.Server) description.Server {
	t.mu.Lock()
	defer t.flushEvents()
	defer t.mu.Unlock()

	if atomic.LoadInt64(&t.state) != topologyConnected {
		return desc
	}
	if _, ok := t.servers[desc.Addr]; !ok {
		return desc
	}

	prev := t.fsm.Topology
	oldDesc, _ := prev.Server(desc.Addr)
	if oldDesc.TopologyVersion.CompareToIncoming(desc.TopologyVersion) > 0 {
		if mustLogTopologyMessage(t, logger.LevelDebug) {
			logTopologyMessage(t, logger.LevelDebug, logger.TopologyUpdateRejected,
				logger.KeyPreviousDescription, oldDesc.String(),
				logger.KeyNewDescription, desc.String())
		}
		return oldDesc
	}

	if len(desc.ClusterTime) > 0 && t.cfg.ClusterClock != nil {
		t.cfg.ClusterClock.AdvanceClusterTime(desc.ClusterTime)
	}

	current, updated, err := t.fsm.apply(desc)
	if err != nil {
		t.cfg.Logger.Error(err, "error applying server description",
			logger.KeyTopologyID, t.id.Hex(),
			logger.KeyNewDescription, desc.String())
		return oldDesc
	}

	if !oldDesc.Equal(updated) {
		t.queueEventLocked(func() { t.publishServerDescriptionChangedEvent(oldDesc, updated) })
	}
	t.reconcileLocked(prev, current)

	return updated
}

// reconcileLocked brings the servers in line with current, queues the change
// events and re-evaluates waiting selections.
func (t *Topology) reconcileLocked(prev, current description.Topology) {
	diff := diffTopology(prev, current)
	for _, removed := range diff.Removed {
		srv, ok := t.servers[removed.Addr]
		if !ok {
			continue
		}
		delete(t.servers, removed.Addr)

		// The caller may be this server's own update goroutine, which
		// Disconnect waits for.
		go func(addr address.Address) {
			_ = srv.Disconnect(context.Background())
			t.publishServerClosedEvent(addr)
		}(removed.Addr)
	}
	for _, added := range diff.Added {
		if err := t.addServerLocked(added.Addr); err != nil {
			t.cfg.Logger.Error(err, "error adding server",
				logger.KeyTopologyID, t.id.Hex(),
				logger.KeyServerHost, added.Addr.String())
		}
	}

	t.desc.Store(current)
	if !prev.Equal(current) {
		t.queueEventLocked(func() { t.publishTopologyDescriptionChangedEvent(prev, current) })
		t.notifySubscribersLocked(current)
	}

	if current.CompatibilityErr != nil && prev.CompatibilityErr == nil {
		t.queueEventLocked(func() { t.publishTopologyErrorEvent(current.CompatibilityErr) })
	}
	if current.Kind == description.Sharded && prev.Kind != description.Sharded {
		t.startSRVPollerLocked()
	}

	t.processWaitersLocked(current)
}

func (t *Topology) queueEventLocked(publish func()) {
	t.events = append(t.events, publish)
}

// flushEvents publishes queued events in order without holding mu, so event
// callbacks may call back into the topology. Events queued while another
// caller is flushing are published by that caller.
func (t *Topology) flushEvents() {
	t.mu.Lock()
	if t.publishing {
		t.mu.Unlock()
		return
	}
	t.publishing = true
	for len(t.events) > 0 {
		events := t.events
		t.events = nil
		t.mu.Unlock()

		for _, publish := range events {
			publish()
		}

		t.mu.Lock()
	}
	t.publishing = false
	t.mu.Unlock()
}

func (t *Topology) startSRVPollerLocked() {
	if t.srvPoller != nil {
		t.srvPoller.start()
	}
}

func (t *Topology) addServerLocked(addr address.Address) error {
	if _, ok := t.servers[addr]; ok {
		return nil
	}

	svr := NewServer(addr, t.id, t.cfg.ServerOpts...)
	if err := svr.Connect(t.apply); err != nil {
		return err
	}

	t.servers[addr] = svr
	t.queueEventLocked(svr.publishServerOpeningEvent)
	return nil
}

// String implements the Stringer interface
func (t *Topology) String() string {
	desc := t.Description()

	t.mu.Lock()
	defer t.mu.Unlock()

	serversStr := ""
	for _, s := range t.servers {
		serversStr += "{ " + s.String() + " }, "
	}
	return fmt.Sprintf("Type: %s, Servers: [%s]", desc.Kind, serversStr)
}

// publishes a ServerDescriptionChangedEvent to indicate the server description has changed
func (t *Topology) publishServerDescriptionChangedEvent(prev description.Server, current description.Server) {
	if t.cfg.ServerMonitor != nil && t.cfg.ServerMonitor.ServerDescriptionChanged != nil {
		t.cfg.ServerMonitor.ServerDescriptionChanged(&event.ServerDescriptionChangedEvent{
			Address:             current.Addr,
			TopologyID:          t.id,
			PreviousDescription: prev,
			NewDescription:      current,
		})
	}
}

// publishes a ServerClosedEvent to indicate the server has closed
func (t *Topology) publishServerClosedEvent(addr address.Address) {
	if t.cfg.ServerMonitor != nil && t.cfg.ServerMonitor.ServerClosed != nil {
		t.cfg.ServerMonitor.ServerClosed(&event.ServerClosedEvent{
			Address:    addr,
			TopologyID: t.id,
		})
	}

	if mustLogTopologyMessage(t, logger.LevelDebug) {
		serverHost, serverPort, err := net.SplitHostPort(addr.String())
		if err != nil {
			serverHost = addr.String()
			serverPort = ""
		}

		portInt64, _ := strconv.ParseInt(serverPort, 10, 32)

		logTopologyMessage(t, logger.LevelDebug, logger.TopologyServerClosed,
			logger.KeyServerHost, serverHost,
			logger.KeyServerPort, portInt64)
	}
}

// publishes a TopologyDescriptionChangedEvent to indicate the topology description has changed
func (t *Topology) publishTopologyDescriptionChangedEvent(prev description.Topology, current description.Topology) {
	if t.cfg.ServerMonitor != nil && t.cfg.ServerMonitor.TopologyDescriptionChanged != nil {
		t.cfg.ServerMonitor.TopologyDescriptionChanged(&event.TopologyDescriptionChangedEvent{
			TopologyID:          t.id,
			PreviousDescription: prev,
			NewDescription:      current,
		})
	}

	if mustLogTopologyMessage(t, logger.LevelDebug) {
		logTopologyMessage(t, logger.LevelDebug, logger.TopologyDescriptionChanged,
			logger.KeyPreviousDescription, prev.String(),
			logger.KeyNewDescription, current.String())
	}
}

func (t *Topology) publishTopologyErrorEvent(err error) {
	if t.cfg.ServerMonitor != nil && t.cfg.ServerMonitor.TopologyError != nil {
		t.cfg.ServerMonitor.TopologyError(&event.TopologyErrorEvent{
			TopologyID: t.id,
			Err:        err,
		})
	}

	t.cfg.Logger.Error(err, logger.TopologyIncompatible, logger.KeyTopologyID, t.id.Hex())
}

// publishes a TopologyOpeningEvent to indicate the topology is being initialized
func (t *Topology) publishTopologyOpeningEvent() {
	if t.cfg.ServerMonitor != nil && t.cfg.ServerMonitor.TopologyOpening != nil {
		t.cfg.ServerMonitor.TopologyOpening(&event.TopologyOpeningEvent{
			TopologyID: t.id,
		})
	}

	if mustLogTopologyMessage(t, logger.LevelDebug) {
		logTopologyMessage(t, logger.LevelDebug, logger.TopologyOpening)
	}
}

// publishes a TopologyClosedEvent to indicate the topology has been closed
func (t *Topology) publishTopologyClosedEvent() {
	if t.cfg.ServerMonitor != nil && t.cfg.ServerMonitor.TopologyClosed != nil {
		t.cfg.ServerMonitor.TopologyClosed(&event.TopologyClosedEvent{
			TopologyID: t.id,
		})
	}

	if mustLogTopologyMessage(t, logger.LevelDebug) {
		logTopologyMessage(t, logger.LevelDebug, logger.TopologyClosed)
	}
}
