// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ikmak/mongo-sdam/internal/ptrutil"
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
)

var (
	errStalePrimary       = errors.New("was a primary, but its set version or election id is stale")
	errNewPrimaryObserved = errors.New("was a primary, but a new primary was discovered")
)

type fsm struct {
	description.Topology
}

func newFSM() *fsm {
	return &fsm{Topology: description.Topology{Kind: description.TopologyKindUnknown}}
}

// apply folds s into the topology and returns the resulting topology along
// with the description recorded for s, which is an Unknown description when s
// was not trusted. Servers that are not part of the topology are ignored. On
// error the topology is left unchanged.
func (f *fsm) apply(s description.Server) (description.Topology, description.Server, error) {
	if !f.HasServer(s.Addr) {
		return f.Topology, s, nil
	}

	next := &fsm{Topology: f.Topology}
	next.Servers = append([]description.Server(nil), f.Servers...)

	updated, err := next.update(s)
	if err != nil {
		return f.Topology, s, err
	}
	next.derive()

	f.Topology = next.Topology
	return f.Topology, updated, nil
}

func (f *fsm) update(s description.Server) (description.Server, error) {
	if s.SetName != "" && f.SetName != "" && s.SetName != f.SetName {
		s = description.NewServerFromError(s.Addr,
			fmt.Errorf("set name %q does not match replica set name %q", s.SetName, f.SetName),
			s.TopologyVersion)
	}

	if maxWire := s.MaxWireVersion(); maxWire != 0 {
		if f.CommonWireVersion == nil || maxWire < *f.CommonWireVersion {
			f.CommonWireVersion = &maxWire
		}
	}

	// The update never adds or removes an entry, so this is also the count
	// before it.
	known := len(f.Servers)
	f.replaceServer(s)

	switch f.Kind {
	case description.Single, description.LoadBalanced:
		return s, nil
	case description.TopologyKindUnknown:
		if s.Kind == description.Standalone && known != 1 {
			f.removeServerByAddr(s.Addr)
		} else {
			f.Kind = description.TopologyKindFromServerKind(s.Kind)
		}
	}

	switch f.Kind {
	case description.Sharded:
		if s.Kind != description.Mongos && s.Kind != description.Unknown {
			f.removeServerByAddr(s.Addr)
		}
	case description.ReplicaSetNoPrimary:
		switch {
		case s.Kind == description.Mongos || s.Kind == description.Standalone:
			f.removeServerByAddr(s.Addr)
		case s.Kind == description.RSPrimary:
			s = f.updateRSFromPrimary(s)
		case isNonPrimaryMember(s.Kind):
			f.updateRSWithoutPrimary(s)
		}
	case description.ReplicaSetWithPrimary:
		switch {
		case s.Kind == description.Mongos || s.Kind == description.Standalone:
			f.removeServerByAddr(s.Addr)
			f.checkIfHasPrimary()
		case s.Kind == description.RSPrimary:
			s = f.updateRSFromPrimary(s)
		case isNonPrimaryMember(s.Kind):
			if err := f.updateRSWithPrimaryFromMember(s); err != nil {
				return s, err
			}
		default:
			f.checkIfHasPrimary()
		}
	}

	return s, nil
}

func isNonPrimaryMember(kind description.ServerKind) bool {
	return kind == description.RSSecondary || kind == description.RSArbiter || kind == description.RSMember
}

func (f *fsm) updateRSFromPrimary(s description.Server) description.Server {
	if f.SetName == "" {
		f.SetName = s.SetName
	} else if f.SetName != s.SetName {
		f.removeServerByAddr(s.Addr)
		f.checkIfHasPrimary()
		return s
	}

	if s.SetVersion != 0 && !s.ElectionID.IsZero() {
		if f.MaxSetVersion != 0 && !f.MaxElectionID.IsZero() &&
			(f.MaxSetVersion > s.SetVersion || bytes.Compare(f.MaxElectionID[:], s.ElectionID[:]) > 0) {
			s = description.NewServerFromError(s.Addr, errStalePrimary, s.TopologyVersion)
			f.replaceServer(s)
			f.checkIfHasPrimary()
			return s
		}
		f.MaxElectionID = s.ElectionID
	}

	if s.SetVersion > f.MaxSetVersion {
		f.MaxSetVersion = s.SetVersion
	}

	for i, other := range f.Servers {
		if other.Kind == description.RSPrimary && other.Addr != s.Addr {
			f.Servers[i] = description.NewServerFromError(other.Addr, errNewPrimaryObserved, other.TopologyVersion)
		}
	}

	f.addMembers(s.Members)

	members := make(map[address.Address]struct{}, len(s.Members))
	for _, member := range s.Members {
		members[member] = struct{}{}
	}
	kept := f.Servers[:0]
	for _, server := range f.Servers {
		if _, ok := members[server.Addr]; ok {
			kept = append(kept, server)
		}
	}
	f.Servers = kept

	f.checkIfHasPrimary()
	return s
}

func (f *fsm) updateRSWithPrimaryFromMember(s description.Server) error {
	if f.SetName == "" {
		return description.ErrSetNameRequired
	}

	if f.SetName != s.SetName || reportsOtherAddress(s) {
		f.removeServerByAddr(s.Addr)
	}
	f.checkIfHasPrimary()
	return nil
}

func (f *fsm) updateRSWithoutPrimary(s description.Server) {
	if f.SetName == "" {
		f.SetName = s.SetName
	} else if f.SetName != s.SetName {
		f.removeServerByAddr(s.Addr)
		return
	}

	f.addMembers(s.Members)

	if reportsOtherAddress(s) {
		f.removeServerByAddr(s.Addr)
	}
}

// reportsOtherAddress is true when the server knows itself under a name other
// than the one it was reached at.
func reportsOtherAddress(s description.Server) bool {
	return s.CanonicalAddr != "" && s.CanonicalAddr != s.Addr
}

func (f *fsm) checkIfHasPrimary() {
	for _, s := range f.Servers {
		if s.Kind == description.RSPrimary {
			f.Kind = description.ReplicaSetWithPrimary
			return
		}
	}
	f.Kind = description.ReplicaSetNoPrimary
}

// derive recomputes the fields that depend only on the current server set.
func (f *fsm) derive() {
	f.CompatibilityErr = compatibilityError(f.Servers)
	f.SessionTimeoutMinutes = minSessionTimeout(f.Servers)
}

func compatibilityError(servers []description.Server) error {
	supported := description.SupportedWireVersions
	for _, s := range servers {
		if s.Kind == description.Unknown || s.Kind == description.LoadBalancer || s.WireVersion == nil {
			continue
		}
		if s.WireVersion.Min > supported.Max {
			return fmt.Errorf(
				"server at %s requires wire version %d, but this version of the driver only supports up to %d (MongoDB %s)",
				s.Addr, s.WireVersion.Min, supported.Max, description.MaxSupportedMongoDBVersion,
			)
		}
		if s.WireVersion.Max < supported.Min {
			return fmt.Errorf(
				"server at %s reports wire version %d, but this version of the driver requires at least %d (MongoDB %s)",
				s.Addr, s.WireVersion.Max, supported.Min, description.MinSupportedMongoDBVersion,
			)
		}
	}
	return nil
}

// minSessionTimeout is the smallest session timeout among readable servers. It
// is nil when there are none or when any of them does not support sessions.
func minSessionTimeout(servers []description.Server) *int64 {
	var lowest *int64
	seen := false
	for _, s := range servers {
		if !s.Readable() {
			continue
		}
		if !seen {
			lowest, seen = s.SessionTimeoutMinutes, true
			continue
		}
		lowest = ptrutil.MinInt64(lowest, s.SessionTimeoutMinutes)
	}
	if lowest == nil {
		return nil
	}
	timeout := *lowest
	return &timeout
}

func (f *fsm) addMembers(members []address.Address) {
	for _, member := range members {
		if !f.HasServer(member) {
			f.addServer(member)
		}
	}
}

func (f *fsm) addServer(addr address.Address) {
	f.Servers = append(f.Servers, description.NewDefaultServer(addr.Canonicalize()))
}

func (f *fsm) findServer(addr address.Address) (int, bool) {
	canon := addr.Canonicalize()
	for i, s := range f.Servers {
		if canon == s.Addr {
			return i, true
		}
	}
	return 0, false
}

func (f *fsm) removeServerByAddr(addr address.Address) {
	if i, ok := f.findServer(addr); ok {
		f.removeServer(i)
	}
}

func (f *fsm) removeServer(i int) {
	f.Servers = append(f.Servers[:i], f.Servers[i+1:]...)
}

func (f *fsm) replaceServer(s description.Server) {
	if i, ok := f.findServer(s.Addr); ok {
		f.Servers[i] = s
	}
}
