// Copyright (C) MongoDB, Inc. 2024-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package serverselector holds the selectors that narrow a topology's servers
// down to the ones suitable for an operation.
package serverselector

import (
	"math"
	"time"

	"github.com/ikmak/mongo-sdam/mongo/readpref"
	"github.com/ikmak/mongo-sdam/tag"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"github.com/pkg/errors"
)

// IdleWritePeriod is how often an idle primary writes a no-op. It bounds how
// precisely staleness can be measured.
const IdleWritePeriod = 10 * time.Second

// Composite combines multiple selectors into a single selector by applying them
// in order to the candidates list.
//
// For example, if the initial candidates list is [s0, s1, s2, s3] and two
// selectors are provided where the first matches s0 and s1 and the second
// matches s1 and s2, the following would occur during server selection:
//
// 1. firstSelector([s0, s1, s2, s3]) -> [s0, s1]
// 2. secondSelector([s0, s1]) -> [s1]
//
// The final list of candidates returned by the composite selector would be
// [s1].
type Composite struct {
	Selectors []description.ServerSelector
}

var _ description.ServerSelector = &Composite{}

// SelectServer combines multiple selectors into a single selector.
func (selector *Composite) SelectServer(
	topo description.Topology,
	candidates []description.Server,
	deprioritized *description.DeprioritizedServers,
) ([]description.Server, error) {
	var err error
	for _, sel := range selector.Selectors {
		candidates, err = sel.SelectServer(topo, candidates, deprioritized)
		if err != nil {
			return nil, err
		}
	}

	return candidates, nil
}

// Latency selects servers whose round trip time falls within a window above
// the fastest candidate. A zero Latency uses the topology's local threshold
// and a negative one disables the window.
type Latency struct {
	Latency time.Duration
}

var _ description.ServerSelector = &Latency{}

// SelectServer selects servers based on average RTT.
func (selector *Latency) SelectServer(
	topo description.Topology,
	candidates []description.Server,
	_ *description.DeprioritizedServers,
) ([]description.Server, error) {
	threshold := selector.Latency
	if threshold == 0 {
		threshold = topo.LocalThreshold
	}
	if threshold < 0 {
		return candidates, nil
	}

	return latencyWindow(threshold, topo, candidates), nil
}

func latencyWindow(
	threshold time.Duration,
	topo description.Topology,
	candidates []description.Server,
) []description.Server {
	if topo.Kind == description.LoadBalanced {
		// In LoadBalanced mode, there should only be one server in the topology and
		// it must be selected.
		return candidates
	}

	switch len(candidates) {
	case 0, 1:
		return candidates
	default:
		// An unmeasured server reports UnsetRTT, which puts it ahead of every
		// measured one.
		min := time.Duration(math.MaxInt64)
		for _, candidate := range candidates {
			if rtt := candidate.RoundTripTime(); rtt < min {
				min = rtt
			}
		}

		max := min + threshold

		viable := make([]description.Server, 0, len(candidates))
		for _, candidate := range candidates {
			rtt := candidate.RoundTripTime()
			if rtt >= min && rtt <= max {
				viable = append(viable, candidate)
			}
		}
		return viable
	}
}

// Write selects all the writable servers, preferring ones that are not
// deprioritized, within the latency window.
type Write struct{}

var _ description.ServerSelector = &Write{}

// SelectServer selects all writable servers.
func (selector *Write) SelectServer(
	topo description.Topology,
	candidates []description.Server,
	deprioritized *description.DeprioritizedServers,
) ([]description.Server, error) {
	writable := make([]description.Server, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Writable() {
			writable = append(writable, candidate)
		}
	}

	return latencyWindow(topo.LocalThreshold, topo, preferNotDeprioritized(writable, deprioritized)), nil
}

// ReadPref selects servers based on the provided read preference.
type ReadPref struct {
	ReadPref *readpref.ReadPref
}

var _ description.ServerSelector = &ReadPref{}

// NewReadPref builds a read preference selector, validating the read
// preference's max staleness against the heartbeat interval the topology is
// monitored with.
func NewReadPref(rp *readpref.ReadPref, heartbeatInterval time.Duration) (*ReadPref, error) {
	if rp == nil {
		return nil, errors.Wrap(readpref.ErrInvalidArgument, "read preference is required")
	}
	if !rp.Mode().IsValid() {
		return nil, errors.Wrap(readpref.ErrInvalidArgument, "invalid read preference specified")
	}
	if err := verifyMaxStaleness(rp, heartbeatInterval); err != nil {
		return nil, err
	}
	return &ReadPref{ReadPref: rp}, nil
}

// SelectServer selects servers based on read preference.
func (selector *ReadPref) SelectServer(
	topo description.Topology,
	candidates []description.Server,
	deprioritized *description.DeprioritizedServers,
) ([]description.Server, error) {
	rp := selector.ReadPref
	if rp == nil {
		rp = readpref.Primary()
	}

	switch topo.Kind {
	case description.LoadBalanced:
		return selectByKind(candidates, description.LoadBalancer), nil
	case description.TopologyKindUnknown:
		return nil, nil
	case description.Single:
		return latencyWindow(topo.LocalThreshold, topo, selectKnown(candidates)), nil
	case description.Sharded:
		selectable := preferNotDeprioritized(selectKnown(candidates), deprioritized)
		return latencyWindow(topo.LocalThreshold, topo, selectable), nil
	case description.ReplicaSetNoPrimary, description.ReplicaSetWithPrimary:
		return selectForReplicaSet(rp, topo, candidates, deprioritized)
	}

	return nil, nil
}

func selectForReplicaSet(
	rp *readpref.ReadPref,
	topo description.Topology,
	candidates []description.Server,
	deprioritized *description.DeprioritizedServers,
) ([]description.Server, error) {
	if err := verifyMaxStaleness(rp, topo.HeartbeatInterval); err != nil {
		return nil, err
	}

	window := func(servers []description.Server) []description.Server {
		return latencyWindow(topo.LocalThreshold, topo, servers)
	}

	switch rp.Mode() {
	case readpref.PrimaryMode:
		return preferNotDeprioritized(selectByKind(candidates, description.RSPrimary), deprioritized), nil
	case readpref.PrimaryPreferredMode:
		primaries := selectByKind(candidates, description.RSPrimary)
		if eligible := deprioritized.Filter(primaries); len(eligible) > 0 {
			return eligible, nil
		}

		secondaries := selectSecondaries(rp, topo, candidates)
		if eligible := deprioritized.Filter(secondaries); len(eligible) > 0 {
			return window(eligible), nil
		}

		if len(primaries) > 0 {
			return primaries, nil
		}
		return window(secondaries), nil
	case readpref.SecondaryPreferredMode, readpref.SecondaryMode:
		secondaries := selectSecondaries(rp, topo, candidates)
		if eligible := deprioritized.Filter(secondaries); len(eligible) > 0 {
			return window(eligible), nil
		}

		if rp.Mode() == readpref.SecondaryPreferredMode {
			primaries := selectByKind(candidates, description.RSPrimary)
			if eligible := deprioritized.Filter(primaries); len(eligible) > 0 {
				return eligible, nil
			}
			if len(secondaries) > 0 {
				return window(secondaries), nil
			}
			return primaries, nil
		}

		return window(secondaries), nil
	case readpref.NearestMode:
		selected := selectByKind(candidates, description.RSPrimary)
		selected = append(selected, selectByKind(candidates, description.RSSecondary)...)
		selected = selectByTagSet(selectStale(rp, topo, selected), rp.TagSets())
		return window(preferNotDeprioritized(selected, deprioritized)), nil
	}

	return nil, errors.Wrapf(readpref.ErrInvalidArgument, "unsupported mode: %d", rp.Mode())
}

func selectSecondaries(
	rp *readpref.ReadPref,
	topo description.Topology,
	candidates []description.Server,
) []description.Server {
	secondaries := selectByKind(candidates, description.RSSecondary)
	return selectByTagSet(selectStale(rp, topo, secondaries), rp.TagSets())
}

// selectStale drops servers whose estimated replication lag exceeds the read
// preference's max staleness.
func selectStale(
	rp *readpref.ReadPref,
	topo description.Topology,
	servers []description.Server,
) []description.Server {
	maxStaleness, set := rp.MaxStaleness()
	if !set || len(servers) == 0 {
		return servers
	}

	hb := topo.HeartbeatInterval
	var staleness func(description.Server) time.Duration

	switch topo.Kind {
	case description.ReplicaSetWithPrimary:
		primary, ok := findPrimary(topo)
		if !ok {
			return servers
		}
		primaryLag := primary.LastUpdateTime.Sub(primary.LastWriteTime)
		staleness = func(s description.Server) time.Duration {
			return s.LastUpdateTime.Sub(s.LastWriteTime) - primaryLag + hb
		}
	case description.ReplicaSetNoPrimary:
		latest := servers[0].LastWriteTime
		for _, s := range servers[1:] {
			if s.LastWriteTime.After(latest) {
				latest = s.LastWriteTime
			}
		}
		staleness = func(s description.Server) time.Duration {
			return latest.Sub(s.LastWriteTime) + hb
		}
	default:
		return servers
	}

	result := make([]description.Server, 0, len(servers))
	for _, s := range servers {
		if staleness(s) <= maxStaleness {
			result = append(result, s)
		}
	}
	return result
}

// selectByTagSet returns the servers matching the first tag set that matches
// anything. No tag sets match everything.
func selectByTagSet(candidates []description.Server, tagSets []tag.Set) []description.Server {
	if len(tagSets) == 0 {
		return candidates
	}

	for _, ts := range tagSets {
		// If this tag set is empty, we can take a fast path because the empty list
		// is a subset of all tag sets, so all candidate servers will be selected.
		if len(ts) == 0 {
			return candidates
		}

		var results []description.Server
		for _, s := range candidates {
			// ts is non-empty, so only servers with a non-empty set of tags need to be checked.
			if len(s.Tags) > 0 && s.Tags.ContainsAll(ts) {
				results = append(results, s)
			}
		}

		if len(results) > 0 {
			return results
		}
	}

	return []description.Server{}
}

func selectByKind(candidates []description.Server, kind description.ServerKind) []description.Server {
	// Record the indices of viable candidates first and then append those to the returned slice
	// to avoid appending costly Server structs directly as an optimization.
	viableIndexes := make([]int, 0, len(candidates))
	for i, s := range candidates {
		if s.Kind == kind {
			viableIndexes = append(viableIndexes, i)
		}
	}
	result := make([]description.Server, len(viableIndexes))
	for i, idx := range viableIndexes {
		result[i] = candidates[idx]
	}
	return result
}

func selectKnown(candidates []description.Server) []description.Server {
	result := make([]description.Server, 0, len(candidates))
	for _, s := range candidates {
		if s.Kind != description.Unknown {
			result = append(result, s)
		}
	}
	return result
}

// preferNotDeprioritized drops deprioritized servers unless that would leave
// nothing.
func preferNotDeprioritized(
	candidates []description.Server,
	deprioritized *description.DeprioritizedServers,
) []description.Server {
	if filtered := deprioritized.Filter(candidates); len(filtered) > 0 {
		return filtered
	}
	return candidates
}

func findPrimary(topo description.Topology) (description.Server, bool) {
	for _, s := range topo.Servers {
		if s.Kind == description.RSPrimary {
			return s, true
		}
	}
	return description.Server{}, false
}

func verifyMaxStaleness(rp *readpref.ReadPref, heartbeatInterval time.Duration) error {
	maxStaleness, set := rp.MaxStaleness()
	if !set {
		return nil
	}

	if variance := heartbeatInterval + IdleWritePeriod; maxStaleness < variance {
		return errors.Wrapf(readpref.ErrInvalidArgument,
			"max staleness (%v) must be at least %v (heartbeat interval plus idle write period)",
			maxStaleness, variance)
	}
	if maxStaleness < readpref.MinMaxStaleness {
		return errors.Wrapf(readpref.ErrInvalidArgument,
			"max staleness (%v) must be at least %v", maxStaleness, readpref.MinMaxStaleness)
	}

	return nil
}

// SecondaryWritable chooses the selector for an operation that writes but may
// run on a secondary. Servers older than description.MinSecondaryWriteWireVersion
// and operations without a read preference always target the primary.
func SecondaryWritable(wireVersion int32, rp *readpref.ReadPref) description.ServerSelector {
	if rp == nil || wireVersion < description.MinSecondaryWriteWireVersion {
		return &ReadPref{ReadPref: readpref.Primary()}
	}
	return &ReadPref{ReadPref: rp}
}

// SameServer selects the server described by Server, provided it is still
// known.
type SameServer struct {
	Server *description.Server
}

var _ description.ServerSelector = &SameServer{}

// SelectServer returns the matching candidate, if it is not Unknown.
func (selector *SameServer) SelectServer(
	_ description.Topology,
	candidates []description.Server,
	_ *description.DeprioritizedServers,
) ([]description.Server, error) {
	if selector.Server == nil {
		return nil, nil
	}

	for _, s := range candidates {
		if s.Addr == selector.Server.Addr && s.Kind != description.Unknown {
			return []description.Server{s}, nil
		}
	}
	return nil, nil
}
