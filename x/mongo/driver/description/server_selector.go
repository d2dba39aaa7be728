// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import "github.com/ikmak/mongo-sdam/mongo/address"

// ServerSelector is an interface implemented by types that can perform server
// selection given a topology description, a list of candidate servers and the
// servers to avoid when an equally suitable alternative exists. The selector
// should filter the provided candidates and return a subset that matches the
// selection criteria.
type ServerSelector interface {
	SelectServer(Topology, []Server, *DeprioritizedServers) ([]Server, error)
}

// ServerSelectorFunc is a function that can be used as a ServerSelector.
type ServerSelectorFunc func(Topology, []Server, *DeprioritizedServers) ([]Server, error)

// SelectServer implements the ServerSelector interface.
func (ssf ServerSelectorFunc) SelectServer(
	t Topology,
	s []Server,
	d *DeprioritizedServers,
) ([]Server, error) {
	return ssf(t, s, d)
}

// DeprioritizedServers is a set of addresses that a retry should avoid. A nil
// set is empty.
type DeprioritizedServers struct {
	addrs map[address.Address]struct{}
}

// NewDeprioritizedServers builds a set holding addrs.
func NewDeprioritizedServers(addrs ...address.Address) *DeprioritizedServers {
	d := &DeprioritizedServers{}
	for _, addr := range addrs {
		d.Add(addr)
	}
	return d
}

// Add records addr as deprioritized.
func (d *DeprioritizedServers) Add(addr address.Address) {
	if d.addrs == nil {
		d.addrs = make(map[address.Address]struct{})
	}
	d.addrs[addr] = struct{}{}
}

// Has reports whether addr is deprioritized.
func (d *DeprioritizedServers) Has(addr address.Address) bool {
	if d == nil {
		return false
	}
	_, ok := d.addrs[addr]
	return ok
}

// Len returns the number of deprioritized addresses.
func (d *DeprioritizedServers) Len() int {
	if d == nil {
		return 0
	}
	return len(d.addrs)
}

// Filter returns the candidates that are not deprioritized.
func (d *DeprioritizedServers) Filter(candidates []Server) []Server {
	if d.Len() == 0 {
		return candidates
	}
	out := make([]Server, 0, len(candidates))
	for _, c := range candidates {
		if !d.Has(c.Addr) {
			out = append(out, c)
		}
	}
	return out
}
