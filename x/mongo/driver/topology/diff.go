// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
)

// hostlistDiff holds the hosts an SRV lookup added to or removed from a
// topology.
type hostlistDiff struct {
	Added   []string
	Removed []string
}

func diffHostList(t description.Topology, hostlist []string) hostlistDiff {
	var diff hostlistDiff

	current := make(map[address.Address]struct{}, len(t.Servers))
	for _, s := range t.Servers {
		current[s.Addr] = struct{}{}
	}

	for _, host := range hostlist {
		addr := address.Address(host).Canonicalize()
		if _, ok := current[addr]; ok {
			delete(current, addr)
			continue
		}
		diff.Added = append(diff.Added, host)
	}

	// Walk the servers rather than the map so the order is stable.
	for _, s := range t.Servers {
		if _, ok := current[s.Addr]; ok {
			diff.Removed = append(diff.Removed, s.Addr.String())
		}
	}

	return diff
}

// topologyDiff holds the servers that appeared in or disappeared from a
// topology between two descriptions.
type topologyDiff struct {
	Added   []description.Server
	Removed []description.Server
}

func diffTopology(prev, next description.Topology) topologyDiff {
	var diff topologyDiff

	for _, s := range next.Servers {
		if !prev.HasServer(s.Addr) {
			diff.Added = append(diff.Added, s)
		}
	}
	for _, s := range prev.Servers {
		if !next.HasServer(s.Addr) {
			diff.Removed = append(diff.Removed, s)
		}
	}

	return diff
}
