// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"errors"
	"fmt"
	"time"

	"github.com/ikmak/mongo-sdam/mongo/address"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrSetNameRequired is returned when a replica set member without a set name
// is applied to a topology that already has a primary.
var ErrSetNameRequired = errors.New("replica set member reported no set name")

// Topology contains information about a MongoDB cluster.
type Topology struct {
	Servers               []Server
	SetName               string
	Kind                  TopologyKind
	SessionTimeoutMinutes *int64
	CompatibilityErr      error

	// Replica set bookkeeping used to reject reports from stale primaries.
	MaxSetVersion uint32
	MaxElectionID primitive.ObjectID

	// CommonWireVersion is the smallest max wire version reported so far, or
	// nil if no server has reported one.
	CommonWireVersion *int32

	HeartbeatInterval time.Duration
	LocalThreshold    time.Duration
}

// Compatible reports whether every known server overlaps SupportedWireVersions.
func (t Topology) Compatible() bool {
	return t.CompatibilityErr == nil
}

// Server returns the description of the server at addr.
func (t Topology) Server(addr address.Address) (Server, bool) {
	for _, s := range t.Servers {
		if s.Addr == addr {
			return s, true
		}
	}
	return Server{}, false
}

// HasServer reports whether addr is part of the topology.
func (t Topology) HasServer(addr address.Address) bool {
	_, ok := t.Server(addr)
	return ok
}

// HasKnownServers reports whether any server has a kind other than Unknown.
func (t Topology) HasKnownServers() bool {
	for _, s := range t.Servers {
		if s.Kind != Unknown {
			return true
		}
	}
	return false
}

// HasDataBearingServers reports whether any server can serve data.
func (t Topology) HasDataBearingServers() bool {
	for _, s := range t.Servers {
		if s.DataBearing() {
			return true
		}
	}
	return false
}

// Error returns the first error recorded on any server.
func (t Topology) Error() error {
	for _, s := range t.Servers {
		if s.LastError != nil {
			return s.LastError
		}
	}
	return nil
}

// String implements the Stringer interface.
func (t Topology) String() string {
	var serversStr string
	for _, s := range t.Servers {
		serversStr += "{ " + s.String() + " }, "
	}
	return fmt.Sprintf("Type: %s, Servers: [%s]", t.Kind, serversStr)
}

// Equal compares two topology descriptions and returns true if they are equal.
func (t Topology) Equal(other Topology) bool {
	if t.Kind != other.Kind || t.SetName != other.SetName {
		return false
	}

	if len(t.Servers) != len(other.Servers) {
		return false
	}

	for _, s := range t.Servers {
		o, ok := other.Server(s.Addr)
		if !ok || !s.Equal(o) {
			return false
		}
	}

	return true
}
