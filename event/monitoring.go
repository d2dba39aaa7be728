// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event holds the payloads published while a topology is discovered
// and monitored, and the ServerMonitor callbacks that receive them.
package event

import (
	"time"

	"github.com/ikmak/mongo-sdam/mongo/address"
	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ServerDescriptionChangedEvent represents a server description change.
type ServerDescriptionChangedEvent struct {
	Address             address.Address
	TopologyID          primitive.ObjectID
	PreviousDescription description.Server
	NewDescription      description.Server
}

// ServerOpeningEvent is an event generated when the server is initialized.
type ServerOpeningEvent struct {
	Address    address.Address
	TopologyID primitive.ObjectID
}

// ServerClosedEvent is an event generated when the server is closed.
type ServerClosedEvent struct {
	Address    address.Address
	TopologyID primitive.ObjectID
}

// TopologyDescriptionChangedEvent represents a topology description change.
type TopologyDescriptionChangedEvent struct {
	TopologyID          primitive.ObjectID
	PreviousDescription description.Topology
	NewDescription      description.Topology
}

// TopologyOpeningEvent is an event generated when the topology is initialized.
type TopologyOpeningEvent struct {
	TopologyID primitive.ObjectID
}

// TopologyClosedEvent is an event generated when the topology is closed.
type TopologyClosedEvent struct {
	TopologyID primitive.ObjectID
}

// TopologyErrorEvent is generated when the topology can no longer be used, for
// example because a server reports a wire version range the driver does not
// support.
type TopologyErrorEvent struct {
	TopologyID primitive.ObjectID
	Err        error
}

// ServerHeartbeatStartedEvent is an event generated when the hello command is started.
type ServerHeartbeatStartedEvent struct {
	Address address.Address
	Awaited bool
}

// ServerHeartbeatSucceededEvent is an event generated when the hello command succeeds.
type ServerHeartbeatSucceededEvent struct {
	Address  address.Address
	Duration time.Duration
	Reply    bson.Raw
	Awaited  bool
}

// ServerHeartbeatFailedEvent is an event generated when the hello command fails.
type ServerHeartbeatFailedEvent struct {
	Address  address.Address
	Duration time.Duration
	Failure  error
	Awaited  bool
}

// ServerMonitor represents a monitor that is triggered for different server events. The client
// will monitor changes on the MongoDB deployment that it is connected to, and this monitor reports
// the changes in the client's representation of the deployment. The topology represents the
// overall deployment, and heartbeats are sent to individual servers to check their current status.
type ServerMonitor struct {
	ServerDescriptionChanged   func(*ServerDescriptionChangedEvent)
	ServerOpening              func(*ServerOpeningEvent)
	ServerClosed               func(*ServerClosedEvent)
	TopologyDescriptionChanged func(*TopologyDescriptionChangedEvent)
	TopologyOpening            func(*TopologyOpeningEvent)
	TopologyClosed             func(*TopologyClosedEvent)
	TopologyError              func(*TopologyErrorEvent)
	ServerHeartbeatStarted     func(*ServerHeartbeatStartedEvent)
	ServerHeartbeatSucceeded   func(*ServerHeartbeatSucceededEvent)
	ServerHeartbeatFailed      func(*ServerHeartbeatFailedEvent)
}
