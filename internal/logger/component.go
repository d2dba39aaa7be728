// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"net"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Messages logged by the monitoring and selection machinery.
const (
	ServerSelectionFailed            = "Server selection failed"
	ServerSelectionStarted           = "Server selection started"
	ServerSelectionSucceeded         = "Server selection succeeded"
	ServerSelectionWaiting           = "Waiting for suitable server to become available"
	TopologyClosed                   = "Stopped topology monitoring"
	TopologyDescriptionChanged       = "Topology description changed"
	TopologyIncompatible             = "Topology is incompatible with this driver"
	TopologyOpening                  = "Starting topology monitoring"
	TopologyServerClosed             = "Stopped server monitoring"
	TopologyServerHeartbeatFailed    = "Server heartbeat failed"
	TopologyServerHeartbeatStarted   = "Server heartbeat started"
	TopologyServerHeartbeatSucceeded = "Server heartbeat succeeded"
	TopologyServerOpening            = "Starting server monitoring"
	TopologyUpdateRejected           = "Server description rejected"
	SRVRecordsRejected               = "SRV records rejected"
	SRVPollFailed                    = "SRV poll failed"
	ConnectionPoolCleared            = "Connection pool cleared"
)

// Keys attached to log messages.
const (
	KeyAwaited             = "awaited"
	KeyDurationMS          = "durationMS"
	KeyFailure             = "failure"
	KeyGeneration          = "generation"
	KeyHosts               = "hosts"
	KeyMessage             = "message"
	KeyNewDescription      = "newDescription"
	KeyOperation           = "operation"
	KeyPreviousDescription = "previousDescription"
	KeyRejected            = "rejected"
	KeyRemainingTimeMS     = "remainingTimeMS"
	KeyReply               = "reply"
	KeySelector            = "selector"
	KeyServerHost          = "serverHost"
	KeyServerPort          = "serverPort"
	KeySRVHost             = "srvHost"
	KeyTopologyDescription = "topologyDescription"
	KeyTopologyID          = "topologyId"
)

// KeyValues is a list of alternating keys and values.
type KeyValues []interface{}

// Add appends a key/value pair.
func (kvs *KeyValues) Add(key string, value interface{}) {
	*kvs = append(*kvs, key, value)
}

// Component is an enumeration representing the "components" which can be
// logged against. A LogLevel can be configured on a per-component basis.
type Component int

const (
	// ComponentAll enables logging for all components.
	ComponentAll Component = iota

	// ComponentTopology enables topology logging.
	ComponentTopology

	// ComponentServerSelection enables server selection logging.
	ComponentServerSelection

	// ComponentConnection enables connection services logging.
	ComponentConnection
)

const (
	mongoDBLogAllEnvVar             = "MONGODB_LOG_ALL"
	mongoDBLogTopologyEnvVar        = "MONGODB_LOG_TOPOLOGY"
	mongoDBLogServerSelectionEnvVar = "MONGODB_LOG_SERVER_SELECTION"
	mongoDBLogConnectionEnvVar      = "MONGODB_LOG_CONNECTION"
)

var componentEnvVarMap = map[string]Component{
	mongoDBLogAllEnvVar:             ComponentAll,
	mongoDBLogTopologyEnvVar:        ComponentTopology,
	mongoDBLogServerSelectionEnvVar: ComponentServerSelection,
	mongoDBLogConnectionEnvVar:      ComponentConnection,
}

// Topology holds the fields common to every topology message.
type Topology struct {
	ID      primitive.ObjectID // Driver's unique ID for this topology
	Message string             // Message associated with the topology
}

// SerializeTopology flattens a topology message into key/value pairs.
func SerializeTopology(topo Topology, extraKV ...interface{}) KeyValues {
	keysAndValues := KeyValues{
		KeyTopologyID, topo.ID.Hex(),
	}
	if topo.Message != "" {
		keysAndValues.Add(KeyMessage, topo.Message)
	}

	for i := 0; i+1 < len(extraKV); i += 2 {
		keysAndValues.Add(extraKV[i].(string), extraKV[i+1])
	}

	return keysAndValues
}

// Server holds the fields common to every server monitoring message.
type Server struct {
	TopologyID primitive.ObjectID
	Message    string
	Address    string // host:port
}

// SerializeServer flattens a server message into key/value pairs. The address
// is split into host and numeric port.
func SerializeServer(srv Server, extraKV ...interface{}) KeyValues {
	keysAndValues := KeyValues{
		KeyMessage, srv.Message,
		KeyTopologyID, srv.TopologyID.Hex(),
	}

	host, port, err := net.SplitHostPort(srv.Address)
	if err != nil {
		host = srv.Address
	}
	keysAndValues.Add(KeyServerHost, host)
	if p, err := strconv.ParseInt(port, 10, 32); err == nil {
		keysAndValues.Add(KeyServerPort, p)
	}

	for i := 0; i+1 < len(extraKV); i += 2 {
		keysAndValues.Add(extraKV[i].(string), extraKV[i+1])
	}

	return keysAndValues
}

// ServerSelection holds the fields common to every server selection message.
type ServerSelection struct {
	Selector            string
	Operation           string
	TopologyDescription string
}

// SerializeServerSelection flattens a selection message into key/value pairs.
func SerializeServerSelection(srvSelection ServerSelection, extraKV ...interface{}) KeyValues {
	keysAndValues := KeyValues{
		KeySelector, srvSelection.Selector,
		KeyOperation, srvSelection.Operation,
		KeyTopologyDescription, srvSelection.TopologyDescription,
	}

	for i := 0; i+1 < len(extraKV); i += 2 {
		keysAndValues.Add(extraKV[i].(string), extraKV[i+1])
	}

	return keysAndValues
}
