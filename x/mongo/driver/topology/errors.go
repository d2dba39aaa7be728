// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ikmak/mongo-sdam/x/mongo/driver/description"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrSubscribeAfterClosed is returned when a user attempts to subscribe to a
// closed Server or Topology.
var ErrSubscribeAfterClosed = errors.New("cannot subscribe after closeConnection")

// ErrTopologyClosed is returned when a user attempts to call a method on a
// closed Topology.
var ErrTopologyClosed = errors.New("topology is closed")

// ErrTopologyConnected is returned when a user attempts to Connect to an
// already connected Topology.
var ErrTopologyConnected = errors.New("topology is connected or connecting")

// ErrServerSelectionTimeout is returned from server selection when the server
// selection process took longer than allowed by the timeout.
var ErrServerSelectionTimeout = errors.New("server selection timeout")

// ErrServerClosed occurs when an attempt to check out a connection is made
// after the server has been closed.
var ErrServerClosed = errors.New("server is closed")

// ErrServerConnected occurs when at attempt to Connect is made after a server
// has already been connected.
var ErrServerConnected = errors.New("server is connected")

// ServerSelectionError represents a Server Selection error.
type ServerSelectionError struct {
	Desc    description.Topology
	Wrapped error
}

// Error implements the error interface.
func (e ServerSelectionError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("server selection error: %s, current topology: { %s }", e.Wrapped.Error(), e.Desc.String())
	}
	return fmt.Sprintf("server selection error: current topology: { %s }", e.Desc.String())
}

// Unwrap returns the underlying error.
func (e ServerSelectionError) Unwrap() error {
	return e.Wrapped
}

// ConnectionError represents an error that occurred while dialing or using a
// connection to a server. Errors of this kind are always treated as network
// errors by the server state machine.
type ConnectionError struct {
	Address string
	Wrapped error

	// init is set when the error occurred while the connection was being
	// established, before the handshake completed.
	init    bool
	message string
}

// Error implements the error interface.
func (e ConnectionError) Error() string {
	message := e.message
	if e.init {
		fullMsg := "error occurred during connection handshake"
		if message != "" {
			fullMsg = fmt.Sprintf("%s: %s", fullMsg, message)
		}
		message = fullMsg
	}
	if e.Wrapped != nil && message != "" {
		return fmt.Sprintf("connection(%s) %s: %s", e.Address, message, e.Wrapped.Error())
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("connection(%s) %s", e.Address, e.Wrapped.Error())
	}
	return fmt.Sprintf("connection(%s) %s", e.Address, message)
}

// Unwrap returns the underlying error.
func (e ConnectionError) Unwrap() error {
	return e.Wrapped
}

// WaitQueueTimeoutError represents a timeout when requesting a connection from
// the pool.
type WaitQueueTimeoutError struct {
	Wrapped        error
	maxConnections int64
}

// Error implements the error interface.
func (w WaitQueueTimeoutError) Error() string {
	if w.Wrapped != nil {
		return fmt.Sprintf("timed out while checking out a connection from connection pool: %s; maxPoolSize: %d",
			w.Wrapped.Error(), w.maxConnections)
	}
	return fmt.Sprintf("timed out while checking out a connection from connection pool; maxPoolSize: %d",
		w.maxConnections)
}

// Unwrap returns the underlying error.
func (w WaitQueueTimeoutError) Unwrap() error {
	return w.Wrapped
}

var (
	notPrimaryCodes   = []int32{10107, 13435, 10058}
	recoveringCodes   = []int32{11600, 11602, 13436, 189, 91}
	shuttingDownCodes = []int32{11600, 91}
)

// CommandError is a failed command reply, an {ok: 0} document, as seen by the
// server that produced it.
type CommandError struct {
	Code            int32
	Message         string
	Name            string
	Labels          []string
	TopologyVersion *description.TopologyVersion
}

// Error implements the error interface.
func (e CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// HasErrorLabel returns true if the error contains the specified label.
func (e CommandError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NotPrimary reports whether the server is no longer able to accept writes.
func (e CommandError) NotPrimary() bool {
	if containsCode(notPrimaryCodes, e.Code) {
		return true
	}
	if e.Code != 0 || e.NodeIsRecovering() {
		return false
	}
	return strings.Contains(e.Message, "not master") || strings.Contains(e.Message, "not writable primary")
}

// NodeIsRecovering reports whether the server is in a recovering state.
func (e CommandError) NodeIsRecovering() bool {
	if containsCode(recoveringCodes, e.Code) {
		return true
	}
	if e.Code != 0 {
		return false
	}
	return strings.Contains(e.Message, "node is recovering") || strings.Contains(e.Message, "not master or secondary")
}

// NodeIsShuttingDown reports whether the server is shutting down.
func (e CommandError) NodeIsShuttingDown() bool {
	return containsCode(shuttingDownCodes, e.Code)
}

func (e CommandError) stateChange() bool {
	return e.NotPrimary() || e.NodeIsRecovering()
}

func containsCode(codes []int32, code int32) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// extractCommandError returns the CommandError described by reply, or nil when
// the reply reports success.
func extractCommandError(reply bson.Raw) error {
	okVal, err := reply.LookupErr("ok")
	if err != nil {
		return CommandError{Message: "command reply has no ok field"}
	}
	if truthy(okVal) {
		return nil
	}

	var ce CommandError
	if v, err := reply.LookupErr("code"); err == nil {
		ce.Code, _ = v.AsInt32OK()
	}
	if v, err := reply.LookupErr("errmsg"); err == nil {
		ce.Message, _ = v.StringValueOK()
	}
	if v, err := reply.LookupErr("codeName"); err == nil {
		ce.Name, _ = v.StringValueOK()
	}
	if v, err := reply.LookupErr("errorLabels"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, label := range vals {
				if str, ok := label.StringValueOK(); ok {
					ce.Labels = append(ce.Labels, str)
				}
			}
		}
	}
	if v, err := reply.LookupErr("topologyVersion"); err == nil {
		if doc, ok := v.DocumentOK(); ok {
			ce.TopologyVersion, _ = description.NewTopologyVersion(doc)
		}
	}
	if ce.Message == "" {
		ce.Message = "command failed"
	}
	return ce
}

func truthy(val bson.RawValue) bool {
	switch val.Type {
	case bson.TypeBoolean:
		return val.Boolean()
	case bson.TypeInt32:
		return val.Int32() != 0
	case bson.TypeInt64:
		return val.Int64() != 0
	case bson.TypeDouble:
		return val.Double() != 0
	}
	return false
}
