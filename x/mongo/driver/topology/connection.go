// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"net"

	"github.com/ikmak/mongo-sdam/mongo/address"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Connection is an established connection to a server. Wire encoding lives
// behind this interface.
type Connection interface {
	// RunCommand sends cmd and reads one reply. A reply with {ok: 0} is
	// returned as is; callers decide whether it is an error.
	RunCommand(ctx context.Context, cmd bsoncore.Document) (bson.Raw, error)

	// ReadReply reads the next reply the server pushes on a streaming
	// connection.
	ReadReply(ctx context.Context) (bson.Raw, error)

	// SetStreaming marks the next command as exhaust, so the server keeps
	// replying on this connection without further requests.
	SetStreaming(streaming bool)
	CurrentlyStreaming() bool

	Address() address.Address
	Close() error
}

// Dialer opens connections to servers.
type Dialer interface {
	DialContext(ctx context.Context, addr address.Address) (Connection, error)
}

// DialerFunc is a type implemented by functions that can be used as a Dialer.
type DialerFunc func(ctx context.Context, addr address.Address) (Connection, error)

// DialContext implements the Dialer interface.
func (df DialerFunc) DialContext(ctx context.Context, addr address.Address) (Connection, error) {
	return df(ctx, addr)
}

// errNoWireProtocol is returned by DefaultDialer once the socket is open: the
// wire protocol is supplied by the embedding driver through WithDialer.
var errNoWireProtocol = errors.New("no wire protocol configured")

// DefaultDialer checks that the address accepts TCP connections and then fails.
var DefaultDialer Dialer = DialerFunc(func(ctx context.Context, addr address.Address) (Connection, error) {
	var nd net.Dialer
	c, err := nd.DialContext(ctx, addr.Network(), addr.String())
	if err != nil {
		return nil, ConnectionError{Address: addr.String(), Wrapped: err, init: true, message: "failed to dial"}
	}
	_ = c.Close()
	return nil, ConnectionError{Address: addr.String(), Wrapped: errNoWireProtocol, init: true}
})

// isNetworkError reports whether err came from the connection rather than from
// the server's reply.
func isNetworkError(err error) bool {
	var ce ConnectionError
	if errors.As(err, &ce) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// isTimeoutError reports whether err is a timeout or a context error.
func isTimeoutError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// runCommand runs cmd on conn and converts an {ok: 0} reply into a
// CommandError. Transport errors are wrapped in a ConnectionError.
func runCommand(ctx context.Context, conn Connection, cmd bsoncore.Document) (bson.Raw, error) {
	reply, err := conn.RunCommand(ctx, cmd)
	if err != nil {
		return nil, wrapConnectionError(conn.Address(), err)
	}
	if cerr := extractCommandError(reply); cerr != nil {
		return reply, cerr
	}
	return reply, nil
}

func readReply(ctx context.Context, conn Connection) (bson.Raw, error) {
	reply, err := conn.ReadReply(ctx)
	if err != nil {
		return nil, wrapConnectionError(conn.Address(), err)
	}
	if cerr := extractCommandError(reply); cerr != nil {
		return reply, cerr
	}
	return reply, nil
}

func wrapConnectionError(addr address.Address, err error) error {
	var ce ConnectionError
	if errors.As(err, &ce) || isContextError(err) {
		return err
	}
	return ConnectionError{Address: addr.String(), Wrapped: err}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
