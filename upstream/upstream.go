// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upstream defines the agent's view of the remote terminal
// relay: an authenticated, event-based session that carries every
// terminal room of one account.
//
// The relay's transport is not part of this package. A [Dialer]
// produces a [Session]; package wsrelay provides the production
// implementation and package upstreamtest an in-memory one.
//
// Events flowing to the relay: [EventHost] asks for a new room,
// [EventData] carries keystrokes, [EventResize] a terminal size change,
// and [EventLogout] closes a room. Events flowing from the relay:
// [EventRoom] answers a host request, [EventData] carries output, and
// [EventLogout] reports that the remote side closed a room. Failure of
// the shared connection itself is reported through Session.OnFailure.
package upstream

import (
	"context"
	"encoding/json"
)

// Event names used on the relay session.
const (
	EventHost   = "host"
	EventRoom   = "room"
	EventData   = "data"
	EventResize = "resize"
	EventLogout = "logout"
)

// Credentials authenticate a session on behalf of one user: the relay's
// session cookie and its anti-forgery token.
type Credentials struct {
	SessionID string
	CSRFToken string
}

// Session is one authenticated relay connection.
//
// Implementations deliver events to the registered handlers from a
// single goroutine, in the order the relay sent them. Handlers must not
// block for long: the next event waits for them.
type Session interface {
	// Emit sends event with payload encoded as JSON.
	Emit(event string, payload any) error

	// On registers handler for an inbound event, replacing any previous
	// handler for the same name.
	On(event string, handler func(payload json.RawMessage))

	// OnFailure registers a handler for the loss of the connection after
	// reconnection was attempted and failed. It fires at most once, and
	// does not fire for Close.
	OnFailure(handler func(err error))

	// Close ends the session. It is safe to call more than once.
	Close() error
}

// Dialer establishes sessions. Dial returns only once the relay has
// accepted the credentials, or with the handshake error.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, credentials Credentials) (Session, error)
}

// HostRequest asks the relay for a new room on a target, on behalf of
// a login identity. The relay echoes Secret in its RoomAssigned reply.
type HostRequest struct {
	TargetID      string `json:"uuid"`
	LoginIdentity string `json:"userid"`
	Secret        string `json:"secret"`
	// Size is [cols, rows].
	Size [2]int `json:"size"`
}

// RoomAssigned is the relay's reply to a HostRequest.
type RoomAssigned struct {
	Secret string `json:"secret"`
	Room   string `json:"room"`
}

// RoomData carries terminal bytes for one room, in either direction.
type RoomData struct {
	Room string `json:"room"`
	Data string `json:"data"`
}

// RoomResize reports a terminal size change for one room.
type RoomResize struct {
	Room string `json:"room"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// RoomLogout closes one room, in either direction.
type RoomLogout struct {
	Room string `json:"room"`
}
