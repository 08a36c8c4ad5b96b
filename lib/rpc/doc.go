// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc layers request/reply calls and long-lived bidirectional
// channels over [frame.Transport].
//
// Every exchange starts on a fresh connection with one handshake
// message, {method, req}. The server answers with one reply, {rep} or
// {error}:
//
//   - A [CallEndpoint] exchange ends there. The client reads the reply
//     and drops the connection.
//   - A [ChannelEndpoint] exchange keeps the connection open after an
//     empty {} reply. From then on both sides exchange bare messages
//     with no envelope until either side closes.
//
// Endpoints are typed descriptors shared by both sides. The server side
// turns an endpoint into a [Handler] bound to a Go function and
// registers it on a [Server]; the client side calls the endpoint with a
// [Client], which opens a transport per call.
//
// A handler's failure is converted to an {error} reply at the handler
// boundary and surfaces on the caller as a [*RemoteError]. A connection
// that ends before any reply surfaces as [ErrNoReply].
package rpc
