// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/jmsh/lib/frame"
)

// Client opens one transport per call. Endpoints never reuse a
// transport across calls.
type Client interface {
	OpenTransport(ctx context.Context) (*frame.Transport, error)
}

// dialTimeout bounds the connect phase to a local socket. An agent that
// is running accepts immediately; anything slower means it is wedged.
const dialTimeout = 5 * time.Second

// UnixClient dials the agent's Unix socket.
type UnixClient struct {
	SocketPath string

	// Codec must match the server's. Nil selects JSON.
	Codec frame.Codec
}

// OpenTransport connects to SocketPath and wraps the connection.
func (c UnixClient) OpenTransport(ctx context.Context) (*frame.Transport, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("rpc: connecting to %s: %w", c.SocketPath, err)
	}
	return frame.New(conn, c.Codec), nil
}
