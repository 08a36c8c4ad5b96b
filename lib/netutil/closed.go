// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err means the peer went away
// rather than that the stream broke: EOF, a locally closed connection,
// a broken pipe, or a connection reset.
//
// The agent's IPC clients are short-lived CLI processes. A client that
// is interrupted mid-session closes its socket without a half-close, and
// the agent then sees ECONNRESET or EPIPE instead of EOF. None of these
// should be logged as failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
