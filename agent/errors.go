// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/jmsh/lib/rpc"
)

var (
	// ErrNoConnection means the agent holds no session for the request's
	// endpoint and identity. The caller must log in and createConnection.
	ErrNoConnection = errors.New("no connection available")

	// ErrUnauthenticated means the bastion rejected the stored session.
	// The session has been evicted; the caller must log in again.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// FetchError is a failed asset listing request other than an
// authentication rejection.
type FetchError struct {
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("asset listing failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("asset listing failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsUnauthenticated reports whether err is ErrUnauthenticated, either
// directly or as reported by a remote agent.
func IsUnauthenticated(err error) bool {
	return isAgentError(err, ErrUnauthenticated)
}

// IsNoConnection reports whether err is ErrNoConnection, either directly
// or as reported by a remote agent.
func IsNoConnection(err error) bool {
	return isAgentError(err, ErrNoConnection)
}

func isAgentError(err, target error) bool {
	if errors.Is(err, target) {
		return true
	}
	var remote *rpc.RemoteError
	return errors.As(err, &remote) && remote.Message == target.Error()
}

// wireError reduces err to the form sent to the client: the agent's
// sentinels cross the wire as their bare text so IsUnauthenticated and
// IsNoConnection can recognize them.
func wireError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated
	case errors.Is(err, ErrNoConnection):
		return ErrNoConnection
	default:
		return err
	}
}
