// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/jmsh/lib/mux"
	"github.com/bureau-foundation/jmsh/lib/secret"
	"github.com/bureau-foundation/jmsh/upstream"
)

// Key identifies a session: one account on one bastion.
type Key struct {
	Endpoint string
	Identity string
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.Identity, k.Endpoint)
}

// Connection is one live relay session and what the agent knows about
// it. A Connection is owned by the Registry that stores it.
type Connection struct {
	Key     Key
	Session upstream.Session
	Mux     *mux.Mux

	mu        sync.Mutex
	sessionID *secret.Buffer
	csrfToken *secret.Buffer
	assets    []Asset
	closed    bool
}

// newConnection takes ownership of the credential buffers.
func newConnection(key Key, session upstream.Session, roomMux *mux.Mux, sessionID, csrfToken *secret.Buffer) *Connection {
	return &Connection{
		Key:       key,
		Session:   session,
		Mux:       roomMux,
		sessionID: sessionID,
		csrfToken: csrfToken,
	}
}

// SessionID returns the bastion session cookie, or ErrNoConnection
// once the connection has been torn down. The result is an ordinary
// heap copy; callers should not hold on to it.
func (c *Connection) SessionID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrNoConnection
	}
	return c.sessionID.String(), nil
}

// Fingerprint returns a log-safe tag for the session cookie.
func (c *Connection) Fingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "closed"
	}
	return c.sessionID.Fingerprint()
}

// CachedAssets returns a copy of the last fetched asset list.
func (c *Connection) CachedAssets() []Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.assets)
}

func (c *Connection) setAssets(assets []Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets = slices.Clone(assets)
}

// close fails the connection's rooms with reason, ends the relay
// session, and scrubs the credentials. Only the first call has effect.
func (c *Connection) close(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.sessionID.Close()
	c.csrfToken.Close()
	c.assets = nil
	c.mu.Unlock()

	c.Mux.Close(reason)
	c.Session.Close()
}

// Registry holds at most one Connection per Key.
type Registry struct {
	mu          sync.Mutex
	connections map[Key]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connections: make(map[Key]*Connection)}
}

// Get returns the connection stored under key.
func (r *Registry) Get(key Key) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connection, ok := r.connections[key]
	return connection, ok
}

// Put stores connection under its key and returns the connection it
// replaced, if any. The caller is responsible for closing the previous
// connection.
func (r *Registry) Put(connection *Connection) (previous *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.connections[connection.Key]
	r.connections[connection.Key] = connection
	return previous
}

// Remove deletes connection if it is still the one stored under its
// key, and reports whether it was. A stale connection that has already
// been replaced never evicts its successor.
func (r *Registry) Remove(connection *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connections[connection.Key] != connection {
		return false
	}
	delete(r.connections, connection.Key)
	return true
}

// Len returns the number of stored connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// Drain removes and returns every connection.
func (r *Registry) Drain() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := make([]*Connection, 0, len(r.connections))
	for _, connection := range r.connections {
		drained = append(drained, connection)
	}
	r.connections = make(map[Key]*Connection)
	return drained
}
