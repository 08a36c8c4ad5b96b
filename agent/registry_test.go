// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/bureau-foundation/jmsh/lib/mux"
	"github.com/bureau-foundation/jmsh/lib/secret"
	"github.com/bureau-foundation/jmsh/lib/testutil"
	"github.com/bureau-foundation/jmsh/upstream/upstreamtest"
)

func newTestConnection(t *testing.T, key Key) (*Connection, *upstreamtest.Session) {
	t.Helper()
	session := upstreamtest.NewSession()
	sessionID, err := secret.FromString("session-" + key.Identity)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	csrfToken, err := secret.FromString("csrf")
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	roomMux := mux.New(session, slog.New(slog.DiscardHandler))
	return newConnection(key, session, roomMux, sessionID, csrfToken), session
}

func TestKeyString(t *testing.T) {
	t.Parallel()
	key := Key{Endpoint: "https://bastion.example", Identity: "alice"}
	if got, want := key.String(), "alice@https://bastion.example"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRegistryPutReturnsPrevious(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	key := Key{Endpoint: "https://bastion.example", Identity: "alice"}

	first, _ := newTestConnection(t, key)
	if previous := registry.Put(first); previous != nil {
		t.Fatalf("first Put returned %v", previous)
	}
	second, _ := newTestConnection(t, key)
	if previous := registry.Put(second); previous != first {
		t.Fatalf("second Put returned %p, want %p", previous, first)
	}
	got, ok := registry.Get(key)
	if !ok || got != second {
		t.Fatalf("Get = %p, %v; want the second connection", got, ok)
	}
	if registry.Len() != 1 {
		t.Errorf("Len = %d, want 1", registry.Len())
	}
}

func TestRegistryRemoveIgnoresStaleConnection(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	key := Key{Endpoint: "https://bastion.example", Identity: "alice"}

	stale, _ := newTestConnection(t, key)
	registry.Put(stale)
	current, _ := newTestConnection(t, key)
	registry.Put(current)

	if registry.Remove(stale) {
		t.Fatal("Remove(stale) evicted the current connection")
	}
	if _, ok := registry.Get(key); !ok {
		t.Fatal("current connection missing after stale Remove")
	}
	if !registry.Remove(current) {
		t.Fatal("Remove(current) = false")
	}
	if registry.Len() != 0 {
		t.Errorf("Len = %d after Remove", registry.Len())
	}
}

func TestRegistryKeysAreIndependent(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	alice, bob := testutil.UniqueID("alice"), testutil.UniqueID("bob")
	for _, key := range []Key{
		{Endpoint: "https://a.example", Identity: alice},
		{Endpoint: "https://a.example", Identity: bob},
		{Endpoint: "https://b.example", Identity: alice},
	} {
		connection, _ := newTestConnection(t, key)
		registry.Put(connection)
	}

	if registry.Len() != 3 {
		t.Fatalf("Len = %d, want 3", registry.Len())
	}
	drained := registry.Drain()
	if len(drained) != 3 || registry.Len() != 0 {
		t.Errorf("Drain returned %d, Len now %d", len(drained), registry.Len())
	}
}

func TestConnectionCloseScrubsAndFailsRooms(t *testing.T) {
	t.Parallel()
	connection, session := newTestConnection(t, Key{Endpoint: "https://a.example", Identity: "alice"})
	connection.setAssets([]Asset{{ID: "1", Hostname: "web"}})

	if got, err := connection.SessionID(); err != nil || got != "session-alice" {
		t.Fatalf("SessionID = %q, %v", got, err)
	}

	var roomErr error
	connection.Mux.OnError("room-1", func(err error) { roomErr = err })
	connection.close(mux.ErrConnectionReplaced)
	connection.close(errors.New("second close ignored"))

	if !errors.Is(roomErr, mux.ErrConnectionReplaced) {
		t.Errorf("room error = %v, want ErrConnectionReplaced", roomErr)
	}
	if !session.Closed() {
		t.Error("session not closed")
	}
	if _, err := connection.SessionID(); !errors.Is(err, ErrNoConnection) {
		t.Errorf("SessionID after close = %v, want ErrNoConnection", err)
	}
	if connection.Fingerprint() != "closed" {
		t.Errorf("Fingerprint after close = %q", connection.Fingerprint())
	}
	if len(connection.CachedAssets()) != 0 {
		t.Error("cached assets survived close")
	}
}

func TestCachedAssetsIsACopy(t *testing.T) {
	t.Parallel()
	connection, _ := newTestConnection(t, Key{Endpoint: "https://a.example", Identity: "alice"})
	connection.setAssets([]Asset{{ID: "1", Hostname: "web"}})

	cached := connection.CachedAssets()
	cached[0].Hostname = "changed"
	if connection.CachedAssets()[0].Hostname != "web" {
		t.Error("CachedAssets exposes internal state")
	}
}
