// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mux multiplexes terminal rooms over one upstream session.
//
// A room is requested with CreateRoom, which sends a host request
// tagged with a fresh random secret and waits for the relay's room
// assignment carrying the same secret. Assignments are matched by
// secret, never by arrival order. Once a room ID is known, callers
// register per-room handlers for output data, remote logout, and
// connection errors.
//
// A room returned by CreateRoom is held: output and logout the relay
// sends for it are queued until the caller registers its handlers and
// calls Attach. A caller that gives up on the room calls Release.
//
// Upstream events are dispatched from the session's delivery goroutine
// with no lock held, so handlers may call back into the Mux. Events for
// one room reach its handlers in the order the relay sent them.
package mux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/jmsh/upstream"
)

var (
	// ErrConnectionFailed wraps the shared session's failure as
	// delivered to every room's error handler.
	ErrConnectionFailed = errors.New("mux: upstream connection failed")

	// ErrConnectionReplaced is the reason a Mux is closed when its
	// connection is superseded by a newer session for the same account.
	ErrConnectionReplaced = errors.New("mux: upstream connection replaced")

	// ErrClosed is returned by CreateRoom on a closed Mux.
	ErrClosed = errors.New("mux: closed")
)

// Kind names a per-room event.
type Kind int

const (
	// KindData is terminal output.
	KindData Kind = iota
	// KindLogout is the remote side closing the room.
	KindLogout
	// KindError is a connectivity failure affecting the room.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindLogout:
		return "logout"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// roomHandlers holds at most one handler per event kind.
type roomHandlers struct {
	data   func(data string)
	logout func()
	err    func(err error)

	// held is set from assignment until Attach. While held or
	// draining, data and logout events are appended to backlog.
	held     bool
	draining bool
	backlog  []roomEvent
}

// roomEvent is a queued data or logout event.
type roomEvent struct {
	kind Kind
	data string
}

func (h *roomHandlers) empty() bool {
	return h.data == nil && h.logout == nil && h.err == nil &&
		!h.held && !h.draining && len(h.backlog) == 0
}

// queuing reports whether events must go to the backlog.
func (h *roomHandlers) queuing() bool {
	return h.held || h.draining
}

// Mux routes one upstream session's events to rooms.
type Mux struct {
	session upstream.Session
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]chan string
	// abandoned holds secrets whose CreateRoom gave up before the
	// assignment arrived. A late assignment is logged out.
	abandoned map[string]struct{}
	rooms     map[string]*roomHandlers
	// closeErr is non-nil once the Mux is closed.
	closeErr  error
	closed    chan struct{}
	onFailure func(err error)
}

// New wraps session and subscribes to its room, data, and logout events
// and to its failure notification. A nil logger uses slog.Default().
func New(session upstream.Session, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mux{
		session: session,
		logger:  logger,
		pending:   make(map[string]chan string),
		abandoned: make(map[string]struct{}),
		rooms:     make(map[string]*roomHandlers),
		closed:    make(chan struct{}),
	}
	session.On(upstream.EventRoom, m.handleRoom)
	session.On(upstream.EventData, m.handleData)
	session.On(upstream.EventLogout, m.handleLogout)
	session.OnFailure(m.handleFailure)
	return m
}

// CreateRoom asks the relay for a terminal on targetID as loginIdentity
// with the given size, and returns the assigned room ID. The room is
// held until Attach or Release. Cancelling ctx abandons the wait; a room
// assigned after that is logged out.
func (m *Mux) CreateRoom(ctx context.Context, targetID, loginIdentity string, cols, rows int) (string, error) {
	secret := uuid.NewString()
	assigned := make(chan string, 1)

	m.mu.Lock()
	if m.closeErr != nil {
		err := m.closeErr
		m.mu.Unlock()
		return "", err
	}
	m.pending[secret] = assigned
	m.mu.Unlock()

	// Registered before the emit so a fast reply cannot be missed.
	err := m.session.Emit(upstream.EventHost, upstream.HostRequest{
		TargetID:      targetID,
		LoginIdentity: loginIdentity,
		Secret:        secret,
		Size:          [2]int{cols, rows},
	})
	if err != nil {
		m.mu.Lock()
		delete(m.pending, secret)
		m.mu.Unlock()
		return "", fmt.Errorf("mux: requesting room: %w", err)
	}

	select {
	case roomID := <-assigned:
		return roomID, nil
	case <-ctx.Done():
		m.abandon(secret, assigned)
		return "", ctx.Err()
	case <-m.closed:
		return "", m.Err()
	}
}

// abandon withdraws a host request. If the assignment already arrived,
// the room is forgotten and logged out; otherwise the secret is
// remembered so handleRoom logs the room out when it arrives.
func (m *Mux) abandon(secret string, assigned chan string) {
	m.mu.Lock()
	if _, waiting := m.pending[secret]; waiting {
		delete(m.pending, secret)
		m.abandoned[secret] = struct{}{}
		m.mu.Unlock()
		return
	}
	var roomID string
	select {
	case roomID = <-assigned:
		delete(m.rooms, roomID)
	default:
	}
	m.mu.Unlock()
	if roomID != "" {
		m.logoutAbandoned(roomID)
	}
}

func (m *Mux) logoutAbandoned(roomID string) {
	m.logger.Debug("logging out abandoned room", "room", roomID)
	if err := m.session.Emit(upstream.EventLogout, upstream.RoomLogout{Room: roomID}); err != nil {
		m.logger.Debug("logging out abandoned room failed", "room", roomID, "error", err)
	}
}

// OnData registers the output handler for roomID, replacing any
// previous one.
func (m *Mux) OnData(roomID string, handler func(data string)) {
	m.update(roomID, func(h *roomHandlers) { h.data = handler })
}

// OnLogout registers the remote-logout handler for roomID.
func (m *Mux) OnLogout(roomID string, handler func()) {
	m.update(roomID, func(h *roomHandlers) { h.logout = handler })
}

// OnError registers the connectivity-failure handler for roomID.
func (m *Mux) OnError(roomID string, handler func(err error)) {
	m.update(roomID, func(h *roomHandlers) { h.err = handler })
}

// Off removes the handler of one kind for roomID. The room's record is
// dropped once it has no handlers left.
func (m *Mux) Off(roomID string, kind Kind) {
	m.update(roomID, func(h *roomHandlers) {
		switch kind {
		case KindData:
			h.data = nil
		case KindLogout:
			h.logout = nil
		case KindError:
			h.err = nil
		}
	})
}

// Release removes every handler for roomID and discards events queued
// for it.
func (m *Mux) Release(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}

// Attach delivers the events queued for a held room to its handlers, in
// arrival order, and routes later events to them directly. A queued
// logout ends the room as a live one would. Attach on a room that is
// not held does nothing. On a closed Mux it returns the close reason.
func (m *Mux) Attach(roomID string) error {
	m.mu.Lock()
	if m.closeErr != nil {
		err := m.closeErr
		m.mu.Unlock()
		return err
	}
	room := m.rooms[roomID]
	if room == nil || !room.held {
		m.mu.Unlock()
		return nil
	}
	room.held = false
	room.draining = true

	// Events arriving during the drain join the backlog, so handlers
	// see them in order and never from two goroutines at once.
	for {
		if len(room.backlog) == 0 {
			room.draining = false
			if room.empty() {
				delete(m.rooms, roomID)
			}
			m.mu.Unlock()
			return nil
		}
		event := room.backlog[0]
		room.backlog = room.backlog[1:]

		if event.kind == KindLogout {
			handler := room.logout
			room.backlog = nil
			room.draining = false
			delete(m.rooms, roomID)
			m.mu.Unlock()
			if handler != nil {
				handler()
			}
			return nil
		}

		handler := room.data
		m.mu.Unlock()
		if handler != nil {
			handler(event.data)
		}
		m.mu.Lock()
		if m.closeErr != nil || m.rooms[roomID] != room {
			m.mu.Unlock()
			return nil
		}
	}
}

// update changes roomID's handlers. It does nothing on a closed Mux.
func (m *Mux) update(roomID string, change func(*roomHandlers)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return
	}
	handlers := m.rooms[roomID]
	if handlers == nil {
		handlers = &roomHandlers{}
		m.rooms[roomID] = handlers
	}
	change(handlers)
	if handlers.empty() {
		delete(m.rooms, roomID)
	}
}

// Rooms returns the number of rooms that are held or have handlers.
func (m *Mux) Rooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Close fails every pending CreateRoom and every room's error handler
// with reason, and stops routing events. The upstream session is left
// to its owner. Only the first Close has an effect.
func (m *Mux) Close(reason error) {
	if reason == nil {
		reason = ErrClosed
	}
	handlers := m.shutdown(reason)
	for _, handler := range handlers {
		handler(reason)
	}
}

// Err returns the reason the Mux was closed, or nil while it is open.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

// Done is closed when the Mux closes.
func (m *Mux) Done() <-chan struct{} {
	return m.closed
}

// shutdown marks the Mux closed and returns the error handlers to
// notify. It returns nil if the Mux was already closed.
func (m *Mux) shutdown(reason error) []func(error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return nil
	}
	m.closeErr = reason
	close(m.closed)

	var handlers []func(error)
	for _, room := range m.rooms {
		if room.err != nil {
			handlers = append(handlers, room.err)
		}
	}
	m.rooms = make(map[string]*roomHandlers)
	m.pending = make(map[string]chan string)
	m.abandoned = make(map[string]struct{})
	return handlers
}

func (m *Mux) handleRoom(payload json.RawMessage) {
	var assigned upstream.RoomAssigned
	if err := json.Unmarshal(payload, &assigned); err != nil {
		m.logger.Warn("dropping malformed room event", "error", err)
		return
	}
	m.mu.Lock()
	if m.closeErr != nil {
		m.mu.Unlock()
		return
	}
	if _, gaveUp := m.abandoned[assigned.Secret]; gaveUp {
		delete(m.abandoned, assigned.Secret)
		m.mu.Unlock()
		m.logoutAbandoned(assigned.Room)
		return
	}
	waiter, ok := m.pending[assigned.Secret]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("room assignment for unknown request", "room", assigned.Room)
		return
	}
	delete(m.pending, assigned.Secret)
	// The room is held before CreateRoom can return, so nothing the
	// relay sends next is lost.
	room := m.rooms[assigned.Room]
	if room == nil {
		room = &roomHandlers{}
		m.rooms[assigned.Room] = room
	}
	room.held = true
	// Buffered with capacity 1 and sent once, so this never blocks.
	waiter <- assigned.Room
	m.mu.Unlock()
}

func (m *Mux) handleData(payload json.RawMessage) {
	var data upstream.RoomData
	if err := json.Unmarshal(payload, &data); err != nil {
		m.logger.Warn("dropping malformed data event", "error", err)
		return
	}
	m.mu.Lock()
	var handler func(string)
	if room := m.rooms[data.Room]; room != nil {
		if room.queuing() {
			room.backlog = append(room.backlog, roomEvent{kind: KindData, data: data.Data})
			m.mu.Unlock()
			return
		}
		handler = room.data
	}
	m.mu.Unlock()
	if handler != nil {
		handler(data.Data)
	}
}

// handleLogout notifies the room and then forgets it, so data the relay
// sends afterwards for the same room is dropped.
func (m *Mux) handleLogout(payload json.RawMessage) {
	var logout upstream.RoomLogout
	if err := json.Unmarshal(payload, &logout); err != nil {
		m.logger.Warn("dropping malformed logout event", "error", err)
		return
	}
	m.mu.Lock()
	var handler func()
	if room := m.rooms[logout.Room]; room != nil {
		if room.queuing() {
			room.backlog = append(room.backlog, roomEvent{kind: KindLogout})
			m.mu.Unlock()
			return
		}
		handler = room.logout
		delete(m.rooms, logout.Room)
	}
	m.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// OnFailure registers a handler that runs after a session failure has
// been delivered to every room. It does not run for Close.
func (m *Mux) OnFailure(handler func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = handler
}

func (m *Mux) handleFailure(err error) {
	m.logger.Warn("upstream connection failed, failing all rooms", "error", err, "rooms", m.Rooms())
	failure := fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	m.Close(failure)

	m.mu.Lock()
	handler := m.onFailure
	m.mu.Unlock()
	if handler != nil {
		handler(failure)
	}
}
