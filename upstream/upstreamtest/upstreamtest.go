// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upstreamtest provides an in-memory upstream.Session and
// upstream.Dialer. Tests play the relay: they read what the code under
// test emitted and deliver events back to it.
package upstreamtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/jmsh/upstream"
)

// Emitted is one event sent by the code under test.
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// Decode unmarshals the payload into target, panicking on malformed
// JSON since the payload was produced by json.Marshal.
func (e Emitted) Decode(target any) {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		panic(fmt.Sprintf("upstreamtest: decoding %s payload: %v", e.Event, err))
	}
}

// Session is a fake relay session. Deliver and Fail run handlers
// synchronously on the caller's goroutine, so a test that drives events
// from one goroutine gets the single-goroutine delivery real sessions
// provide.
type Session struct {
	Endpoint    string
	Credentials upstream.Credentials

	mu        sync.Mutex
	handlers  map[string]func(json.RawMessage)
	onFailure func(error)
	failed    bool
	closed    bool
	emitted   chan Emitted
}

// NewSession returns an open session whose emitted events are buffered
// for the test to read.
func NewSession() *Session {
	return &Session{
		handlers: make(map[string]func(json.RawMessage)),
		emitted:  make(chan Emitted, 256),
	}
}

// ErrSessionClosed is returned by Emit after Close or Fail.
var ErrSessionClosed = errors.New("upstreamtest: session closed")

// Emit records the event.
func (s *Session) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failed {
		return ErrSessionClosed
	}
	s.emitted <- Emitted{Event: event, Payload: data}
	return nil
}

// On registers an inbound event handler.
func (s *Session) On(event string, handler func(json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
}

// OnFailure registers the connection failure handler.
func (s *Session) OnFailure(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = handler
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Deliver sends an inbound event to its handler, if one is registered.
func (s *Session) Deliver(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("upstreamtest: encoding %s payload: %v", event, err))
	}
	s.mu.Lock()
	handler := s.handlers[event]
	s.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

// Fail reports a connection failure, as a relay that exhausted its
// reconnection attempts would. Only the first call has an effect.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.failed || s.closed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	handler := s.onFailure
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// Next returns the next emitted event, or fails after timeout.
func (s *Session) Next(timeout time.Duration) (Emitted, error) {
	select {
	case emitted := <-s.emitted:
		return emitted, nil
	case <-time.After(timeout):
		return Emitted{}, fmt.Errorf("upstreamtest: no event emitted within %v", timeout)
	}
}

// Pending returns the events emitted so far without waiting.
func (s *Session) Pending() []Emitted {
	var pending []Emitted
	for {
		select {
		case emitted := <-s.emitted:
			pending = append(pending, emitted)
		default:
			return pending
		}
	}
}

// Dialer hands out Sessions and records them.
type Dialer struct {
	// Err, when set, fails every Dial.
	Err error

	mu       sync.Mutex
	sessions []*Session
	dialed   chan *Session
}

// NewDialer returns a dialer that succeeds until Err is set.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Session, 16)}
}

// Dial returns a fresh Session, or Err.
func (d *Dialer) Dial(ctx context.Context, endpoint string, credentials upstream.Credentials) (upstream.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session := NewSession()
	session.Endpoint = endpoint
	session.Credentials = credentials
	d.sessions = append(d.sessions, session)
	d.dialed <- session
	return session, nil
}

// SetErr changes the failure returned by later Dial calls.
func (d *Dialer) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

// Sessions returns every session dialed so far, oldest first.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// Dialed delivers each session as it is created.
func (d *Dialer) Dialed() <-chan *Session {
	return d.dialed
}
