// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wsrelay implements upstream.Session over a WebSocket.
//
// Each WebSocket text message is one event, {"event": name, "data":
// payload}. The session authenticates with the relay's cookies on the
// upgrade request to {endpoint}/ssh. When the connection drops, the
// session redials with the same credentials; if redialing fails, the
// failure handler fires and the session is dead.
package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/jmsh/lib/secret"
	"github.com/bureau-foundation/jmsh/upstream"
)

// envelope is the on-wire form of one event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultRedialAttempts   = 1
	defaultRedialDelay      = time.Second
	writeTimeout            = 10 * time.Second
	pingInterval            = 30 * time.Second
	// pongWait is how long the relay has to answer a ping before the
	// connection counts as dropped.
	pongWait = 2 * pingInterval
)

// Dialer connects to a relay. The zero value is usable.
type Dialer struct {
	// HandshakeTimeout bounds the WebSocket upgrade. Zero means 15s.
	HandshakeTimeout time.Duration

	// RedialAttempts is how many times a dropped connection is redialed
	// before the session fails. Zero means one attempt.
	RedialAttempts int

	// RedialDelay is the wait before the first redial, doubled before
	// each further attempt. Zero means one second.
	RedialDelay time.Duration

	Logger *slog.Logger
}

// SessionURL maps a relay endpoint (http or https) to its WebSocket
// event URL.
func SessionURL(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("wsrelay: parsing endpoint %q: %w", endpoint, err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("wsrelay: endpoint %q: unsupported scheme %q", endpoint, parsed.Scheme)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ssh"
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// Dial opens a session to endpoint. It returns once the relay has
// accepted the upgrade.
func (d *Dialer) Dial(ctx context.Context, endpoint string, credentials upstream.Credentials) (upstream.Session, error) {
	target, err := SessionURL(endpoint)
	if err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	session := &Session{
		dialer:      d,
		target:      target,
		origin:      strings.TrimSuffix(endpoint, "/"),
		credentials: credentials,
		logger:      logger.With("endpoint", endpoint, "session", secret.Fingerprint([]byte(credentials.SessionID))),
		handlers:    make(map[string]func(json.RawMessage)),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	conn, err := session.connect(ctx)
	if err != nil {
		return nil, err
	}
	session.conn = conn
	go session.run()
	return session, nil
}

// Session is a live relay connection. It is safe for concurrent use.
type Session struct {
	dialer      *Dialer
	target      string
	origin      string
	credentials upstream.Credentials
	logger      *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	handlers  map[string]func(json.RawMessage)
	onFailure func(error)
	closed    bool
	failed    bool

	// closing is closed by Close; done when the read goroutine exits.
	closing chan struct{}
	done    chan struct{}
}

func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	timeout := s.dialer.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}
	websocketDialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("csrftoken=%s; sessionid=%s", s.credentials.CSRFToken, s.credentials.SessionID))
	header.Set("Origin", s.origin)

	conn, response, err := websocketDialer.DialContext(ctx, s.target, header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("wsrelay: connecting to %s: %s: %w", s.target, response.Status, err)
		}
		return nil, fmt.Errorf("wsrelay: connecting to %s: %w", s.target, err)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

// Emit sends one event.
func (s *Session) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wsrelay: encoding %s: %w", event, err)
	}
	message, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("wsrelay: encoding %s: %w", event, err)
	}

	s.mu.Lock()
	conn, closed, failed := s.conn, s.closed, s.failed
	s.mu.Unlock()
	if closed || failed {
		return fmt.Errorf("wsrelay: emit %s: %w", event, errSessionOver)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return fmt.Errorf("wsrelay: emit %s: %w", event, err)
	}
	return nil
}

var errSessionOver = errors.New("session closed")

// On registers the handler for an inbound event.
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

// Close sends a close frame and tears the connection down. The failure
// handler never fires after Close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	close(s.closing)
	s.mu.Unlock()

	s.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent closing"),
		time.Now().Add(writeTimeout))
	s.writeMu.Unlock()
	return conn.Close()
}

// Done is closed when the session's read goroutine exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer close(s.done)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.keepalive(stopPing)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readEvents(conn)
		if s.isClosed() {
			return
		}
		s.logger.Warn("relay connection dropped, redialing", "error", err)
		conn.Close()

		replacement, redialErr := s.redial()
		if redialErr != nil {
			s.fail(fmt.Errorf("wsrelay: reconnect failed: %w", redialErr))
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			replacement.Close()
			return
		}
		s.conn = replacement
		s.mu.Unlock()
		s.logger.Info("relay connection restored")
	}
}

// readEvents dispatches events from conn until it fails.
func (s *Session) readEvents(conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var message envelope
		if err := json.Unmarshal(data, &message); err != nil {
			s.logger.Warn("dropping malformed relay event", "error", err)
			continue
		}
		s.mu.Lock()
		handler := s.handlers[message.Event]
		s.mu.Unlock()
		if handler != nil {
			handler(message.Data)
		}
	}
}

func (s *Session) redial() (*websocket.Conn, error) {
	attempts := s.dialer.RedialAttempts
	if attempts <= 0 {
		attempts = defaultRedialAttempts
	}
	delay := s.dialer.RedialDelay
	if delay <= 0 {
		delay = defaultRedialDelay
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.closing:
			timer.Stop()
			return nil, errSessionOver
		}
		conn, err := s.connect(context.Background())
		if err == nil {
			return conn, nil
		}
		lastErr = err
		delay *= 2
	}
	return nil, lastErr
}

func (s *Session) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			s.writeMu.Lock()
			conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	handler := s.onFailure
	s.mu.Unlock()

	s.logger.Error("relay session failed", "error", err)
	if handler != nil {
		handler(err)
	}
}
