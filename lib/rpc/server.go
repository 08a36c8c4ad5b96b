// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/jmsh/lib/frame"
	"github.com/bureau-foundation/jmsh/lib/netutil"
)

// Handler serves one method. Serve owns transport from the moment it is
// called, including closing it. The returned error is for logging only;
// whatever the peer should see has already been written.
type Handler interface {
	Method() string
	Serve(ctx context.Context, request frame.Raw, transport *frame.Transport) error
}

// handshakeTimeout is how long a new connection may take to send its
// handshake. Clients send it immediately after connecting.
const handshakeTimeout = 30 * time.Second

// Server accepts connections on a local socket and dispatches each one
// to the handler named in its handshake.
//
// Handlers are registered with Handle before Serve is called.
type Server struct {
	codec    frame.Codec
	logger   *slog.Logger
	handlers map[string]Handler

	mu         sync.Mutex
	transports map[*frame.Transport]struct{}

	activeConnections sync.WaitGroup
}

// NewServer creates a server whose transports use codec (nil selects
// JSON). A nil logger uses slog.Default().
func NewServer(codec frame.Codec, logger *slog.Logger) *Server {
	if codec == nil {
		codec = frame.JSON
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		codec:      codec,
		logger:     logger,
		handlers:   make(map[string]Handler),
		transports: make(map[*frame.Transport]struct{}),
	}
}

// Handle registers handler under its method name. Registering two
// handlers for one name is a programming error and panics.
func (s *Server) Handle(handler Handler) {
	name := handler.Method()
	if _, exists := s.handlers[name]; exists {
		panic(fmt.Sprintf("rpc.Server: duplicate handler for method %q", name))
	}
	s.handlers[name] = handler
}

// ListenAndServe listens on the Unix socket at socketPath and serves
// until ctx is cancelled. A stale socket file at the path is replaced.
// The socket is readable and writable by the owner only, and is removed
// on return.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restricting socket %s: %w", socketPath, err)
	}

	s.logger.Info("rpc server listening", "path", socketPath, "codec", s.codec.Name())
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled. On
// cancellation it closes the listener, shuts down every open transport
// so that running channel sessions observe the end, and waits for all
// handlers to return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.shutdownTransports()
	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	if !s.authorizePeer(conn) {
		conn.Close()
		return
	}

	transport := frame.New(conn, s.codec)
	if !s.track(transport) {
		transport.Shutdown()
		return
	}
	defer func() {
		s.untrack(transport)
		transport.Shutdown()
	}()

	handshakeContext, cancel := context.WithTimeout(ctx, handshakeTimeout)
	var handshake request
	err := transport.ReadMessage(handshakeContext, &handshake)
	cancel()
	if err != nil {
		if errors.Is(err, frame.ErrTransportEnded) || netutil.IsExpectedCloseError(err) {
			s.logger.Debug("client left before handshake")
		} else {
			s.logger.Warn("reading handshake failed", "error", err)
		}
		return
	}

	handler, exists := s.handlers[handshake.Method]
	if !exists {
		message := fmt.Sprintf("unknown method %q", handshake.Method)
		if handshake.Method == "" {
			message = "missing method"
		}
		s.logger.Warn("rejected handshake", "method", handshake.Method, "reason", message)
		sendError(transport, message)
		transport.Close()
		s.awaitPeer(ctx, transport)
		return
	}

	if err := handler.Serve(ctx, handshake.Req, transport); err != nil {
		s.logger.Debug("handler failed", "method", handshake.Method, "error", err)
	}
	transport.Close()
	s.awaitPeer(ctx, transport)
}

// awaitPeer holds a half-closed transport until the peer finishes
// reading, so the reply is never cut off by a full close.
func (s *Server) awaitPeer(ctx context.Context, transport *frame.Transport) {
	select {
	case <-transport.Done():
	case <-ctx.Done():
	}
}

// track records transport for shutdown. It reports false once shutdown
// has begun.
func (s *Server) track(transport *frame.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transports == nil {
		return false
	}
	s.transports[transport] = struct{}{}
	return true
}

func (s *Server) untrack(transport *frame.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transports, transport)
}

func (s *Server) shutdownTransports() {
	s.mu.Lock()
	transports := s.transports
	s.transports = nil
	s.mu.Unlock()

	for transport := range transports {
		transport.Shutdown()
	}
}

// authorizePeer admits only connections from processes running as the
// agent's own user. Platforms without peer credentials rely on the
// socket's file mode alone.
func (s *Server) authorizePeer(conn net.Conn) bool {
	uid, known, err := peerUID(conn)
	if err != nil {
		s.logger.Warn("reading peer credentials failed", "error", err)
		return false
	}
	if known && uid != uint32(os.Getuid()) {
		s.logger.Warn("rejected connection from another user", "peer_uid", uid)
		return false
	}
	return true
}
