// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/jmsh/lib/mux"
	"github.com/bureau-foundation/jmsh/lib/rpc"
	"github.com/bureau-foundation/jmsh/lib/secret"
	"github.com/bureau-foundation/jmsh/upstream"
)

// DefaultFetchTimeout bounds one asset listing request.
const DefaultFetchTimeout = 30 * time.Second

// Config configures a Service.
type Config struct {
	// Dialer opens relay sessions. Required.
	Dialer upstream.Dialer

	// Assets lists assets. Nil uses an HTTPAssetFetcher with the
	// default client.
	Assets AssetFetcher

	// FetchTimeout bounds one asset listing. Zero means
	// DefaultFetchTimeout.
	FetchTimeout time.Duration

	Logger *slog.Logger
}

// Service implements the agent's methods over a Registry.
type Service struct {
	dialer       upstream.Dialer
	assets       AssetFetcher
	fetchTimeout time.Duration
	logger       *slog.Logger
	registry     *Registry
}

// NewService creates a service with an empty registry.
func NewService(config Config) *Service {
	if config.Dialer == nil {
		panic("agent.NewService: Config.Dialer is required")
	}
	if config.Assets == nil {
		config.Assets = &HTTPAssetFetcher{}
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{
		dialer:       config.Dialer,
		assets:       config.Assets,
		fetchTimeout: config.FetchTimeout,
		logger:       config.Logger,
		registry:     NewRegistry(),
	}
}

// Registry returns the service's connection table.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Register adds the four agent methods to server.
func (s *Service) Register(server *rpc.Server) {
	server.Handle(CheckConnection.Handler(wired(s.CheckConnection)))
	server.Handle(CreateConnection.Handler(wired(s.CreateConnection)))
	server.Handle(GetAssets.Handler(wired(s.GetAssets)))
	server.Handle(ConnectAsset.Handler(func(ctx context.Context, request ConnectAssetRequest) (rpc.ChannelFunc[OutputMessage, InputMessage], error) {
		session, err := s.ConnectAsset(ctx, request)
		if err != nil {
			return nil, wireError(err)
		}
		return session, nil
	}))
}

func wired[Req, Rep any](fn rpc.CallFunc[Req, Rep]) rpc.CallFunc[Req, Rep] {
	return func(ctx context.Context, request Req) (Rep, error) {
		reply, err := fn(ctx, request)
		if err != nil {
			return reply, wireError(err)
		}
		return reply, nil
	}
}

// Close tears down every connection. Open rooms fail with mux.ErrClosed.
func (s *Service) Close() {
	for _, connection := range s.registry.Drain() {
		s.logger.Info("closing connection", "key", connection.Key.String())
		connection.close(mux.ErrClosed)
	}
}

// CheckConnection reports whether a session is stored for the key. It
// performs no I/O.
func (s *Service) CheckConnection(ctx context.Context, request CheckConnectionRequest) (bool, error) {
	_, exists := s.registry.Get(request.Key())
	return exists, nil
}

// CreateConnection dials the relay with the request's credentials and
// stores the session. An existing session for the same key is replaced
// only after the new one is established; its rooms then fail with
// mux.ErrConnectionReplaced.
func (s *Service) CreateConnection(ctx context.Context, request CreateConnectionRequest) (struct{}, error) {
	key := request.Key()
	if key.Endpoint == "" || key.Identity == "" {
		return struct{}{}, errors.New("endpoint and identity are required")
	}
	if request.SessionID == "" || request.CSRFToken == "" {
		return struct{}{}, errors.New("sessionId and csrfToken are required")
	}

	sessionID, err := secret.FromString(request.SessionID)
	if err != nil {
		return struct{}{}, err
	}
	csrfToken, err := secret.FromString(request.CSRFToken)
	if err != nil {
		sessionID.Close()
		return struct{}{}, err
	}
	logger := s.logger.With("key", key.String(), "session", sessionID.Fingerprint())

	session, err := s.dialer.Dial(ctx, key.Endpoint, upstream.Credentials{
		SessionID: request.SessionID,
		CSRFToken: request.CSRFToken,
	})
	if err != nil {
		sessionID.Close()
		csrfToken.Close()
		logger.Warn("relay handshake failed", "error", err)
		return struct{}{}, fmt.Errorf("connecting to relay: %w", err)
	}

	roomMux := mux.New(session, logger)
	connection := newConnection(key, session, roomMux, sessionID, csrfToken)
	roomMux.OnFailure(func(err error) {
		if s.registry.Remove(connection) {
			logger.Warn("evicting connection after relay failure", "error", err)
		}
		connection.close(err)
	})

	if previous := s.registry.Put(connection); previous != nil {
		logger.Info("replacing existing connection", "rooms", previous.Mux.Rooms())
		previous.close(mux.ErrConnectionReplaced)
	}
	// A failure between dialing and Put found nothing to remove.
	if err := roomMux.Err(); err != nil && s.registry.Remove(connection) {
		return struct{}{}, fmt.Errorf("relay connection lost during setup: %w", err)
	}

	logger.Info("connection created")
	return struct{}{}, nil
}

// GetAssets returns the session's SSH assets. With FromCache set, a
// non-empty cached list is returned without I/O. A rejected session is
// evicted and reported as ErrUnauthenticated.
func (s *Service) GetAssets(ctx context.Context, request GetAssetsRequest) ([]Asset, error) {
	connection, ok := s.registry.Get(request.Key())
	if !ok {
		return nil, ErrNoConnection
	}
	if request.FromCache {
		if cached := connection.CachedAssets(); len(cached) > 0 {
			return cached, nil
		}
	}

	sessionID, err := connection.SessionID()
	if err != nil {
		return nil, err
	}
	fetchContext, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	assets, err := s.assets.FetchAssets(fetchContext, request.Endpoint, sessionID)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			if s.registry.Remove(connection) {
				s.logger.Warn("evicting connection rejected by bastion",
					"key", connection.Key.String(), "session", connection.Fingerprint())
			}
			connection.close(ErrUnauthenticated)
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	connection.setAssets(assets)
	s.logger.Debug("fetched assets", "key", connection.Key.String(), "count", len(assets))
	return assets, nil
}

// ConnectAsset opens a room on the request's target and returns the
// session function that relays it over the channel.
func (s *Service) ConnectAsset(ctx context.Context, request ConnectAssetRequest) (rpc.ChannelFunc[OutputMessage, InputMessage], error) {
	connection, ok := s.registry.Get(request.Key())
	if !ok {
		return nil, ErrNoConnection
	}
	if request.TargetID == "" || request.LoginIdentity == "" {
		return nil, errors.New("targetId and loginIdentity are required")
	}
	if request.Cols <= 0 || request.Rows <= 0 {
		return nil, fmt.Errorf("terminal size %dx%d: dimensions must be positive", request.Cols, request.Rows)
	}

	roomID, err := connection.Mux.CreateRoom(ctx, request.TargetID, request.LoginIdentity, request.Cols, request.Rows)
	if err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}
	logger := s.logger.With("key", connection.Key.String(), "room", roomID, "target", request.TargetID)
	logger.Info("room created")

	return func(ctx context.Context, channel *rpc.Channel[OutputMessage, InputMessage]) error {
		relay := &roomRelay{
			roomID:  roomID,
			mux:     connection.Mux,
			session: connection.Session,
			channel: channel,
			logger:  logger,
			ended:   make(chan error, 1),
		}
		return relay.run(ctx)
	}, nil
}
