// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/jmsh/lib/frame"
)

// ChannelHandlers receive a channel's inbound traffic. Message is called
// for every message in arrival order, then exactly one of End (the peer
// closed) or Error (anything else). Nil fields are skipped. All calls
// come from the channel's single pump goroutine.
type ChannelHandlers[R any] struct {
	Message func(message R)
	End     func()
	Error   func(err error)
}

// Channel is one side of an established bidirectional stream. It sends
// S and receives R. The client side of a ChannelEndpoint[Req, In, Out]
// is a Channel[In, Out]; the server side is a Channel[Out, In].
type Channel[S, R any] struct {
	transport *frame.Transport

	startOnce sync.Once
	done      chan struct{}
	err       error
	// broken, when set, is delivered to Error at Start instead of
	// reading the transport.
	broken error
}

func newChannel[S, R any](transport *frame.Transport) *Channel[S, R] {
	return &Channel[S, R]{transport: transport, done: make(chan struct{})}
}

// Send writes one message to the peer.
func (c *Channel[S, R]) Send(message S) error {
	return c.transport.PostMessage(message)
}

// Start launches the pump that feeds inbound messages to handlers. It
// panics if called twice: a transport has exactly one reader.
func (c *Channel[S, R]) Start(handlers ChannelHandlers[R]) {
	launched := false
	c.startOnce.Do(func() {
		launched = true
		go c.pump(handlers)
	})
	if !launched {
		panic("rpc: Channel.Start called twice")
	}
}

func (c *Channel[S, R]) pump(handlers ChannelHandlers[R]) {
	defer close(c.done)
	if c.broken != nil {
		c.err = c.broken
		if handlers.Error != nil {
			handlers.Error(c.broken)
		}
		return
	}
	for {
		var message R
		err := c.transport.ReadMessage(context.Background(), &message)
		if err == nil {
			if handlers.Message != nil {
				handlers.Message(message)
			}
			continue
		}
		if errors.Is(err, frame.ErrTransportEnded) {
			if handlers.End != nil {
				handlers.End()
			}
			return
		}
		c.err = err
		if handlers.Error != nil {
			handlers.Error(err)
		}
		return
	}
}

// Done is closed after the pump has delivered its terminal event.
func (c *Channel[S, R]) Done() <-chan struct{} {
	return c.done
}

// Err returns the error delivered to Error, or nil after a graceful
// end. Only meaningful once Done is closed.
func (c *Channel[S, R]) Err() error {
	<-c.done
	return c.err
}

// Close stops sending. The peer sees the channel end; messages it has
// already sent are still delivered here.
func (c *Channel[S, R]) Close() error {
	return c.transport.Close()
}

// Shutdown closes both directions. The pump, if running, ends with End.
func (c *Channel[S, R]) Shutdown() error {
	return c.transport.Shutdown()
}

// ChannelFunc runs the server side of one channel session. The session
// lasts until the function returns.
type ChannelFunc[S, R any] func(ctx context.Context, channel *Channel[S, R]) error

// ChannelOpenFunc validates a channel request and returns the function
// that will run the session. An error rejects the channel before the
// handshake completes. ctx is cancelled if the client goes away while
// open is still running.
//
// A returned session function is always run, so it can release what
// open acquired. If the handshake could not be written, its channel
// reports the write error to Error at Start.
type ChannelOpenFunc[Req, In, Out any] func(ctx context.Context, request Req) (ChannelFunc[Out, In], error)

// ChannelEndpoint describes a streaming method: the client sends Req,
// then streams In to the server and receives Out.
type ChannelEndpoint[Req, In, Out any] struct {
	name string
}

// NewChannelEndpoint returns the descriptor for the streaming method
// name.
func NewChannelEndpoint[Req, In, Out any](name string) ChannelEndpoint[Req, In, Out] {
	return ChannelEndpoint[Req, In, Out]{name: name}
}

// Name returns the method name sent in the handshake.
func (e ChannelEndpoint[Req, In, Out]) Name() string { return e.name }

// Call opens a transport, sends request, and waits for the handshake.
// On success the caller owns the returned channel and must eventually
// Close or Shutdown it.
func (e ChannelEndpoint[Req, In, Out]) Call(ctx context.Context, client Client, request Req) (*Channel[In, Out], error) {
	transport, err := client.OpenTransport(ctx)
	if err != nil {
		return nil, err
	}
	if err := sendRequest(transport, e.name, request); err != nil {
		transport.Shutdown()
		return nil, err
	}
	if _, err := receiveReply(ctx, transport, e.name); err != nil {
		transport.Shutdown()
		return nil, err
	}
	return newChannel[In, Out](transport), nil
}

// Handler binds open to this endpoint for registration on a Server.
func (e ChannelEndpoint[Req, In, Out]) Handler(open ChannelOpenFunc[Req, In, Out]) Handler {
	return &channelHandler[Req, In, Out]{name: e.name, open: open}
}

type channelHandler[Req, In, Out any] struct {
	name string
	open ChannelOpenFunc[Req, In, Out]
}

func (h *channelHandler[Req, In, Out]) Method() string { return h.name }

// Serve completes the handshake and runs the session. The transport is
// closed when the session function returns, however it returns.
func (h *channelHandler[Req, In, Out]) Serve(ctx context.Context, raw frame.Raw, transport *frame.Transport) error {
	defer transport.Close()

	var request Req
	if err := decodeRaw(transport.Codec(), raw, &request); err != nil {
		message := fmt.Sprintf("invalid request: %v", err)
		sendError(transport, message)
		return fmt.Errorf("%s: %s", h.name, message)
	}

	openContext, cancelOpen := context.WithCancel(ctx)
	opened := make(chan struct{})
	go func() {
		select {
		case <-transport.Done():
			cancelOpen()
		case <-opened:
		}
	}()
	var session ChannelFunc[Out, In]
	err := recoverPanic(func() error {
		var openErr error
		session, openErr = h.open(openContext, request)
		return openErr
	})
	close(opened)
	cancelOpen()
	if err == nil && session == nil {
		err = errors.New("internal: no session function")
	}
	if err != nil {
		sendError(transport, err.Error())
		return fmt.Errorf("%s: %w", h.name, err)
	}

	channel := newChannel[Out, In](transport)
	var handshakeErr error
	if err := transport.PostMessage(reply{}); err != nil {
		handshakeErr = fmt.Errorf("writing handshake: %w", err)
		channel.broken = handshakeErr
		transport.Shutdown()
	}

	if err := recoverPanic(func() error { return session(ctx, channel) }); err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	if handshakeErr != nil {
		return fmt.Errorf("%s: %w", h.name, handshakeErr)
	}
	return nil
}
