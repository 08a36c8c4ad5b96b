// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/jmsh/lib/frame"
)

// CallFunc implements a request/reply method.
type CallFunc[Req, Rep any] func(ctx context.Context, request Req) (Rep, error)

// CallEndpoint describes a request/reply method. The zero value is not
// usable; create one with NewCallEndpoint.
type CallEndpoint[Req, Rep any] struct {
	name string
}

// NewCallEndpoint returns the descriptor for the request/reply method
// name.
func NewCallEndpoint[Req, Rep any](name string) CallEndpoint[Req, Rep] {
	return CallEndpoint[Req, Rep]{name: name}
}

// Name returns the method name sent in the handshake.
func (e CallEndpoint[Req, Rep]) Name() string { return e.name }

// Call opens a transport, sends request, and returns the decoded reply.
// The transport is released before Call returns.
func (e CallEndpoint[Req, Rep]) Call(ctx context.Context, client Client, request Req) (Rep, error) {
	var result Rep

	transport, err := client.OpenTransport(ctx)
	if err != nil {
		return result, err
	}
	defer transport.Shutdown()

	if err := sendRequest(transport, e.name, request); err != nil {
		return result, err
	}
	response, err := receiveReply(ctx, transport, e.name)
	if err != nil {
		return result, err
	}
	if err := decodeRaw(transport.Codec(), response.Rep, &result); err != nil {
		return result, fmt.Errorf("rpc: %s: decoding reply: %w", e.name, err)
	}
	return result, nil
}

// Handler binds fn to this endpoint for registration on a Server.
func (e CallEndpoint[Req, Rep]) Handler(fn CallFunc[Req, Rep]) Handler {
	return &callHandler[Req, Rep]{name: e.name, fn: fn}
}

type callHandler[Req, Rep any] struct {
	name string
	fn   CallFunc[Req, Rep]
}

func (h *callHandler[Req, Rep]) Method() string { return h.name }

// Serve writes exactly one reply and then half-closes the transport.
func (h *callHandler[Req, Rep]) Serve(ctx context.Context, raw frame.Raw, transport *frame.Transport) error {
	defer transport.Close()

	codec := transport.Codec()
	var request Req
	if err := decodeRaw(codec, raw, &request); err != nil {
		message := fmt.Sprintf("invalid request: %v", err)
		sendError(transport, message)
		return fmt.Errorf("%s: %s", h.name, message)
	}

	var result Rep
	err := recoverPanic(func() error {
		var callErr error
		result, callErr = h.fn(ctx, request)
		return callErr
	})
	if err != nil {
		sendError(transport, err.Error())
		return fmt.Errorf("%s: %w", h.name, err)
	}

	encoded, err := encodeRaw(codec, result)
	if err != nil {
		message := fmt.Sprintf("internal: encoding reply: %v", err)
		sendError(transport, message)
		return fmt.Errorf("%s: %s", h.name, message)
	}
	if err := transport.PostMessage(reply{Rep: encoded}); err != nil {
		return fmt.Errorf("%s: writing reply: %w", h.name, err)
	}
	return nil
}

// recoverPanic runs fn and turns a panic into an error, so one broken
// handler cannot take down the agent.
func recoverPanic(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("internal: handler panic: %v", recovered)
		}
	}()
	return fn()
}
