// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/jmsh/lib/frame"
)

// ErrNoReply reports that the server ended the connection without
// writing a reply.
var ErrNoReply = errors.New("rpc: connection ended without a reply")

// RemoteError is a failure reported by the server's handler. Message is
// the handler's error text as it crossed the wire.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Method, e.Message)
}

// request is the handshake message: the method name and its encoded
// argument.
type request struct {
	Method string    `json:"method"`
	Req    frame.Raw `json:"req,omitempty"`
}

// reply answers a handshake. Exactly one of Rep and Error is meaningful;
// a channel handshake reply carries neither.
type reply struct {
	Rep   frame.Raw `json:"rep,omitempty"`
	Error string    `json:"error,omitempty"`
}

func encodeRaw(codec frame.Codec, value any) (frame.Raw, error) {
	data, err := codec.Marshal(value)
	if err != nil {
		return nil, err
	}
	return frame.Raw(data), nil
}

// decodeRaw decodes raw into target. An absent value leaves target at
// its zero value.
func decodeRaw(codec frame.Codec, raw frame.Raw, target any) error {
	if len(raw) == 0 {
		return nil
	}
	return codec.Unmarshal(raw, target)
}

// sendRequest writes the handshake for method.
func sendRequest(transport *frame.Transport, method string, argument any) error {
	encoded, err := encodeRaw(transport.Codec(), argument)
	if err != nil {
		return fmt.Errorf("rpc: %s: encoding request: %w", method, err)
	}
	if err := transport.PostMessage(request{Method: method, Req: encoded}); err != nil {
		return fmt.Errorf("rpc: %s: sending request: %w", method, err)
	}
	return nil
}

// receiveReply reads the server's reply to the handshake and converts
// an {error} reply into a *RemoteError.
func receiveReply(ctx context.Context, transport *frame.Transport, method string) (reply, error) {
	var response reply
	if err := transport.ReadMessage(ctx, &response); err != nil {
		if errors.Is(err, frame.ErrTransportEnded) {
			return reply{}, fmt.Errorf("rpc: %s: %w", method, ErrNoReply)
		}
		return reply{}, fmt.Errorf("rpc: %s: reading reply: %w", method, err)
	}
	if response.Error != "" {
		return reply{}, &RemoteError{Method: method, Message: response.Error}
	}
	return response, nil
}

// sendError writes an {error} reply. An empty message would read as
// success on the other side, so it is replaced.
func sendError(transport *frame.Transport, message string) error {
	if message == "" {
		message = "handler failed"
	}
	return transport.PostMessage(reply{Error: message})
}
