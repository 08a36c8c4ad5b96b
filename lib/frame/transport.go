// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bureau-foundation/jmsh/lib/netutil"
)

// headerLength is the size of the big-endian payload length prefix.
const headerLength = 4

// MaxFrameLength bounds a single payload. Terminal traffic and asset
// listings are orders of magnitude smaller; anything larger is treated
// as a corrupt stream rather than an allocation request.
const MaxFrameLength = 16 * 1024 * 1024

// readChunkSize is the buffer handed to each Read on the stream.
const readChunkSize = 32 * 1024

var (
	// ErrTransportEnded reports that the peer finished writing. It is the
	// graceful counterpart of a stream error: every frame the peer sent
	// has already been delivered.
	ErrTransportEnded = errors.New("frame: transport ended")

	// ErrMalformedFrame reports a payload the codec could not decode.
	// The transport is unusable afterwards.
	ErrMalformedFrame = errors.New("frame: malformed frame")

	// ErrFrameTooLarge reports a length prefix or outgoing message over
	// MaxFrameLength.
	ErrFrameTooLarge = errors.New("frame: frame too large")

	// ErrClosed is returned by PostMessage after Close or Shutdown.
	ErrClosed = errors.New("frame: transport closed for writing")
)

// Transport is a framed, duplex message channel over one byte stream.
// All methods are safe for concurrent use.
type Transport struct {
	conn  io.ReadWriteCloser
	codec Codec

	// writeMu serializes frame writes so each frame reaches the stream
	// as one contiguous Write.
	writeMu sync.Mutex

	mu sync.Mutex
	// buffer holds bytes of a frame whose payload has not fully arrived.
	buffer []byte
	// ready holds complete payloads that no reader has claimed yet.
	ready [][]byte
	// waiters are readers suspended in ReadMessage, oldest first.
	waiters []*pendingRead
	// failure is the terminal condition; nil while the stream is live.
	failure     error
	readDone    bool
	writeClosed bool
	connClosed  bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// pendingRead is one suspended ReadMessage call. result has capacity 1
// so delivery never blocks the read loop.
type pendingRead struct {
	result chan readResult
}

type readResult struct {
	payload []byte
	err     error
}

// New wraps conn and starts reading from it. A nil codec selects JSON.
// The Transport owns conn from this point; release it with Close (once
// the peer also finishes) or Shutdown.
func New(conn io.ReadWriteCloser, codec Codec) *Transport {
	if codec == nil {
		codec = JSON
	}
	transport := &Transport{
		conn:  conn,
		codec: codec,
		done:  make(chan struct{}),
	}
	go transport.readLoop()
	return transport
}

// Codec returns the payload codec, for decoding Raw values carried in
// messages read from this transport.
func (t *Transport) Codec() Codec {
	return t.codec
}

// Done is closed when the read side has terminated for any reason.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// PostMessage serializes message and writes it as one length-prefixed
// frame.
func (t *Transport) PostMessage(message any) error {
	payload, err := t.codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("frame: encoding message: %w", err)
	}
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(payload), MaxFrameLength)
	}

	frame := make([]byte, headerLength+len(payload))
	binary.BigEndian.PutUint32(frame[:headerLength], uint32(len(payload)))
	copy(frame[headerLength:], payload)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	closed := t.writeClosed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("frame: write: %w", err)
	}
	return nil
}

// ReadMessage suspends until the next frame is available and decodes it
// into message. Concurrent callers are served in the order they started
// waiting.
//
// If ctx is cancelled while waiting, the call is withdrawn from the
// queue and returns ctx.Err(); a frame that was handed to it in the
// meantime goes back to the head of the queue for the next reader.
func (t *Transport) ReadMessage(ctx context.Context, message any) error {
	payload, err := t.next(ctx)
	if err != nil {
		return err
	}
	if err := t.codec.Unmarshal(payload, message); err != nil {
		malformed := fmt.Errorf("%w: %s payload of %d bytes: %v", ErrMalformedFrame, t.codec.Name(), len(payload), err)
		t.fail(malformed)
		t.Shutdown()
		return malformed
	}
	return nil
}

func (t *Transport) next(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if len(t.ready) > 0 {
		payload := t.ready[0]
		t.ready[0] = nil
		t.ready = t.ready[1:]
		t.mu.Unlock()
		return payload, nil
	}
	if t.failure != nil {
		failure := t.failure
		t.mu.Unlock()
		return nil, failure
	}
	waiter := &pendingRead{result: make(chan readResult, 1)}
	t.waiters = append(t.waiters, waiter)
	t.mu.Unlock()

	select {
	case result := <-waiter.result:
		return result.payload, result.err
	case <-ctx.Done():
	}

	t.mu.Lock()
	if t.removeWaiterLocked(waiter) {
		t.mu.Unlock()
		return nil, ctx.Err()
	}
	t.mu.Unlock()

	// Delivery won the race with cancellation. Put the frame back so
	// it reaches the next reader instead of being lost.
	result := <-waiter.result
	if result.err == nil {
		t.mu.Lock()
		t.ready = append([][]byte{result.payload}, t.ready...)
		t.mu.Unlock()
	}
	return nil, ctx.Err()
}

func (t *Transport) removeWaiterLocked(waiter *pendingRead) bool {
	for index, candidate := range t.waiters {
		if candidate == waiter {
			t.waiters = append(t.waiters[:index], t.waiters[index+1:]...)
			return true
		}
	}
	return false
}

// pendingReaders reports how many ReadMessage calls are suspended.
func (t *Transport) pendingReaders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// Close half-closes the stream: no further frames are written, and the
// peer reads ErrTransportEnded after the frames already sent. Frames
// from the peer can still be read. Streams without a write-side
// shutdown are closed outright.
func (t *Transport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if t.writeClosed {
		t.mu.Unlock()
		return nil
	}
	t.writeClosed = true
	readDone := t.readDone
	t.mu.Unlock()

	if readDone {
		return t.closeConn()
	}
	if halfCloser, ok := t.conn.(interface{ CloseWrite() error }); ok {
		if err := halfCloser.CloseWrite(); err == nil {
			return nil
		}
	}
	return t.closeConn()
}

// Shutdown closes both directions immediately. Suspended readers
// observe ErrTransportEnded unless a failure was already recorded.
func (t *Transport) Shutdown() error {
	t.mu.Lock()
	t.writeClosed = true
	t.mu.Unlock()
	return t.closeConn()
}

func (t *Transport) closeConn() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.connClosed = true
		t.mu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *Transport) readLoop() {
	defer close(t.done)

	chunk := make([]byte, readChunkSize)
	for {
		count, err := t.conn.Read(chunk)
		if count > 0 {
			if feedErr := t.feed(chunk[:count]); feedErr != nil {
				t.fail(feedErr)
				t.finishRead()
				t.closeConn()
				return
			}
		}
		if err != nil {
			t.fail(t.classifyReadError(err))
			t.finishRead()
			return
		}
	}
}

// classifyReadError separates the peer finishing (or this side closing
// the connection) from a genuine stream fault.
func (t *Transport) classifyReadError(err error) error {
	t.mu.Lock()
	closedLocally := t.connClosed
	t.mu.Unlock()
	if closedLocally || netutil.IsExpectedCloseError(err) || errors.Is(err, io.ErrClosedPipe) {
		return ErrTransportEnded
	}
	return fmt.Errorf("frame: read: %w", err)
}

// finishRead records that reading is over and releases the connection
// if the write side was already closed.
func (t *Transport) finishRead() {
	t.mu.Lock()
	t.readDone = true
	writeClosed := t.writeClosed
	t.mu.Unlock()
	if writeClosed {
		t.closeConn()
	}
}

// feed appends a chunk from the stream and delivers every frame that is
// now complete.
func (t *Transport) feed(chunk []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A reader already declared the stream broken.
	if t.failure != nil {
		return nil
	}
	t.buffer = append(t.buffer, chunk...)
	for len(t.buffer) >= headerLength {
		length := binary.BigEndian.Uint32(t.buffer[:headerLength])
		if length > MaxFrameLength {
			return fmt.Errorf("%w: length prefix %d exceeds %d", ErrFrameTooLarge, length, MaxFrameLength)
		}
		total := headerLength + int(length)
		if len(t.buffer) < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, t.buffer[headerLength:total])
		t.buffer = t.buffer[total:]
		t.deliverLocked(payload)
	}
	if len(t.buffer) == 0 {
		t.buffer = nil
	}
	return nil
}

func (t *Transport) deliverLocked(payload []byte) {
	if len(t.waiters) > 0 {
		waiter := t.waiters[0]
		t.waiters[0] = nil
		t.waiters = t.waiters[1:]
		waiter.result <- readResult{payload: payload}
		return
	}
	t.ready = append(t.ready, payload)
}

// fail records the terminal condition and wakes every waiting reader
// with it. Only the first condition is kept. Queued frames survive a
// graceful end so they can still be read; any other failure discards
// them.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failure != nil {
		return
	}
	t.failure = err
	if !errors.Is(err, ErrTransportEnded) {
		t.ready = nil
	}
	for _, waiter := range t.waiters {
		waiter.result <- readResult{err: err}
	}
	t.waiters = nil
}
