// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/jmsh/lib/mux"
	"github.com/bureau-foundation/jmsh/lib/rpc"
	"github.com/bureau-foundation/jmsh/upstream"
)

// roomRelay joins one room to one channel for the life of a
// connectAsset session.
type roomRelay struct {
	roomID  string
	mux     *mux.Mux
	session upstream.Session
	channel *rpc.Channel[OutputMessage, InputMessage]
	logger  *slog.Logger

	mu sync.Mutex
	// over is set once the session has ended; later events are dropped.
	over bool
	// remoteClosed is set when the relay logged the room out, so no
	// logout is sent back.
	remoteClosed bool
	// failed is set once the client has been told about a relay failure.
	failed bool
	ended  chan error
}

// run relays until the room or the channel ends. Output queued for the
// room since its assignment is sent first. The room's handlers are
// released on every exit path.
func (r *roomRelay) run(ctx context.Context) error {
	defer r.mux.Release(r.roomID)

	r.mux.OnData(r.roomID, r.output)
	r.mux.OnLogout(r.roomID, func() {
		r.mu.Lock()
		r.remoteClosed = true
		r.mu.Unlock()
		r.finish(nil)
	})
	r.mux.OnError(r.roomID, r.connectionFailed)

	r.channel.Start(rpc.ChannelHandlers[InputMessage]{
		Message: r.input,
		End:     func() { r.finish(nil) },
		Error:   r.finish,
	})
	if err := r.mux.Attach(r.roomID); err != nil {
		r.connectionFailed(err)
	}

	var err error
	select {
	case err = <-r.ended:
	case <-ctx.Done():
		err = ctx.Err()
	}

	r.mu.Lock()
	r.over = true
	sendLogout := !r.remoteClosed
	r.mu.Unlock()

	if sendLogout {
		if emitErr := r.session.Emit(upstream.EventLogout, upstream.RoomLogout{Room: r.roomID}); emitErr != nil {
			r.logger.Debug("sending logout failed", "error", emitErr)
		}
	}
	if err != nil {
		r.logger.Info("room ended", "error", err)
	} else {
		r.logger.Info("room ended")
	}
	return err
}

// finish records the first terminal condition.
func (r *roomRelay) finish(err error) {
	select {
	case r.ended <- err:
	default:
	}
}

func (r *roomRelay) isOver() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.over
}

func (r *roomRelay) output(data string) {
	if r.isOver() {
		return
	}
	if err := r.channel.Send(OutputMessage{Data: data}); err != nil {
		r.finish(err)
	}
}

// connectionFailed tells the client why its session is ending before
// the channel closes.
func (r *roomRelay) connectionFailed(err error) {
	r.mu.Lock()
	notify := !r.over && !r.failed
	r.failed = true
	r.remoteClosed = true
	r.mu.Unlock()
	if notify {
		r.channel.Send(OutputMessage{Error: err.Error()})
	}
	r.finish(err)
}

func (r *roomRelay) input(message InputMessage) {
	if r.isOver() {
		return
	}
	decoded, err := message.Decode()
	if err != nil {
		r.logger.Warn("dropping client input", "error", err)
		return
	}
	switch input := decoded.(type) {
	case DataInput:
		err = r.session.Emit(upstream.EventData, upstream.RoomData{Room: r.roomID, Data: input.Data})
	case ResizeInput:
		err = r.session.Emit(upstream.EventResize, upstream.RoomResize{Room: r.roomID, Cols: input.Cols, Rows: input.Rows})
	}
	if err != nil {
		r.logger.Warn("forwarding client input failed", "error", err)
	}
}
