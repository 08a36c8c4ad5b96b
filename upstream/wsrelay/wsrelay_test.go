// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsrelay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/jmsh/lib/testutil"
	"github.com/bureau-foundation/jmsh/upstream"
)

// fakeRelay accepts WebSocket sessions on /ssh and hands each accepted
// connection to the test.
type fakeRelay struct {
	server   *httptest.Server
	accepted chan *websocket.Conn
	cookies  chan string
	// refuse makes the relay answer upgrades with 403.
	refuse atomic.Bool
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	relay := &fakeRelay{
		accepted: make(chan *websocket.Conn, 4),
		cookies:  make(chan string, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ssh" {
			http.NotFound(w, r)
			return
		}
		if relay.refuse.Load() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		relay.cookies <- r.Header.Get("Cookie")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		relay.accepted <- conn
	}))
	t.Cleanup(relay.server.Close)
	return relay
}

func (r *fakeRelay) send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	message, _ := json.Marshal(envelope{Event: event, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func testDialer() *Dialer {
	return &Dialer{RedialDelay: time.Millisecond, Logger: slog.New(slog.DiscardHandler)}
}

func TestSessionURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "http://jump.example", want: "ws://jump.example/ssh"},
		{endpoint: "https://jump.example/", want: "wss://jump.example/ssh"},
		{endpoint: "https://jump.example/base?x=1", want: "wss://jump.example/base/ssh"},
		{endpoint: "ftp://jump.example", wantErr: true},
	}
	for _, test := range tests {
		got, err := SessionURL(test.endpoint)
		if test.wantErr {
			if err == nil {
				t.Errorf("SessionURL(%q) = %q, want error", test.endpoint, got)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("SessionURL(%q) = %q, %v; want %q", test.endpoint, got, err, test.want)
		}
	}
}

func TestEventsInBothDirections(t *testing.T) {
	t.Parallel()
	relay := newFakeRelay(t)

	session, err := testDialer().Dial(t.Context(), relay.server.URL, upstream.Credentials{SessionID: "sid", CSRFToken: "tok"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	if cookie := testutil.RequireReceive(t, relay.cookies, 5*time.Second, "cookie"); cookie != "csrftoken=tok; sessionid=sid" {
		t.Errorf("Cookie = %q", cookie)
	}
	conn := testutil.RequireReceive(t, relay.accepted, 5*time.Second, "accepted")
	defer conn.Close()

	rooms := make(chan upstream.RoomAssigned, 1)
	session.On(upstream.EventRoom, func(payload json.RawMessage) {
		var assigned upstream.RoomAssigned
		if err := json.Unmarshal(payload, &assigned); err != nil {
			t.Errorf("decoding room: %v", err)
		}
		rooms <- assigned
	})

	request := upstream.HostRequest{TargetID: "asset-1", LoginIdentity: "user-1", Secret: "s1", Size: [2]int{80, 24}}
	if err := session.Emit(upstream.EventHost, request); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("relay ReadMessage: %v", err)
	}
	var received struct {
		Event string `json:"event"`
		Data  struct {
			UUID   string `json:"uuid"`
			UserID string `json:"userid"`
			Secret string `json:"secret"`
			Size   []int  `json:"size"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &received); err != nil {
		t.Fatalf("decoding emitted event: %v", err)
	}
	if received.Event != "host" || received.Data.UUID != "asset-1" || received.Data.UserID != "user-1" ||
		received.Data.Secret != "s1" || len(received.Data.Size) != 2 || received.Data.Size[0] != 80 {
		t.Errorf("relay received %s", data)
	}

	relay.send(t, conn, upstream.EventRoom, upstream.RoomAssigned{Secret: "s1", Room: "room-9"})
	if assigned := testutil.RequireReceive(t, rooms, 5*time.Second, "room event"); assigned.Room != "room-9" {
		t.Errorf("Room = %q, want room-9", assigned.Room)
	}
}

func TestDropWithFailedRedialReportsFailure(t *testing.T) {
	t.Parallel()
	relay := newFakeRelay(t)

	session, err := testDialer().Dial(t.Context(), relay.server.URL, upstream.Credentials{SessionID: "sid"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()
	failures := make(chan error, 2)
	session.OnFailure(func(err error) { failures <- err })

	conn := testutil.RequireReceive(t, relay.accepted, 5*time.Second, "accepted")
	relay.refuse.Store(true)
	conn.Close()

	if err := testutil.RequireReceive(t, failures, 5*time.Second, "failure"); err == nil {
		t.Fatal("failure handler received nil")
	}
	if err := session.Emit(upstream.EventLogout, upstream.RoomLogout{Room: "r"}); err == nil {
		t.Error("Emit succeeded on a failed session")
	}
	testutil.RequireClosed(t, session.(*Session).Done(), 5*time.Second, "read goroutine exited")
	select {
	case extra := <-failures:
		t.Errorf("failure handler fired twice: %v", extra)
	default:
	}
}

func TestDropWithSuccessfulRedialContinues(t *testing.T) {
	t.Parallel()
	relay := newFakeRelay(t)

	session, err := testDialer().Dial(t.Context(), relay.server.URL, upstream.Credentials{SessionID: "sid"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()
	session.OnFailure(func(err error) { t.Errorf("unexpected failure: %v", err) })
	outputs := make(chan upstream.RoomData, 1)
	session.On(upstream.EventData, func(payload json.RawMessage) {
		var data upstream.RoomData
		json.Unmarshal(payload, &data)
		outputs <- data
	})

	first := testutil.RequireReceive(t, relay.accepted, 5*time.Second, "first connection")
	first.Close()
	second := testutil.RequireReceive(t, relay.accepted, 5*time.Second, "redialed connection")
	defer second.Close()

	relay.send(t, second, upstream.EventData, upstream.RoomData{Room: "r1", Data: "$ "})
	if output := testutil.RequireReceive(t, outputs, 5*time.Second, "data after redial"); output.Data != "$ " {
		t.Errorf("Data = %q", output.Data)
	}
}

func TestDialRejected(t *testing.T) {
	t.Parallel()
	relay := newFakeRelay(t)
	relay.refuse.Store(true)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if _, err := testDialer().Dial(ctx, relay.server.URL, upstream.Credentials{}); err == nil {
		t.Fatal("Dial succeeded against a refusing relay")
	}
}

func TestCloseDoesNotReportFailure(t *testing.T) {
	t.Parallel()
	relay := newFakeRelay(t)

	session, err := testDialer().Dial(t.Context(), relay.server.URL, upstream.Credentials{SessionID: "sid"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	session.OnFailure(func(err error) { t.Errorf("failure after Close: %v", err) })
	conn := testutil.RequireReceive(t, relay.accepted, 5*time.Second, "accepted")
	defer conn.Close()

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, session.(*Session).Done(), 5*time.Second, "read goroutine exited")
	if err := session.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
