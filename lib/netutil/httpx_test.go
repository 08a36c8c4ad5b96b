// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write([]byte(data)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buffer.Bytes()
}

func TestReadResponse(t *testing.T) {
	t.Run("plain body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader([]byte(`{"status":"ok"}`)), "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"status":"ok"}` {
			t.Fatalf("got %q, want %q", data, `{"status":"ok"}`)
		}
	})

	t.Run("gzip body", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader(gzipped(t, `[1,2,3]`)), "gzip")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `[1,2,3]` {
			t.Fatalf("got %q, want %q", data, `[1,2,3]`)
		}
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		if _, err := ReadResponse(bytes.NewReader([]byte("plainly not gzip")), "gzip"); err == nil {
			t.Fatal("expected error for corrupt gzip body")
		}
	})

	t.Run("unsupported encoding", func(t *testing.T) {
		if _, err := ReadResponse(bytes.NewReader(nil), "br"); err == nil {
			t.Fatal("expected error for brotli body")
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(&failReader{}, ""); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestDecodeResponse(t *testing.T) {
	t.Run("gzip JSON", func(t *testing.T) {
		body := bytes.NewReader(gzipped(t, `{"name":"web","count":42}`))
		var result struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		if err := DecodeResponse(body, "GZIP", &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Name != "web" || result.Count != 42 {
			t.Fatalf("got %+v, want {web 42}", result)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if err := DecodeResponse(bytes.NewReader([]byte(`not json`)), "", &struct{}{}); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestErrorBody(t *testing.T) {
	got := ErrorBody(bytes.NewReader([]byte("{\"detail\":\"CSRF Failed\"}\n")), "")
	if got != `{"detail":"CSRF Failed"}` {
		t.Fatalf("got %q", got)
	}
	if got := ErrorBody(&failReader{}, ""); got != "" {
		t.Fatalf("failing reader: got %q, want empty", got)
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("reading: %w", io.EOF), true},
		{"closed", net.ErrClosed, true},
		{"reset", syscall.ECONNRESET, true},
		{"broken pipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{"refused", syscall.ECONNREFUSED, false},
		{"other", fmt.Errorf("boom"), false},
	}
	for _, test := range tests {
		if got := IsExpectedCloseError(test.err); got != test.want {
			t.Errorf("%s: IsExpectedCloseError = %v, want %v", test.name, got, test.want)
		}
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read failure")
}
