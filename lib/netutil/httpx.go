// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network and HTTP I/O utilities for jmsh.
//
// HTTP response helpers (ReadResponse, DecodeResponse, ErrorBody) bound
// all response body reads at MaxResponseSize. The bastion's asset
// listing is the largest JSON document the agent reads; it arrives
// gzip-compressed when the server honors Accept-Encoding, so the helpers
// take the response's Content-Encoding and decompress transparently.
//
// Connection error helpers (IsExpectedCloseError) classify errors that
// occur when a peer disconnects.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MaxResponseSize bounds decoded response bodies: 64 MB. An account
// with tens of thousands of granted assets produces a few megabytes of
// JSON; the limit only exists to stop a misbehaving server from
// exhausting memory.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes after
// undoing contentEncoding. The empty string and "identity" mean the
// body is uncompressed; "gzip" is the only compression supported.
func ReadResponse(body io.Reader, contentEncoding string) ([]byte, error) {
	reader, closeReader, err := decodedReader(body, contentEncoding)
	if err != nil {
		return nil, err
	}
	defer closeReader()
	return io.ReadAll(io.LimitReader(reader, MaxResponseSize))
}

// DecodeResponse reads a response body as ReadResponse does and
// JSON-decodes it into v.
func DecodeResponse(body io.Reader, contentEncoding string, v any) error {
	data, err := ReadResponse(body, contentEncoding)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body and returns it as a
// string for diagnostic error messages. Read and decompression errors
// are ignored: a partial or empty body is still useful in an error.
func ErrorBody(body io.Reader, contentEncoding string) string {
	data, _ := ReadResponse(body, contentEncoding)
	return strings.TrimSpace(string(data))
}

func decodedReader(body io.Reader, contentEncoding string) (io.Reader, func(), error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, func() {}, nil
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip body: %w", err)
		}
		return reader, func() { reader.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}
