// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for jmsh.
//
// The local agent protocol is JSON by contract: short-lived clients
// written against the published method set speak length-prefixed JSON.
// An agent and client built from this module can instead agree on CBOR
// (both sides started with --codec cbor), which avoids re-encoding
// terminal output as escaped JSON strings. The frame package selects
// between the two; this package only owns the CBOR side so every caller
// encodes identically.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). The
// decoder maps untyped CBOR maps to map[string]any so decoded values
// are interchangeable with what encoding/json produces.
//
// Struct tags: wire types in this module carry `json` tags only.
// fxamacker/cbor falls back to `json` tags when `cbor` tags are absent,
// so one tag controls field naming for both codecs.
package codec
