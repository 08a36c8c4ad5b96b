// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/jmsh/lib/codec"
)

// Codec serializes messages into frame payloads.
type Codec interface {
	// Name identifies the codec in flags and logs ("json", "cbor").
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the published wire codec: UTF-8 JSON payloads.
var JSON Codec = jsonCodec{}

// CBOR encodes payloads with the module's deterministic CBOR settings.
var CBOR Codec = cborCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct{}

func (cborCodec) Name() string                       { return "cbor" }
func (cborCodec) Marshal(v any) ([]byte, error)      { return codec.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }

// CodecByName resolves a --codec flag value. The empty string selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("frame: unknown codec %q (want json or cbor)", name)
	}
}

// Raw is an already-encoded value embedded in a larger message, for
// envelopes whose inner type is only known after the outer fields are
// read. The bytes are in the encoding of whichever codec produced the
// envelope, and must be decoded with that same codec.
type Raw []byte

// An empty Raw encodes as the codec's null.
var (
	jsonNull = []byte("null")
	cborNull = []byte{0xf6}
)

// MarshalJSON returns the raw bytes unchanged.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return jsonNull, nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the encoded value.
func (r *Raw) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// MarshalCBOR returns the raw bytes unchanged once they are known to
// hold exactly one well-formed item, so a bad value cannot corrupt the
// enclosing message.
func (r Raw) MarshalCBOR() ([]byte, error) {
	if len(r) == 0 {
		return cborNull, nil
	}
	if err := codec.Valid(r); err != nil {
		return nil, fmt.Errorf("frame: raw value is not CBOR: %w", err)
	}
	return r, nil
}

// UnmarshalCBOR keeps a copy of the encoded item.
func (r *Raw) UnmarshalCBOR(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}
