// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame turns a duplex byte stream into a sequence of
// length-delimited messages.
//
// Every frame on the wire is a 4-byte big-endian payload length followed
// by exactly that many bytes of serialized message. The payload encoding
// is chosen by a [Codec]: [JSON] is the published local protocol, [CBOR]
// is available when both ends are built from this module.
//
// A [Transport] owns one stream. A single background goroutine reads
// whatever chunks the stream delivers, accumulates them, and slices out
// every complete frame it holds before reading again, so frames split
// across reads and frames coalesced into one read are handled the same
// way. Completed frames are handed to waiting [Transport.ReadMessage]
// callers strictly oldest-first; if nobody is waiting the frame is
// queued. A frame is never delivered to more than one reader.
//
// Termination is reported to readers, never dropped:
//
//   - the peer closing its write side yields [ErrTransportEnded] once
//     the queued frames are drained;
//   - any other stream failure is returned (wrapped) to every waiting
//     reader and to all later readers;
//   - a payload the codec cannot decode, or a length over the frame
//     limit, is fatal: the reader that hit it gets [ErrMalformedFrame]
//     or [ErrFrameTooLarge], the stream is torn down, and every other
//     reader observes the same error.
//
// [Transport.Close] half-closes the stream, so a caller can finish
// writing and still read the peer's reply. The underlying connection is
// released once both directions are finished, or immediately by
// [Transport.Shutdown].
package frame
