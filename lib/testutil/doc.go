// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for jmsh packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, which have a 108-byte path limit that t.TempDir()
// paths regularly exceed. [WaitForSocket] blocks until a server has
// bound its socket.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls.
//
// [UniqueID] generates monotonically increasing identifiers for
// correlation values and session IDs that must differ between tests
// running in parallel.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
