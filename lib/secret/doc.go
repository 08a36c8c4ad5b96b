// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the bastion session credentials (session ID and
// CSRF token) that the agent keeps for the lifetime of a connection.
//
// A [Buffer] lives in an anonymous mmap region outside the Go heap. The
// region is locked into RAM, excluded from core dumps, and zeroed on
// Close, so a credential never reaches swap and is gone from memory
// once its connection is evicted.
//
// The protection covers the stored copy only. Using a credential means
// handing a Go string to code that needs one: the relay session keeps
// its own copy for reconnecting. Each asset listing builds a cookie
// header from a fresh copy. Those copies live on the heap until the
// garbage collector reclaims them and are never zeroed. A Buffer
// shortens how long a credential stays in memory and keeps it out of
// swap and core dumps while the connection is idle. It does not make
// the process free of plaintext credentials.
//
// [Fingerprint] derives a short, stable, non-reversible tag from a
// credential so logs can tell sessions apart without recording them.
package secret
