// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the jmsh agent: a per-user daemon that holds
// authenticated relay sessions and lends them to short-lived jmsh CLI
// processes over a private Unix socket.
//
// The agent serves four methods, declared in endpoints.go:
//
//   - checkConnection reports whether a session exists for an
//     (endpoint, identity) pair.
//   - createConnection dials the relay with a session cookie and CSRF
//     token obtained by the CLI's login flow, and stores the session.
//   - getAssets lists the SSH assets the account may reach, from cache
//     or freshly from the bastion's permissions API.
//   - connectAsset opens a terminal room on an asset and streams it
//     over an rpc channel until either side ends it.
//
// Sessions live in a [Registry] keyed by [Key]. Each holds one
// upstream.Session and the mux.Mux that shares it between rooms. A
// session is evicted when its relay connection fails for good, when
// the bastion rejects its cookie, or when createConnection replaces it.
package agent
