// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the jmsh
// binaries.
//
// Three package-level variables are injected at build time via
// -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/jmsh/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" and "0.1.0-dev" in development builds and
// test runs.
//
// The version also names the agent socket. A CLI only ever talks to an
// agent built from the same release, so a protocol change never meets
// a daemon left running from an older install.
package version
