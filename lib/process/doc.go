// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the jmsh
// binaries: reporting an error from run() and exiting before (or
// after) the structured logger exists.
package process
