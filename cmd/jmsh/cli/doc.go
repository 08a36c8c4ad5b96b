// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the jmsh client.
//
// The central type is [Command], a named subcommand with optional nested
// [Command.Subcommands], a [pflag.FlagSet] factory, and a Run function.
// [Command.Execute] handles flag parsing, subcommand routing, and help
// output with examples. Unknown subcommands and flags get a "did you
// mean" suggestion by edit distance (see suggest.go).
//
// Commands return categorized errors built with [Validation],
// [NotFound], [Forbidden], [Transient], or [Internal], optionally with a
// [ToolError.WithHint] telling the user what to do next.
//
// [NewLogger] builds the slog logger shared by both binaries.
package cli
