// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	t.Parallel()
	var called string

	root := &Command{
		Name: "jmsh",
		Subcommands: []*Command{
			{Name: "check", Run: func(context.Context, []string) error { called = "check"; return nil }},
			{Name: "assets", Run: func(context.Context, []string) error { called = "assets"; return nil }},
		},
	}

	if err := root.Execute(t.Context(), []string{"assets"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "assets" {
		t.Errorf("dispatched to %q, want %q", called, "assets")
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	t.Parallel()
	var socketPath string
	var received []string

	command := &Command{
		Name: "ssh",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ssh", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "/default.sock", "agent socket path")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			received = args
			return nil
		},
	}

	if err := command.Execute(t.Context(), []string{"--socket", "/custom.sock", "web-1"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if socketPath != "/custom.sock" {
		t.Errorf("socketPath = %q, want %q", socketPath, "/custom.sock")
	}
	if len(received) != 1 || received[0] != "web-1" {
		t.Errorf("args = %v, want [web-1]", received)
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	t.Parallel()
	command := &Command{
		Name: "assets",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("assets", pflag.ContinueOnError)
			flagSet.Bool("refresh", false, "bypass the cache")
			flagSet.String("socket", "", "agent socket path")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(t.Context(), []string{"--sockt", "/x"})
	if err == nil {
		t.Fatal("Execute() succeeded with an unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --socket?") {
		t.Errorf("error = %q, want a --socket suggestion", err)
	}
	toolError, ok := AsToolError(err)
	if !ok || toolError.Category != CategoryValidation {
		t.Errorf("error category = %v, want validation", toolError)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	t.Parallel()
	root := &Command{
		Name:   "jmsh",
		Output: &bytes.Buffer{},
		Subcommands: []*Command{
			{Name: "check", Run: func(context.Context, []string) error { return nil }},
			{Name: "connect-session", Run: func(context.Context, []string) error { return nil }},
		},
	}

	err := root.Execute(t.Context(), []string{"chekc"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "check"?`) {
		t.Errorf("error = %v, want a check suggestion", err)
	}
	err = root.Execute(t.Context(), []string{"frobnicate"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	t.Parallel()
	var help bytes.Buffer
	root := &Command{
		Name:        "jmsh",
		Output:      &help,
		Subcommands: []*Command{{Name: "check", Summary: "Report whether the agent holds a session"}},
	}

	if err := root.Execute(t.Context(), nil); err == nil {
		t.Fatal("Execute() with no args succeeded")
	}
	if !strings.Contains(help.String(), "Report whether the agent holds a session") {
		t.Errorf("help output missing subcommand summary:\n%s", help.String())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	t.Parallel()
	root := &Command{Name: "jmsh"}
	command := &Command{
		Name:        "ssh",
		Description: "Open a terminal on an asset.",
		Usage:       "jmsh ssh <hostname> [flags]",
		Examples:    []Example{{Description: "Log in to web-1", Command: "jmsh ssh web-1"}},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ssh", pflag.ContinueOnError)
			flagSet.String("endpoint", "", "bastion base URL")
			return flagSet
		},
		parent: root,
	}

	var help bytes.Buffer
	command.PrintHelp(&help)
	output := help.String()
	for _, want := range []string{
		"Open a terminal on an asset.",
		"Usage:\n  jmsh ssh <hostname> [flags]",
		"--endpoint",
		"# Log in to web-1",
		"  jmsh ssh web-1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q:\n%s", want, output)
		}
	}
}

func TestCommand_HelpFlag(t *testing.T) {
	t.Parallel()
	var help bytes.Buffer
	ran := false
	command := &Command{
		Name:    "check",
		Summary: "Report whether the agent holds a session",
		Output:  &help,
		Run:     func(context.Context, []string) error { ran = true; return nil },
	}

	if err := command.Execute(t.Context(), []string{"--help"}); err != nil {
		t.Fatalf("Execute(--help) error: %v", err)
	}
	if ran {
		t.Error("--help ran the command")
	}
	if !strings.Contains(help.String(), "Usage:") {
		t.Errorf("help output = %q", help.String())
	}
}
