// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// jmsh is the short-lived client of jmsh-agent. It hands a logged-in
// bastion session to the agent, lists the assets that session can
// reach, and opens interactive terminals on them through the agent.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/jmsh/cmd/jmsh/cli"
	"github.com/bureau-foundation/jmsh/lib/process"
	"github.com/bureau-foundation/jmsh/lib/version"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		process.Fatal(reportable(os.Stderr, err))
	}
}

func run(ctx context.Context, args []string) error {
	return rootCommand(os.Stdin, os.Stdout).Execute(ctx, args)
}

func rootCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "jmsh",
		Summary: "Terminal access to bastion assets through a local agent",
		Description: `jmsh opens terminals on bastion-managed SSH assets.

A long-running jmsh-agent holds the bastion session so that each jmsh
invocation can reuse it. Log in to the bastion in a browser, then hand
the session cookies to the agent with "jmsh connect-session". After
that, "jmsh assets" lists what you can reach and "jmsh ssh <hostname>"
opens a terminal.

The bastion and account are selected with --endpoint and --identity,
or with JMSH_ENDPOINT and JMSH_IDENTITY.`,
		Subcommands: []*cli.Command{
			checkCommand(stdout),
			connectSessionCommand(stdout),
			assetsCommand(stdout),
			sshCommand(stdin, stdout),
			versionCommand(stdout),
		},
	}
}

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(context.Context, []string) error {
			fmt.Fprintf(stdout, "jmsh %s\n", version.Full())
			return nil
		},
	}
}

// reportable prints a ToolError's hint after the error itself and
// converts the error into the exit status for its category.
func reportable(stderr io.Writer, err error) error {
	toolError, ok := cli.AsToolError(err)
	if !ok {
		return err
	}
	fmt.Fprintf(stderr, "error: %v\n", toolError)
	if hint := toolError.Hint(); hint != "" {
		fmt.Fprintf(stderr, "\n%s\n", hint)
	}
	return &process.ExitError{Code: toolError.ExitCode()}
}
