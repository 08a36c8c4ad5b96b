// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jmsh/agent"
	"github.com/bureau-foundation/jmsh/cmd/jmsh/cli"
	"github.com/bureau-foundation/jmsh/lib/process"
)

func checkCommand(stdout io.Writer) *cli.Command {
	var connection agentConnection
	var quiet bool

	return &cli.Command{
		Name:    "check",
		Summary: "Report whether the agent holds a session",
		Description: `Ask the agent whether it holds a session for the endpoint and
identity. Exits 0 when it does and 1 when it does not, so scripts can
decide whether to run "jmsh connect-session" first. The check is local:
it does not contact the bastion, so an expired session still counts.`,
		Usage: "jmsh check [flags]",
		Examples: []cli.Example{
			{
				Description: "Connect only if needed",
				Command:     "jmsh check -q || jmsh connect-session --session-id ... --csrf-token ...",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.BoolVarP(&quiet, "quiet", "q", false, "print nothing; report through the exit status only")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			client, err := connection.client()
			if err != nil {
				return err
			}
			exists, err := agent.CheckConnection.Call(ctx, client, agent.CheckConnectionRequest{
				Endpoint: connection.Endpoint,
				Identity: connection.Identity,
			})
			if err != nil {
				return connection.diagnose(err)
			}
			if !quiet {
				if exists {
					fmt.Fprintf(stdout, "connected: %s at %s\n", connection.Identity, connection.Endpoint)
				} else {
					fmt.Fprintf(stdout, "not connected: %s at %s\n", connection.Identity, connection.Endpoint)
				}
			}
			if !exists {
				return &process.ExitError{Code: 1}
			}
			return nil
		},
	}
}
