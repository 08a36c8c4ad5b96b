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
)

const (
	sessionIDEnv = "JMSH_SESSION_ID"
	csrfTokenEnv = "JMSH_CSRF_TOKEN"
)

func connectSessionCommand(stdout io.Writer) *cli.Command {
	var connection agentConnection
	var sessionID, csrfToken string

	return &cli.Command{
		Name:    "connect-session",
		Summary: "Hand a logged-in bastion session to the agent",
		Description: `Give the agent the cookies of a bastion session you logged in to
elsewhere. The agent opens the terminal relay with them immediately and
keeps the session until the bastion rejects it or the agent exits. An
existing session for the same endpoint and identity is replaced, and
terminals open on it are closed.

Prefer the environment variables to the flags: flag values are visible
to other users in the process list.`,
		Usage: "jmsh connect-session [flags]",
		Examples: []cli.Example{
			{
				Description: "Connect with cookies from the environment",
				Command:     "JMSH_SESSION_ID=... JMSH_CSRF_TOKEN=... jmsh connect-session --endpoint https://bastion.example.com --identity alice",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("connect-session", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringVar(&sessionID, "session-id", cli.EnvOr(sessionIDEnv, ""), "bastion sessionid cookie (default $"+sessionIDEnv+")")
			flagSet.StringVar(&csrfToken, "csrf-token", cli.EnvOr(csrfTokenEnv, ""), "bastion csrftoken cookie (default $"+csrfTokenEnv+")")
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
			if sessionID == "" || csrfToken == "" {
				return cli.Validation("both --session-id and --csrf-token are required").
					WithHint("Copy the sessionid and csrftoken cookies from a browser logged in to " + connection.Endpoint + ".")
			}

			_, err = agent.CreateConnection.Call(ctx, client, agent.CreateConnectionRequest{
				Endpoint:  connection.Endpoint,
				Identity:  connection.Identity,
				SessionID: sessionID,
				CSRFToken: csrfToken,
			})
			if err != nil {
				return connection.diagnose(err)
			}
			fmt.Fprintf(stdout, "connected: %s at %s\n", connection.Identity, connection.Endpoint)
			return nil
		},
	}
}
