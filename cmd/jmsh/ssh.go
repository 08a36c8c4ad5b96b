// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/jmsh/agent"
	"github.com/bureau-foundation/jmsh/cmd/jmsh/cli"
	"github.com/bureau-foundation/jmsh/lib/rpc"
)

const (
	defaultCols = 80
	defaultRows = 24
	// inputChunkSize bounds one data message of forwarded keystrokes.
	inputChunkSize = 32 * 1024
)

// terminalSize is a cols by rows pair.
type terminalSize struct {
	Cols, Rows int
}

func sshCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	var connection agentConnection
	var login string

	return &cli.Command{
		Name:    "ssh",
		Summary: "Open a terminal on an asset",
		Description: `Open an interactive terminal on the asset with the given hostname.

The hostname is looked up in the agent's cached asset listing first and
fetched from the bastion on a miss. The session logs in with --login if
given, and otherwise with the first identity granted on the asset.

The local terminal is put in raw mode for the session and restored when
it ends. Window size changes are forwarded.`,
		Usage: "jmsh ssh <hostname> [flags]",
		Examples: []cli.Example{
			{Description: "Open a terminal on web-1", Command: "jmsh ssh web-1"},
			{Description: "Log in as a specific identity", Command: "jmsh ssh db-1 --login dba"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ssh", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringVarP(&login, "login", "l", "", "login identity name (default: the first granted)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return cli.Validation("hostname argument required\n\nUsage: jmsh ssh <hostname> [flags]")
			}
			if len(args) > 1 {
				return cli.Validation("unexpected argument: %s", args[1])
			}
			hostname := args[0]

			client, err := connection.client()
			if err != nil {
				return err
			}
			asset, err := findAsset(ctx, client, &connection, hostname)
			if err != nil {
				return err
			}
			identity, err := chooseIdentity(asset, login)
			if err != nil {
				return err
			}

			size := currentSize(stdout)
			channel, err := agent.ConnectAsset.Call(ctx, client, agent.ConnectAssetRequest{
				Endpoint:      connection.Endpoint,
				Identity:      connection.Identity,
				TargetID:      asset.ID,
				LoginIdentity: identity.ID,
				Cols:          size.Cols,
				Rows:          size.Rows,
			})
			if err != nil {
				return connection.diagnose(err)
			}
			defer channel.Shutdown()

			if file, ok := stdin.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
				oldState, err := term.MakeRaw(int(file.Fd()))
				if err != nil {
					return cli.Internal("set terminal raw mode: %w", err)
				}
				defer term.Restore(int(file.Fd()), oldState)
			}

			resizes := make(chan terminalSize, 1)
			winch := make(chan os.Signal, 1)
			signal.Notify(winch, syscall.SIGWINCH)
			defer signal.Stop(winch)
			go func() {
				for range winch {
					select {
					case resizes <- currentSize(stdout):
					default:
					}
				}
			}()

			return relayTerminal(ctx, channel, stdin, stdout, resizes)
		},
	}
}

// findAsset looks hostname up in the cached listing, then in a fresh one.
func findAsset(ctx context.Context, client rpc.Client, connection *agentConnection, hostname string) (agent.Asset, error) {
	for _, fromCache := range []bool{true, false} {
		assets, err := agent.GetAssets.Call(ctx, client, agent.GetAssetsRequest{
			Endpoint:  connection.Endpoint,
			Identity:  connection.Identity,
			FromCache: fromCache,
		})
		if err != nil {
			return agent.Asset{}, connection.diagnose(err)
		}
		if asset, ok := agent.FindAsset(assets, hostname); ok {
			return asset, nil
		}
	}
	return agent.Asset{}, cli.NotFound("no SSH asset named %q is granted to %s", hostname, connection.Identity).
		WithHint("Run 'jmsh assets' to see the hostnames you can reach.")
}

func chooseIdentity(asset agent.Asset, login string) (agent.Identity, error) {
	if len(asset.GrantedIdentities) == 0 {
		return agent.Identity{}, cli.NotFound("no login identity is granted on %s", asset.Hostname)
	}
	if login == "" {
		return asset.GrantedIdentities[0], nil
	}
	for _, identity := range asset.GrantedIdentities {
		if identity.Name == login {
			return identity, nil
		}
	}
	return agent.Identity{}, cli.NotFound("login %q is not granted on %s (granted: %s)", login, asset.Hostname, identityNames(asset))
}

func currentSize(w io.Writer) terminalSize {
	if file, ok := w.(*os.File); ok {
		if cols, rows, err := term.GetSize(int(file.Fd())); err == nil && cols > 0 && rows > 0 {
			return terminalSize{Cols: cols, Rows: rows}
		}
	}
	return terminalSize{Cols: defaultCols, Rows: defaultRows}
}

// relayTerminal copies input to the channel as data messages, sends each
// size from resizes, and writes output data until the agent ends the
// session. End of input closes the sending side; the session continues
// until the remote side finishes.
func relayTerminal(ctx context.Context, channel *rpc.Channel[agent.InputMessage, agent.OutputMessage], input io.Reader, output io.Writer, resizes <-chan terminalSize) error {
	var remoteFailure string
	channel.Start(rpc.ChannelHandlers[agent.OutputMessage]{
		Message: func(message agent.OutputMessage) {
			if message.Data != "" {
				output.Write([]byte(message.Data))
			}
			if message.Error != "" {
				remoteFailure = message.Error
			}
		},
	})

	go func() {
		buffer := make([]byte, inputChunkSize)
		for {
			count, err := input.Read(buffer)
			if count > 0 {
				if sendErr := channel.Send(agent.DataMessage(string(buffer[:count]))); sendErr != nil {
					return
				}
			}
			if err != nil {
				channel.Close()
				return
			}
		}
	}()

	for {
		select {
		case size := <-resizes:
			channel.Send(agent.ResizeMessage(size.Cols, size.Rows))
		case <-channel.Done():
			// Done happens after the last Message call.
			if remoteFailure != "" {
				return cli.Transient("session ended: %s", remoteFailure).
					WithHint("The connection to the bastion was lost. Run 'jmsh check' and reconnect if needed.")
			}
			if err := channel.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return cli.Transient("session ended: %w", err)
			}
			return nil
		case <-ctx.Done():
			channel.Shutdown()
			return ctx.Err()
		}
	}
}
