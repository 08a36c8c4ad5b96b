// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/jmsh/agent"
	"github.com/bureau-foundation/jmsh/cmd/jmsh/cli"
)

func assetsCommand(stdout io.Writer) *cli.Command {
	var connection agentConnection
	var refresh, jsonOutput bool

	return &cli.Command{
		Name:    "assets",
		Summary: "List the SSH assets the session can reach",
		Description: `List the SSH assets granted to the session, with the login
identities available on each. The agent caches the last listing; use
--refresh to fetch a fresh one from the bastion.`,
		Usage: "jmsh assets [flags]",
		Examples: []cli.Example{
			{Description: "List assets", Command: "jmsh assets"},
			{Description: "Machine-readable listing", Command: "jmsh assets --refresh --json"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("assets", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.BoolVar(&refresh, "refresh", false, "fetch from the bastion instead of using the agent's cache")
			flagSet.BoolVar(&jsonOutput, "json", false, "print the listing as JSON")
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
			assets, err := agent.GetAssets.Call(ctx, client, agent.GetAssetsRequest{
				Endpoint:  connection.Endpoint,
				Identity:  connection.Identity,
				FromCache: !refresh,
			})
			if err != nil {
				return connection.diagnose(err)
			}

			if jsonOutput {
				encoder := json.NewEncoder(stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(assets)
			}
			if len(assets) == 0 {
				fmt.Fprintln(stdout, "no SSH assets granted")
				return nil
			}
			if isTerminal(stdout) {
				fmt.Fprint(stdout, renderAssetTable(assets))
				return nil
			}
			return writeAssetList(stdout, assets)
		},
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func identityNames(asset agent.Asset) string {
	names := make([]string, 0, len(asset.GrantedIdentities))
	for _, identity := range asset.GrantedIdentities {
		names = append(names, identity.Name)
	}
	return strings.Join(names, ",")
}

// writeAssetList writes one tab-aligned line per asset for pipes.
func writeAssetList(w io.Writer, assets []agent.Asset) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOSTNAME\tGROUP\tLOGINS\tID")
	for _, asset := range assets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", asset.Hostname, asset.Group, identityNames(asset), asset.ID)
	}
	return tw.Flush()
}

// renderAssetTable renders the assets grouped under styled group
// headings for an interactive terminal.
func renderAssetTable(assets []agent.Asset) string {
	groupStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	hostStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	loginStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	idStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	hostWidth := 0
	for _, asset := range assets {
		hostWidth = max(hostWidth, lipgloss.Width(asset.Hostname))
	}

	var builder strings.Builder
	currentGroup := ""
	for index, asset := range assets {
		if index == 0 || asset.Group != currentGroup {
			if index > 0 {
				builder.WriteString("\n")
			}
			currentGroup = asset.Group
			group := currentGroup
			if group == "" {
				group = "(ungrouped)"
			}
			builder.WriteString(groupStyle.Render(group) + "\n")
		}
		builder.WriteString("  ")
		builder.WriteString(hostStyle.Width(hostWidth + 2).Render(asset.Hostname))
		builder.WriteString(loginStyle.Render(identityNames(asset)))
		builder.WriteString("  ")
		builder.WriteString(idStyle.Render(asset.ID))
		builder.WriteString("\n")
	}
	return builder.String()
}
