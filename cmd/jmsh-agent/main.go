// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// jmsh-agent is the per-user daemon that holds bastion sessions for the
// jmsh CLI. It listens on a Unix socket (mode 0600, same-user peers
// only) and serves checkConnection, createConnection, getAssets, and
// connectAsset. Sessions live only in this process's memory.
//
// Configuration comes from flags, each with an environment fallback:
//   - --socket / JMSH_AGENT_SOCK_PATH: listening socket path
//   - --codec / JMSH_AGENT_CODEC: wire codec, json (default) or cbor
//   - --log-level / JMSH_LOG_LEVEL: debug, info, warn, or error
//   - --fetch-timeout: bound on one asset listing request
//
// SIGINT or SIGTERM stops accepting, ends every open channel, closes
// every relay session, and removes the socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jmsh/agent"
	"github.com/bureau-foundation/jmsh/cmd/jmsh/cli"
	"github.com/bureau-foundation/jmsh/lib/frame"
	"github.com/bureau-foundation/jmsh/lib/process"
	"github.com/bureau-foundation/jmsh/lib/rpc"
	"github.com/bureau-foundation/jmsh/lib/version"
	"github.com/bureau-foundation/jmsh/upstream/wsrelay"
)

// codecEnv supplies the default for --codec.
const codecEnv = "JMSH_AGENT_CODEC"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		socketPath   string
		codecName    string
		logLevel     string
		fetchTimeout time.Duration
		showVersion  bool
	)

	flagSet := pflag.NewFlagSet("jmsh-agent", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "listening socket path (default $"+agent.SocketEnv+" or "+agent.DefaultSocketPath()+")")
	flagSet.StringVar(&codecName, "codec", cli.EnvOr(codecEnv, frame.JSON.Name()), "wire codec: json or cbor")
	flagSet.StringVar(&logLevel, "log-level", cli.EnvOr(cli.LogLevelEnv, "info"), "log level: debug, info, warn, or error")
	flagSet.DurationVar(&fetchTimeout, "fetch-timeout", agent.DefaultFetchTimeout, "timeout for one asset listing request")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return &process.ExitError{Code: 2, Err: err}
	}
	if showVersion {
		fmt.Printf("jmsh-agent %s\n", version.Full())
		return nil
	}
	if flagSet.NArg() > 0 {
		return &process.ExitError{Code: 2, Err: fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))}
	}

	logger, err := cli.NewLogger(logLevel)
	if err != nil {
		return &process.ExitError{Code: 2, Err: err}
	}
	codec, err := frame.CodecByName(codecName)
	if err != nil {
		return &process.ExitError{Code: 2, Err: err}
	}
	socketPath = agent.ResolveSocketPath(socketPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := agent.NewService(agent.Config{
		Dialer:       &wsrelay.Dialer{Logger: logger},
		Assets:       &agent.HTTPAssetFetcher{},
		FetchTimeout: fetchTimeout,
		Logger:       logger,
	})
	defer service.Close()

	server := rpc.NewServer(codec, logger)
	service.Register(server)

	logger.Info("agent starting",
		"socket", socketPath,
		"codec", codec.Name(),
		"version", version.Info(),
	)
	if err := server.ListenAndServe(ctx, socketPath); err != nil {
		return fmt.Errorf("serving %s: %w", socketPath, err)
	}
	logger.Info("agent stopped", "connections", service.Registry().Len())
	return nil
}
