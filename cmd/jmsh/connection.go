// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jmsh/agent"
	"github.com/bureau-foundation/jmsh/cmd/jmsh/cli"
	"github.com/bureau-foundation/jmsh/lib/frame"
	"github.com/bureau-foundation/jmsh/lib/rpc"
)

const (
	endpointEnv = "JMSH_ENDPOINT"
	identityEnv = "JMSH_IDENTITY"
	codecEnv    = "JMSH_AGENT_CODEC"
)

// agentConnection holds the flags every command uses to reach the agent
// and name the session.
type agentConnection struct {
	Endpoint   string
	Identity   string
	SocketPath string
	CodecName  string
}

// AddFlags registers the connection flags on flagSet.
func (c *agentConnection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.Endpoint, "endpoint", cli.EnvOr(endpointEnv, ""), "bastion base URL (default $"+endpointEnv+")")
	flagSet.StringVar(&c.Identity, "identity", cli.EnvOr(identityEnv, ""), "bastion account name (default $"+identityEnv+")")
	flagSet.StringVar(&c.SocketPath, "socket", "", "agent socket path (default $"+agent.SocketEnv+" or the per-user default)")
	flagSet.StringVar(&c.CodecName, "codec", cli.EnvOr(codecEnv, frame.JSON.Name()), "wire codec, matching the agent: json or cbor")
}

// client validates the flags and returns an rpc client for the agent.
func (c *agentConnection) client() (rpc.UnixClient, error) {
	if c.Endpoint == "" {
		return rpc.UnixClient{}, cli.Validation("--endpoint is required").
			WithHint("Pass the bastion base URL, e.g. --endpoint https://bastion.example.com, or set " + endpointEnv + ".")
	}
	if c.Identity == "" {
		return rpc.UnixClient{}, cli.Validation("--identity is required").
			WithHint("Pass your bastion account name, or set " + identityEnv + ".")
	}
	codec, err := frame.CodecByName(c.CodecName)
	if err != nil {
		return rpc.UnixClient{}, cli.Validation("%w", err)
	}
	return rpc.UnixClient{SocketPath: agent.ResolveSocketPath(c.SocketPath), Codec: codec}, nil
}

// diagnose turns an error from an agent call into a categorized error
// with a next step for the user.
func (c *agentConnection) diagnose(err error) error {
	switch {
	case err == nil:
		return nil
	case agent.IsNoConnection(err):
		return cli.NotFound("the agent holds no session for %s at %s", c.Identity, c.Endpoint).
			WithHint("Log in to the bastion, then run 'jmsh connect-session' with the session cookies.")
	case agent.IsUnauthenticated(err):
		return cli.Forbidden("the bastion rejected the session for %s at %s", c.Identity, c.Endpoint).
			WithHint("The session has expired or was revoked. Log in again and run 'jmsh connect-session'.")
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ECONNREFUSED):
		return cli.Transient("jmsh-agent is not running: %w", err).
			WithHint("Start it with 'jmsh-agent &' (same --socket and --codec as this command).")
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return cli.Forbidden("permission denied reaching the agent: %w", err).
			WithHint("The agent socket belongs to another user. Each user runs their own jmsh-agent.")
	case errors.Is(err, rpc.ErrNoReply):
		return cli.Transient("the agent closed the connection without replying: %w", err).
			WithHint("Check that the agent and this command use the same --codec.")
	}
	var remote *rpc.RemoteError
	if errors.As(err, &remote) {
		return cli.Transient("%s", remote.Message)
	}
	return cli.Internal("%w", err)
}
