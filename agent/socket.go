// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/jmsh/lib/version"
)

// SocketEnv overrides the agent socket path for both the agent and the
// CLI.
const SocketEnv = "JMSH_AGENT_SOCK_PATH"

// DefaultSocketPath is $TMPDIR/.jmsh-<uid>-<version>.sock. The uid
// keeps users apart on shared hosts; the version keeps a CLI from
// talking to an agent of a different release.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf(".jmsh-%d-%s.sock", os.Getuid(), version.SocketTag()))
}

// ResolveSocketPath picks the socket path: an explicit value first, then
// $JMSH_AGENT_SOCK_PATH, then DefaultSocketPath.
func ResolveSocketPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if fromEnvironment := os.Getenv(SocketEnv); fromEnvironment != "" {
		return fromEnvironment
	}
	return DefaultSocketPath()
}
