// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package rpc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerUID returns the uid of the process on the other end of a Unix
// socket connection. Other connection types report known=false.
func peerUID(conn net.Conn) (uid uint32, known bool, err error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, false, nil
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, false, fmt.Errorf("rpc: peer credentials: %w", err)
	}
	var credentials *unix.Ucred
	var sockoptErr error
	if err := raw.Control(func(descriptor uintptr) {
		credentials, sockoptErr = unix.GetsockoptUcred(int(descriptor), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, false, fmt.Errorf("rpc: peer credentials: %w", err)
	}
	if sockoptErr != nil {
		return 0, false, fmt.Errorf("rpc: SO_PEERCRED: %w", sockoptErr)
	}
	return credentials.Uid, true, nil
}
