// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package server

import (
	"net"
	"os"

	"github.com/u-root/iobroker/pkg/session"
)

// Credentials of socket peers are not available here; such peers get an
// identity no allow list matches.
func peerOf(c net.Conn) (session.Peer, error) {
	if _, ok := c.(*net.UnixConn); ok {
		return session.Peer{UID: ^uint32(0), PID: -1}, nil
	}
	return session.Peer{UID: uint32(os.Getuid()), PID: int32(os.Getpid())}, nil
}
