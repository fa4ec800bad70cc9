// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"net"
	"os"

	"github.com/u-root/iobroker/pkg/session"
	"golang.org/x/sys/unix"
)

// peerOf reads SO_PEERCRED of unix sockets. Anything else, such as an
// in-process pipe, is this process.
func peerOf(c net.Conn) (session.Peer, error) {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return session.Peer{UID: uint32(os.Getuid()), PID: int32(os.Getpid())}, nil
	}
	rc, err := uc.SyscallConn()
	if err != nil {
		return session.Peer{}, err
	}
	var cred *unix.Ucred
	var credErr error
	err = rc.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return session.Peer{}, err
	}
	if credErr != nil {
		return session.Peer{}, credErr
	}
	return session.Peer{UID: cred.Uid, PID: cred.Pid}, nil
}
