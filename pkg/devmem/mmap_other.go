// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package devmem

import "errors"

var errUnsupported = errors.New("physical memory mapping is only supported on linux")

func mapRange(fd int, phys uint64, size uint32) ([]byte, uint64, error) {
	return nil, 0, errUnsupported
}

func unmapRange(mem []byte) error {
	return errUnsupported
}

func lock(mem []byte) error {
	return errUnsupported
}

func unlock(mem []byte) error {
	return errUnsupported
}
