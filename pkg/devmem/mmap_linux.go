// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func mapRange(fd int, phys uint64, size uint32) ([]byte, uint64, error) {
	base, off, length := span(phys, size, uint64(unix.Getpagesize()))
	mem, err := unix.Mmap(fd, int64(base), length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, fmt.Errorf("mmap %#x+%#x: %v", base, length, err)
	}
	return mem, off, nil
}

func unmapRange(mem []byte) error {
	return unix.Munmap(mem)
}

func lock(mem []byte) error {
	return unix.Mlock(mem)
}

func unlock(mem []byte) error {
	return unix.Munlock(mem)
}
