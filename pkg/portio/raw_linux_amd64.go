// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package portio

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Implemented in raw_linux_amd64.s, one instruction each.
func inb(port uint16) uint8
func inw(port uint16) uint16
func inl(port uint16) uint32
func outb(port uint16, val uint8)
func outw(port uint16, val uint16)
func outl(port uint16, val uint32)

// Raw issues in/out instructions directly. The I/O permission bitmap is per
// thread, so each access pins the goroutine to its thread and opens exactly
// the ports it touches before executing the instruction.
type Raw struct{}

// NewRaw checks that the process may change its I/O permissions at all.
func NewRaw() (*Raw, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := unix.Ioperm(0x80, 1, 1); err != nil {
		return nil, fmt.Errorf("ioperm: %v (CAP_SYS_RAWIO required)", err)
	}
	return &Raw{}, nil
}

func grant(port uint16, width int) error {
	if err := unix.Ioperm(int(port), width, 1); err != nil {
		return fmt.Errorf("ioperm %#x+%d: %v", port, width, err)
	}
	return nil
}

func (*Raw) In8(port uint16) (uint8, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := grant(port, 1); err != nil {
		return 0, err
	}
	return inb(port), nil
}

func (*Raw) In16(port uint16) (uint16, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := grant(port, 2); err != nil {
		return 0, err
	}
	return inw(port), nil
}

func (*Raw) In32(port uint16) (uint32, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := grant(port, 4); err != nil {
		return 0, err
	}
	return inl(port), nil
}

func (*Raw) Out8(port uint16, v uint8) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := grant(port, 1); err != nil {
		return err
	}
	outb(port, v)
	return nil
}

func (*Raw) Out16(port uint16, v uint16) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := grant(port, 2); err != nil {
		return err
	}
	outw(port, v)
	return nil
}

func (*Raw) Out32(port uint16, v uint32) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := grant(port, 4); err != nil {
		return err
	}
	outl(port, v)
	return nil
}
