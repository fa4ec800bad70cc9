// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package portio

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// DevPort drives ports through /dev/port, where the file offset is the port
// number. The kernel turns every byte of a read or write into its own inb or
// outb, so only 8-bit cycles are honest; wider widths return ErrWidth.
type DevPort struct {
	f afero.File
}

func OpenDevPort(path string) (*DevPort, error) {
	return OpenDevPortFs(afero.NewOsFs(), path)
}

func OpenDevPortFs(fs afero.Fs, path string) (*DevPort, error) {
	f, err := fs.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", path, err)
	}
	return &DevPort{f: f}, nil
}

func (d *DevPort) In8(port uint16) (uint8, error) {
	b := make([]byte, 1)
	if _, err := d.f.ReadAt(b, int64(port)); err != nil {
		return 0, fmt.Errorf("inb %#x: %v", port, err)
	}
	return b[0], nil
}

func (d *DevPort) Out8(port uint16, v uint8) error {
	if _, err := d.f.WriteAt([]byte{v}, int64(port)); err != nil {
		return fmt.Errorf("outb %#x: %v", port, err)
	}
	return nil
}

func (d *DevPort) In16(port uint16) (uint16, error) {
	return 0, fmt.Errorf("inw %#x: %w", port, ErrWidth)
}

func (d *DevPort) In32(port uint16) (uint32, error) {
	return 0, fmt.Errorf("inl %#x: %w", port, ErrWidth)
}

func (d *DevPort) Out16(port uint16, v uint16) error {
	return fmt.Errorf("outw %#x: %w", port, ErrWidth)
}

func (d *DevPort) Out32(port uint16, v uint32) error {
	return fmt.Errorf("outl %#x: %w", port, ErrWidth)
}

func (d *DevPort) Close() error {
	return d.f.Close()
}
