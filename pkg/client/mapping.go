// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"fmt"
	"io"

	"github.com/u-root/iobroker/pkg/wire"
)

// Mapping is a zone mapped through a Client. Offsets are relative to the
// mapped physical start.
type Mapping struct {
	c    *Client
	Phys uint64
	Size uint32
	Base uint64
}

func (c *Client) MapWindow(phys uint64, size uint32) (*Mapping, error) {
	base, err := c.Map(phys, size)
	if err != nil {
		return nil, err
	}
	return &Mapping{c: c, Phys: phys, Size: size, Base: base}, nil
}

func (m *Mapping) addr(off uint32) uint64 {
	return m.Base + uint64(off)
}

func (m *Mapping) Read8(off uint32) (uint8, error) {
	v, err := m.c.readMem(wire.OpReadMem8, m.addr(off))
	return uint8(v), err
}

func (m *Mapping) Read16(off uint32) (uint16, error) {
	v, err := m.c.readMem(wire.OpReadMem16, m.addr(off))
	return uint16(v), err
}

func (m *Mapping) Read32(off uint32) (uint32, error) {
	return m.c.readMem(wire.OpReadMem32, m.addr(off))
}

func (m *Mapping) Write8(off uint32, v uint8) error {
	return m.c.writeMem(wire.OpWriteMem8, m.addr(off), uint32(v))
}

func (m *Mapping) Write16(off uint32, v uint16) error {
	return m.c.writeMem(wire.OpWriteMem16, m.addr(off), uint32(v))
}

func (m *Mapping) Write32(off uint32, v uint32) error {
	return m.c.writeMem(wire.OpWriteMem32, m.addr(off), v)
}

// ReadAt copies the zone out, using 32-bit reads where the offset is
// aligned.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(m.Size) {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && off < int64(m.Size) {
		o := uint32(off)
		if o%4 == 0 && len(p)-n >= 4 && m.Size-o >= 4 {
			v, err := m.Read32(o)
			if err != nil {
				return n, err
			}
			p[n], p[n+1], p[n+2], p[n+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
			n += 4
			off += 4
			continue
		}
		v, err := m.Read8(o)
		if err != nil {
			return n, err
		}
		p[n] = v
		n++
		off++
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the zone.
func (m *Mapping) Close() error {
	return m.c.Unmap(m.Base, m.Size)
}
