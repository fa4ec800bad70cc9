// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package devmem maps physical memory through /dev/mem.
//
// Mappings are shared and the device is opened O_SYNC, so the kernel maps
// the range uncached. Mem implements zone.Mapper and zone.Pinner, and
// LocalSpace projects zones into the calling process with a second mapping
// of the same range.
package devmem

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/spf13/afero"
	"github.com/u-root/iobroker/pkg/zone"
)

var (
	ErrNotMappable = errors.New("file cannot be memory mapped")
	ErrReleased    = errors.New("mapping already released")
	ErrForeign     = errors.New("region was not mapped by this device")
)

type fder interface {
	Fd() uintptr
}

type Mem struct {
	f  afero.File
	fd int
}

func Open(path string) (*Mem, error) {
	return OpenFs(afero.NewOsFs(), path)
}

// OpenFs opens path on fs. Only files backed by a real descriptor can be
// mapped, so in-memory filesystems are refused here rather than on the first
// MapDevice.
func OpenFs(fs afero.Fs, path string) (*Mem, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", path, err)
	}
	d, ok := f.(fder)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotMappable)
	}
	return &Mem{f: f, fd: int(d.Fd())}, nil
}

func (m *Mem) Close() error {
	return m.f.Close()
}

// span returns the page-aligned file offset, the offset of phys inside the
// first page and the page-rounded length covering [phys, phys+size).
func span(phys uint64, size uint32, pageSize uint64) (base, off uint64, length int) {
	base = phys &^ (pageSize - 1)
	off = phys - base
	l := (off + uint64(size) + pageSize - 1) &^ (pageSize - 1)
	return base, off, int(l)
}

func (m *Mem) MapDevice(phys uint64, size uint32) (zone.Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("map %#x: empty range", phys)
	}
	mem, off, err := mapRange(m.fd, phys, size)
	if err != nil {
		return nil, err
	}
	return &Region{mem: mem, off: off, size: size, owner: m}, nil
}

// Region is a privileged mapping of a physical range. Accessors use a
// single load or store of the requested width.
type Region struct {
	mem   []byte
	off   uint64
	size  uint32
	owner *Mem
}

func (r *Region) at(off uint32, n uint32) unsafe.Pointer {
	if off > r.size || r.size-off < n {
		panic(fmt.Sprintf("devmem: access %#x+%d outside region of %#x bytes", off, n, r.size))
	}
	return unsafe.Pointer(&r.mem[r.off+uint64(off)])
}

func (r *Region) Read8(off uint32) uint8 {
	return *(*uint8)(r.at(off, 1))
}

func (r *Region) Read16(off uint32) uint16 {
	return *(*uint16)(r.at(off, 2))
}

func (r *Region) Read32(off uint32) uint32 {
	return *(*uint32)(r.at(off, 4))
}

func (r *Region) Write8(off uint32, v uint8) {
	*(*uint8)(r.at(off, 1)) = v
}

func (r *Region) Write16(off uint32, v uint16) {
	*(*uint16)(r.at(off, 2)) = v
}

func (r *Region) Write32(off uint32, v uint32) {
	*(*uint32)(r.at(off, 4)) = v
}

func (r *Region) Unmap() error {
	if r.mem == nil {
		return ErrReleased
	}
	err := unmapRange(r.mem)
	r.mem = nil
	return err
}

func (m *Mem) Pin(zr zone.Region) (zone.Pin, error) {
	r, ok := zr.(*Region)
	if !ok || r.owner != m {
		return nil, ErrForeign
	}
	if err := lock(r.mem); err != nil {
		return nil, fmt.Errorf("mlock: %w", err)
	}
	return &pin{mem: r.mem}, nil
}

type pin struct {
	mem []byte
}

func (p *pin) Unpin() error {
	if p.mem == nil {
		return ErrReleased
	}
	err := unlock(p.mem)
	p.mem = nil
	return err
}

// LocalSpace projects zones into this process. Every view is its own
// mapping of the physical range, so its Base can be dereferenced.
type LocalSpace struct {
	m    *Mem
	name string
}

func NewLocalSpace(m *Mem, name string) *LocalSpace {
	return &LocalSpace{m: m, name: name}
}

func (s *LocalSpace) String() string {
	return s.name
}

func (s *LocalSpace) Project(p zone.Placement) (zone.View, error) {
	mem, off, err := mapRange(s.m.fd, p.Phys, p.Size)
	if err != nil {
		return nil, err
	}
	return &localView{mem: mem, base: uint64(uintptr(unsafe.Pointer(&mem[off])))}, nil
}

type localView struct {
	mem  []byte
	base uint64
}

func (v *localView) Base() uint64 {
	return v.base
}

func (v *localView) Release() error {
	if v.mem == nil {
		return ErrReleased
	}
	err := unmapRange(v.mem)
	v.mem = nil
	return err
}
