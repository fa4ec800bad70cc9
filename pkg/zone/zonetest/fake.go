// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zonetest provides in-memory mapping primitives that count every
// acquisition and release, for testing code built on package zone.
package zonetest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/u-root/iobroker/pkg/zone"
)

var (
	ErrInjected = errors.New("injected failure")
	ErrTwice    = errors.New("released twice")
)

// Primitives implements zone.Mapper and zone.Pinner over byte slices.
type Primitives struct {
	mu sync.Mutex

	FailMap bool
	FailPin bool

	regions int
	pins    int
	// Memory backs every mapping so writes through one zone are visible
	// when the same physical range is mapped again.
	memory map[uint64]byte
}

func New() *Primitives {
	return &Primitives{memory: make(map[uint64]byte)}
}

// Outstanding returns the number of regions and pins not yet released.
func (p *Primitives) Outstanding() (regions, pins int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regions, p.pins
}

// Poke sets physical memory as seen by future mappings.
func (p *Primitives) Poke(phys uint64, b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, v := range b {
		p.memory[phys+uint64(i)] = v
	}
}

// Peek returns a byte of physical memory.
func (p *Primitives) Peek(phys uint64) byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.memory[phys]
}

func (p *Primitives) MapDevice(phys uint64, size uint32) (zone.Region, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailMap {
		return nil, ErrInjected
	}
	p.regions++
	return &Region{p: p, phys: phys, size: size}, nil
}

func (p *Primitives) Pin(r zone.Region) (zone.Pin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailPin {
		return nil, ErrInjected
	}
	p.pins++
	return &pin{p: p}, nil
}

type Region struct {
	p        *Primitives
	phys     uint64
	size     uint32
	released bool
}

func (r *Region) load(off uint32, n int) []byte {
	if off+uint32(n) > r.size {
		panic(fmt.Sprintf("access %#x+%d outside region of %#x bytes", off, n, r.size))
	}
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = r.p.memory[r.phys+uint64(off)+uint64(i)]
	}
	return b
}

func (r *Region) store(off uint32, b []byte) {
	if off+uint32(len(b)) > r.size {
		panic(fmt.Sprintf("access %#x+%d outside region of %#x bytes", off, len(b), r.size))
	}
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	for i, v := range b {
		r.p.memory[r.phys+uint64(off)+uint64(i)] = v
	}
}

func (r *Region) Read8(off uint32) uint8 {
	return r.load(off, 1)[0]
}

func (r *Region) Read16(off uint32) uint16 {
	return binary.LittleEndian.Uint16(r.load(off, 2))
}

func (r *Region) Read32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(r.load(off, 4))
}

func (r *Region) Write8(off uint32, v uint8) {
	r.store(off, []byte{v})
}

func (r *Region) Write16(off uint32, v uint16) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	r.store(off, b)
}

func (r *Region) Write32(off uint32, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	r.store(off, b)
}

func (r *Region) Unmap() error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if r.released {
		return ErrTwice
	}
	r.released = true
	r.p.regions--
	return nil
}

type pin struct {
	p        *Primitives
	released bool
}

func (x *pin) Unpin() error {
	x.p.mu.Lock()
	defer x.p.mu.Unlock()
	if x.released {
		return ErrTwice
	}
	x.released = true
	x.p.pins--
	return nil
}

// Space hands out page-aligned caller addresses starting at Base.
type Space struct {
	mu sync.Mutex

	Name        string
	FailProject bool

	next  uint64
	views int
}

const Base = 0x7f0000000000

func NewSpace(name string) *Space {
	return NewSpaceAt(name, Base)
}

// NewSpaceAt returns a space whose first caller address is base.
func NewSpaceAt(name string, base uint64) *Space {
	return &Space{Name: name, next: base}
}

func (s *Space) String() string {
	return s.Name
}

// Outstanding returns the number of live views.
func (s *Space) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views
}

func (s *Space) Project(p zone.Placement) (zone.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailProject {
		return nil, ErrInjected
	}
	base := s.next + p.Phys&0xfff
	s.next += (uint64(p.Size) + p.Phys&0xfff + 0xfff) &^ 0xfff
	s.next += 0x1000
	s.views++
	return &view{s: s, base: base}, nil
}

type view struct {
	s        *Space
	base     uint64
	released bool
}

func (v *view) Base() uint64 {
	return v.base
}

func (v *view) Release() error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.released {
		return ErrTwice
	}
	v.released = true
	v.s.views--
	return nil
}
