// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zone

// Mapper establishes privileged mappings of physical ranges as uncached
// device memory.
type Mapper interface {
	MapDevice(phys uint64, size uint32) (Region, error)
}

// Region is a privileged-side mapping. Offsets are relative to the mapped
// physical start and must stay within the mapped size.
type Region interface {
	Read8(off uint32) uint8
	Read16(off uint32) uint16
	Read32(off uint32) uint32
	Write8(off uint32, v uint8)
	Write16(off uint32, v uint16)
	Write32(off uint32, v uint32)
	Unmap() error
}

// Pinner keeps a region resident so it can be projected into a caller.
type Pinner interface {
	Pin(r Region) (Pin, error)
}

type Pin interface {
	Unpin() error
}

// Placement describes a pinned region about to be projected.
type Placement struct {
	Phys   uint64
	Size   uint32
	Region Region
}

// Space is a caller's address space. A zone projected into one space is
// invisible to every other space.
type Space interface {
	Project(p Placement) (View, error)
	String() string
}

// View is a projection of a zone into a Space.
type View interface {
	// Base is the caller-side address of the mapped physical start. The
	// manager compares it but never dereferences it.
	Base() uint64
	Release() error
}
