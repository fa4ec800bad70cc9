// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package policy decides which physical address ranges may be handed out to
// unprivileged callers.
//
// Two windows are mappable: the legacy low megabyte and the 20 MiB right
// below 4 GiB where chipsets decode the firmware flash. Everything in between
// is RAM or somebody else's MMIO and stays out of reach. This is a coarse
// fence for a flashing tool, not a general MMIO allocator.
package policy

const (
	LowWindowEnd    uint64 = 1 << 20
	Ceiling         uint64 = 1 << 32
	HighWindowStart uint64 = Ceiling - 20<<20
)

// Range is the half-open physical interval [Start, Start+Size).
type Range struct {
	Start uint64
	Size  uint64
}

// End returns the first address after r and whether it fits in 64 bits.
func (r Range) End() (uint64, bool) {
	e := r.Start + r.Size
	return e, e >= r.Start
}

// Overlaps reports whether r and o share at least one byte.
func (r Range) Overlaps(o Range) bool {
	re, _ := r.End()
	oe, _ := o.End()
	return r.Start < oe && o.Start < re
}

// Policy is the admission check. The zero value is the strict policy.
type Policy struct {
	// Legacy keeps the historical window predicate, which only rejects a
	// range that starts above the low window and ends below the high one.
	// Ranges starting in the low megabyte may then run arbitrarily far up.
	Legacy bool
}

// Admit reports whether [start, start+size) may be mapped next to the
// currently active zones. It has no side effects.
func (p Policy) Admit(start, size uint64, active []Range) bool {
	r := Range{start, size}
	if !p.inWindow(r) {
		return false
	}
	for _, a := range active {
		if r.Overlaps(a) {
			return false
		}
	}
	return true
}

func (p Policy) inWindow(r Range) bool {
	end, ok := r.End()
	if !ok || r.Size == 0 {
		return false
	}
	if r.Start >= Ceiling || end > Ceiling {
		return false
	}
	if p.Legacy {
		return !(r.Start > LowWindowEnd && end < HighWindowStart)
	}
	if end <= LowWindowEnd {
		return true
	}
	return r.Start >= HighWindowStart
}

// Admit applies the strict policy.
func Admit(start, size uint64, active []Range) bool {
	return Policy{}.Admit(start, size, active)
}
