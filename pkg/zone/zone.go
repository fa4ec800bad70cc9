// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zone keeps the table of physical ranges currently mapped on behalf
// of callers.
//
// The table has a fixed number of slots. A zone is created by Map, found by
// its caller-side base on Unmap, and force-released by the session sweep.
// The manager owns every resource behind a zone; callers only ever see the
// caller-side base address.
package zone

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/iobroker/pkg/logger"
	"github.com/u-root/iobroker/pkg/metric"
	"github.com/u-root/iobroker/pkg/policy"
	"go.uber.org/multierr"
)

const DefaultCapacity = 256

var (
	log = logger.LogContainer.GetSimpleLogger()
)

type slotState int

const (
	slotFree slotState = iota
	slotOccupied
)

type slot struct {
	state slotState
	zone  Zone
}

// Zone is one live mapping.
type Zone struct {
	Phys     uint64
	Size     uint32
	MappedAt time.Time

	region Region
	pin    Pin
	view   View
	space  Space
}

func (z *Zone) rng() policy.Range {
	return policy.Range{Start: z.Phys, Size: uint64(z.Size)}
}

func (z *Zone) contains(addr uint64, width uint32) bool {
	base := z.view.Base()
	return addr >= base && addr-base <= uint64(z.Size) && uint64(z.Size)-(addr-base) >= uint64(width)
}

// Info is a snapshot of a zone that is safe to hand out.
type Info struct {
	Slot       int
	Phys       uint64
	Size       uint32
	CallerBase uint64
	Owner      string
	MappedAt   time.Time
}

type Manager struct {
	mu     sync.Mutex
	slots  []slot
	mapper Mapper
	pinner Pinner
	policy policy.Policy
	clock  clock.Clock
}

type Option func(*Manager)

func WithCapacity(n int) Option {
	return func(m *Manager) {
		m.slots = make([]slot, n)
	}
}

func WithPolicy(p policy.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func NewManager(mapper Mapper, pinner Pinner, opts ...Option) *Manager {
	m := &Manager{
		slots:  make([]slot, DefaultCapacity),
		mapper: mapper,
		pinner: pinner,
		clock:  clock.New(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Map projects [phys, phys+size) into space and returns the caller-side base.
func (m *Manager) Map(space Space, phys uint64, size uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.freeSlot()
	if idx < 0 {
		return 0, ErrCapacityExhausted
	}
	if !m.policy.Admit(phys, uint64(size), m.activeRanges()) {
		return 0, fmt.Errorf("%w: %#x+%#x", ErrRangeRejected, phys, size)
	}
	z, err := m.acquire(space, phys, size)
	if err != nil {
		return 0, err
	}
	m.slots[idx] = slot{state: slotOccupied, zone: z}
	metric.ZonesMapped.Inc()
	log.Debugw("mapped zone", "slot", idx, "phys", fmt.Sprintf("%#x", phys), "size", size, "owner", space.String())
	return z.view.Base(), nil
}

// acquire runs the three acquisition steps. Whatever was acquired before a
// failing step is released before returning.
func (m *Manager) acquire(space Space, phys uint64, size uint32) (z Zone, err error) {
	var undo []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			if uerr := undo[i](); uerr != nil {
				metric.ZoneReleaseErrors.Inc()
				log.Errorw("unwinding failed mapping", "phys", fmt.Sprintf("%#x", phys), "err", uerr)
			}
		}
	}()

	r, err := m.mapper.MapDevice(phys, size)
	if err != nil {
		return z, fmt.Errorf("%w: map device memory: %v", ErrMappingFailed, err)
	}
	undo = append(undo, r.Unmap)

	p, err := m.pinner.Pin(r)
	if err != nil {
		return z, fmt.Errorf("%w: pin: %v", ErrMappingFailed, err)
	}
	undo = append(undo, p.Unpin)

	v, err := space.Project(Placement{Phys: phys, Size: size, Region: r})
	if err != nil {
		return z, fmt.Errorf("%w: project into %s: %v", ErrMappingFailed, space, err)
	}

	return Zone{
		Phys:     phys,
		Size:     size,
		MappedAt: m.clock.Now(),
		region:   r,
		pin:      p,
		view:     v,
		space:    space,
	}, nil
}

// Unmap releases the zone space knows as callerBase. It returns false when
// there is no such zone, which is not an error: the caller may be retrying
// or racing its own session teardown. size is advisory.
func (m *Manager) Unmap(space Space, callerBase uint64, size uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		s := &m.slots[i]
		if s.state != slotOccupied || s.zone.space != space || s.zone.view.Base() != callerBase {
			continue
		}
		if size != s.zone.Size {
			log.Warnw("unmap size does not match zone", "slot", i, "size", size, "zone_size", s.zone.Size)
		}
		m.release(i)
		return true
	}
	return false
}

// CleanupOwner releases every zone projected into space and returns how many
// there were.
func (m *Manager) CleanupOwner(space Space) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.slots {
		if m.slots[i].state == slotOccupied && m.slots[i].zone.space == space {
			m.release(i)
			n++
		}
	}
	return n
}

// CleanupAll releases every zone in table order regardless of owner.
// Running it on an empty table does nothing.
func (m *Manager) CleanupAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.slots {
		if m.slots[i].state == slotOccupied {
			m.release(i)
			n++
		}
	}
	return n
}

// release tears down slot i in reverse acquisition order and frees it even
// if a step fails; a half-released zone cannot be retried meaningfully.
func (m *Manager) release(i int) {
	z := &m.slots[i].zone
	err := multierr.Combine(z.view.Release(), z.pin.Unpin(), z.region.Unmap())
	if err != nil {
		metric.ZoneReleaseErrors.Inc()
		log.Errorw("releasing zone", "slot", i, "phys", fmt.Sprintf("%#x", z.Phys), "err", err)
	} else {
		log.Debugw("released zone", "slot", i, "phys", fmt.Sprintf("%#x", z.Phys), "owner", z.space.String())
	}
	m.slots[i] = slot{}
}

// Access finds the zone of space that holds [addr, addr+width) and runs fn
// with the privileged region and the offset into it. fn runs under the table
// lock so the zone cannot go away underneath it.
func (m *Manager) Access(space Space, addr uint64, width uint32, fn func(r Region, off uint32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		z := &m.slots[i].zone
		if m.slots[i].state != slotOccupied || z.space != space || !z.contains(addr, width) {
			continue
		}
		fn(z.region, uint32(addr-z.view.Base()))
		return nil
	}
	return fmt.Errorf("%w: %#x", ErrNoZone, addr)
}

func (m *Manager) freeSlot() int {
	for i := range m.slots {
		if m.slots[i].state == slotFree {
			return i
		}
	}
	return -1
}

func (m *Manager) activeRanges() []policy.Range {
	var r []policy.Range
	for i := range m.slots {
		if m.slots[i].state == slotOccupied {
			r = append(r, m.slots[i].zone.rng())
		}
	}
	return r
}

// Zones returns the live zones in table order.
func (m *Manager) Zones() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var r []Info
	for i := range m.slots {
		if m.slots[i].state != slotOccupied {
			continue
		}
		z := &m.slots[i].zone
		r = append(r, Info{
			Slot:       i,
			Phys:       z.Phys,
			Size:       z.Size,
			CallerBase: z.view.Base(),
			Owner:      z.space.String(),
			MappedAt:   z.MappedAt,
		})
	}
	return r
}

// Active returns the number of live zones.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.slots {
		if m.slots[i].state == slotOccupied {
			n++
		}
	}
	return n
}

func (m *Manager) Capacity() int {
	return len(m.slots)
}
