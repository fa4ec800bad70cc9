// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zone_test

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/u-root/iobroker/pkg/policy"
	"github.com/u-root/iobroker/pkg/zone"
	"github.com/u-root/iobroker/pkg/zone/zonetest"
)

func newManager(t *testing.T, opts ...zone.Option) (*zone.Manager, *zonetest.Primitives) {
	t.Helper()
	p := zonetest.New()
	return zone.NewManager(p, p, opts...), p
}

func expectClean(t *testing.T, p *zonetest.Primitives, spaces ...*zonetest.Space) {
	t.Helper()
	if r, n := p.Outstanding(); r != 0 || n != 0 {
		t.Errorf("%d regions and %d pins leaked", r, n)
	}
	for _, s := range spaces {
		if v := s.Outstanding(); v != 0 {
			t.Errorf("%d views leaked in %s", v, s)
		}
	}
}

func TestMapOverlapUnmap(t *testing.T) {
	m, p := newManager(t)
	s := zonetest.NewSpace("session-1")

	base, err := m.Map(s, 0x000, 0x1000)
	if err != nil {
		t.Fatalf("Map(0x000, 0x1000): %v", err)
	}
	if base == 0 {
		t.Errorf("Map returned a zero caller base")
	}
	if n := m.Active(); n != 1 {
		t.Fatalf("Active = %d after first map, want 1", n)
	}

	if _, err := m.Map(s, 0x800, 0x1000); !errors.Is(err, zone.ErrRangeRejected) {
		t.Errorf("overlapping Map error = %v, want %v", err, zone.ErrRangeRejected)
	}
	if n := m.Active(); n != 1 {
		t.Errorf("Active = %d after rejected map, want 1", n)
	}

	if !m.Unmap(s, base, 0x1000) {
		t.Errorf("Unmap of a live zone reported no-op")
	}
	if n := m.Active(); n != 0 {
		t.Errorf("Active = %d after unmap, want 0", n)
	}
	if m.Unmap(s, base, 0x1000) {
		t.Errorf("second Unmap found a zone")
	}
	if n := m.Active(); n != 0 {
		t.Errorf("Active = %d after second unmap, want 0", n)
	}
	expectClean(t, p, s)
}

func TestSubRangeOfLiveZoneRejected(t *testing.T) {
	m, _ := newManager(t)
	s := zonetest.NewSpace("s")
	if _, err := m.Map(s, 0x0, 0x100000); err != nil {
		t.Fatalf("Map of the low megabyte: %v", err)
	}
	if _, err := m.Map(s, 0x1000, 0x1000); !errors.Is(err, zone.ErrRangeRejected) {
		t.Errorf("Map of an enclosed range error = %v, want %v", err, zone.ErrRangeRejected)
	}
}

func TestMapCrossingCeilingRejected(t *testing.T) {
	m, _ := newManager(t)
	if _, err := m.Map(zonetest.NewSpace("s"), 0xfffff000, 0x2000); !errors.Is(err, zone.ErrRangeRejected) {
		t.Errorf("Map across 4 GiB error = %v, want %v", err, zone.ErrRangeRejected)
	}
}

func TestLegacyPolicyOption(t *testing.T) {
	m, _ := newManager(t, zone.WithPolicy(policy.Policy{Legacy: true}))
	if _, err := m.Map(zonetest.NewSpace("s"), 0xf0000, 0x20000); err != nil {
		t.Errorf("legacy policy rejected a low range running past 1 MiB: %v", err)
	}
}

func TestCapacityExhausted(t *testing.T) {
	m, p := newManager(t, zone.WithCapacity(4))
	s := zonetest.NewSpace("s")
	for i := 0; i < 4; i++ {
		if _, err := m.Map(s, uint64(i)*0x1000, 0x1000); err != nil {
			t.Fatalf("Map #%d: %v", i, err)
		}
	}
	if _, err := m.Map(s, 0x10000, 0x1000); !errors.Is(err, zone.ErrCapacityExhausted) {
		t.Errorf("Map into a full table error = %v, want %v", err, zone.ErrCapacityExhausted)
	}
	if n := m.CleanupAll(); n != 4 {
		t.Errorf("CleanupAll released %d zones, want 4", n)
	}
	expectClean(t, p, s)
}

func TestFailedStepsUnwind(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(*zonetest.Primitives, *zonetest.Space)
	}{
		{"map", func(p *zonetest.Primitives, _ *zonetest.Space) { p.FailMap = true }},
		{"pin", func(p *zonetest.Primitives, _ *zonetest.Space) { p.FailPin = true }},
		{"project", func(_ *zonetest.Primitives, s *zonetest.Space) { s.FailProject = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, p := newManager(t, zone.WithCapacity(1))
			s := zonetest.NewSpace("s")
			tc.setup(p, s)

			if _, err := m.Map(s, 0x1000, 0x1000); !errors.Is(err, zone.ErrMappingFailed) {
				t.Fatalf("Map error = %v, want %v", err, zone.ErrMappingFailed)
			}
			if n := m.Active(); n != 0 {
				t.Errorf("Active = %d after failed map, want 0", n)
			}
			expectClean(t, p, s)

			// The single slot must still be usable.
			p.FailMap, p.FailPin, s.FailProject = false, false, false
			if _, err := m.Map(s, 0x1000, 0x1000); err != nil {
				t.Errorf("Map after failure: %v", err)
			}
		})
	}
}

func TestUnmapThenMapSameRange(t *testing.T) {
	m, p := newManager(t, zone.WithCapacity(1))
	s := zonetest.NewSpace("s")
	for i := 0; i < 3; i++ {
		base, err := m.Map(s, 0xffb80000, 0x80000)
		if err != nil {
			t.Fatalf("round %d: Map: %v", i, err)
		}
		if !m.Unmap(s, base, 0x80000) {
			t.Fatalf("round %d: Unmap found nothing", i)
		}
	}
	expectClean(t, p, s)
}

func TestCleanupAllIdempotent(t *testing.T) {
	m, p := newManager(t)
	s := zonetest.NewSpace("s")
	if n := m.CleanupAll(); n != 0 {
		t.Errorf("CleanupAll on an empty table released %d zones", n)
	}
	m.Map(s, 0x0, 0x1000)
	m.Map(s, 0x2000, 0x1000)
	if n := m.CleanupAll(); n != 2 {
		t.Errorf("first CleanupAll released %d zones, want 2", n)
	}
	if n := m.CleanupAll(); n != 0 {
		t.Errorf("second CleanupAll released %d zones, want 0", n)
	}
	expectClean(t, p, s)
}

func TestSweepThenFillTable(t *testing.T) {
	const capacity = 16
	m, p := newManager(t, zone.WithCapacity(capacity))
	s := zonetest.NewSpace("s")
	m.Map(s, 0x0, 0x1000)
	m.Map(s, 0x4000, 0x1000)

	if n := m.CleanupOwner(s); n != 2 {
		t.Fatalf("CleanupOwner released %d zones, want 2", n)
	}
	if n := m.Active(); n != 0 {
		t.Fatalf("Active = %d after sweep, want 0", n)
	}
	for i := 0; i < capacity; i++ {
		if _, err := m.Map(s, uint64(i)*0x1000, 0x1000); err != nil {
			t.Fatalf("Map #%d after sweep: %v", i, err)
		}
	}
	m.CleanupAll()
	expectClean(t, p, s)
}

func TestOwnersAreIsolated(t *testing.T) {
	m, _ := newManager(t)
	a := zonetest.NewSpace("a")
	b := zonetest.NewSpaceAt("b", zonetest.Base+0x10000000)

	ba, err := m.Map(a, 0x0, 0x1000)
	if err != nil {
		t.Fatalf("Map(a): %v", err)
	}
	bb, err := m.Map(b, 0x2000, 0x1000)
	if err != nil {
		t.Fatalf("Map(b): %v", err)
	}
	if ba == bb {
		t.Fatalf("a and b share caller base %#x", ba)
	}
	// Overlap is global: b may not map what a holds.
	if _, err := m.Map(b, 0x0, 0x1000); !errors.Is(err, zone.ErrRangeRejected) {
		t.Errorf("Map(b) over a's zone error = %v, want %v", err, zone.ErrRangeRejected)
	}
	if m.Unmap(b, ba, 0x1000) {
		t.Errorf("b unmapped a's zone")
	}
	if err := m.Access(b, ba, 1, func(zone.Region, uint32) {}); !errors.Is(err, zone.ErrNoZone) {
		t.Errorf("b accessed a's zone: %v", err)
	}
	if n := m.CleanupOwner(a); n != 1 {
		t.Errorf("CleanupOwner(a) released %d zones, want 1", n)
	}
	if n := m.Active(); n != 1 {
		t.Errorf("Active = %d, want b's zone to survive", n)
	}
}

func TestAccess(t *testing.T) {
	m, p := newManager(t)
	s := zonetest.NewSpace("s")
	p.Poke(0xffb80002, 0x5a)

	base, err := m.Map(s, 0xffb80000, 0x80000)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	var got uint8
	if err := m.Access(s, base+2, 1, func(r zone.Region, off uint32) { got = r.Read8(off) }); err != nil {
		t.Fatalf("Access: %v", err)
	}
	if got != 0x5a {
		t.Errorf("Read8 through zone = %#x, want 0x5a", got)
	}
	if err := m.Access(s, base+2, 4, func(r zone.Region, off uint32) { r.Write32(off, 0xdeadbeef) }); err != nil {
		t.Fatalf("Access: %v", err)
	}
	if v := p.Peek(0xffb80005); v != 0xde {
		t.Errorf("physical byte after Write32 = %#x, want 0xde", v)
	}

	for _, a := range []struct {
		addr  uint64
		width uint32
	}{
		{base - 1, 1},
		{base + 0x80000, 1},
		{base + 0x7fffe, 4},
	} {
		if err := m.Access(s, a.addr, a.width, func(zone.Region, uint32) { t.Errorf("fn ran for %#x", a.addr) }); !errors.Is(err, zone.ErrNoZone) {
			t.Errorf("Access(%#x, %d) error = %v, want %v", a.addr, a.width, err, zone.ErrNoZone)
		}
	}
}

func TestZonesSnapshot(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m, _ := newManager(t, zone.WithClock(clk))
	s := zonetest.NewSpace("uid=0 pid=42")

	b1, _ := m.Map(s, 0x0, 0x1000)
	clk.Add(time.Second)
	b2, _ := m.Map(s, 0xfff00000, 0x100000)

	want := []zone.Info{
		{Slot: 0, Phys: 0x0, Size: 0x1000, CallerBase: b1, Owner: "uid=0 pid=42", MappedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{Slot: 1, Phys: 0xfff00000, Size: 0x100000, CallerBase: b2, Owner: "uid=0 pid=42", MappedAt: time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, m.Zones()); diff != "" {
		t.Errorf("Zones mismatch (-want +got):\n%s", diff)
	}
}

func TestRandomSequencesKeepTableDisjoint(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	m, p := newManager(t, zone.WithCapacity(32))
	s := zonetest.NewSpace("s")
	var live []uint64

	for i := 0; i < 2000; i++ {
		if len(live) > 0 && r.Intn(3) == 0 {
			j := r.Intn(len(live))
			if !m.Unmap(s, live[j], 0) {
				t.Fatalf("step %d: Unmap(%#x) found nothing", i, live[j])
			}
			live = append(live[:j], live[j+1:]...)
			continue
		}
		phys := uint64(r.Intn(0x100)) * 0x1000
		if r.Intn(2) == 0 {
			phys += policy.HighWindowStart
		}
		size := uint32(r.Intn(8)+1) * 0x800
		active := m.Zones()
		var ranges []policy.Range
		for _, z := range active {
			ranges = append(ranges, policy.Range{Start: z.Phys, Size: uint64(z.Size)})
		}
		admitted := policy.Admit(phys, uint64(size), ranges)

		base, err := m.Map(s, phys, size)
		switch {
		case err == nil && !admitted:
			t.Fatalf("step %d: Map(%#x, %#x) succeeded for a range the policy denies", i, phys, size)
		case err == nil:
			live = append(live, base)
		case errors.Is(err, zone.ErrCapacityExhausted):
		case errors.Is(err, zone.ErrRangeRejected) && !admitted:
		default:
			t.Fatalf("step %d: Map(%#x, %#x): %v (admitted=%v)", i, phys, size, err, admitted)
		}

		zs := m.Zones()
		for a := range zs {
			for b := a + 1; b < len(zs); b++ {
				ra := policy.Range{Start: zs[a].Phys, Size: uint64(zs[a].Size)}
				rb := policy.Range{Start: zs[b].Phys, Size: uint64(zs[b].Size)}
				if ra.Overlaps(rb) {
					t.Fatalf("step %d: zones %+v and %+v overlap", i, zs[a], zs[b])
				}
			}
		}
	}
	m.CleanupAll()
	expectClean(t, p, s)
}

func TestConcurrentMapsOfSameRange(t *testing.T) {
	m, _ := newManager(t)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Map(zonetest.NewSpace("s"), 0x8000, 0x1000); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("%d concurrent maps of one range succeeded, want 1", won)
	}
	if n := m.Active(); n != 1 {
		t.Errorf("Active = %d, want 1", n)
	}
}
