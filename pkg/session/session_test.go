// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/u-root/iobroker/pkg/metric"
	"github.com/u-root/iobroker/pkg/zone"
	"github.com/u-root/iobroker/pkg/zone/zonetest"
)

func TestCloseSweepsLeftoverZones(t *testing.T) {
	p := zonetest.New()
	m := zone.NewManager(p, p, zone.WithCapacity(4))
	h := NewHooks(m, clock.NewFake())

	w := NewWindow("client")
	s := h.Open(Peer{UID: 1000, PID: 42}, w)
	if _, err := m.Map(w, 0xF0000, 0x1000); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, err := m.Map(w, 0xFFB80000, 0x80000); err != nil {
		t.Fatalf("Map: %v", err)
	}

	swept := testutil.ToFloat64(metric.SweptZones)
	// The session ends without unmapping anything.
	if n := h.Close(s); n != 2 {
		t.Errorf("Close swept %d zones, want 2", n)
	}
	if m.Active() != 0 {
		t.Errorf("%d zones left after close", m.Active())
	}
	if regions, pins := p.Outstanding(); regions != 0 || pins != 0 || w.Views() != 0 {
		t.Errorf("outstanding regions %d pins %d views %d", regions, pins, w.Views())
	}
	if got := testutil.ToFloat64(metric.SweptZones); got != swept+2 {
		t.Errorf("swept counter = %v, want %v", got, swept+2)
	}

	// The whole table is available to the next session.
	next := NewWindow("next")
	h.Open(Peer{UID: 1000, PID: 43}, next)
	for i := 0; i < m.Capacity(); i++ {
		if _, err := m.Map(next, uint64(i)*0x1000, 0x1000); err != nil {
			t.Fatalf("Map %d after sweep: %v", i, err)
		}
	}
}

func TestCloseLeavesOtherSessionsAlone(t *testing.T) {
	p := zonetest.New()
	m := zone.NewManager(p, p)
	h := NewHooks(m, nil)

	a, b := NewWindow("a"), NewWindow("b")
	sa := h.Open(Peer{PID: 1}, a)
	h.Open(Peer{PID: 2}, b)
	m.Map(a, 0xF0000, 0x1000)
	m.Map(b, 0xE0000, 0x1000)

	if n := h.Close(sa); n != 1 {
		t.Errorf("Close swept %d zones, want 1", n)
	}
	if m.Active() != 1 || b.Views() != 1 {
		t.Errorf("session b lost its zone: active %d views %d", m.Active(), b.Views())
	}
	if h.Count() != 1 {
		t.Errorf("Count = %d, want 1", h.Count())
	}
}

func TestOpenCloseGauge(t *testing.T) {
	p := zonetest.New()
	h := NewHooks(zone.NewManager(p, p), nil)
	before := testutil.ToFloat64(metric.SessionsOpen)

	s := h.Open(Peer{}, NewWindow("w"))
	if got := testutil.ToFloat64(metric.SessionsOpen); got != before+1 {
		t.Errorf("open sessions = %v, want %v", got, before+1)
	}
	h.Close(s)
	h.Close(s)
	if got := testutil.ToFloat64(metric.SessionsOpen); got != before {
		t.Errorf("open sessions after double close = %v, want %v", got, before)
	}
}

func TestSessionsSnapshot(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	p := zonetest.New()
	h := NewHooks(zone.NewManager(p, p), clk)

	w1, w2 := NewWindow("one"), NewWindow("two")
	h.Open(Peer{UID: 0, PID: 10}, w1)
	clk.Add(time.Second)
	h.Open(Peer{UID: 1000, PID: 20}, w2)

	want := []Session{
		{ID: 1, Peer: Peer{UID: 0, PID: 10}, Space: w1, Opened: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{ID: 2, Peer: Peer{UID: 1000, PID: 20}, Space: w2, Opened: time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, h.Sessions(), cmp.Comparer(func(a, b zone.Space) bool { return a == b })); diff != "" {
		t.Errorf("Sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestWindowAddresses(t *testing.T) {
	w := NewWindow("w")
	v1, err := w.Project(zone.Placement{Phys: 0xFFB80002, Size: 1})
	if err != nil {
		t.Fatal(err)
	}
	v2, err := w.Project(zone.Placement{Phys: 0xF0000, Size: 0x1001})
	if err != nil {
		t.Fatal(err)
	}
	if v1.Base() != WindowBase+2 {
		t.Errorf("first base = %#x, want %#x", v1.Base(), uint64(WindowBase+2))
	}
	// One page for the first zone, one guard page.
	if v2.Base() != WindowBase+0x2000 {
		t.Errorf("second base = %#x, want %#x", v2.Base(), uint64(WindowBase+0x2000))
	}

	v1.Release()
	v3, _ := w.Project(zone.Placement{Phys: 0xFFB80002, Size: 1})
	if v3.Base() == v1.Base() {
		t.Errorf("released base %#x was handed out again", v1.Base())
	}
	if err := v1.Release(); err == nil {
		t.Errorf("second Release succeeded")
	}
}

func TestWindowExhausted(t *testing.T) {
	w := NewWindow("w")
	w.next = windowEnd - 0x1000
	if _, err := w.Project(zone.Placement{Phys: 0, Size: 0x1000}); !errors.Is(err, ErrWindowFull) {
		t.Errorf("Project error = %v, want %v", err, ErrWindowFull)
	}
}

func TestWindowRecyclesReleasedSpans(t *testing.T) {
	p := zonetest.New()
	m := zone.NewManager(p, p)
	w := NewWindow("s")
	if _, err := m.Map(w, 0xF0000, 0x1000); err != nil {
		t.Fatalf("Map: %v", err)
	}

	// Far more cycles than fresh window addresses exist for a flash sized zone.
	const size = 20 << 20
	rounds := int((windowEnd-WindowBase)/(size+pageSize)) + 100
	for i := 0; i < rounds; i++ {
		base, err := m.Map(w, 0xFEC00000, size)
		if err != nil {
			t.Fatalf("round trip %d: Map: %v", i, err)
		}
		if !m.Unmap(w, base, size) {
			t.Fatalf("round trip %d: Unmap(%#x) found no zone", i, base)
		}
	}
	if m.Active() != 1 || w.Views() != 1 {
		t.Errorf("active %d views %d, want the first zone only", m.Active(), w.Views())
	}
}

func TestWindowCoalescesFreeSpans(t *testing.T) {
	w := NewWindow("w")
	// Fresh space for two single page zones, each with its guard page.
	w.next = windowEnd - 4*pageSize
	v1, err := w.Project(zone.Placement{Phys: 0, Size: pageSize})
	if err != nil {
		t.Fatal(err)
	}
	v2, err := w.Project(zone.Placement{Phys: 0, Size: pageSize})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Project(zone.Placement{Phys: 0, Size: pageSize}); !errors.Is(err, ErrWindowFull) {
		t.Fatalf("Project into full window error = %v, want %v", err, ErrWindowFull)
	}

	v2.Release()
	v1.Release()
	// Only the merged span fits three pages plus a guard page.
	v3, err := w.Project(zone.Placement{Phys: 0, Size: 3 * pageSize})
	if err != nil {
		t.Fatalf("Project after release: %v", err)
	}
	if v3.Base() != windowEnd-4*pageSize {
		t.Errorf("recycled base = %#x, want %#x", v3.Base(), uint64(windowEnd-4*pageSize))
	}
	if len(w.free) != 0 {
		t.Errorf("free list = %v, want empty", w.free)
	}
}
