// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/u-root/iobroker/pkg/zone"
)

const (
	// WindowBase is the first address handed out in every session window.
	WindowBase = 0x7e0000000000
	pageSize   = 0x1000
	windowEnd  = 0x7f0000000000
)

var ErrWindowFull = errors.New("session window address space exhausted")

// Window is the caller address space of a remote session. Zones projected
// into it are reached through the window access requests. Addresses are
// page aligned like a real mapping and keep a guard page between zones.
// Fresh addresses are handed out first; released spans are recycled first
// fit once the fresh part of the window is used up.
type Window struct {
	name string

	mu    sync.Mutex
	next  uint64
	free  []span // sorted by start, coalesced
	views int
}

// span is [start, end) of window addresses, guard page included.
type span struct {
	start, end uint64
}

func NewWindow(name string) *Window {
	return &Window{name: name, next: WindowBase}
}

func (w *Window) String() string {
	return w.name
}

func (w *Window) Project(p zone.Placement) (zone.View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	off := p.Phys & (pageSize - 1)
	need := (off+uint64(p.Size)+pageSize-1)&^(pageSize-1) + pageSize
	var start uint64
	if windowEnd-w.next >= need {
		start = w.next
		w.next += need
	} else {
		var ok bool
		if start, ok = w.take(need); !ok {
			return nil, ErrWindowFull
		}
	}
	w.views++
	return &windowView{w: w, base: start + off, span: span{start, start + need}}, nil
}

func (w *Window) take(need uint64) (uint64, bool) {
	for i := range w.free {
		f := &w.free[i]
		if f.end-f.start < need {
			continue
		}
		start := f.start
		f.start += need
		if f.start == f.end {
			w.free = append(w.free[:i], w.free[i+1:]...)
		}
		return start, true
	}
	return 0, false
}

func (w *Window) give(s span) {
	i := sort.Search(len(w.free), func(i int) bool { return w.free[i].start > s.start })
	w.free = append(w.free, span{})
	copy(w.free[i+1:], w.free[i:])
	w.free[i] = s
	if i+1 < len(w.free) && w.free[i].end == w.free[i+1].start {
		w.free[i].end = w.free[i+1].end
		w.free = append(w.free[:i+1], w.free[i+2:]...)
	}
	if i > 0 && w.free[i-1].end == w.free[i].start {
		w.free[i-1].end = w.free[i].end
		w.free = append(w.free[:i], w.free[i+1:]...)
	}
}

// Views returns the number of zones currently projected.
func (w *Window) Views() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.views
}

type windowView struct {
	w        *Window
	base     uint64
	span     span
	released bool
}

func (v *windowView) Base() uint64 {
	return v.base
}

func (v *windowView) Release() error {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()
	if v.released {
		return errors.New("window view released twice")
	}
	v.released = true
	v.w.views--
	v.w.give(v.span)
	return nil
}
