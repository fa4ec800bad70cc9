// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session tracks control channel sessions and releases what a
// session left mapped when it goes away.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/iobroker/pkg/logger"
	"github.com/u-root/iobroker/pkg/metric"
	"github.com/u-root/iobroker/pkg/zone"
)

var (
	log = logger.LogContainer.GetSimpleLogger()
)

// Peer identifies the process on the other end of a session. A negative PID
// means unknown.
type Peer struct {
	UID uint32
	PID int32
}

func (p Peer) String() string {
	return fmt.Sprintf("uid %d pid %d", p.UID, p.PID)
}

type Session struct {
	ID     uint64
	Peer   Peer
	Space  zone.Space
	Opened time.Time
}

// Hooks run when sessions open and close.
type Hooks struct {
	zones *zone.Manager
	clock clock.Clock

	mu     sync.Mutex
	nextID uint64
	open   map[uint64]*Session
}

func NewHooks(zones *zone.Manager, clk clock.Clock) *Hooks {
	if clk == nil {
		clk = clock.New()
	}
	return &Hooks{zones: zones, clock: clk, open: make(map[uint64]*Session)}
}

// Open registers a session. The zone table is not touched.
func (h *Hooks) Open(peer Peer, space zone.Space) *Session {
	h.mu.Lock()
	h.nextID++
	s := &Session{ID: h.nextID, Peer: peer, Space: space, Opened: h.clock.Now()}
	h.open[s.ID] = s
	h.mu.Unlock()

	metric.SessionsOpen.Inc()
	metric.SessionsTotal.Inc()
	log.Infow("session opened", "session", s.ID, "peer", peer.String(), "space", space.String())
	return s
}

// Close releases every zone the session still holds, however it ended, and
// returns how many there were. Closing a session twice sweeps nothing the
// second time.
func (h *Hooks) Close(s *Session) int {
	n := h.zones.CleanupOwner(s.Space)

	h.mu.Lock()
	_, ok := h.open[s.ID]
	delete(h.open, s.ID)
	h.mu.Unlock()

	if ok {
		metric.SessionsOpen.Dec()
	}
	metric.SweptZones.Add(float64(n))
	if n > 0 {
		log.Warnw("session closed with zones mapped", "session", s.ID, "peer", s.Peer.String(), "swept", n)
	} else {
		log.Infow("session closed", "session", s.ID, "peer", s.Peer.String(),
			"duration", h.clock.Now().Sub(s.Opened).String())
	}
	return n
}

// Count returns the number of open sessions.
func (h *Hooks) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.open)
}

// Sessions returns the open sessions ordered by ID.
func (h *Hooks) Sessions() []Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := make([]Session, 0, len(h.open))
	for _, s := range h.open {
		r = append(r, *s)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}
