// Copyright 2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flash holds firmware chip helpers built on the broker: block
// locking of the Winbond W39V040FA and dumping a physical range.
package flash

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jmhodges/clock"
	"github.com/machinebox/progress"
	"github.com/u-root/iobroker/pkg/client"
	"github.com/u-root/iobroker/pkg/logger"
	"go.uber.org/multierr"
)

var (
	log = logger.LogContainer.GetSimpleLogger()
)

// Window is a mapped physical range.
type Window interface {
	Read8(off uint32) (uint8, error)
	Write8(off uint32, v uint8) error
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

type Mapper interface {
	MapWindow(phys uint64, size uint32) (Window, error)
}

type brokerMapper struct {
	c *client.Client
}

// Broker maps windows through a broker session.
func Broker(c *client.Client) Mapper {
	return brokerMapper{c}
}

func (b brokerMapper) MapWindow(phys uint64, size uint32) (Window, error) {
	m, err := b.c.MapWindow(phys, size)
	if err != nil {
		return nil, err
	}
	return m, nil
}

const (
	// W39V040FA block locking registers, one per 64 KiB block.
	W39LockBase   = 0xFFB80000
	W39LockSize   = 0x80000
	W39Blocks     = 8
	w39BlockShift = 0x10000
	w39RegOffset  = 2
	w39Settle     = 10 * time.Microsecond

	lockWrite    = 0x01
	lockBitsMask = 0xF8
)

type W39 struct {
	m     Mapper
	clock clock.Clock
}

func NewW39(m Mapper, clk clock.Clock) *W39 {
	if clk == nil {
		clk = clock.New()
	}
	return &W39{m: m, clock: clk}
}

func (w *W39) update(name string, f func(uint8) uint8) (err error) {
	win, err := w.m.MapWindow(W39LockBase, W39LockSize)
	if err != nil {
		return fmt.Errorf("%s: map block locking registers: %w", name, err)
	}
	defer func() {
		err = multierr.Append(err, win.Close())
	}()
	for i := uint32(0); i < W39Blocks; i++ {
		off := w39RegOffset + i*w39BlockShift
		v, err := win.Read8(off)
		if err != nil {
			return fmt.Errorf("%s: block %d: %w", name, i, err)
		}
		w.clock.Sleep(w39Settle)
		nv := f(v)
		if err := win.Write8(off, nv); err != nil {
			return fmt.Errorf("%s: block %d: %w", name, i, err)
		}
		w.clock.Sleep(w39Settle)
		log.Debugw("block lock updated", "op", name, "block", i, "old", v, "new", nv)
	}
	return nil
}

// Unprotect clears the write lock, the lock-down and the read lock of every
// block.
func (w *W39) Unprotect() error {
	return w.update("unprotect", func(v uint8) uint8 { return v & lockBitsMask })
}

// Protect sets the write lock of every block.
func (w *W39) Protect() error {
	return w.update("protect", func(v uint8) uint8 { return v | lockWrite })
}

// Dump copies [phys, phys+size) to out. report, if set, receives progress
// updates every interval.
func Dump(ctx context.Context, m Mapper, phys uint64, size uint32, out io.Writer, interval time.Duration, report func(progress.Progress)) (err error) {
	win, err := m.MapWindow(phys, size)
	if err != nil {
		return fmt.Errorf("map %#x+%#x: %w", phys, size, err)
	}
	defer func() {
		err = multierr.Append(err, win.Close())
	}()

	r := progress.NewReader(io.NewSectionReader(win, 0, int64(size)))
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-done
	}()
	go func() {
		defer close(done)
		if report == nil {
			return
		}
		for p := range progress.NewTicker(ctx, r, int64(size), interval) {
			report(p)
		}
	}()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("read %#x+%#x: %w", phys, size, err)
	}
	return nil
}
