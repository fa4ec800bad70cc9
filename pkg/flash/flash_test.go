// Copyright 2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/machinebox/progress"
	"github.com/u-root/iobroker/pkg/client"
	"github.com/u-root/iobroker/pkg/dispatch"
	"github.com/u-root/iobroker/pkg/portio/portiotest"
	"github.com/u-root/iobroker/pkg/server"
	"github.com/u-root/iobroker/pkg/session"
	"github.com/u-root/iobroker/pkg/zone"
	"github.com/u-root/iobroker/pkg/zone/zonetest"
)

func broker(t *testing.T) (*client.Client, *zonetest.Primitives, *zone.Manager) {
	t.Helper()
	p := zonetest.New()
	zones := zone.NewManager(p, p)
	srv := server.New(dispatch.New(portiotest.New(t), zones), session.NewHooks(zones, nil))
	c, s := net.Pipe()
	go srv.ServeConn(s)
	cl := client.NewClient(c)
	t.Cleanup(func() { cl.Close() })
	return cl, p, zones
}

func lockRegs(p *zonetest.Primitives) []byte {
	var r []byte
	for i := uint64(0); i < W39Blocks; i++ {
		r = append(r, p.Peek(W39LockBase+2+i*0x10000))
	}
	return r
}

func TestW39Unprotect(t *testing.T) {
	c, p, zones := broker(t)
	for i := uint64(0); i < W39Blocks; i++ {
		p.Poke(W39LockBase+2+i*0x10000, 0xA7)
	}
	// Bytes next to the registers stay untouched.
	p.Poke(W39LockBase+3, 0x5A)

	clk := clock.NewFake()
	start := clk.Now()
	if err := NewW39(Broker(c), clk).Unprotect(); err != nil {
		t.Fatalf("Unprotect: %v", err)
	}
	if got := lockRegs(p); !bytes.Equal(got, bytes.Repeat([]byte{0xA0}, W39Blocks)) {
		t.Errorf("lock registers = % x, want all a0", got)
	}
	if p.Peek(W39LockBase+3) != 0x5A {
		t.Errorf("neighbouring byte was modified")
	}
	// Each block settles after the read and after the write.
	if d := clk.Now().Sub(start); d != 2*W39Blocks*w39Settle {
		t.Errorf("settle time = %v, want %v", d, 2*W39Blocks*w39Settle)
	}
	if zones.Active() != 0 {
		t.Errorf("register window left mapped")
	}
}

func TestW39Protect(t *testing.T) {
	c, p, zones := broker(t)
	p.Poke(W39LockBase+2+0x30000, 0x04)
	if err := NewW39(Broker(c), clock.NewFake()).Protect(); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	want := []byte{1, 1, 1, 5, 1, 1, 1, 1}
	if got := lockRegs(p); !bytes.Equal(got, want) {
		t.Errorf("lock registers = % x, want % x", got, want)
	}
	if zones.Active() != 0 {
		t.Errorf("register window left mapped")
	}
}

func TestW39MapFailureAborts(t *testing.T) {
	c, p, _ := broker(t)
	p.FailMap = true
	err := NewW39(Broker(c), clock.NewFake()).Unprotect()
	if !errors.Is(err, zone.ErrMappingFailed) {
		t.Errorf("Unprotect error = %v, want %v", err, zone.ErrMappingFailed)
	}
}

func TestDump(t *testing.T) {
	c, p, zones := broker(t)
	img := make([]byte, 0x1003)
	for i := range img {
		img[i] = byte(i * 7)
	}
	p.Poke(0xF0000, img...)

	var out bytes.Buffer
	var pct []float64
	err := Dump(context.Background(), Broker(c), 0xF0000, uint32(len(img)), &out, time.Millisecond, func(p progress.Progress) {
		pct = append(pct, p.Percent())
	})
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !bytes.Equal(out.Bytes(), img) {
		t.Errorf("dump differs from physical memory")
	}
	for _, v := range pct {
		if v < 0 || v > 100 {
			t.Errorf("progress reported %v%%", v)
		}
	}
	if zones.Active() != 0 {
		t.Errorf("dump window left mapped")
	}
}

func TestDumpRejectedRange(t *testing.T) {
	c, _, _ := broker(t)
	err := Dump(context.Background(), Broker(c), 0x80000000, 0x1000, &bytes.Buffer{}, time.Second, nil)
	if !errors.Is(err, zone.ErrRangeRejected) {
		t.Errorf("Dump error = %v, want %v", err, zone.ErrRangeRejected)
	}
}
