// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package portiotest provides a scripted portio.Port. Tests queue the cycles
// they expect, in order, and the fake reports anything else.
package portiotest

import (
	"fmt"
	"sync"
	"testing"
)

type op struct {
	write bool
	port  uint16
	data  uint32
	size  int
	err   error
}

func opstr(o *op) string {
	t := "in"
	if o.write {
		t = "out"
	}
	return fmt.Sprintf("{%s @ %04x, %v bit = %08x}", t, o.port, o.size, o.data)
}

type Fake struct {
	t   testing.TB
	mu  sync.Mutex
	ops []op
}

func New(t testing.TB) *Fake {
	return &Fake{t: t}
}

func (f *Fake) next(write bool, port uint16, size int, data uint32) (op, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := "in"
	if write {
		dir = "out"
	}
	if len(f.ops) == 0 {
		f.t.Errorf("unexpected %d bit %s on %04x (data %08x)", size, dir, port, data)
		return op{}, false
	}
	o := f.ops[0]
	f.ops = f.ops[1:]
	if o.write != write || o.port != port || o.size != size || (write && o.data != data) {
		f.t.Errorf("expected %s, got %d bit %s on %04x (data %08x)", opstr(&o), size, dir, port, data)
		return o, false
	}
	return o, true
}

func (f *Fake) in(port uint16, size int) (uint32, error) {
	o, _ := f.next(false, port, size, 0)
	return o.data, o.err
}

func (f *Fake) out(port uint16, size int, v uint32) error {
	o, _ := f.next(true, port, size, v)
	return o.err
}

func (f *Fake) In8(port uint16) (uint8, error) {
	v, err := f.in(port, 8)
	return uint8(v), err
}

func (f *Fake) In16(port uint16) (uint16, error) {
	v, err := f.in(port, 16)
	return uint16(v), err
}

func (f *Fake) In32(port uint16) (uint32, error) {
	return f.in(port, 32)
}

func (f *Fake) Out8(port uint16, v uint8) error {
	return f.out(port, 8, uint32(v))
}

func (f *Fake) Out16(port uint16, v uint16) error {
	return f.out(port, 16, uint32(v))
}

func (f *Fake) Out32(port uint16, v uint32) error {
	return f.out(port, 32, v)
}

func (f *Fake) push(o op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, o)
}

// ExpectOut queues a write of size bits.
func (f *Fake) ExpectOut(size int, port uint16, v uint32) {
	f.push(op{write: true, port: port, data: v, size: size})
}

// FakeIn queues a read of size bits answering v.
func (f *Fake) FakeIn(size int, port uint16, v uint32) {
	f.push(op{port: port, data: v, size: size})
}

// FailIn queues a read of size bits that fails with err.
func (f *Fake) FailIn(size int, port uint16, err error) {
	f.push(op{port: port, size: size, err: err})
}

// Done reports queued cycles that never happened.
func (f *Fake) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.ops {
		f.t.Errorf("expected %s never happened", opstr(&f.ops[i]))
	}
}
