// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dispatch executes control channel requests.
//
// A request is an opcode and a record buffer. The record is decoded in place,
// executed against the port backend or the zone manager, and the result is
// written back over the same buffer.
package dispatch

import (
	"errors"

	"github.com/u-root/iobroker/pkg/logger"
	"github.com/u-root/iobroker/pkg/metric"
	"github.com/u-root/iobroker/pkg/portio"
	"github.com/u-root/iobroker/pkg/wire"
	"github.com/u-root/iobroker/pkg/zone"
)

var (
	log = logger.LogContainer.GetSimpleLogger()
)

type handler func(d *Dispatcher, space zone.Space, op wire.Opcode, b []byte) error

var handlers = map[wire.Opcode]handler{
	wire.OpReadPort8:   (*Dispatcher).readPort,
	wire.OpReadPort16:  (*Dispatcher).readPort,
	wire.OpReadPort32:  (*Dispatcher).readPort,
	wire.OpWritePort8:  (*Dispatcher).writePort,
	wire.OpWritePort16: (*Dispatcher).writePort,
	wire.OpWritePort32: (*Dispatcher).writePort,
	wire.OpMapRange:    (*Dispatcher).mapRange,
	wire.OpUnmapRange:  (*Dispatcher).unmapRange,
	wire.OpReadMem8:    (*Dispatcher).readMem,
	wire.OpReadMem16:   (*Dispatcher).readMem,
	wire.OpReadMem32:   (*Dispatcher).readMem,
	wire.OpWriteMem8:   (*Dispatcher).writeMem,
	wire.OpWriteMem16:  (*Dispatcher).writeMem,
	wire.OpWriteMem32:  (*Dispatcher).writeMem,
}

type Dispatcher struct {
	ports portio.Port
	zones *zone.Manager
}

func New(ports portio.Port, zones *zone.Manager) *Dispatcher {
	return &Dispatcher{ports: ports, zones: zones}
}

// Handle runs one request for space. It returns the completion status and
// how many bytes at the front of buf are valid output: the record size on
// success, zero otherwise. Nothing is executed when buf is shorter than the
// opcode's record.
func (d *Dispatcher) Handle(space zone.Space, op wire.Opcode, buf []byte) (wire.Status, int) {
	st := d.handle(space, op, buf)
	label := op.String()
	if !op.Known() {
		label = "unknown"
	}
	metric.Requests.WithLabelValues(label, st.String()).Inc()
	if st != wire.StatusSuccess {
		return st, 0
	}
	return st, op.RecordSize()
}

func (d *Dispatcher) handle(space zone.Space, op wire.Opcode, buf []byte) wire.Status {
	h, ok := handlers[op]
	if !ok {
		log.Debugw("unsupported opcode", "op", op, "owner", space.String())
		return wire.StatusUnsupported
	}
	if len(buf) < op.RecordSize() {
		return wire.StatusBufferTooSmall
	}
	if err := h(d, space, op, buf); err != nil {
		st := StatusOf(err)
		log.Debugw("request failed", "op", op, "owner", space.String(), "status", st, "err", err)
		return st
	}
	return wire.StatusSuccess
}

// StatusOf maps an execution error to its wire status.
func StatusOf(err error) wire.Status {
	switch {
	case err == nil:
		return wire.StatusSuccess
	case errors.Is(err, zone.ErrCapacityExhausted):
		return wire.StatusCapacityExhausted
	case errors.Is(err, zone.ErrRangeRejected):
		return wire.StatusRangeRejected
	case errors.Is(err, zone.ErrMappingFailed):
		return wire.StatusMappingFailed
	case errors.Is(err, zone.ErrNoZone):
		return wire.StatusBadAddress
	case errors.Is(err, portio.ErrWidth):
		return wire.StatusUnsupported
	}
	return wire.StatusIOFailed
}

func (d *Dispatcher) readPort(_ zone.Space, op wire.Opcode, b []byte) error {
	r := wire.PortRecord{Width: op.Width()}
	if err := wire.Decode(&r, b); err != nil {
		return err
	}
	var err error
	switch r.Width {
	case 8:
		var v uint8
		v, err = d.ports.In8(r.Port)
		r.Value = uint32(v)
	case 16:
		var v uint16
		v, err = d.ports.In16(r.Port)
		r.Value = uint32(v)
	case 32:
		r.Value, err = d.ports.In32(r.Port)
	}
	if err != nil {
		return err
	}
	wire.Encode(&r, b)
	return nil
}

func (d *Dispatcher) writePort(_ zone.Space, op wire.Opcode, b []byte) error {
	r := wire.PortRecord{Width: op.Width()}
	if err := wire.Decode(&r, b); err != nil {
		return err
	}
	switch r.Width {
	case 8:
		return d.ports.Out8(r.Port, uint8(r.Value))
	case 16:
		return d.ports.Out16(r.Port, uint16(r.Value))
	}
	return d.ports.Out32(r.Port, r.Value)
}

func (d *Dispatcher) mapRange(space zone.Space, _ wire.Opcode, b []byte) error {
	var r wire.MapRecord
	if err := wire.Decode(&r, b); err != nil {
		return err
	}
	base, err := d.zones.Map(space, uint64(r.Phys), r.Size)
	if err != nil {
		return err
	}
	r.CallerBase = base
	wire.Encode(&r, b)
	return nil
}

// unmapRange succeeds for bases that name no zone.
func (d *Dispatcher) unmapRange(space zone.Space, _ wire.Opcode, b []byte) error {
	var r wire.UnmapRecord
	if err := wire.Decode(&r, b); err != nil {
		return err
	}
	if !d.zones.Unmap(space, r.CallerBase, r.Size) {
		log.Debugw("unmap of unknown base", "base", r.CallerBase, "owner", space.String())
	}
	return nil
}

func (d *Dispatcher) readMem(space zone.Space, op wire.Opcode, b []byte) error {
	r := wire.MemRecord{Width: op.Width()}
	if err := wire.Decode(&r, b); err != nil {
		return err
	}
	err := d.zones.Access(space, r.Addr, uint32(r.Width/8), func(z zone.Region, off uint32) {
		switch r.Width {
		case 8:
			r.Value = uint32(z.Read8(off))
		case 16:
			r.Value = uint32(z.Read16(off))
		case 32:
			r.Value = z.Read32(off)
		}
	})
	if err != nil {
		return err
	}
	wire.Encode(&r, b)
	return nil
}

func (d *Dispatcher) writeMem(space zone.Space, op wire.Opcode, b []byte) error {
	r := wire.MemRecord{Width: op.Width()}
	if err := wire.Decode(&r, b); err != nil {
		return err
	}
	return d.zones.Access(space, r.Addr, uint32(r.Width/8), func(z zone.Region, off uint32) {
		switch r.Width {
		case 8:
			z.Write8(off, uint8(r.Value))
		case 16:
			z.Write16(off, uint16(r.Value))
		case 32:
			z.Write32(off, r.Value)
		}
	})
}
