// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import "fmt"

type Opcode uint32

const (
	OpReadPort8   Opcode = 0x801
	OpReadPort16  Opcode = 0x802
	OpReadPort32  Opcode = 0x803
	OpWritePort8  Opcode = 0x804
	OpWritePort16 Opcode = 0x805
	OpWritePort32 Opcode = 0x806
	OpMapRange    Opcode = 0x809
	OpUnmapRange  Opcode = 0x80A

	OpReadMem8   Opcode = 0x810
	OpReadMem16  Opcode = 0x811
	OpReadMem32  Opcode = 0x812
	OpWriteMem8  Opcode = 0x813
	OpWriteMem16 Opcode = 0x814
	OpWriteMem32 Opcode = 0x815
)

type opInfo struct {
	name  string
	size  int
	width int
}

var ops = map[Opcode]opInfo{
	OpReadPort8:   {"read_port8", PortRecordSize(8), 8},
	OpReadPort16:  {"read_port16", PortRecordSize(16), 16},
	OpReadPort32:  {"read_port32", PortRecordSize(32), 32},
	OpWritePort8:  {"write_port8", PortRecordSize(8), 8},
	OpWritePort16: {"write_port16", PortRecordSize(16), 16},
	OpWritePort32: {"write_port32", PortRecordSize(32), 32},
	OpMapRange:    {"map_range", MapRecordSize, 0},
	OpUnmapRange:  {"unmap_range", UnmapRecordSize, 0},
	OpReadMem8:    {"read_mem8", MemRecordSize(8), 8},
	OpReadMem16:   {"read_mem16", MemRecordSize(16), 16},
	OpReadMem32:   {"read_mem32", MemRecordSize(32), 32},
	OpWriteMem8:   {"write_mem8", MemRecordSize(8), 8},
	OpWriteMem16:  {"write_mem16", MemRecordSize(16), 16},
	OpWriteMem32:  {"write_mem32", MemRecordSize(32), 32},
}

func (o Opcode) String() string {
	if i, ok := ops[o]; ok {
		return i.name
	}
	return fmt.Sprintf("op(%#x)", uint32(o))
}

// Known reports whether o is one of the defined opcodes.
func (o Opcode) Known() bool {
	_, ok := ops[o]
	return ok
}

// RecordSize is the minimum buffer length o needs. It is zero for unknown
// opcodes.
func (o Opcode) RecordSize() int {
	return ops[o].size
}

// Width is the access width in bits of a port or window opcode.
func (o Opcode) Width() int {
	return ops[o].width
}

type Status uint32

const (
	StatusSuccess Status = iota
	StatusBufferTooSmall
	StatusUnsupported
	StatusCapacityExhausted
	StatusRangeRejected
	StatusMappingFailed
	StatusIOFailed
	StatusBadAddress
)

var statusNames = []string{
	"success",
	"buffer too small",
	"unsupported",
	"capacity exhausted",
	"range rejected",
	"mapping failed",
	"i/o failed",
	"bad address",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}
