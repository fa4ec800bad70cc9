// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"

	"github.com/u-root/uio/uio"
)

const (
	MapRecordSize   = 16
	UnmapRecordSize = 12
)

func PortRecordSize(width int) int {
	return 2 + width/8
}

func MemRecordSize(width int) int {
	return 8 + width/8
}

func writeValue(l *uio.Lexer, width int, v uint32) {
	switch width {
	case 8:
		l.Write8(uint8(v))
	case 16:
		l.Write16(uint16(v))
	default:
		l.Write32(v)
	}
}

func readValue(l *uio.Lexer, width int) uint32 {
	switch width {
	case 8:
		return uint32(l.Read8())
	case 16:
		return uint32(l.Read16())
	default:
		return l.Read32()
	}
}

func checkWidth(width int) error {
	switch width {
	case 8, 16, 32:
		return nil
	}
	return fmt.Errorf("invalid access width %d", width)
}

// PortRecord is the record of the port opcodes: port u16 followed by a value
// of Width bits.
type PortRecord struct {
	Width int
	Port  uint16
	Value uint32
}

func (r *PortRecord) Marshal(l *uio.Lexer) {
	l.Write16(r.Port)
	writeValue(l, r.Width, r.Value)
}

func (r *PortRecord) Unmarshal(l *uio.Lexer) error {
	if err := checkWidth(r.Width); err != nil {
		return err
	}
	r.Port = l.Read16()
	r.Value = readValue(l, r.Width)
	return l.Error()
}

// MapRecord asks for [Phys, Phys+Size) and carries the caller base back.
type MapRecord struct {
	Phys       uint32
	Size       uint32
	CallerBase uint64
}

func (r *MapRecord) Marshal(l *uio.Lexer) {
	l.Write32(r.Phys)
	l.Write32(r.Size)
	l.Write64(r.CallerBase)
}

func (r *MapRecord) Unmarshal(l *uio.Lexer) error {
	r.Phys = l.Read32()
	r.Size = l.Read32()
	r.CallerBase = l.Read64()
	return l.Error()
}

type UnmapRecord struct {
	CallerBase uint64
	Size       uint32
}

func (r *UnmapRecord) Marshal(l *uio.Lexer) {
	l.Write64(r.CallerBase)
	l.Write32(r.Size)
}

func (r *UnmapRecord) Unmarshal(l *uio.Lexer) error {
	r.CallerBase = l.Read64()
	r.Size = l.Read32()
	return l.Error()
}

// MemRecord is the record of the window opcodes: a caller address followed
// by a value of Width bits.
type MemRecord struct {
	Width int
	Addr  uint64
	Value uint32
}

func (r *MemRecord) Marshal(l *uio.Lexer) {
	l.Write64(r.Addr)
	writeValue(l, r.Width, r.Value)
}

func (r *MemRecord) Unmarshal(l *uio.Lexer) error {
	if err := checkWidth(r.Width); err != nil {
		return err
	}
	r.Addr = l.Read64()
	r.Value = readValue(l, r.Width)
	return l.Error()
}

// Decode reads a record from the front of b. Bytes past the record are
// ignored, the buffer may be larger than the record.
func Decode(rec uio.Unmarshaler, b []byte) error {
	return uio.FromLittleEndian(rec, b)
}

// Encode writes rec over the front of b and returns the number of bytes
// written. b must be large enough.
func Encode(rec uio.Marshaler, b []byte) int {
	return copy(b, uio.ToLittleEndian(rec))
}
