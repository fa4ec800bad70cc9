// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire defines the frames and records exchanged over the broker
// control channel. Everything is little-endian and packed.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/u-root/uio/uio"
)

const (
	Magic      = 0x4249
	Version    = 1
	HeaderSize = 12

	DefaultMaxPayload = 4096
)

var (
	ErrBadMagic   = errors.New("bad frame magic")
	ErrVersion    = errors.New("unsupported frame version")
	ErrTooLarge   = errors.New("frame payload too large")
	ErrShortFrame = errors.New("short frame")
)

// header is shared by requests and responses. Code is the opcode of a
// request and the status of a response; Length is the payload length of a
// request and the number of valid bytes of a response.
type header struct {
	Magic   uint16
	Version uint8
	Code    uint32
	Length  uint32
}

func (h *header) Marshal(l *uio.Lexer) {
	l.Write16(h.Magic)
	l.Write8(h.Version)
	l.Write8(0)
	l.Write32(h.Code)
	l.Write32(h.Length)
}

func (h *header) Unmarshal(l *uio.Lexer) error {
	h.Magic = l.Read16()
	h.Version = l.Read8()
	l.Read8()
	h.Code = l.Read32()
	h.Length = l.Read32()
	return l.FinError()
}

type Request struct {
	Op      Opcode
	Payload []byte
}

type Response struct {
	Status  Status
	Payload []byte
}

func writeFrame(w io.Writer, code uint32, payload []byte) error {
	h := header{Magic: Magic, Version: Version, Code: code, Length: uint32(len(payload))}
	b := uio.ToLittleEndian(&h)
	b = append(b, payload...)
	_, err := w.Write(b)
	return err
}

// readFrame returns io.EOF untouched when the peer closed between frames.
func readFrame(r io.Reader, max uint32) (uint32, []byte, error) {
	hb := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hb); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, ErrShortFrame
		}
		return 0, nil, err
	}
	var h header
	if err := uio.FromLittleEndian(&h, hb); err != nil {
		return 0, nil, err
	}
	if h.Magic != Magic {
		return 0, nil, fmt.Errorf("%w %#x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return 0, nil, fmt.Errorf("%w %d", ErrVersion, h.Version)
	}
	if h.Length > max {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, h.Length, max)
	}
	p := make([]byte, h.Length)
	if _, err := io.ReadFull(r, p); err != nil {
		return 0, nil, fmt.Errorf("%w: payload: %v", ErrShortFrame, err)
	}
	return h.Code, p, nil
}

func WriteRequest(w io.Writer, req *Request) error {
	return writeFrame(w, uint32(req.Op), req.Payload)
}

func ReadRequest(r io.Reader, max uint32) (*Request, error) {
	code, p, err := readFrame(r, max)
	if err != nil {
		return nil, err
	}
	return &Request{Op: Opcode(code), Payload: p}, nil
}

func WriteResponse(w io.Writer, resp *Response) error {
	return writeFrame(w, uint32(resp.Status), resp.Payload)
}

func ReadResponse(r io.Reader, max uint32) (*Response, error) {
	code, p, err := readFrame(r, max)
	if err != nil {
		return nil, err
	}
	return &Response{Status: Status(code), Payload: p}, nil
}
