// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client talks to the broker over its control socket.
//
// A Client is one session. Requests on it are serialized, and every zone it
// mapped is released by the broker when the Client is closed or the process
// dies.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/u-root/iobroker/pkg/logger"
	"github.com/u-root/iobroker/pkg/wire"
	"github.com/u-root/iobroker/pkg/zone"
	"github.com/u-root/uio/uio"
)

var (
	log = logger.LogContainer.GetSimpleLogger()
)

// StatusError is a request the broker completed with a failure status.
type StatusError struct {
	Op     wire.Opcode
	Status wire.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %v", e.Op, e.Status)
}

// Is lets errors.Is match the zone errors behind a status.
func (e *StatusError) Is(target error) bool {
	switch e.Status {
	case wire.StatusCapacityExhausted:
		return target == zone.ErrCapacityExhausted
	case wire.StatusRangeRejected:
		return target == zone.ErrRangeRejected
	case wire.StatusMappingFailed:
		return target == zone.ErrMappingFailed
	case wire.StatusBadAddress:
		return target == zone.ErrNoZone
	}
	return false
}

type Client struct {
	// Timeout bounds each request. Zero waits forever.
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, Timeout: 10 * time.Second}
}

// Dial connects to the broker socket at path. While the broker is not up
// yet, Dial retries until ctx is done.
func Dial(ctx context.Context, path string) (*Client, error) {
	b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	var d net.Dialer
	for {
		c, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return NewClient(c), nil
		}
		wait := b.Duration()
		log.Debugw("broker not reachable", "socket", path, "err", err, "retry", wait.String())
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %v", path, err)
		case <-time.After(wait):
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

type record interface {
	uio.Marshaler
	uio.Unmarshaler
}

// call sends rec with op and decodes the returned record back into rec.
func (c *Client) call(op wire.Opcode, rec record) error {
	size := op.RecordSize()
	b := make([]byte, size)
	wire.Encode(rec, b)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.Timeout))
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := wire.WriteRequest(c.conn, &wire.Request{Op: op, Payload: b}); err != nil {
		return fmt.Errorf("%v: %v", op, err)
	}
	resp, err := wire.ReadResponse(c.conn, uint32(size))
	if err != nil {
		return fmt.Errorf("%v: %v", op, err)
	}
	if resp.Status != wire.StatusSuccess {
		return &StatusError{Op: op, Status: resp.Status}
	}
	if len(resp.Payload) != size {
		return fmt.Errorf("%v: %d byte response, want %d", op, len(resp.Payload), size)
	}
	return wire.Decode(rec, resp.Payload)
}

func (c *Client) in(op wire.Opcode, port uint16) (uint32, error) {
	r := wire.PortRecord{Width: op.Width(), Port: port}
	err := c.call(op, &r)
	return r.Value, err
}

func (c *Client) out(op wire.Opcode, port uint16, v uint32) error {
	return c.call(op, &wire.PortRecord{Width: op.Width(), Port: port, Value: v})
}

func (c *Client) In8(port uint16) (uint8, error) {
	v, err := c.in(wire.OpReadPort8, port)
	return uint8(v), err
}

func (c *Client) In16(port uint16) (uint16, error) {
	v, err := c.in(wire.OpReadPort16, port)
	return uint16(v), err
}

func (c *Client) In32(port uint16) (uint32, error) {
	return c.in(wire.OpReadPort32, port)
}

func (c *Client) Out8(port uint16, v uint8) error {
	return c.out(wire.OpWritePort8, port, uint32(v))
}

func (c *Client) Out16(port uint16, v uint16) error {
	return c.out(wire.OpWritePort16, port, uint32(v))
}

func (c *Client) Out32(port uint16, v uint32) error {
	return c.out(wire.OpWritePort32, port, v)
}

// Map asks the broker to map [phys, phys+size) and returns the caller base.
func (c *Client) Map(phys uint64, size uint32) (uint64, error) {
	if phys > 0xffffffff {
		return 0, fmt.Errorf("%w: %#x is above 4 GiB", zone.ErrRangeRejected, phys)
	}
	r := wire.MapRecord{Phys: uint32(phys), Size: size}
	if err := c.call(wire.OpMapRange, &r); err != nil {
		return 0, err
	}
	return r.CallerBase, nil
}

// Unmap releases the zone at base. Unknown bases are not an error.
func (c *Client) Unmap(base uint64, size uint32) error {
	return c.call(wire.OpUnmapRange, &wire.UnmapRecord{CallerBase: base, Size: size})
}

func (c *Client) readMem(op wire.Opcode, addr uint64) (uint32, error) {
	r := wire.MemRecord{Width: op.Width(), Addr: addr}
	err := c.call(op, &r)
	return r.Value, err
}

func (c *Client) writeMem(op wire.Opcode, addr uint64, v uint32) error {
	return c.call(op, &wire.MemRecord{Width: op.Width(), Addr: addr, Value: v})
}
