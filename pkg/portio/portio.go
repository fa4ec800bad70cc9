// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package portio performs single x86 I/O port cycles.
//
// Every call is exactly one bus cycle of the requested width: no retries, no
// caching, nothing beyond the single in or out. Calls need no coordination
// with each other.
package portio

import (
	"errors"
	"fmt"
)

var ErrWidth = errors.New("access width not supported by this backend")

// Port is implemented by every backend.
type Port interface {
	In8(port uint16) (uint8, error)
	In16(port uint16) (uint16, error)
	In32(port uint16) (uint32, error)
	Out8(port uint16, v uint8) error
	Out16(port uint16, v uint16) error
	Out32(port uint16, v uint32) error
}

// Open returns the backend named by the broker configuration.
func Open(backend, devPort string) (Port, error) {
	switch backend {
	case "raw":
		r, err := NewRaw()
		if err != nil {
			return nil, err
		}
		return r, nil
	case "devport":
		d, err := OpenDevPort(devPort)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown port backend %q", backend)
}
