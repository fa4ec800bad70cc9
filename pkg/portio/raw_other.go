// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux || !amd64

package portio

import (
	"fmt"
	"runtime"
)

// Raw is only available on linux/amd64.
type Raw struct {
	Port
}

func NewRaw() (*Raw, error) {
	return nil, fmt.Errorf("raw port I/O is not supported on %s/%s, use the devport backend", runtime.GOOS, runtime.GOARCH)
}
