// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zone

import "errors"

var (
	ErrCapacityExhausted = errors.New("no free zone slot")
	ErrRangeRejected     = errors.New("physical range rejected")
	ErrMappingFailed     = errors.New("mapping failed")
	ErrNoZone            = errors.New("address is not inside a mapped zone")
)
