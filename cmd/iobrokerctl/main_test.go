// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "testing"

func TestParseUint(t *testing.T) {
	for _, tt := range []struct {
		in   string
		bits int
		want uint64
		ok   bool
	}{
		{"0x80", 16, 0x80, true},
		{"128", 8, 128, true},
		{"0xFFB80000", 64, 0xFFB80000, true},
		{"0x100", 8, 0, false},
		{"port", 16, 0, false},
	} {
		got, err := parseUint(tt.in, tt.bits)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseUint(%q, %d) = %#x, %v", tt.in, tt.bits, got, err)
		}
	}
}

func TestMethodName(t *testing.T) {
	if got := methodName("GetStatus"); got != "iobroker.Introspection.GetStatus" {
		t.Errorf("methodName = %q", got)
	}
	if got := methodName("iobroker.Introspection.ListZones"); got != "iobroker.Introspection.ListZones" {
		t.Errorf("methodName = %q", got)
	}
}
