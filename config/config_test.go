// Copyright 2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig.Validate(); err != nil {
		t.Fatalf("DefaultConfig does not validate: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	c, err := Load(afero.NewMemMapFs(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig, c); diff != "" {
		t.Errorf("Load(\"\") differs from DefaultConfig (-want +got):\n%s", diff)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/etc/iobroker.toml", []byte(`
[server]
socket = "/tmp/b.sock"
allowed_uids = [0, 1000]

[memory]
capacity = 8

[policy]
legacy = true
`), 0644)

	c, err := Load(fs, "/etc/iobroker.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := *DefaultConfig
	want.Server.Socket = "/tmp/b.sock"
	want.Server.AllowedUIDs = []uint32{0, 1000}
	want.Memory.Capacity = 8
	want.Policy.Legacy = true
	if diff := cmp.Diff(&want, c); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	if DefaultConfig.Memory.Capacity != 256 {
		t.Errorf("Load modified DefaultConfig")
	}
}

func TestLoadRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "[server]\nsockett = \"x\"\n", "unknown keys"},
		{"bad backend", "[ports]\nbackend = \"mmio\"\n", "ports.backend"},
		{"zero capacity", "[memory]\ncapacity = 0\n", "memory.capacity"},
		{"syntax", "[server\n", "parse config"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			afero.WriteFile(fs, "/c.toml", []byte(tc.body), 0644)
			_, err := Load(fs, "/c.toml")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(afero.NewMemMapFs(), "/nope.toml"); err == nil {
		t.Fatalf("Load of a missing file succeeded")
	}
}
