// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
)

type Version struct {
	Version string `toml:"-"`
	GitHash string `toml:"-"`
}

type Server struct {
	Socket      string   `toml:"socket"`
	SocketMode  uint32   `toml:"socket_mode"`
	LockFile    string   `toml:"lock_file"`
	MaxPayload  int      `toml:"max_payload"`
	AllowedUIDs []uint32 `toml:"allowed_uids"`
}

type Introspect struct {
	Enable bool   `toml:"enable"`
	Socket string `toml:"socket"`
}

type Metrics struct {
	Listen string `toml:"listen"`
}

type Memory struct {
	DevMem   string `toml:"devmem"`
	Capacity int    `toml:"capacity"`
}

type Ports struct {
	// Backend is "raw" for in/out instructions or "devport" for /dev/port.
	Backend string `toml:"backend"`
	DevPort string `toml:"devport"`
}

type Policy struct {
	Legacy bool `toml:"legacy"`
}

type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type Config struct {
	Server     Server     `toml:"server"`
	Introspect Introspect `toml:"introspect"`
	Metrics    Metrics    `toml:"metrics"`
	Memory     Memory     `toml:"memory"`
	Ports      Ports      `toml:"ports"`
	Policy     Policy     `toml:"policy"`
	Log        Log        `toml:"log"`
	Version    Version    `toml:"-"`
}

var DefaultConfig = &Config{
	Server: Server{
		Socket: "/run/iobroker/iobroker.sock",
		// Group members may talk to the broker, everyone else is kept out by
		// the socket permissions alone.
		SocketMode: 0660,
		LockFile:   "/run/iobroker/iobroker.lock",
		MaxPayload: 4096,
	},

	Introspect: Introspect{
		Enable: true,
		Socket: "/run/iobroker/introspect.sock",
	},

	// Loopback only by default.
	Metrics: Metrics{
		Listen: "127.0.0.1:9371",
	},

	Memory: Memory{
		DevMem:   "/dev/mem",
		Capacity: 256,
	},

	Ports: Ports{
		Backend: "raw",
		DevPort: "/dev/port",
	},

	Log: Log{
		Level: "info",
	},

	Version: Version{
		Version: gitVersion,
		GitHash: gitHash,
	},
}

var (
	gitVersion = "dev"
	gitHash    = "unknown"
)

// Load returns DefaultConfig with the values of the TOML file at path laid
// over it. An empty path returns a copy of DefaultConfig.
func Load(fs afero.Fs, path string) (*Config, error) {
	c := *DefaultConfig
	c.Server.AllowedUIDs = append([]uint32(nil), DefaultConfig.Server.AllowedUIDs...)
	if path == "" {
		return &c, nil
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %v", err)
	}
	defer f.Close()
	md, err := toml.NewDecoder(f).Decode(&c)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %v", path, err)
	}
	if u := md.Undecoded(); len(u) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", path, u)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the broker cannot start with.
func (c *Config) Validate() error {
	if c.Server.Socket == "" {
		return fmt.Errorf("server.socket must be set")
	}
	if c.Server.MaxPayload < 16 {
		return fmt.Errorf("server.max_payload %d is smaller than the largest record", c.Server.MaxPayload)
	}
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory.capacity must be positive, got %d", c.Memory.Capacity)
	}
	switch c.Ports.Backend {
	case "raw", "devport":
	default:
		return fmt.Errorf("ports.backend %q is neither raw nor devport", c.Ports.Backend)
	}
	if c.Introspect.Enable && c.Introspect.Socket == "" {
		return fmt.Errorf("introspect.socket must be set when introspection is enabled")
	}
	return nil
}
