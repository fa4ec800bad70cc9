// Copyright 2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/machinebox/progress"
	"github.com/u-root/iobroker/pkg/client"
	"github.com/u-root/iobroker/pkg/flash"
)

type peekCmd struct {
	width int
}

func (*peekCmd) Name() string     { return "peek" }
func (*peekCmd) Synopsis() string { return "read physical memory" }
func (*peekCmd) Usage() string {
	return `peek [-w 8|16|32] ADDRESS:
  Map the physical ADDRESS, read it and unmap it again.
`
}

func (c *peekCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.width, "w", 32, "access width in bits")
}

func (c *peekCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || checkWidth(c.width) != nil {
		f.Usage()
		return subcommands.ExitUsageError
	}
	addr, err := parseUint(f.Arg(0), 64)
	if err != nil {
		log.Error(err)
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(cl *client.Client) error {
		m, err := cl.MapWindow(addr, uint32(c.width/8))
		if err != nil {
			return err
		}
		defer m.Close()
		var v uint32
		switch c.width {
		case 8:
			b, err := m.Read8(0)
			if err != nil {
				return err
			}
			v = uint32(b)
		case 16:
			w, err := m.Read16(0)
			if err != nil {
				return err
			}
			v = uint32(w)
		case 32:
			if v, err = m.Read32(0); err != nil {
				return err
			}
		}
		fmt.Printf("%#0*x\n", c.width/4+2, v)
		return nil
	})
}

type pokeCmd struct {
	width int
}

func (*pokeCmd) Name() string     { return "poke" }
func (*pokeCmd) Synopsis() string { return "write physical memory" }
func (*pokeCmd) Usage() string {
	return `poke [-w 8|16|32] ADDRESS VALUE:
  Map the physical ADDRESS, write VALUE to it and unmap it again.
`
}

func (c *pokeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.width, "w", 32, "access width in bits")
}

func (c *pokeCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 || checkWidth(c.width) != nil {
		f.Usage()
		return subcommands.ExitUsageError
	}
	addr, err := parseUint(f.Arg(0), 64)
	if err != nil {
		log.Error(err)
		return subcommands.ExitUsageError
	}
	v, err := parseUint(f.Arg(1), c.width)
	if err != nil {
		log.Error(err)
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(cl *client.Client) error {
		m, err := cl.MapWindow(addr, uint32(c.width/8))
		if err != nil {
			return err
		}
		defer m.Close()
		switch c.width {
		case 8:
			return m.Write8(0, uint8(v))
		case 16:
			return m.Write16(0, uint16(v))
		}
		return m.Write32(0, uint32(v))
	})
}

type dumpCmd struct {
	out string
}

func (*dumpCmd) Name() string     { return "dump" }
func (*dumpCmd) Synopsis() string { return "copy a physical range to a file" }
func (*dumpCmd) Usage() string {
	return `dump -o FILE ADDRESS SIZE:
  Copy SIZE bytes of physical memory starting at ADDRESS to FILE, or to
  stdout when FILE is -.
`
}

func (c *dumpCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "-", "output file")
}

func (c *dumpCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	addr, err := parseUint(f.Arg(0), 64)
	if err != nil {
		log.Error(err)
		return subcommands.ExitUsageError
	}
	size, err := parseUint(f.Arg(1), 32)
	if err != nil {
		log.Error(err)
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(cl *client.Client) error {
		var out io.Writer = os.Stdout
		var report func(progress.Progress)
		if c.out != "-" {
			o, err := os.Create(c.out)
			if err != nil {
				return err
			}
			defer o.Close()
			out = o
			report = func(p progress.Progress) {
				fmt.Fprintf(os.Stderr, "Dumping %#x: %d %%\r", addr, int(p.Percent()))
			}
		}
		if err := flash.Dump(ctx, flash.Broker(cl), addr, uint32(size), out, 200*time.Millisecond, report); err != nil {
			return err
		}
		if report != nil {
			fmt.Fprintf(os.Stderr, "Dumping %#x: complete\n", addr)
		}
		return nil
	})
}

type w39Cmd struct{}

func (*w39Cmd) Name() string     { return "w39" }
func (*w39Cmd) Synopsis() string { return "lock or unlock W39V040FA flash blocks" }
func (*w39Cmd) Usage() string {
	return `w39 protect|unprotect:
  Set or clear the block locking registers of a Winbond W39V040FA.
`
}

func (*w39Cmd) SetFlags(f *flag.FlagSet) {}

func (*w39Cmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	var op func(*flash.W39) error
	switch f.Arg(0) {
	case "protect":
		op = (*flash.W39).Protect
	case "unprotect":
		op = (*flash.W39).Unprotect
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(cl *client.Client) error {
		return op(flash.NewW39(flash.Broker(cl), nil))
	})
}
