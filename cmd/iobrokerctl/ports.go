// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/u-root/iobroker/pkg/client"
)

type inCmd struct {
	width int
}

func (*inCmd) Name() string     { return "in" }
func (*inCmd) Synopsis() string { return "read an I/O port" }
func (*inCmd) Usage() string {
	return `in [-w 8|16|32] PORT:
  Read PORT and print the value.
`
}

func (c *inCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.width, "w", 8, "access width in bits")
}

func (c *inCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || checkWidth(c.width) != nil {
		f.Usage()
		return subcommands.ExitUsageError
	}
	port, err := parseUint(f.Arg(0), 16)
	if err != nil {
		log.Error(err)
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(cl *client.Client) error {
		var v uint32
		switch c.width {
		case 8:
			b, err := cl.In8(uint16(port))
			v = uint32(b)
			if err != nil {
				return err
			}
		case 16:
			w, err := cl.In16(uint16(port))
			v = uint32(w)
			if err != nil {
				return err
			}
		case 32:
			if v, err = cl.In32(uint16(port)); err != nil {
				return err
			}
		}
		fmt.Printf("%#0*x\n", c.width/4+2, v)
		return nil
	})
}

type outCmd struct {
	width int
}

func (*outCmd) Name() string     { return "out" }
func (*outCmd) Synopsis() string { return "write an I/O port" }
func (*outCmd) Usage() string {
	return `out [-w 8|16|32] PORT VALUE:
  Write VALUE to PORT.
`
}

func (c *outCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.width, "w", 8, "access width in bits")
}

func (c *outCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 || checkWidth(c.width) != nil {
		f.Usage()
		return subcommands.ExitUsageError
	}
	port, err := parseUint(f.Arg(0), 16)
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
		switch c.width {
		case 8:
			return cl.Out8(uint16(port), uint8(v))
		case 16:
			return cl.Out16(uint16(port), uint16(v))
		}
		return cl.Out32(uint16(port), uint32(v))
	})
}
