// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// iobrokerctl does port I/O and physical memory access through iobrokerd,
// or in-process with -local.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/subcommands"
	"github.com/spf13/afero"
	"github.com/u-root/iobroker/config"
	"github.com/u-root/iobroker/pkg/broker"
	"github.com/u-root/iobroker/pkg/client"
	"github.com/u-root/iobroker/pkg/logger"
)

var (
	socket     = flag.String("socket", config.DefaultConfig.Server.Socket, "Broker control socket")
	introSock  = flag.String("introspect", config.DefaultConfig.Introspect.Socket, "Broker introspection socket")
	local      = flag.Bool("local", false, "Run the broker inside this process instead of connecting to iobrokerd")
	configPath = flag.String("config", "", "Configuration used with -local")
	timeout    = flag.Duration("timeout", 10*time.Second, "Time to wait for the broker")
	verbose    = flag.Bool("v", false, "Log debug messages")

	log = logger.LogContainer.GetSimpleLogger()
)

// env is handed to every subcommand.
type env struct{}

// connect returns a broker session and what to close when done with it.
func (env) connect(ctx context.Context) (*client.Client, io.Closer, error) {
	if *local {
		conf, err := config.Load(afero.NewOsFs(), *configPath)
		if err != nil {
			return nil, nil, err
		}
		return broker.Local(conf)
	}
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	c, err := client.Dial(ctx, *socket)
	if err != nil {
		return nil, nil, err
	}
	c.Timeout = *timeout
	return c, c, nil
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%q is not a %d-bit number", s, bits)
	}
	return v, nil
}

func checkWidth(w int) error {
	switch w {
	case 8, 16, 32:
		return nil
	}
	return fmt.Errorf("width must be 8, 16 or 32, not %d", w)
}

// run adapts a command body to a subcommands exit status.
func run(ctx context.Context, args []interface{}, f func(c *client.Client) error) subcommands.ExitStatus {
	e := args[0].(env)
	c, closer, err := e.connect(ctx)
	if err != nil {
		log.Errorf("Connecting to broker: %v", err)
		return subcommands.ExitFailure
	}
	defer closer.Close()
	if err := f(c); err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&inCmd{}, "ports")
	subcommands.Register(&outCmd{}, "ports")
	subcommands.Register(&peekCmd{}, "memory")
	subcommands.Register(&pokeCmd{}, "memory")
	subcommands.Register(&dumpCmd{}, "memory")
	subcommands.Register(&w39Cmd{}, "flash")
	subcommands.Register(&statusCmd{}, "introspection")
	subcommands.Register(&zonesCmd{}, "introspection")
	subcommands.Register(&rpcCmd{}, "introspection")

	flag.Parse()
	if *verbose {
		if err := logger.Configure(logger.Options{Level: "debug"}); err != nil {
			log.Fatal(err)
		}
	}
	os.Exit(int(subcommands.Execute(context.Background(), env{})))
}
