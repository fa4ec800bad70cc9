// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broker

import (
	"io"
	"net"

	"github.com/u-root/iobroker/config"
	"github.com/u-root/iobroker/pkg/client"
	"github.com/u-root/iobroker/pkg/devmem"
	"github.com/u-root/iobroker/pkg/dispatch"
	"github.com/u-root/iobroker/pkg/portio"
	"github.com/u-root/iobroker/pkg/server"
	"github.com/u-root/iobroker/pkg/session"
	"github.com/u-root/iobroker/pkg/zone"
	"go.uber.org/multierr"
)

// Local runs a private broker inside this process, for tools already running
// with the privileges the daemon would need. Zones are projected into this
// process as real mappings. Closing the returned closer ends the session and
// releases everything.
func Local(conf *config.Config) (*client.Client, io.Closer, error) {
	mem, err := devmem.Open(conf.Memory.DevMem)
	if err != nil {
		return nil, nil, err
	}
	ports, err := portio.Open(conf.Ports.Backend, conf.Ports.DevPort)
	if err != nil {
		mem.Close()
		return nil, nil, err
	}
	zones := zone.NewManager(mem, mem, managerOptions(conf)...)
	srv := server.New(dispatch.New(ports, zones), session.NewHooks(zones, nil),
		server.WithSpaces(func(name string) zone.Space { return devmem.NewLocalSpace(mem, name) }))

	c, s := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.ServeConn(s)
	}()
	cl := client.NewClient(c)
	return cl, closerFunc(func() error {
		err := cl.Close()
		<-done
		if pc, ok := ports.(io.Closer); ok {
			err = multierr.Append(err, pc.Close())
		}
		return multierr.Append(err, mem.Close())
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
