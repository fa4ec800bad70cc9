// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package broker wires the broker together: the device backends, the zone
// table, the control channel, introspection and metrics.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/u-root/iobroker/config"
	"github.com/u-root/iobroker/pkg/devmem"
	"github.com/u-root/iobroker/pkg/dispatch"
	"github.com/u-root/iobroker/pkg/introspect"
	"github.com/u-root/iobroker/pkg/logger"
	"github.com/u-root/iobroker/pkg/metric"
	"github.com/u-root/iobroker/pkg/policy"
	"github.com/u-root/iobroker/pkg/portio"
	"github.com/u-root/iobroker/pkg/server"
	"github.com/u-root/iobroker/pkg/session"
	"github.com/u-root/iobroker/pkg/zone"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	ErrAlreadyRunning = errors.New("another broker holds the lock")
)

type Broker struct {
	conf  *config.Config
	lock  *flock.Flock
	mem   *devmem.Mem
	Zones *zone.Manager
	Hooks *session.Hooks
	srv   *server.Server
	grpc  *grpc.Server

	listeners []net.Listener
	closers   []io.Closer
}

func managerOptions(conf *config.Config) []zone.Option {
	return []zone.Option{
		zone.WithCapacity(conf.Memory.Capacity),
		zone.WithPolicy(policy.Policy{Legacy: conf.Policy.Legacy}),
	}
}

func Startup() (*Broker, error) {
	return StartupWithConfig(config.DefaultConfig)
}

// StartupWithConfig takes the instance lock, opens the device backends and
// creates the sockets. Nothing is served until Run.
func StartupWithConfig(conf *config.Config) (_ *Broker, err error) {
	log.Infof("Starting iobroker version %s (%s)", conf.Version.Version, conf.Version.GitHash)
	b := &Broker{conf: conf}
	defer func() {
		if err != nil {
			b.close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(conf.Server.LockFile), 0755); err != nil {
		return nil, err
	}
	b.lock = flock.New(conf.Server.LockFile)
	ok, err := b.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %v", conf.Server.LockFile, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, conf.Server.LockFile)
	}

	log.Infof("Opening %s", conf.Memory.DevMem)
	b.mem, err = devmem.Open(conf.Memory.DevMem)
	if err != nil {
		return nil, err
	}
	log.Infof("Opening %s port backend", conf.Ports.Backend)
	ports, err := portio.Open(conf.Ports.Backend, conf.Ports.DevPort)
	if err != nil {
		return nil, err
	}
	if c, ok := ports.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}

	b.Zones = zone.NewManager(b.mem, b.mem, managerOptions(conf)...)
	if err := metric.RegisterZoneTable(b.Zones.Active, b.Zones.Capacity()); err != nil {
		log.Warnf("Zone table metrics not exported: %v", err)
	}
	b.Hooks = session.NewHooks(b.Zones, nil)
	b.srv = server.New(dispatch.New(ports, b.Zones), b.Hooks,
		server.WithMaxPayload(uint32(conf.Server.MaxPayload)),
		server.WithAllowedUIDs(conf.Server.AllowedUIDs))

	if err := os.MkdirAll(filepath.Dir(conf.Server.Socket), 0755); err != nil {
		return nil, err
	}
	l, err := server.Listen(conf.Server.Socket, os.FileMode(conf.Server.SocketMode))
	if err != nil {
		return nil, err
	}
	b.listeners = append(b.listeners, l)

	if conf.Introspect.Enable {
		il, err := server.Listen(conf.Introspect.Socket, os.FileMode(conf.Server.SocketMode))
		if err != nil {
			return nil, err
		}
		b.listeners = append(b.listeners, il)
		b.grpc = introspect.NewServer(introspect.New(b.Zones, b.Hooks, &conf.Version))
	}

	if conf.Metrics.Listen != "" {
		ml, err := metric.StartMetrics(conf.Metrics.Listen)
		if err != nil {
			return nil, err
		}
		b.listeners = append(b.listeners, ml)
	}
	return b, nil
}

// Run serves until ctx is done or a server fails, then ends every session,
// releases every zone and gives up the lock.
func (b *Broker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Control channel listening on %s", b.conf.Server.Socket)
		if err := b.srv.Serve(b.listeners[0]); err != server.ErrServerClosed {
			return err
		}
		return nil
	})
	rest := b.listeners[1:]
	if b.grpc != nil {
		l := rest[0]
		rest = rest[1:]
		g.Go(func() error {
			return introspect.Serve(b.grpc, l)
		})
	}
	if len(rest) > 0 {
		l := rest[0]
		g.Go(func() error {
			log.Infof("Metrics listening on %s", l.Addr())
			return metric.Serve(l)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Infof("Shutting down")
		b.srv.Shutdown()
		if b.grpc != nil {
			b.grpc.Stop()
		}
		for _, l := range b.listeners {
			l.Close()
		}
		return nil
	})
	err := g.Wait()
	if n := b.Zones.CleanupAll(); n > 0 {
		log.Warnf("Released %d zones left at shutdown", n)
	}
	return multierr.Append(err, b.close())
}

func (b *Broker) close() error {
	var err error
	for _, l := range b.listeners {
		l.Close()
	}
	for _, c := range b.closers {
		err = multierr.Append(err, c.Close())
	}
	if b.mem != nil {
		err = multierr.Append(err, b.mem.Close())
	}
	if b.lock != nil {
		err = multierr.Append(err, b.lock.Unlock())
	}
	return err
}
