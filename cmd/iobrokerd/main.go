// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// iobrokerd lets unprivileged programs do port I/O and map physical memory
// through a unix socket.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/spf13/afero"
	"github.com/u-root/iobroker/config"
	"github.com/u-root/iobroker/pkg/broker"
	"github.com/u-root/iobroker/pkg/logger"
	"golang.org/x/sys/unix"
)

var (
	configPath = flag.String("config", "", "TOML configuration file laid over the defaults")
	logLevel   = flag.String("log-level", "", "Override log.level from the configuration")

	log = logger.LogContainer.GetSimpleLogger()
)

func main() {
	flag.Parse()

	conf, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		log.Fatalf("Loading configuration: %v", err)
	}
	if *logLevel != "" {
		conf.Log.Level = *logLevel
	}
	if err := logger.Configure(logger.Options{Level: conf.Log.Level, File: conf.Log.File}); err != nil {
		log.Fatalf("Configuring logging: %v", err)
	}

	b, err := broker.StartupWithConfig(conf)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()
	if err := b.Run(ctx); err != nil {
		log.Errorf("Broker stopped: %v", err)
		os.Exit(1)
	}
	log.Infof("Broker stopped")
}
