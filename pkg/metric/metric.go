// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metric

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iobroker"

var (
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Requests handled by the dispatcher, by operation and completion status",
	}, []string{"op", "status"})
	SessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "open",
		Help:      "Control channel sessions currently open",
	})
	SessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "opened_total",
		Help:      "Control channel sessions opened since start",
	})
	SweptZones = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "swept_zones_total",
		Help:      "Zones a session left mapped and that were released when it closed",
	})
	ZonesMapped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "zone",
		Name:      "mapped_total",
		Help:      "Zones successfully mapped since start",
	})
	ZoneReleaseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "zone",
		Name:      "release_errors_total",
		Help:      "Failures of the OS primitives while tearing a zone down",
	})
)

func init() {
	prometheus.MustRegister(Requests)
	prometheus.MustRegister(SessionsOpen)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SweptZones)
	prometheus.MustRegister(ZonesMapped)
	prometheus.MustRegister(ZoneReleaseErrors)
}

// RegisterZoneTable exports the occupancy of a zone table.
func RegisterZoneTable(active func() int, capacity int) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "zone",
		Name:      "active",
		Help:      "Zones currently mapped",
	}, func() float64 { return float64(active()) })
	c := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "zone",
		Name:      "capacity",
		Help:      "Slots in the zone table",
	})
	c.Set(float64(capacity))
	if err := prometheus.Register(g); err != nil {
		return err
	}
	return prometheus.Register(c)
}

// StartMetrics opens the listener /metrics is served on.
func StartMetrics(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %v", err)
	}
	return l, nil
}

// Serve blocks serving the default registry on l.
func Serve(l net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	err := http.Serve(l, mux)
	if err != nil && !isClosed(err) {
		return err
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed)
}
