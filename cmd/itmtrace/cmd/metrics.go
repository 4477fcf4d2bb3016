/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/facebook/itmtrace/itm"
)

// decodeMetrics tracks counters published over --metrics-addr while a
// decode/timestamps subcommand drains a stream.
type decodeMetrics struct {
	registry        *prometheus.Registry
	packetsByKind   *prometheus.CounterVec
	malformedByCase *prometheus.CounterVec
	offsetNS        prometheus.Gauge
}

func newDecodeMetrics() *decodeMetrics {
	m := &decodeMetrics{
		registry: prometheus.NewRegistry(),
		packetsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itmtrace_packets_total",
			Help: "Trace packets decoded, by kind.",
		}, []string{"kind"}),
		malformedByCase: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itmtrace_malformed_packets_total",
			Help: "Malformed-packet errors recovered, by error type.",
		}, []string{"case"}),
		offsetNS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "itmtrace_offset_nanoseconds",
			Help: "Most recently reconstructed absolute offset from target reset, in nanoseconds.",
		}),
	}
	m.registry.MustRegister(m.packetsByKind, m.malformedByCase, m.offsetNS)
	return m
}

func (m *decodeMetrics) observePacket(p itm.TracePacket) {
	m.packetsByKind.WithLabelValues(p.Kind.String()).Inc()
}

func (m *decodeMetrics) observeMalformed(errCase string) {
	m.malformedByCase.WithLabelValues(errCase).Inc()
}

// serve runs a /metrics HTTP server until ctx is canceled. It's meant to be
// run inside an errgroup alongside the decode loop, matching the teacher's
// general pattern of errgroup-supervised goroutines in its daemons.
func (m *decodeMetrics) serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Debugf("shutting down metrics server on %s", addr)
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
