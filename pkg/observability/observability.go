// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wires OpenTelemetry tracing and Prometheus
// metrics for the dev server.
//
// When disabled, the manager is a cheap noop: middleware passes
// through and no exporters are started.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config configures the observability stack.
type Config struct {
	// Enabled turns the whole stack on.
	Enabled bool

	// ServiceName reported on traces and metrics.
	ServiceName string

	// MetricsEnabled exposes request metrics in prometheus format.
	MetricsEnabled bool

	// TracingEnabled emits spans.
	TracingEnabled bool

	// OTLPEndpoint is the gRPC trace collector address. Empty with
	// tracing enabled falls back to a stdout exporter.
	OTLPEndpoint string
}

// Manager owns the tracer and meter providers and their exporters.
type Manager struct {
	cfg Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	recorder       *Recorder
}

// New builds the observability stack from config. A disabled config
// yields a noop manager.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	m := &Manager{cfg: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "maestro"
		m.cfg.ServiceName = cfg.ServiceName
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if cfg.TracingEnabled {
		exporter, err := newTraceExporter(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		m.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
	}

	if cfg.MetricsEnabled {
		m.registry = prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(m.registry))
		if err != nil {
			return nil, fmt.Errorf("observability: prometheus exporter: %w", err)
		}
		m.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		recorder, err := newRecorder(m.meterProvider)
		if err != nil {
			return nil, err
		}
		m.recorder = recorder
	}

	return m, nil
}

func newTraceExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: otlp exporter: %w", err)
		}
		return exporter, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("observability: stdout exporter: %w", err)
	}
	return exporter, nil
}

// Enabled reports whether the stack is active.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

// MetricsHandler returns the /metrics handler, or nil when metrics
// are off.
func (m *Manager) MetricsHandler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops all exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	var firstErr error
	if m.tracerProvider != nil {
		if err := m.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
