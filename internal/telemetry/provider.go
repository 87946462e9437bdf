// Copyright 2025 The adwd Authors
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

// Package telemetry wires OpenTelemetry metrics and tracing for the
// single-host deployment: the metric pipeline is bridged to a
// Prometheus scrape endpoint, and spans go to stderr in debug runs.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the telemetry provider.
type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
}

// Provider owns the metric and trace pipelines.
type Provider struct {
	enabled  bool
	registry *prometheus.Registry
	meter    *sdkmetric.MeterProvider
	tracer   *sdktrace.TracerProvider
	metrics  *Metrics
}

// NewProvider builds the telemetry provider. When disabled it still
// returns a working no-op provider so callers need no nil checks.
func NewProvider(cfg Config) (*Provider, error) {
	registry := prometheus.NewRegistry()
	p := &Provider{
		enabled:  cfg.Enabled,
		registry: registry,
		metrics:  newMetrics(registry),
	}
	if !cfg.Enabled {
		return p, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	)

	metricExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	p.meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(metricExporter),
	)
	otel.SetMeterProvider(p.meter)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if os.Getenv("ADW_DEBUG") == "1" || os.Getenv("ADW_DEBUG") == "true" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	p.tracer = sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(p.tracer)

	return p, nil
}

// Metrics returns the application metric set.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// MetricsHandler returns the Prometheus scrape handler.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(name)
	}
	return p.tracer.Tracer(name)
}

// Shutdown flushes both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
