package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	ferrors "fleet-trader/internal/errors"
)

// OTelConfig configures the OTLP metrics exporter.
type OTelConfig struct {
	Endpoint    string
	Insecure    bool
	Interval    time.Duration
	ServiceName string
}

// OTelSink records every numeric field as a gauge named
// "<measurement>.<field>". Tags and string fields become attributes.
type OTelSink struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu     sync.Mutex
	gauges map[string]metric.Float64Gauge
}

// NewOTelSink creates a sink exporting over OTLP/HTTP.
func NewOTelSink(ctx context.Context, cfg OTelConfig) (*OTelSink, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint))}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, ferrors.NewSinkError("otel", "", fmt.Errorf("create metric exporter: %w", err))
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	name := cfg.ServiceName
	if name == "" {
		name = "fleet-trader"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(name)),
		resource.WithHost(),
	)
	if err != nil {
		return nil, ferrors.NewSinkError("otel", "", fmt.Errorf("create resource: %w", err))
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	return NewOTelSinkWithProvider(provider), nil
}

// NewOTelSinkWithProvider wraps an existing meter provider.
func NewOTelSinkWithProvider(provider *sdkmetric.MeterProvider) *OTelSink {
	return &OTelSink{
		provider: provider,
		meter:    provider.Meter("fleet-trader"),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

func (s *OTelSink) gauge(name string) (metric.Float64Gauge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g, nil
	}
	g, err := s.meter.Float64Gauge(name)
	if err != nil {
		return nil, err
	}
	s.gauges[name] = g
	return g, nil
}

// Write records points.
func (s *OTelSink) Write(ctx context.Context, points ...Point) error {
	for _, p := range points {
		attrs := make([]attribute.KeyValue, 0, len(p.Tags)+len(p.Fields))
		for k, v := range p.Tags {
			attrs = append(attrs, attribute.String(k, v))
		}
		numeric := make(map[string]float64, len(p.Fields))
		for k, v := range p.Fields {
			if f, ok := toFloat(v); ok {
				numeric[k] = f
				continue
			}
			attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		}
		sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
		set := metric.WithAttributes(attrs...)

		for field, v := range numeric {
			g, err := s.gauge(p.Measurement + "." + field)
			if err != nil {
				return ferrors.NewSinkError("otel", p.Measurement, err)
			}
			g.Record(ctx, v, set)
		}
	}
	return nil
}

// Close flushes and shuts down the provider.
func (s *OTelSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.provider.Shutdown(ctx)
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}
