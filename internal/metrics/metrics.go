// Package metrics publishes fleet time series: regime, process health and
// per-bot performance.
package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/resilience"
)

// Measurement names written by the fleet.
const (
	MeasurementRegime         = "market_regime"
	MeasurementBotMonitor     = "bot_monitor"
	MeasurementAccountStats   = "account_stats"
	MeasurementBotPerformance = "bot_performance"
	MeasurementSectorScout    = "sector_scout"
)

// Point is one time-series sample. Field values are float64, int, int64,
// bool or string.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// NewPoint creates a point stamped with the current time.
func NewPoint(measurement string, tags map[string]string, fields map[string]interface{}) Point {
	return Point{Measurement: measurement, Tags: tags, Fields: fields, Time: time.Now()}
}

// Sink receives points.
type Sink interface {
	Write(ctx context.Context, points ...Point) error
	Close() error
}

// MultiSink fans points out to several sinks. Every sink is attempted.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, points ...Point) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, points...); err != nil {
			errs = append(errs, err)
		}
	}
	return ferrors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return ferrors.Join(errs...)
}

// Nop discards points.
type Nop struct{}

func (Nop) Write(context.Context, ...Point) error { return nil }
func (Nop) Close() error                          { return nil }

// Publish writes points with a bounded timeout. Failures are logged and
// dropped; the caller never retries.
func Publish(ctx context.Context, sink Sink, logger zerolog.Logger, points ...Point) {
	if sink == nil || len(points) == 0 {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sink.Write(writeCtx, points...); err != nil {
		logger.Warn().Err(err).Str("measurement", points[0].Measurement).Int("points", len(points)).Msg("metrics write failed")
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Guarded skips writes to a sink that keeps failing, so an unreachable
// database costs one timeout per cooldown instead of one per cycle.
type Guarded struct {
	Sink    Sink
	Breaker *resilience.Breaker
}

// NewGuarded wraps sink with a breaker named after it.
func NewGuarded(name string, sink Sink, cfg resilience.BreakerConfig) *Guarded {
	return &Guarded{Sink: sink, Breaker: resilience.NewBreaker(name, cfg)}
}

func (g *Guarded) Write(ctx context.Context, points ...Point) error {
	err := g.Breaker.Do(func() error { return g.Sink.Write(ctx, points...) })
	if ferrors.Is(err, resilience.ErrCircuitOpen) {
		measurement := ""
		if len(points) > 0 {
			measurement = points[0].Measurement
		}
		return ferrors.NewSinkError(g.Breaker.Name(), measurement, err)
	}
	return err
}

func (g *Guarded) Close() error { return g.Sink.Close() }
