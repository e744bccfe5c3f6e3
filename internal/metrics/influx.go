package metrics

import (
	"context"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	ferrors "fleet-trader/internal/errors"
)

// InfluxConfig locates an InfluxDB 1.x server.
type InfluxConfig struct {
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// NewInfluxClient creates an HTTP client for InfluxDB 1.x.
func NewInfluxClient(cfg InfluxConfig) (client.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, ferrors.NewSinkError("influx", "", err)
	}
	return c, nil
}

// InfluxSink writes points to InfluxDB using line protocol batches.
type InfluxSink struct {
	client   client.Client
	database string
}

// NewInfluxSink creates a sink for cfg.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	c, err := NewInfluxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &InfluxSink{client: c, database: cfg.Database}, nil
}

// Write sends points as one batch.
func (s *InfluxSink) Write(ctx context.Context, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.database,
		Precision: "ms",
	})
	if err != nil {
		return ferrors.NewSinkError("influx", points[0].Measurement, err)
	}
	for _, p := range points {
		ts := p.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		pt, err := client.NewPoint(p.Measurement, p.Tags, p.Fields, ts)
		if err != nil {
			return ferrors.NewSinkError("influx", p.Measurement, err)
		}
		bp.AddPoint(pt)
	}
	if err := s.client.Write(bp); err != nil {
		return ferrors.NewSinkError("influx", points[0].Measurement, err)
	}
	return nil
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() error {
	return s.client.Close()
}
