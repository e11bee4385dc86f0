package sinks

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

const (
	// DefaultMeasurement names the generation points.
	DefaultMeasurement = "generation"

	influxBatchSize = 5000
)

// InfluxConfig holds the InfluxDB v2 connection.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxSink writes one point per hourly record. Every numeric field becomes a
// point field; the job key and plant filter are tags. Points with the same
// series and timestamp overwrite, so a republish does not duplicate.
type InfluxSink struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	logger      *slog.Logger
}

// NewInfluxSink creates the client. No connection is made until Publish.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		logger:      logger,
	}
}

func (s *InfluxSink) Name() string {
	return "influxdb"
}

// Health checks the server.
func (s *InfluxSink) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb is %s", health.Status)
	}
	return nil
}

// Points converts the batch. Records without a date or without numeric fields
// are skipped.
func (s *InfluxSink) Points(batch *Batch) []*write.Point {
	tags := map[string]string{
		"job":   batch.Key,
		"plant": batch.Plant(),
	}

	points := make([]*write.Point, 0, len(batch.Records))
	for _, record := range batch.Records {
		ts, ok := epias.RecordTime(record)
		if !ok {
			continue
		}
		fields := make(map[string]interface{})
		for name, value := range record {
			if name == "date" {
				continue
			}
			if f, ok := epias.Float(value); ok {
				fields[name] = f
			}
		}
		if len(fields) == 0 {
			continue
		}
		points = append(points, write.NewPoint(s.measurement, tags, fields, ts))
	}
	return points
}

// Publish writes the points in blocks.
func (s *InfluxSink) Publish(ctx context.Context, batch *Batch) error {
	points := s.Points(batch)
	if skipped := len(batch.Records) - len(points); skipped > 0 {
		s.logger.Warn(fmt.Sprintf("⚠️  Skipped %d records without date or numeric fields", skipped))
	}

	for start := 0; start < len(points); start += influxBatchSize {
		end := start + influxBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := s.writer.WritePoint(ctx, points[start:end]...); err != nil {
			return fmt.Errorf("failed to write points: %w", err)
		}
	}
	return nil
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
