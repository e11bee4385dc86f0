// Package sinks delivers the records of a finished extraction to downstream
// stores: object storage, PostgreSQL, InfluxDB and Kafka.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
)

// ErrNoSinks is returned when publishing with nothing configured.
var ErrNoSinks = errors.New("no sinks configured")

// Batch is one extraction result ready for delivery.
type Batch struct {
	Key     string
	Range   coordinator.DateRange
	PlantID *int64
	Records []epias.Record
	// Workbook is the rendered xlsx export. Only the S3 sink stores it.
	Workbook []byte
}

// NewBatch wraps a completed job result.
func NewBatch(result *coordinator.Result, workbook []byte) *Batch {
	return &Batch{
		Key:      coordinator.JobKey(result.Range, result.PlantID),
		Range:    result.Range,
		PlantID:  result.PlantID,
		Records:  result.Records,
		Workbook: workbook,
	}
}

// Plant renders the plant filter as a tag value.
func (b *Batch) Plant() string {
	if b.PlantID == nil {
		return "all"
	}
	return strconv.FormatInt(*b.PlantID, 10)
}

// Sink stores a batch somewhere. Publishing the same batch twice must not
// duplicate data.
type Sink interface {
	Name() string
	Publish(ctx context.Context, batch *Batch) error
	Close() error
}

// PublishError reports which sink failed.
type PublishError struct {
	Sink string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s sink: %v", e.Sink, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Fanout publishes a batch to several sinks concurrently.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout groups sinks. A nil logger discards output.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fanout{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Names lists the configured sinks.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Publish sends the batch to every sink. A failing sink does not stop the
// others; all failures are joined into the returned error.
func (f *Fanout) Publish(ctx context.Context, batch *Batch) error {
	if len(f.sinks) == 0 {
		return ErrNoSinks
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, s := range f.sinks {
		g.Go(func() error {
			started := time.Now()
			if err := s.Publish(ctx, batch); err != nil {
				f.logger.Error(fmt.Sprintf("❌ %s: failed to publish %s: %v", s.Name(), batch.Key, err))
				mu.Lock()
				errs = append(errs, &PublishError{Sink: s.Name(), Err: err})
				mu.Unlock()
				return nil
			}
			f.logger.Info(fmt.Sprintf("📤 %s: published %d records of %s in %v",
				s.Name(), len(batch.Records), batch.Key, time.Since(started).Round(time.Millisecond)))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, &PublishError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
