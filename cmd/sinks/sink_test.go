package sinks

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleBatch(t *testing.T, plantID *int64) *Batch {
	t.Helper()
	r, err := coordinator.ParseDateRange("2025-05-01", "2025-05-10")
	require.NoError(t, err)
	return NewBatch(&coordinator.Result{
		Range:   r,
		PlantID: plantID,
		Records: []epias.Record{
			{"date": "2025-05-01T00:00:00+03:00", "naturalGas": 60.0, "total": 100.0},
			{"date": "2025-05-01T01:00:00+03:00", "naturalGas": 150.0, "hour": "01:00", "total": 200.0},
			{"note": "no date"},
		},
	}, nil)
}

type recordingSink struct {
	name string
	err  error

	mu        sync.Mutex
	published []string
	closed    bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, batch.Key)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestNewBatch(t *testing.T) {
	id := int64(641)
	batch := sampleBatch(t, &id)
	assert.Equal(t, "20250501-20250510-plant641", batch.Key)
	assert.Equal(t, "641", batch.Plant())
	assert.Equal(t, "all", sampleBatch(t, nil).Plant())
}

func TestFanoutPublishesToEverySink(t *testing.T) {
	boom := errors.New("boom")
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: boom}
	fanout := NewFanout(newTestLogger(), good, bad)

	err := fanout.Publish(context.Background(), sampleBatch(t, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "bad", pubErr.Sink)

	assert.Equal(t, []string{"20250501-20250510-all"}, good.published)
	assert.Equal(t, []string{"20250501-20250510-all"}, bad.published)
	assert.Equal(t, []string{"good", "bad"}, fanout.Names())

	require.NoError(t, fanout.Close())
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

func TestFanoutWithoutSinks(t *testing.T) {
	err := NewFanout(nil).Publish(context.Background(), sampleBatch(t, nil))
	assert.ErrorIs(t, err, ErrNoSinks)
}

func TestPathTemplate(t *testing.T) {
	id := int64(641)
	tests := []struct {
		name     string
		template string
		plantID  *int64
		want     string
	}{
		{name: "default", want: "epias/all/2025/05"},
		{name: "plant", template: "exports/{plant}/{YYYY}-{MM}-{DD}/", plantID: &id, want: "exports/641/2025-05-01"},
		{name: "key", template: "{key}", want: "20250501-20250510-all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPathTemplate(tt.template).Generate(sampleBatch(t, tt.plantID))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateFilename(t *testing.T) {
	batch := sampleBatch(t, nil)
	assert.Equal(t, "epias-generation-20250501-20250510-all.jsonl.zst", GenerateFilename(batch, ".jsonl", ".zst"))
	assert.Equal(t, "a/b.xlsx", ObjectKey("a", "b.xlsx"))
	assert.Equal(t, "b.xlsx", ObjectKey("", "b.xlsx"))
}
