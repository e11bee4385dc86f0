package sinks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
	query  string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case "/health":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[],"version":"v2.7.1","commit":"abc"}`)
	default:
		http.NotFound(w, r)
	}
}

func TestInfluxSinkWritesPoints(t *testing.T) {
	fake := &fakeInflux{}
	server := httptest.NewServer(fake)
	defer server.Close()

	sink := NewInfluxSink(InfluxConfig{URL: server.URL, Token: "token", Org: "grid", Bucket: "generation"}, newTestLogger())
	defer sink.Close()

	batch := sampleBatch(t, nil)
	assert.Len(t, sink.Points(batch), 2, "the record without a date is skipped")

	require.NoError(t, sink.Publish(context.Background(), batch))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 1)
	assert.Contains(t, fake.query, "org=grid")
	assert.Contains(t, fake.query, "bucket=generation")

	lines := strings.Split(strings.TrimSpace(fake.bodies[0]), "\n")
	require.Len(t, lines, 2)

	ts, err := time.Parse(time.RFC3339, "2025-05-01T00:00:00+03:00")
	require.NoError(t, err)
	first := lines[0]
	assert.True(t, strings.HasPrefix(first, "generation,job=20250501-20250510-all,plant=all "), first)
	assert.Contains(t, first, "naturalGas=60")
	assert.Contains(t, first, "total=100")
	assert.True(t, strings.HasSuffix(first, fmt.Sprintf(" %d", ts.UnixNano())), first)
	assert.NotContains(t, lines[1], "hour=")
}

func TestInfluxSinkHealth(t *testing.T) {
	server := httptest.NewServer(&fakeInflux{})
	defer server.Close()

	sink := NewInfluxSink(InfluxConfig{URL: server.URL, Token: "token", Org: "grid", Bucket: "generation"}, nil)
	defer sink.Close()
	assert.NoError(t, sink.Health(context.Background()))
}

func TestInfluxSinkWriteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":"unauthorized","message":"unauthorized access"}`)
	}))
	defer server.Close()

	sink := NewInfluxSink(InfluxConfig{URL: server.URL, Token: "bad", Org: "grid", Bucket: "generation"}, newTestLogger())
	defer sink.Close()
	assert.Error(t, sink.Publish(context.Background(), sampleBatch(t, nil)))
}
