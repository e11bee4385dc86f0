package epias

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumns(t *testing.T) {
	records := []Record{
		{"date": "2025-05-01T00:00:00+03:00", "wind": 40.0, "total": 100.0},
		{"date": "2025-05-01T01:00:00+03:00", "naturalGas": 60.0, "hour": "01:00", "total": 200.0},
	}
	assert.Equal(t, []string{"date", "naturalGas", "wind", "hour", "total"}, Columns(records))
	assert.Equal(t, []string{"a", "b"}, Columns([]Record{{"b": 1}, {"a": 2}}))
	assert.Empty(t, Columns(nil))
}
