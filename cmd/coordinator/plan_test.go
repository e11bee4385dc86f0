package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

func date(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := ParseDate(value)
	require.NoError(t, err)
	return d
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		chunkDays int
		expected  []string
		wantErr   error
	}{
		{
			name:      "range shorter than one chunk",
			start:     "2025-05-01",
			end:       "2025-05-10",
			chunkDays: 15,
			expected:  []string{"2025-05-01/2025-05-10"},
		},
		{
			name:      "last chunk clamped",
			start:     "2025-01-01",
			end:       "2025-02-10",
			chunkDays: 15,
			expected:  []string{"2025-01-01/2025-01-16", "2025-01-16/2025-01-31", "2025-01-31/2025-02-10"},
		},
		{
			name:      "exact multiple",
			start:     "2025-03-01",
			end:       "2025-03-21",
			chunkDays: 10,
			expected:  []string{"2025-03-01/2025-03-11", "2025-03-11/2025-03-21"},
		},
		{
			name:      "single day chunks",
			start:     "2024-02-28",
			end:       "2024-03-01",
			chunkDays: 1,
			expected:  []string{"2024-02-28/2024-02-29", "2024-02-29/2024-03-01"},
		},
		{
			name:      "empty range",
			start:     "2025-05-01",
			end:       "2025-05-01",
			chunkDays: 15,
			expected:  nil,
		},
		{
			name:      "zero chunk days",
			start:     "2025-05-01",
			end:       "2025-05-10",
			chunkDays: 0,
			wantErr:   ErrInvalidChunkDays,
		},
		{
			name:      "negative chunk days",
			start:     "2025-05-01",
			end:       "2025-05-10",
			chunkDays: -3,
			wantErr:   ErrInvalidChunkDays,
		},
		{
			name:      "reversed range",
			start:     "2025-05-10",
			end:       "2025-05-01",
			chunkDays: 15,
			wantErr:   ErrInvalidRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Plan(date(t, tt.start), date(t, tt.end), tt.chunkDays)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			var keys []string
			for i, chunk := range chunks {
				assert.Equal(t, i, chunk.Index)
				keys = append(keys, chunk.Key())
			}
			assert.Equal(t, tt.expected, keys)
		})
	}
}

func TestPlanCoversRangeExactly(t *testing.T) {
	start := date(t, "2024-01-01")
	for _, days := range []int{0, 1, 7, 29, 30, 31, 365, 366, 400} {
		for _, chunkDays := range []int{1, 2, 7, 15, 30, 90} {
			end := start.AddDate(0, 0, days)
			chunks, err := Plan(start, end, chunkDays)
			require.NoError(t, err)

			expectedCount := (days + chunkDays - 1) / chunkDays
			require.Len(t, chunks, expectedCount, "days=%d chunkDays=%d", days, chunkDays)
			if expectedCount == 0 {
				continue
			}

			assert.True(t, chunks[0].Start.Equal(start))
			assert.True(t, chunks[len(chunks)-1].End.Equal(end))
			for i, chunk := range chunks {
				assert.True(t, chunk.Start.Before(chunk.End))
				assert.LessOrEqual(t, chunk.End.Sub(chunk.Start), time.Duration(chunkDays)*24*time.Hour)
				if i > 0 {
					assert.True(t, chunks[i-1].End.Equal(chunk.Start), "chunks must be contiguous")
				}
			}
		}
	}
}

func TestDateRange(t *testing.T) {
	r, err := ParseDateRange("2025-05-01", "2025-05-10")
	require.NoError(t, err)
	assert.Equal(t, 9, r.Days())
	assert.Equal(t, "2025-05-01 - 2025-05-10", r.String())
	assert.Equal(t, epias.Location, r.Start.Location())

	_, err = ParseDateRange("2025-05-10", "2025-05-01")
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ParseDateRange("01.05.2025", "2025-05-10")
	assert.Error(t, err)

	late := time.Date(2025, 5, 1, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-05-02", Midnight(late).Format(DateLayout))
}

func TestJobKey(t *testing.T) {
	r, err := ParseDateRange("2025-05-01", "2025-05-10")
	require.NoError(t, err)
	plant := int64(641)

	assert.Equal(t, "20250501-20250510-all", JobKey(r, nil))
	assert.Equal(t, "20250501-20250510-plant641", JobKey(r, &plant))
}
