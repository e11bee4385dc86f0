package export

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
)

// Stats aggregates one numeric field.
type Stats struct {
	Count int
	Sum   decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// Mean returns Sum/Count, or zero for an empty field.
func (s Stats) Mean() decimal.Decimal {
	if s.Count == 0 {
		return decimal.Zero
	}
	return s.Sum.Div(decimal.NewFromInt(int64(s.Count)))
}

func (s *Stats) add(d decimal.Decimal) {
	if s.Count == 0 || d.LessThan(s.Min) {
		s.Min = d
	}
	if s.Count == 0 || d.GreaterThan(s.Max) {
		s.Max = d
	}
	s.Sum = s.Sum.Add(d)
	s.Count++
}

// SourceTotal is the summed generation of one source.
type SourceTotal struct {
	Field string
	Sum   decimal.Decimal
}

// Summary holds the figures of the Summary sheet.
type Summary struct {
	RecordCount int
	FirstDate   time.Time
	LastDate    time.Time
	HasDates    bool
	CreatedAt   time.Time
	Username    string
	Total       *Stats
	Sources     []SourceTotal
}

// Summarize computes the summary. Total is nil when no record has a numeric
// total; only sources with a positive sum are listed.
func Summarize(records []epias.Record, username string, createdAt time.Time) Summary {
	summary := Summary{
		RecordCount: len(records),
		CreatedAt:   createdAt,
		Username:    username,
	}

	var total Stats
	sources := make(map[string]decimal.Decimal)
	for _, record := range records {
		if t, ok := parseTime(record["date"]); ok {
			if !summary.HasDates || t.Before(summary.FirstDate) {
				summary.FirstDate = t
			}
			if !summary.HasDates || t.After(summary.LastDate) {
				summary.LastDate = t
			}
			summary.HasDates = true
		}
		if d, ok := toDecimal(record["total"]); ok {
			total.add(d)
		}
		for _, field := range epias.SourceFields {
			if d, ok := toDecimal(record[field]); ok {
				sources[field] = sources[field].Add(d)
			}
		}
	}

	if total.Count > 0 {
		summary.Total = &total
	}
	for _, field := range epias.SourceFields {
		if sum, ok := sources[field]; ok && sum.IsPositive() {
			summary.Sources = append(summary.Sources, SourceTotal{Field: field, Sum: sum})
		}
	}
	return summary
}

// DailyTotal is one row of the Daily_Summary sheet.
type DailyTotal struct {
	Day time.Time
	Stats
}

// DailyTotals groups the total field by calendar day in the platform's zone.
// It returns nil when no record carries both a date and a numeric total.
func DailyTotals(records []epias.Record) []DailyTotal {
	days := make(map[time.Time]*Stats)
	for _, record := range records {
		t, ok := parseTime(record["date"])
		if !ok {
			continue
		}
		d, ok := toDecimal(record["total"])
		if !ok {
			continue
		}
		day := coordinator.Midnight(t)
		stats, exists := days[day]
		if !exists {
			stats = &Stats{}
			days[day] = stats
		}
		stats.add(d)
	}
	if len(days) == 0 {
		return nil
	}

	out := make([]DailyTotal, 0, len(days))
	for day, stats := range days {
		out = append(out, DailyTotal{Day: day, Stats: *stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}
