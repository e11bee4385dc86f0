package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

type styles struct {
	header   int
	datetime int
	date     int
	number   int
}

func newStyles(f *excelize.File) (*styles, error) {
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"1F4E78"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	datetime, err := f.NewStyle(&excelize.Style{NumFmt: 22})
	if err != nil {
		return nil, err
	}
	date, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		return nil, err
	}
	custom := "#,##0.00"
	number, err := f.NewStyle(&excelize.Style{CustomNumFmt: &custom})
	if err != nil {
		return nil, err
	}
	return &styles{header: header, datetime: datetime, date: date, number: number}, nil
}

func headerRow(s *styles, names ...string) []interface{} {
	row := make([]interface{}, len(names))
	for i, name := range names {
		row[i] = excelize.Cell{StyleID: s.header, Value: name}
	}
	return row
}

// writeData streams the raw records. Date-like columns holding parseable
// timestamps become Excel dates; everything else is written as decoded.
func writeData(f *excelize.File, s *styles, columns []string, records []epias.Record) error {
	sw, err := f.NewStreamWriter(SheetData)
	if err != nil {
		return err
	}

	for i, name := range columns {
		width := 14.0
		if isDateColumn(name) {
			width = 20
		}
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			return err
		}
	}

	if err := sw.SetRow("A1", headerRow(s, columns...)); err != nil {
		return err
	}

	dateColumn := make([]bool, len(columns))
	for i, name := range columns {
		dateColumn[i] = isDateColumn(name)
	}

	row := make([]interface{}, len(columns))
	for r, record := range records {
		for i, name := range columns {
			value, ok := record[name]
			switch {
			case !ok || value == nil:
				row[i] = nil
			case dateColumn[i]:
				if t, ok := parseTime(value); ok {
					row[i] = excelize.Cell{StyleID: s.datetime, Value: wallClock(t)}
				} else {
					row[i] = value
				}
			default:
				row[i] = cellValue(value)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

// cellValue flattens nested values, which excelize cannot write, to text.
func cellValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return fmt.Sprintf("%v", v)
	}
	return v
}

func writePlants(f *excelize.File, s *styles, plants []epias.Plant) error {
	if _, err := f.NewSheet(SheetPlants); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetPlants)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(2, 2, 40); err != nil {
		return err
	}
	if err := sw.SetRow("A1", headerRow(s, "id", "name", "eic", "shortName")); err != nil {
		return err
	}
	for i, plant := range plants {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, []interface{}{plant.ID, plant.Name, plant.EIC, plant.ShortName}); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func writeSummary(f *excelize.File, s *styles, summary Summary) error {
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return err
	}

	dateRange := "unknown"
	if summary.HasDates {
		dateRange = fmt.Sprintf("First: %s - Last: %s",
			summary.FirstDate.Format("2006-01-02 15:04"), summary.LastDate.Format("2006-01-02 15:04"))
	}
	user := summary.Username
	if user == "" {
		user = "-"
	}

	rows := [][]interface{}{
		headerRow(s, "Metric", "Value"),
		{"Total Records", summary.RecordCount},
		{"Date Range", dateRange},
		{"Created At", summary.CreatedAt.Format("2006-01-02 15:04:05")},
		{"User", user},
	}
	number := func(label string, v interface{ InexactFloat64() float64 }) []interface{} {
		return []interface{}{label, excelize.Cell{StyleID: s.number, Value: v.InexactFloat64()}}
	}
	if summary.Total != nil {
		rows = append(rows,
			number("Total Generation (MWh)", summary.Total.Sum),
			number("Mean Hourly Generation (MWh)", summary.Total.Mean()),
			number("Max Hourly Generation (MWh)", summary.Total.Max),
			number("Min Hourly Generation (MWh)", summary.Total.Min),
		)
	}
	for _, source := range summary.Sources {
		rows = append(rows, number(fmt.Sprintf("%s Total (MWh)", source.Field), source.Sum))
	}

	// excelize.Cell carries a style only through the stream writer.
	sw, err := f.NewStreamWriter(SheetSummary)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, 2, 32); err != nil {
		return err
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func writeDaily(f *excelize.File, s *styles, days []DailyTotal) error {
	if _, err := f.NewSheet(SheetDaily); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetDaily)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, 4, 22); err != nil {
		return err
	}
	if err := sw.SetRow("A1", headerRow(s, "Date", "Daily Total (MWh)", "Mean Hourly (MWh)", "Hours")); err != nil {
		return err
	}
	for i, day := range days {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			excelize.Cell{StyleID: s.date, Value: wallClock(day.Day)},
			excelize.Cell{StyleID: s.number, Value: day.Sum.InexactFloat64()},
			excelize.Cell{StyleID: s.number, Value: day.Mean().InexactFloat64()},
			day.Count,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}
