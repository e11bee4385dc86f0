package epias

import "sort"

// SourceFields are the per-source generation fields of a record, in report order.
var SourceFields = []string{
	"naturalGas", "dam", "lignite", "river", "importedCoal", "sun", "wind", "geothermal",
}

// Columns returns the union of record keys in a stable order: date first, then
// the known source fields, the remaining keys alphabetically, and total last.
func Columns(records []Record) []string {
	seen := make(map[string]bool)
	for _, record := range records {
		for key := range record {
			seen[key] = true
		}
	}

	var columns []string
	take := func(key string) {
		if seen[key] {
			columns = append(columns, key)
			delete(seen, key)
		}
	}

	take("date")
	for _, field := range SourceFields {
		take(field)
	}
	hasTotal := seen["total"]
	delete(seen, "total")

	rest := make([]string, 0, len(seen))
	for key := range seen {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	columns = append(columns, rest...)

	if hasTotal {
		columns = append(columns, "total")
	}
	return columns
}
