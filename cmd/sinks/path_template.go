package sinks

import (
	"strings"
)

// DefaultPathTemplate places objects by plant filter and start month.
const DefaultPathTemplate = "epias/{plant}/{YYYY}/{MM}"

// PathTemplate builds object key prefixes from a template.
type PathTemplate struct {
	template string
}

// NewPathTemplate creates a new PathTemplate instance
func NewPathTemplate(template string) *PathTemplate {
	if template == "" {
		template = DefaultPathTemplate
	}
	return &PathTemplate{template: template}
}

// Generate replaces placeholders with values from the batch.
// Supports: {key}, {plant}, {YYYY}, {MM}, {DD} (of the range start)
func (pt *PathTemplate) Generate(batch *Batch) string {
	start := batch.Range.Start
	result := strings.NewReplacer(
		"{key}", batch.Key,
		"{plant}", batch.Plant(),
		"{YYYY}", start.Format("2006"),
		"{MM}", start.Format("01"),
		"{DD}", start.Format("02"),
	).Replace(pt.template)
	return strings.Trim(result, "/")
}

// GenerateFilename names a dump after the job key, e.g.
// epias-generation-20250501-20250510-all.jsonl.zst
func GenerateFilename(batch *Batch, formatExt string, compressionExt string) string {
	return "epias-generation-" + batch.Key + formatExt + compressionExt
}

// ObjectKey joins a prefix and a file name.
func ObjectKey(prefix, filename string) string {
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}
