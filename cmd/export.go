package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/airframesio/epias-extractor/cmd/compressors"
	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/export"
	"github.com/airframesio/epias-extractor/cmd/formatters"
	"github.com/airframesio/epias-extractor/cmd/store"
)

var (
	ErrExportSourceRequired  = errors.New("either a raw dump path or --job is required")
	ErrExportSourceAmbiguous = errors.New("give either a raw dump path or --job, not both")
	ErrUnknownDumpFormat     = errors.New("cannot tell the raw format from the file name")
	ErrCheckpointIncomplete  = errors.New("checkpoint is not complete")
)

var exportCmd = &cobra.Command{
	Use:   "export [raw-dump]",
	Short: "Build a workbook from a raw dump or a completed checkpoint",
	Long: `Builds the Excel workbook from records saved earlier: either a raw dump written
with extract --raw-output (jsonl, csv or parquet, optionally .zst/.lz4/.gz
compressed) or a completed checkpoint selected with --job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "workbook path (default epias_generation_<timestamp>.xlsx)")
	exportCmd.Flags().String("job", "", "job key of a completed checkpoint, e.g. 20250501-20250531-all")
	exportCmd.Flags().String("user", "", "user reported on the summary sheet (default --username)")
}

func runExport(cmd *cobra.Command, args []string) error {
	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)

	jobKey, _ := cmd.Flags().GetString("job")
	output, _ := cmd.Flags().GetString("output")
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = config.API.Username
	}

	ctx, stop := commandContext()
	defer stop()

	var (
		records []epias.Record
		err     error
	)
	switch {
	case len(args) == 1 && jobKey != "":
		return ErrExportSourceAmbiguous
	case len(args) == 1:
		records, err = readDump(args[0])
	case jobKey != "":
		records, err = readCheckpoint(ctx, config, jobKey)
	default:
		return ErrExportSourceRequired
	}
	if err != nil {
		return err
	}

	now := time.Now()
	if output == "" {
		output = export.DefaultFilename(now)
	}
	if err := export.WriteFile(output, records, export.Options{Username: user, CreatedAt: now}); err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("📊 Wrote %d records to %s", len(records), output))
	return nil
}

// readDump decodes a raw dump, choosing the format and compression from the
// file name.
func readDump(path string) ([]epias.Record, error) {
	format, ok := formatters.FormatFromPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDumpFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}

	body, err := compressors.FromPath(path).NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	body = closeBoth{ReadCloser: body, file: f}

	reader, err := formatters.GetReader(format, body)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

// closeBoth closes a decompressing reader and the file beneath it
type closeBoth struct {
	io.ReadCloser
	file *os.File
}

func (c closeBoth) Close() error {
	err := c.ReadCloser.Close()
	if ferr := c.file.Close(); err == nil {
		err = ferr
	}
	return err
}

// readCheckpoint returns the records of a checkpoint in plan order. Every
// planned chunk must be complete.
func readCheckpoint(ctx context.Context, config *Config, key string) ([]epias.Record, error) {
	checkpoints, closeStore, err := openCheckpointStore(ctx, config)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	cp, err := checkpoints.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", key, err)
	}
	return checkpointRecords(cp)
}

func checkpointRecords(cp *store.Checkpoint) ([]epias.Record, error) {
	chunks, err := coordinator.Plan(cp.Start.In(epias.Location), cp.End.In(epias.Location), cp.ChunkDays)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(cp.Completed))
	for _, key := range cp.Completed {
		done[key] = true
	}

	var missing []string
	var records []epias.Record
	for _, chunk := range chunks {
		if !done[chunk.Key()] {
			missing = append(missing, chunk.Key())
			continue
		}
		for _, r := range cp.Records[chunk.Key()] {
			records = append(records, epias.Record(r))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d of %d chunks missing (%s)", ErrCheckpointIncomplete,
			len(missing), len(chunks), strings.Join(missing, ", "))
	}
	return records, nil
}
