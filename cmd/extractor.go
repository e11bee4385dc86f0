package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/export"
	"github.com/airframesio/epias-extractor/cmd/sinks"
	"github.com/airframesio/epias-extractor/cmd/store"
	tea "github.com/charmbracelet/bubbletea"
)

// reporter receives what the user should see while an extraction runs.
type reporter interface {
	Phase(name string)
	Event(event coordinator.Event)
	Message(msg string)
}

// logReporter is used without the TUI. The coordinator logs chunk progress
// itself, so only messages reach the log.
type logReporter struct {
	logger *slog.Logger
}

func (r logReporter) Phase(name string) {
	r.logger.Debug(fmt.Sprintf("Phase: %s", name))
}

func (r logReporter) Event(coordinator.Event) {}

func (r logReporter) Message(msg string) {
	r.logger.Info(msg)
}

// ExtractSummary describes a finished extraction.
type ExtractSummary struct {
	JobKey       string
	Records      int
	Chunks       int
	Workbook     string
	WorkbookSize int
	RawPath      string
	RawSize      int
	Published    []string
	Duration     time.Duration
}

type Extractor struct {
	config *Config
	// logger writes to the console. quiet is handed to library code and is
	// silenced while the TUI owns the terminal.
	logger      *slog.Logger
	quiet       *slog.Logger
	checkpoints store.CheckpointStore
	sinks       *sinks.Fanout
	task        *TaskInfo
	reporter    reporter
	coordOpts   []coordinator.Option
}

func NewExtractor(config *Config, logger *slog.Logger) *Extractor {
	return &Extractor{
		config:   config,
		logger:   logger,
		quiet:    logger,
		reporter: logReporter{logger: logger},
	}
}

// useTUI reports whether the progress display should own the terminal.
func (e *Extractor) useTUI() bool {
	return !e.config.Debug && e.config.LogFormat != "json"
}

func (e *Extractor) Run(ctx context.Context) error {
	r, err := e.config.DateRange()
	if err != nil {
		return err
	}
	plantID := e.config.Plant()

	checkpoints, release, err := openCheckpointStore(ctx, e.config)
	if err != nil {
		return err
	}
	defer release()
	e.checkpoints = checkpoints

	if e.config.DryRun {
		return e.dryRun(ctx, r, plantID)
	}

	if err := WritePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		_ = RemovePIDFile()
	}()

	e.task = newTaskInfo(r, plantID)
	_ = WriteTaskInfo(e.task)
	defer func() {
		_ = RemoveTaskFile()
	}()

	key := coordinator.JobKey(r, plantID)
	if e.config.Fresh {
		if err := checkpoints.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to discard checkpoint %s: %w", key, err)
		}
		e.logger.Info(fmt.Sprintf("🗑️  Discarded checkpoint for %s", key))
	}

	if e.config.SinksEnabled() {
		fanout, _, err := buildSinks(ctx, e.config, e.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := fanout.Close(); err != nil {
				e.logger.Warn(fmt.Sprintf("⚠️  Failed to close sinks: %v", err))
			}
		}()
		e.sinks = fanout
		e.logger.Info(fmt.Sprintf("📦 Delivering to: %v", fanout.Names()))
	}

	if e.config.Viewer {
		e.startViewer(ctx)
	}

	if !e.useTUI() {
		e.logger.Info("Running without TUI - progress is logged")
		summary, err := e.extract(ctx, r, plantID)
		if err != nil {
			return err
		}
		e.printSummary(summary)
		return nil
	}
	return e.runTUI(ctx, r, plantID)
}

func (e *Extractor) startViewer(ctx context.Context) {
	viewer := NewViewer(e.checkpoints, viewerWatchDirs(e.config), logBroadcast, e.quiet)
	addr := fmt.Sprintf(":%d", e.config.ViewerPort)
	go func() {
		if err := viewer.Run(ctx, addr); err != nil {
			e.quiet.Warn(fmt.Sprintf("⚠️  Viewer stopped: %v", err))
		}
	}()
	e.logger.Info(fmt.Sprintf("🌐 Viewer running at http://localhost:%d", e.config.ViewerPort))
}

type extractOutcome struct {
	summary *ExtractSummary
	err     error
}

// runTUI runs the extraction behind the progress display. Quitting the display
// cancels the extraction.
func (e *Extractor) runTUI(ctx context.Context, r coordinator.DateRange, plantID *int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.quiet = newLogger(io.Discard, false, e.config.LogFormat)

	model := newProgressModel(r, plantID, cancel)
	program := tea.NewProgram(model, tea.WithoutSignalHandler())
	e.reporter = &programReporter{program: program}

	outcome := make(chan extractOutcome, 1)
	go func() {
		summary, err := e.extract(ctx, r, plantID)
		outcome <- extractOutcome{summary: summary, err: err}
		program.Send(doneMsg{summary: summary, err: err})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-outcome
		return fmt.Errorf("error running progress display: %w", err)
	}

	result := <-outcome
	if result.err != nil {
		return result.err
	}
	e.printSummary(result.summary)
	return nil
}

// extract authenticates, runs the job to completion and writes its outputs.
func (e *Extractor) extract(ctx context.Context, r coordinator.DateRange, plantID *int64) (*ExtractSummary, error) {
	started := time.Now()

	e.reporter.Phase("Authenticating")
	client := newClient(e.config, e.quiet)
	ticket, err := client.Authenticate(ctx, e.config.API.Username, e.config.API.Password)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	e.say(fmt.Sprintf("🔑 Authenticated as %s (ticket %s)", client.Username(), ticket.Preview()))

	opts := append([]coordinator.Option{
		coordinator.WithLogger(e.quiet),
		coordinator.WithCheckpointStore(e.checkpoints),
	}, e.coordOpts...)
	coord := coordinator.New(client, opts...)
	defer coord.Close()

	id, err := coord.Create(ctx, coordinator.Request{
		Range:     r,
		PlantID:   plantID,
		ChunkDays: e.config.ChunkDays,
	})
	if err != nil {
		return nil, err
	}

	status, err := coord.Poll(id)
	if err != nil {
		return nil, err
	}
	e.updateTask(func(t *TaskInfo) {
		t.JobID = id
		t.Phase = "fetching"
		t.TotalChunks = status.TotalChunks
		t.CompletedChunks = status.CompletedChunks
		t.Progress = status.Progress
		t.RecordCount = status.RecordCount
	})
	e.say(fmt.Sprintf("📋 %s split into %d chunks of up to %d days", r, status.TotalChunks, e.config.ChunkDays))

	e.reporter.Phase("Fetching generation data")
	events, unsubscribe := coord.Subscribe(id)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for event := range events {
			e.updateTask(func(t *TaskInfo) { t.apply(event) })
			e.reporter.Event(event)
		}
	}()

	runErr := coord.Run(ctx, id)
	unsubscribe()
	<-forwarded

	if runErr != nil {
		if status, err := coord.Poll(id); err == nil && !errors.Is(runErr, context.Canceled) {
			return nil, fmt.Errorf("%w (%d/%d chunks complete, run again to resume)",
				runErr, status.CompletedChunks, status.TotalChunks)
		}
		return nil, runErr
	}

	result, err := coord.Result(id)
	if err != nil {
		return nil, err
	}

	summary := &ExtractSummary{
		JobKey:  coordinator.JobKey(r, plantID),
		Records: result.Count,
		Chunks:  status.TotalChunks,
	}
	if err := e.deliver(ctx, client, result, summary); err != nil {
		return nil, err
	}
	summary.Duration = time.Since(started)
	return summary, nil
}

// deliver writes the workbook and the optional raw dump, then publishes to the
// configured sinks.
func (e *Extractor) deliver(ctx context.Context, client *epias.Client, result *coordinator.Result, summary *ExtractSummary) error {
	if result.Count == 0 {
		e.say("⚠️  No records returned for this range - nothing to export")
		return nil
	}

	e.reporter.Phase("Writing workbook")
	e.updateTask(func(t *TaskInfo) { t.Phase = "exporting" })

	opts := export.Options{Username: client.Username(), CreatedAt: time.Now()}
	if e.config.Output.IncludePlants {
		plants, err := client.Plants(ctx)
		if err != nil {
			e.say(fmt.Sprintf("⚠️  Could not fetch plant list, skipping %s sheet: %v", export.SheetPlants, err))
		} else {
			opts.Plants = plants
		}
	}

	var workbook bytes.Buffer
	if err := export.Write(&workbook, result.Records, opts); err != nil {
		return err
	}

	path := e.config.Output.Workbook
	if path == "" {
		path = export.DefaultFilename(opts.CreatedAt)
	}
	if err := writeOutputFile(path, workbook.Bytes()); err != nil {
		return err
	}
	summary.Workbook = path
	summary.WorkbookSize = workbook.Len()
	e.say(fmt.Sprintf("📊 Wrote %d records to %s", result.Count, path))

	if e.config.Output.RawPath != "" {
		data, err := encodeRaw(result.Records, e.config.Output.RawFormat,
			e.config.Output.Compression, e.config.Output.CompressionLevel)
		if err != nil {
			return err
		}
		if err := writeOutputFile(e.config.Output.RawPath, data); err != nil {
			return err
		}
		summary.RawPath = e.config.Output.RawPath
		summary.RawSize = len(data)
		e.say(fmt.Sprintf("💾 Wrote raw %s dump to %s (%.2f MB)",
			e.config.Output.RawFormat, e.config.Output.RawPath, float64(len(data))/(1024*1024)))
	}

	if e.sinks != nil && e.sinks.Len() > 0 {
		e.reporter.Phase("Publishing")
		e.updateTask(func(t *TaskInfo) { t.Phase = "publishing" })
		if err := e.sinks.Publish(ctx, sinks.NewBatch(result, workbook.Bytes())); err != nil {
			return fmt.Errorf("failed to publish results: %w", err)
		}
		summary.Published = e.sinks.Names()
		e.say(fmt.Sprintf("📤 Published to %v", summary.Published))
	}
	return nil
}

func writeOutputFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (e *Extractor) say(msg string) {
	e.quiet.Info(msg)
	if _, plain := e.reporter.(logReporter); !plain {
		e.reporter.Message(msg)
	}
}

func (e *Extractor) updateTask(update func(*TaskInfo)) {
	if e.task == nil {
		return
	}
	update(e.task)
	_ = WriteTaskInfo(e.task)
}

// dryRun prints the chunk plan and which chunks a checkpoint already covers.
func (e *Extractor) dryRun(ctx context.Context, r coordinator.DateRange, plantID *int64) error {
	chunks, err := coordinator.Plan(r.Start, r.End, e.config.ChunkDays)
	if err != nil {
		return err
	}
	key := coordinator.JobKey(r, plantID)

	done := make(map[string]bool)
	if !e.config.Fresh {
		cp, err := e.checkpoints.Load(ctx, key)
		switch {
		case err == nil:
			for _, k := range cp.Completed {
				done[k] = true
			}
		case !errors.Is(err, store.ErrCheckpointNotFound):
			e.logger.Warn(fmt.Sprintf("⚠️  Failed to load checkpoint: %v", err))
		}
	}

	e.logger.Info(fmt.Sprintf("🔍 Dry run for %s (%s)", key, r))
	pending := 0
	for _, chunk := range chunks {
		mark := "⏳"
		if done[chunk.Key()] {
			mark = "✅"
		} else {
			pending++
		}
		e.logger.Info(fmt.Sprintf("   %s %3d  %s", mark, chunk.Index+1, chunk.Key()))
	}
	e.logger.Info(fmt.Sprintf("📋 %d chunks planned, %d to fetch", len(chunks), pending))
	return nil
}

func (e *Extractor) printSummary(s *ExtractSummary) {
	if s == nil {
		return
	}
	e.logger.Info("")
	e.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	e.logger.Info("📈 Summary")
	e.logger.Info(fmt.Sprintf("🔑 Job: %s", s.JobKey))
	e.logger.Info(fmt.Sprintf("✅ Chunks: %d", s.Chunks))
	e.logger.Info(fmt.Sprintf("📄 Records: %d", s.Records))
	if s.Workbook != "" {
		e.logger.Info(fmt.Sprintf("📊 Workbook: %s (%.2f MB)", s.Workbook, float64(s.WorkbookSize)/(1024*1024)))
	}
	if s.RawPath != "" {
		e.logger.Info(fmt.Sprintf("💾 Raw dump: %s (%.2f MB)", s.RawPath, float64(s.RawSize)/(1024*1024)))
	}
	if len(s.Published) > 0 {
		e.logger.Info(fmt.Sprintf("📤 Published: %v", s.Published))
	}
	e.logger.Info(fmt.Sprintf("⏱️  Took %s", s.Duration.Round(time.Second)))
}
