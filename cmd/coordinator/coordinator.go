// Package coordinator drives resumable extractions: it plans a date range into
// chunks, fetches them one at a time, remembers which chunks are done, and can
// continue a job from its first incomplete chunk.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/store"
)

const (
	// PacingDelay separates consecutive chunk fetches of one job.
	PacingDelay = time.Second
	// RetryBackoff is waited after a failed chunk before the next attempt.
	RetryBackoff = 5 * time.Second
	// DefaultJobTTL is how long an untouched job is kept in memory.
	DefaultJobTTL = 2 * time.Hour
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobRunning     = errors.New("job is already running")
	ErrJobNotComplete = errors.New("job is not complete")
	ErrChunksFailed   = errors.New("some chunks failed")
	ErrClosed         = errors.New("coordinator is closed")
)

// Source fetches the records of one chunk. *epias.Client implements it.
type Source interface {
	EnsureAuthenticated(ctx context.Context) error
	FetchChunk(ctx context.Context, start, end time.Time, plantID *int64) ([]epias.Record, error)
}

// Coordinator owns the jobs of one session.
type Coordinator struct {
	source      Source
	logger      *slog.Logger
	checkpoints store.CheckpointStore
	jobTTL      time.Duration
	pacing      time.Duration
	backoff     time.Duration

	jobs *store.TTLCache[*Job]
	hub  *hub

	mu     sync.Mutex
	keys   map[string]string
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCheckpointStore persists job progress after every chunk.
func WithCheckpointStore(s store.CheckpointStore) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.checkpoints = s
		}
	}
}

// WithPacing sets the delay between chunk fetches and the wait after a failed
// chunk. Negative values keep the defaults.
func WithPacing(pacing, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if pacing >= 0 {
			c.pacing = pacing
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// WithJobTTL sets the inactivity timeout after which jobs are dropped.
func WithJobTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.jobTTL = ttl
	}
}

// New creates a Coordinator fetching through source.
func New(source Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:      source,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		checkpoints: store.NopCheckpointStore{},
		jobTTL:      DefaultJobTTL,
		pacing:      PacingDelay,
		backoff:     RetryBackoff,
		hub:         newHub(),
		keys:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.jobs = store.NewTTLCache[*Job](c.jobTTL, store.WithEvictCallback(c.forget))
	if c.jobTTL > 0 {
		interval := c.jobTTL / 10
		if interval < time.Second {
			interval = time.Second
		}
		c.jobs.StartJanitor(interval)
	}
	return c
}

func (c *Coordinator) forget(id string, job *Job) {
	c.mu.Lock()
	if c.keys[job.Key] == id {
		delete(c.keys, job.Key)
	}
	c.mu.Unlock()
	c.logger.Debug(fmt.Sprintf("🧹 Dropped job %s (%s)", id, job.Key))
}

// Create plans a job without running it. The source is authenticated first; a
// failure there creates nothing. A request matching a live job returns that
// job's id. Completed chunks are restored from the checkpoint store.
func (c *Coordinator) Create(ctx context.Context, req Request) (string, error) {
	if req.ChunkDays == 0 {
		req.ChunkDays = DefaultChunkDays
	}
	chunks, err := Plan(req.Range.Start, req.Range.End, req.ChunkDays)
	if err != nil {
		return "", err
	}

	if err := c.source.EnsureAuthenticated(ctx); err != nil {
		return "", err
	}

	key := JobKey(req.Range, req.PlantID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	if id, ok := c.keys[key]; ok {
		if _, live := c.jobs.Get(id); live {
			c.logger.Debug(fmt.Sprintf("Reusing job %s for %s", id, key))
			return id, nil
		}
		delete(c.keys, key)
	}

	job := newJob(uuid.NewString(), req, chunks)

	cp, err := c.checkpoints.Load(ctx, key)
	switch {
	case err == nil:
		if restored := job.restore(cp); restored > 0 {
			c.logger.Info(fmt.Sprintf("♻️  Restored %d/%d completed chunks for %s", restored, len(chunks), key))
		}
	case !errors.Is(err, store.ErrCheckpointNotFound):
		c.logger.Warn(fmt.Sprintf("⚠️  Failed to load checkpoint for %s: %v", key, err))
	}

	c.jobs.Set(job.ID, job)
	c.keys[key] = job.ID
	c.logger.Info(fmt.Sprintf("📋 Planned job %s: %s in %d chunks of %d days", job.ID, req.Range, len(chunks), req.ChunkDays))
	return job.ID, nil
}

// Start creates the job and runs it in the background. It returns as soon as
// the job exists.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	id, err := c.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if job, ok := c.jobs.Peek(id); ok {
		if err := c.launch(job); err != nil && !errors.Is(err, ErrJobRunning) {
			return "", err
		}
	}
	return id, nil
}

// Resume re-authenticates if the ticket was invalidated and continues the job
// in the background. Resuming a complete job does nothing.
func (c *Coordinator) Resume(ctx context.Context, id string) error {
	job, ok := c.jobs.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	status := job.Status()
	if status.State == StateComplete {
		return nil
	}
	if status.Running {
		return ErrJobRunning
	}
	if err := c.source.EnsureAuthenticated(ctx); err != nil {
		return err
	}
	return c.launch(job)
}

// launch marks the job running before returning so Wait and Poll observe the
// run immediately.
func (c *Coordinator) launch(job *Job) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	started, err := job.begin()
	if err != nil || !started {
		c.mu.Unlock()
		return err
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.drive(c.ctx, job); err != nil {
			c.logger.Debug(fmt.Sprintf("Job %s run ended: %v", job.ID, err))
		}
	}()
	return nil
}

// Run fetches every incomplete chunk of the job in order and blocks until the
// job is complete or stalled. An authentication failure stops the run at once
// and leaves the chunk incomplete. Other failures are recorded per chunk and the
// run moves on after RetryBackoff; the job then ends stalled with
// ErrChunksFailed. Running a complete job returns immediately.
func (c *Coordinator) Run(ctx context.Context, id string) error {
	job, ok := c.jobs.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	started, err := job.begin()
	if err != nil {
		return err
	}
	if !started {
		return nil
	}
	return c.drive(ctx, job)
}

// drive is the fetch loop of a job that begin has marked running.
func (c *Coordinator) drive(ctx context.Context, job *Job) error {
	id := job.ID
	runningJobs.Inc()
	defer runningJobs.Dec()

	status := job.Status()
	c.logger.Info(fmt.Sprintf("🚀 Running job %s: %d/%d chunks already complete", id, status.CompletedChunks, status.TotalChunks))
	c.publish(job, Event{Type: EventStarted, Progress: status.Progress})

	waitBeforeNext := false
	for _, chunk := range job.Chunks {
		if job.isCompleted(chunk.Key()) {
			continue
		}

		select {
		case <-ctx.Done():
			return c.stall(job, ctx.Err())
		default:
		}

		if waitBeforeNext {
			if err := sleep(ctx, c.pacing); err != nil {
				return c.stall(job, err)
			}
		}
		waitBeforeNext = true

		job.setCurrent(chunk)
		c.jobs.Touch(id)
		c.logger.Debug(fmt.Sprintf("Fetching chunk %d/%d: %s", chunk.Index+1, len(job.Chunks), chunk.Key()))

		fetchStart := time.Now()
		records, err := c.source.FetchChunk(ctx, chunk.Start, chunk.End, job.PlantID)
		chunkDuration.Observe(time.Since(fetchStart).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return c.stall(job, ctx.Err())
			}
			if epias.IsAuthError(err) {
				chunkOutcomes.WithLabelValues(outcomeAuth).Inc()
				c.logger.Error(fmt.Sprintf("🔒 Authentication rejected at chunk %s, stopping job %s", chunk.Key(), id))
				return c.stall(job, err)
			}

			chunkOutcomes.WithLabelValues(outcomeError).Inc()
			job.failChunk(chunk, err)
			c.logger.Error(fmt.Sprintf("  ❌ Chunk %s failed: %v", chunk.Key(), err))
			c.publish(job, Event{
				Type:       EventChunkFailed,
				Progress:   job.Status().Progress,
				ChunkStart: chunk.Start,
				ChunkEnd:   chunk.End,
				Error:      err.Error(),
			})
			c.saveCheckpoint(job)

			if err := sleep(ctx, c.backoff); err != nil {
				return c.stall(job, err)
			}
			waitBeforeNext = false
			continue
		}

		outcome := outcomeSuccess
		if len(records) == 0 {
			outcome = outcomeEmpty
		}
		chunkOutcomes.WithLabelValues(outcome).Inc()

		progress, total := job.completeChunk(chunk, records)
		c.logger.Info(fmt.Sprintf("  ✅ Chunk %s: %d records (%.0f%%)", chunk.Key(), len(records), progress*100))
		c.publish(job, Event{
			Type:         EventProgress,
			Progress:     progress,
			ChunkStart:   chunk.Start,
			ChunkEnd:     chunk.End,
			ChunkRecords: len(records),
			RecordCount:  total,
		})
		c.saveCheckpoint(job)
	}

	if !job.allCompleted() {
		failed := job.failedKeys()
		return c.stall(job, fmt.Errorf("%w: %d of %d chunks incomplete (%v)", ErrChunksFailed, len(failed), len(job.Chunks), failed))
	}

	job.end(StateComplete, nil)
	final := job.Status()
	c.logger.Info(fmt.Sprintf("✅ Job %s complete: %d records", id, final.RecordCount))
	c.publish(job, Event{Type: EventCompleted, Progress: 1})
	return nil
}

func (c *Coordinator) stall(job *Job, err error) error {
	job.end(StateStalled, err)
	c.logger.Warn(fmt.Sprintf("⚠️  Job %s stalled: %v", job.ID, err))
	c.publish(job, Event{Type: EventStalled, Progress: job.Status().Progress, Error: err.Error()})
	c.saveCheckpoint(job)
	return err
}

func (c *Coordinator) saveCheckpoint(job *Job) {
	if err := c.checkpoints.Save(context.Background(), job.checkpoint()); err != nil {
		c.logger.Warn(fmt.Sprintf("⚠️  Failed to save checkpoint for %s: %v", job.Key, err))
	}
}

func (c *Coordinator) publish(job *Job, event Event) {
	status := job.Status()
	event.JobID = job.ID
	event.Completed = status.CompletedChunks
	event.Total = status.TotalChunks
	if event.RecordCount == 0 {
		event.RecordCount = status.RecordCount
	}
	event.Time = time.Now()
	c.hub.publish(event)
}

// Poll returns the job's status.
func (c *Coordinator) Poll(id string) (Status, error) {
	job, ok := c.jobs.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Status(), nil
}

// Result returns the records of a complete job in range order.
func (c *Coordinator) Result(id string) (*Result, error) {
	job, ok := c.jobs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.result()
}

// Lookup returns the id of the live job for a request, if any.
func (c *Coordinator) Lookup(r DateRange, plantID *int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.keys[JobKey(r, plantID)]
	return id, ok
}

// Jobs returns the status of every live job.
func (c *Coordinator) Jobs() []Status {
	ids := c.jobs.Keys()
	statuses := make([]Status, 0, len(ids))
	for _, id := range ids {
		if job, ok := c.jobs.Peek(id); ok {
			statuses = append(statuses, job.Status())
		}
	}
	return statuses
}

// Subscribe streams the events of one job, or of all jobs when id is empty.
// The channel is closed by cancel or Close.
func (c *Coordinator) Subscribe(id string) (<-chan Event, func()) {
	return c.hub.subscribe(id)
}

// Wait blocks until the job has no active run and returns its status.
func (c *Coordinator) Wait(ctx context.Context, id string) (Status, error) {
	job, ok := c.jobs.Peek(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	job.mu.Lock()
	done := job.runDone
	job.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return job.Status(), ctx.Err()
		}
	}
	return job.Status(), nil
}

// Close cancels running jobs, waits for them to stall and releases the store.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.jobs.Close()
	c.hub.close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
