package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/store"
)

// State is the lifecycle position of a job.
type State string

const (
	StatePlanned    State = "planned"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
	StateStalled    State = "stalled"
)

// Request describes an extraction. A zero ChunkDays selects DefaultChunkDays.
type Request struct {
	Range     DateRange
	PlantID   *int64
	ChunkDays int
}

// JobKey is the natural key of an extraction: its date range and plant filter.
// It is safe to use as a file name.
func JobKey(r DateRange, plantID *int64) string {
	plant := "all"
	if plantID != nil {
		plant = fmt.Sprintf("plant%d", *plantID)
	}
	return fmt.Sprintf("%s-%s-%s", r.Start.Format("20060102"), r.End.Format("20060102"), plant)
}

// Status is a point-in-time view of a job.
type Status struct {
	ID              string            `json:"id"`
	Key             string            `json:"key"`
	Range           DateRange         `json:"range"`
	PlantID         *int64            `json:"plant_id,omitempty"`
	State           State             `json:"state"`
	Running         bool              `json:"running"`
	Progress        float64           `json:"progress"`
	CurrentChunk    *Chunk            `json:"current_chunk,omitempty"`
	RecordCount     int               `json:"record_count"`
	CompletedChunks int               `json:"completed_chunks"`
	TotalChunks     int               `json:"total_chunks"`
	Error           string            `json:"error,omitempty"`
	ChunkErrors     map[string]string `json:"chunk_errors,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Result is the output of a complete job.
type Result struct {
	JobID       string         `json:"job_id"`
	Range       DateRange      `json:"range"`
	PlantID     *int64         `json:"plant_id,omitempty"`
	Records     []epias.Record `json:"records"`
	Count       int            `json:"count"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Job is the state of one extraction. Records are kept per chunk and joined in
// plan order, so a resumed job yields the same sequence as an uninterrupted one.
type Job struct {
	ID        string
	Key       string
	Range     DateRange
	PlantID   *int64
	ChunkDays int
	Chunks    []Chunk

	mu          sync.Mutex
	state       State
	running     bool
	runDone     chan struct{}
	current     *Chunk
	completed   map[string]bool
	records     map[string][]epias.Record
	recordCount int
	chunkErrors map[string]string
	err         error
	createdAt   time.Time
	updatedAt   time.Time
	completedAt time.Time
}

func newJob(id string, req Request, chunks []Chunk) *Job {
	now := time.Now()
	j := &Job{
		ID:          id,
		Key:         JobKey(req.Range, req.PlantID),
		Range:       req.Range,
		PlantID:     req.PlantID,
		ChunkDays:   req.ChunkDays,
		Chunks:      chunks,
		state:       StatePlanned,
		completed:   make(map[string]bool),
		records:     make(map[string][]epias.Record),
		chunkErrors: make(map[string]string),
		createdAt:   now,
		updatedAt:   now,
	}
	if len(chunks) == 0 {
		j.state = StateComplete
		j.completedAt = now
	}
	return j
}

// restore applies a checkpoint. Chunk keys that are not part of the plan are
// ignored, so a checkpoint written with another chunk size only contributes the
// chunks that line up.
func (j *Job) restore(cp *store.Checkpoint) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	planned := make(map[string]bool, len(j.Chunks))
	for _, chunk := range j.Chunks {
		planned[chunk.Key()] = true
	}

	restored := 0
	for _, key := range cp.Completed {
		if !planned[key] || j.completed[key] {
			continue
		}
		j.completed[key] = true
		j.records[key] = cp.Records[key]
		j.recordCount += len(cp.Records[key])
		restored++
	}
	for key, msg := range cp.ChunkErrors {
		if planned[key] && !j.completed[key] {
			j.chunkErrors[key] = msg
		}
	}

	switch {
	case len(j.completed) == len(j.Chunks):
		j.state = StateComplete
		j.completedAt = time.Now()
	case restored > 0:
		j.state = StateStalled
	}
	return restored
}

func (j *Job) checkpoint() *store.Checkpoint {
	j.mu.Lock()
	defer j.mu.Unlock()

	cp := &store.Checkpoint{
		JobKey:      j.Key,
		Start:       j.Range.Start,
		End:         j.Range.End,
		PlantID:     j.PlantID,
		ChunkDays:   j.ChunkDays,
		Records:     make(map[string][]map[string]any, len(j.records)),
		ChunkErrors: make(map[string]string, len(j.chunkErrors)),
		UpdatedAt:   time.Now(),
	}
	for _, chunk := range j.Chunks {
		key := chunk.Key()
		if j.completed[key] {
			cp.Completed = append(cp.Completed, key)
			cp.Records[key] = j.records[key]
		}
	}
	for key, msg := range j.chunkErrors {
		cp.ChunkErrors[key] = msg
	}
	return cp
}

// begin marks the job as driven by a run. It reports false when a run is
// already active or there is nothing left to do.
func (j *Job) begin() (started bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false, ErrJobRunning
	}
	if j.state == StateComplete {
		return false, nil
	}
	j.running = true
	j.runDone = make(chan struct{})
	j.state = StateInProgress
	j.err = nil
	j.updatedAt = time.Now()
	return true, nil
}

// end closes the run with a final state.
func (j *Job) end(state State, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	j.err = err
	j.current = nil
	j.running = false
	j.updatedAt = time.Now()
	if state == StateComplete {
		j.completedAt = j.updatedAt
	}
	if j.runDone != nil {
		close(j.runDone)
		j.runDone = nil
	}
}

func (j *Job) isCompleted(key string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completed[key]
}

func (j *Job) setCurrent(chunk Chunk) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.current = &chunk
	j.updatedAt = time.Now()
}

func (j *Job) completeChunk(chunk Chunk, records []epias.Record) (progress float64, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	key := chunk.Key()
	if records == nil {
		records = []epias.Record{}
	}
	j.completed[key] = true
	j.records[key] = records
	j.recordCount += len(records)
	delete(j.chunkErrors, key)
	j.updatedAt = time.Now()
	return j.progressLocked(), j.recordCount
}

func (j *Job) failChunk(chunk Chunk, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.chunkErrors[chunk.Key()] = err.Error()
	j.updatedAt = time.Now()
}

func (j *Job) allCompleted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.completed) == len(j.Chunks)
}

func (j *Job) failedChunks() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.chunkErrors)
}

func (j *Job) progressLocked() float64 {
	if len(j.Chunks) == 0 {
		return 1
	}
	return float64(len(j.completed)) / float64(len(j.Chunks))
}

// Status returns a snapshot of the job.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := Status{
		ID:              j.ID,
		Key:             j.Key,
		Range:           j.Range,
		PlantID:         j.PlantID,
		State:           j.state,
		Running:         j.running,
		Progress:        j.progressLocked(),
		RecordCount:     j.recordCount,
		CompletedChunks: len(j.completed),
		TotalChunks:     len(j.Chunks),
		CreatedAt:       j.createdAt,
		UpdatedAt:       j.updatedAt,
	}
	if j.current != nil {
		current := *j.current
		status.CurrentChunk = &current
	}
	if j.err != nil {
		status.Error = j.err.Error()
	}
	if len(j.chunkErrors) > 0 {
		status.ChunkErrors = make(map[string]string, len(j.chunkErrors))
		for key, msg := range j.chunkErrors {
			status.ChunkErrors[key] = msg
		}
	}
	return status
}

// result joins the per-chunk records in plan order.
func (j *Job) result() (*Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateComplete {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotComplete, j.ID, j.state)
	}

	records := make([]epias.Record, 0, j.recordCount)
	for _, chunk := range j.Chunks {
		records = append(records, j.records[chunk.Key()]...)
	}
	return &Result{
		JobID:       j.ID,
		Range:       j.Range,
		PlantID:     j.PlantID,
		Records:     records,
		Count:       len(records),
		CompletedAt: j.completedAt,
	}, nil
}

// failedKeys lists the chunks that errored in this or an earlier run.
func (j *Job) failedKeys() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	keys := make([]string, 0, len(j.chunkErrors))
	for key := range j.chunkErrors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
