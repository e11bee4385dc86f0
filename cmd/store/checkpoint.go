package store

import (
	"context"
	"errors"
	"time"
)

// ErrCheckpointNotFound is returned by Load when no checkpoint exists for a key.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted progress of one extraction: which chunks are done,
// what they returned, and which failed.
type Checkpoint struct {
	JobKey      string                      `json:"job_key"`
	Start       time.Time                   `json:"start"`
	End         time.Time                   `json:"end"`
	PlantID     *int64                      `json:"plant_id,omitempty"`
	ChunkDays   int                         `json:"chunk_days"`
	Completed   []string                    `json:"completed"`
	Records     map[string][]map[string]any `json:"records"`
	ChunkErrors map[string]string           `json:"chunk_errors,omitempty"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// CheckpointStore persists checkpoints by job key.
type CheckpointStore interface {
	Load(ctx context.Context, key string) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// NopCheckpointStore keeps nothing.
type NopCheckpointStore struct{}

func (NopCheckpointStore) Load(context.Context, string) (*Checkpoint, error) {
	return nil, ErrCheckpointNotFound
}

func (NopCheckpointStore) Save(context.Context, *Checkpoint) error { return nil }

func (NopCheckpointStore) Delete(context.Context, string) error { return nil }

func (NopCheckpointStore) List(context.Context) ([]string, error) { return nil, nil }
