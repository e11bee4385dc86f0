package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var keySanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")

// FileCheckpointStore keeps one JSON file per job key in a directory.
type FileCheckpointStore struct {
	dir string
}

// DefaultCheckpointDir returns ~/.epias-extractor/checkpoints.
func DefaultCheckpointDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".epias-extractor", "checkpoints")
}

// NewFileCheckpointStore creates the directory if needed.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if dir == "" {
		dir = DefaultCheckpointDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

// Dir returns the directory holding the checkpoint files.
func (s *FileCheckpointStore) Dir() string {
	return s.dir
}

func (s *FileCheckpointStore) path(key string) string {
	return filepath.Join(s.dir, keySanitizer.Replace(key)+".json")
}

func (s *FileCheckpointStore) Load(_ context.Context, key string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupted checkpoint is treated as absent; the extraction starts over.
		return nil, ErrCheckpointNotFound
	}
	if cp.Records == nil {
		cp.Records = make(map[string][]map[string]any)
	}
	return &cp, nil
}

// Save writes the checkpoint through a temporary file so a crash never leaves a
// half-written file behind.
func (s *FileCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	// Each save gets its own temp file; sessions sharing a job key may save at once.
	target := s.path(cp.JobKey)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *FileCheckpointStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the sanitized keys of every stored checkpoint.
func (s *FileCheckpointStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}
