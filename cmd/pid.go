package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
)

// ErrAlreadyRunning is returned when another extractor owns the PID file.
var ErrAlreadyRunning = errors.New("another extraction is already running")

// TaskInfo is the progress of the running extraction, shared with the viewer
type TaskInfo struct {
	PID             int       `json:"pid"`
	StartTime       time.Time `json:"start_time"`
	JobID           string    `json:"job_id,omitempty"`
	JobKey          string    `json:"job_key"`
	StartDate       string    `json:"start_date"`
	EndDate         string    `json:"end_date"`
	PlantID         *int64    `json:"plant_id,omitempty"`
	Phase           string    `json:"phase"`
	CurrentChunk    string    `json:"current_chunk,omitempty"`
	Progress        float64   `json:"progress"`
	CompletedChunks int       `json:"completed_chunks"`
	TotalChunks     int       `json:"total_chunks"`
	RecordCount     int       `json:"record_count"`
	LastError       string    `json:"last_error,omitempty"`
	LastUpdate      time.Time `json:"last_update"`
}

// newTaskInfo describes a run that has not planned its job yet
func newTaskInfo(r coordinator.DateRange, plantID *int64) *TaskInfo {
	return &TaskInfo{
		PID:       os.Getpid(),
		StartTime: time.Now(),
		JobKey:    coordinator.JobKey(r, plantID),
		StartDate: r.Start.Format(coordinator.DateLayout),
		EndDate:   r.End.Format(coordinator.DateLayout),
		PlantID:   plantID,
		Phase:     "authenticating",
	}
}

// apply folds a coordinator event into the task
func (t *TaskInfo) apply(event coordinator.Event) {
	t.JobID = event.JobID
	t.Phase = string(event.Type)
	t.Progress = event.Progress
	t.CompletedChunks = event.Completed
	t.TotalChunks = event.Total
	t.RecordCount = event.RecordCount
	if !event.ChunkStart.IsZero() {
		t.CurrentChunk = fmt.Sprintf("%s → %s",
			event.ChunkStart.Format(coordinator.DateLayout), event.ChunkEnd.Format(coordinator.DateLayout))
	}
	if event.Error != "" {
		t.LastError = event.Error
	}
}

func stateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".epias-extractor")
}

// GetPIDFilePath returns the path to the PID file
func GetPIDFilePath() string {
	return filepath.Join(stateDir(), "extractor.pid")
}

// GetTaskFilePath returns the path to the task info file
func GetTaskFilePath() string {
	return filepath.Join(stateDir(), "current_task.json")
}

// WritePIDFile claims the PID file. A file left by a dead process is taken
// over; one owned by a live process is an error.
func WritePIDFile() error {
	if pid, err := ReadPIDFile(); err == nil && pid != os.Getpid() && IsProcessRunning(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	pidPath := GetPIDFilePath()
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// RemovePIDFile removes the PID file
func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile reads the PID from file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running.
// Signal 0 probes for existence without delivering anything.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// WriteTaskInfo writes current task information to file
func WriteTaskInfo(info *TaskInfo) error {
	taskPath := GetTaskFilePath()
	if err := os.MkdirAll(filepath.Dir(taskPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task info: %w", err)
	}

	// Write then rename so the viewer never reads a partial file
	tmp := taskPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, taskPath)
}

// ReadTaskInfo reads current task information from file
func ReadTaskInfo() (*TaskInfo, error) {
	data, err := os.ReadFile(GetTaskFilePath())
	if err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task info: %w", err)
	}
	return &info, nil
}

// RemoveTaskFile removes the task info file
func RemoveTaskFile() error {
	return os.Remove(GetTaskFilePath())
}
