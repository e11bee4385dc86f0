package coordinator

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType names what happened to a job.
type EventType string

const (
	EventStarted     EventType = "started"
	EventProgress    EventType = "progress"
	EventChunkFailed EventType = "chunk_failed"
	EventCompleted   EventType = "completed"
	EventStalled     EventType = "stalled"
)

// Event is published on every state change of a running job.
type Event struct {
	JobID        string    `json:"job_id"`
	Type         EventType `json:"type"`
	Progress     float64   `json:"progress"`
	ChunkStart   time.Time `json:"chunk_start"`
	ChunkEnd     time.Time `json:"chunk_end"`
	ChunkRecords int       `json:"chunk_records"`
	RecordCount  int       `json:"record_count"`
	Completed    int       `json:"completed_chunks"`
	Total        int       `json:"total_chunks"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// MarshalJSON leaves out the chunk bounds on events that are not about a chunk.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	out := struct {
		plain
		ChunkStart *time.Time `json:"chunk_start,omitempty"`
		ChunkEnd   *time.Time `json:"chunk_end,omitempty"`
	}{plain: plain(e)}
	if !e.ChunkStart.IsZero() {
		out.ChunkStart = &e.ChunkStart
	}
	if !e.ChunkEnd.IsZero() {
		out.ChunkEnd = &e.ChunkEnd
	}
	return json.Marshal(out)
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventStalled
}

const subscriberBuffer = 64

type subscriber struct {
	jobID string
	ch    chan Event
}

// hub fans events out to subscribers. A subscriber that falls behind loses
// events instead of blocking the fetch loop.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscriber
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]subscriber)}
}

func (h *hub) subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = subscriber{jobID: jobID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
		})
	}
}

func (h *hub) publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.jobID != "" && sub.jobID != event.JobID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			droppedEvents.Inc()
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
