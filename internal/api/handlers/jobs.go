package handlers

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Finished jobs stay visible this long so a client reconnecting after
// completion still learns the outcome, then they are dropped.
const jobRetention = 5 * time.Minute

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
}

type job struct {
	mu          sync.Mutex
	last        ProgressEvent
	subscribers []chan ProgressEvent
}

// JobTracker fans indexing progress out to websocket subscribers. Late
// subscribers immediately get the latest event, so a client connecting
// after completion still learns the outcome.
type JobTracker struct {
	mu        sync.Mutex
	jobs      map[string]*job
	retention time.Duration
}

func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*job), retention: jobRetention}
}

func (t *JobTracker) Start(total int) string {
	id := uuid.New().String()

	t.mu.Lock()
	t.jobs[id] = &job{
		last: ProgressEvent{JobID: id, Status: JobRunning, Total: total},
	}
	t.mu.Unlock()

	return id
}

func (t *JobTracker) Publish(event ProgressEvent) {
	t.mu.Lock()
	j, ok := t.jobs[event.JobID]
	t.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	j.last = event
	subs := append([]chan ProgressEvent(nil), j.subscribers...)
	if event.Status != JobRunning {
		for _, ch := range j.subscribers {
			close(ch)
		}
		j.subscribers = nil
	}
	j.mu.Unlock()

	if event.Status != JobRunning {
		t.evictAfter(event.JobID)
		return
	}

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it will catch up on the next event.
		}
	}
}

func (t *JobTracker) evictAfter(jobID string) {
	time.AfterFunc(t.retention, func() {
		t.mu.Lock()
		delete(t.jobs, jobID)
		t.mu.Unlock()
	})
}

// Subscribe returns the latest event plus a channel of subsequent ones.
// The channel is nil when the job already reached a terminal state.
func (t *JobTracker) Subscribe(jobID string) (ProgressEvent, <-chan ProgressEvent, bool) {
	t.mu.Lock()
	j, ok := t.jobs[jobID]
	t.mu.Unlock()
	if !ok {
		return ProgressEvent{}, nil, false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.last.Status != JobRunning {
		return j.last, nil, true
	}

	ch := make(chan ProgressEvent, 16)
	j.subscribers = append(j.subscribers, ch)
	return j.last, ch, true
}

func (t *JobTracker) Unsubscribe(jobID string, ch <-chan ProgressEvent) {
	t.mu.Lock()
	j, ok := t.jobs[jobID]
	t.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for i, sub := range j.subscribers {
		if sub == ch {
			j.subscribers = append(j.subscribers[:i], j.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}
