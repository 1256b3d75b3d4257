package progress

import (
	"sync"
	"time"

	"dubforge/internal/job"
)

const subscriberBuffer = 16

// Snapshot is one published view of a job's progress. The embedded job is a
// deep clone and safe to retain.
type Snapshot struct {
	Job       *job.Job      `json:"job"`
	Overall   float64       `json:"overall"`
	ETA       time.Duration `json:"eta,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Tracker computes and fans out job progress. Reported overall progress never
// decreases for a given job, even when retries discard stage work.
type Tracker struct {
	mu     sync.Mutex
	last   map[string]float64
	done   map[string]struct{}
	subs   map[string]map[int]chan Snapshot
	nextID int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		last: make(map[string]float64),
		done: make(map[string]struct{}),
		subs: make(map[string]map[int]chan Snapshot),
	}
}

// Publish computes the clamped overall progress for a snapshot of j, stores it
// on the clone, and fans the snapshot out to subscribers. Subscriber channels
// are closed once the job reaches a terminal status.
func (t *Tracker) Publish(j *job.Job) Snapshot {
	clone := j.Clone()
	overall := Compute(clone)

	t.mu.Lock()
	if prev, ok := t.last[clone.ID]; ok && prev > overall {
		overall = prev
	}
	t.last[clone.ID] = overall
	clone.OverallProgress = overall

	snapshot := Snapshot{
		Job:       clone,
		Overall:   overall,
		ETA:       estimateETA(clone, overall),
		UpdatedAt: time.Now().UTC(),
	}

	terminal := clone.Status.IsTerminal()
	for _, ch := range t.subs[clone.ID] {
		select {
		case ch <- snapshot:
		default:
		}
		if terminal {
			close(ch)
		}
	}
	if terminal {
		delete(t.subs, clone.ID)
		t.done[clone.ID] = struct{}{}
	}
	t.mu.Unlock()

	return snapshot
}

// Overall returns the last published progress for a job.
func (t *Tracker) Overall(jobID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[jobID]
}

// Subscribe registers for live snapshots of one job. The returned cancel
// function must be called unless the channel was closed by a terminal
// snapshot. Subscribing to a job that already published its terminal
// snapshot yields an immediately closed channel.
func (t *Tracker) Subscribe(jobID string) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	t.mu.Lock()
	if _, finished := t.done[jobID]; finished {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if t.subs[jobID] == nil {
		t.subs[jobID] = make(map[int]chan Snapshot)
	}
	id := t.nextID
	t.nextID++
	t.subs[jobID][id] = ch
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if subscribers, ok := t.subs[jobID]; ok {
			if _, live := subscribers[id]; live {
				delete(subscribers, id)
				close(ch)
			}
			if len(subscribers) == 0 {
				delete(t.subs, jobID)
			}
		}
	}
	return ch, cancel
}

// Forget drops the stored progress floor for a job, typically after deletion.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, jobID)
	delete(t.done, jobID)
}

// estimateETA projects remaining wall-clock time from elapsed time and the
// completed fraction. Returns zero when no estimate is possible.
func estimateETA(j *job.Job, overall float64) time.Duration {
	if j.StartedAt == nil || overall <= 0 || overall >= 1 || j.Status.IsTerminal() {
		return 0
	}
	elapsed := time.Since(*j.StartedAt)
	if elapsed <= 0 {
		return 0
	}
	remaining := time.Duration(float64(elapsed) * (1 - overall) / overall)
	return remaining.Round(time.Second)
}
