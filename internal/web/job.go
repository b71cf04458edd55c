package web

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trackmeta/internal/batch"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the job has reached a terminal status.
func (s JobStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a batch enrichment job. Values handed out by JobManager are
// snapshots; mutate through UpdateJob.
type Job struct {
	ID          string
	Items       []batch.Item
	Status      JobStatus
	Progress    int
	Matched     int
	Results     []batch.Result
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Cancel      context.CancelFunc
}

// Total is the number of tracks in the job.
func (j Job) Total() int { return len(j.Items) }

// JobManager manages batch jobs
type JobManager struct {
	jobs      map[string]*Job
	mu        sync.RWMutex
	listeners map[string][]chan Job
	now       func() time.Time
}

const jobRetention = 1 * time.Hour

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*Job),
		listeners: make(map[string][]chan Job),
		now:       time.Now,
	}
}

// StartCleanup starts a background goroutine that removes old finished jobs.
// Stops when ctx is cancelled.
func (jm *JobManager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jm.cleanup()
			}
		}
	}()
}

func (jm *JobManager) cleanup() {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	cutoff := jm.now().Add(-jobRetention)
	for id, job := range jm.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(jm.jobs, id)
			delete(jm.listeners, id)
		}
	}
}

// CreateJob registers a pending job for items.
func (jm *JobManager) CreateJob(items []batch.Item) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        "job_" + uuid.NewString(),
		Items:     items,
		Status:    StatusPending,
		CreatedAt: jm.now(),
	}

	jm.jobs[job.ID] = job
	return *job
}

// GetJob returns a snapshot of a job by ID
func (jm *JobManager) GetJob(id string) (Job, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, ok := jm.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job not found: %s", id)
	}
	return *job, nil
}

// ListJobs returns snapshots of all jobs, newest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

// UpdateJob applies fn to a job and notifies subscribers. A finished job
// keeps its terminal status.
func (jm *JobManager) UpdateJob(id string, fn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, ok := jm.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}

	oldStatus := job.Status
	fn(job)
	if oldStatus.Finished() {
		job.Status = oldStatus
	}

	// Update timestamps based on status changes
	if oldStatus != job.Status {
		now := jm.now()
		switch {
		case job.Status == StatusRunning:
			if job.StartedAt == nil {
				job.StartedAt = &now
			}
		case job.Status.Finished():
			if job.CompletedAt == nil {
				job.CompletedAt = &now
			}
		}
	}

	jm.notifyListeners(id, *job)
	return nil
}

// Subscribe subscribes to job updates
func (jm *JobManager) Subscribe(jobID string) <-chan Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	ch := make(chan Job, 10)
	jm.listeners[jobID] = append(jm.listeners[jobID], ch)
	return ch
}

// Unsubscribe removes a listener
func (jm *JobManager) Unsubscribe(jobID string, ch <-chan Job) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	listeners := jm.listeners[jobID]
	for i, listener := range listeners {
		if listener == ch {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(listener)
			break
		}
	}
}

// notifyListeners sends updates to all listeners. Slow listeners miss
// intermediate updates but always receive the terminal one.
func (jm *JobManager) notifyListeners(jobID string, job Job) {
	for _, ch := range jm.listeners[jobID] {
		select {
		case ch <- job:
			continue
		default:
		}
		if !job.Status.Finished() {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- job:
		default:
		}
	}
}
