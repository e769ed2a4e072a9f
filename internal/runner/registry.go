package runner

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrAlreadyRunning signals that the task already has an active run.
var ErrAlreadyRunning = errors.New("task already running")

type runEntry struct {
	runID  uuid.UUID
	cancel context.CancelFunc
}

// Registry tracks in-flight runs per task and owns their cancellation.
// Scheduler launches and manual triggers share one registry, so a task can
// never have two concurrent runs inside the process.
type Registry struct {
	mu      sync.Mutex
	running map[int64]runEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[int64]runEntry)}
}

// acquire claims the task slot or reports ErrAlreadyRunning.
func (r *Registry) acquire(taskID int64, runID uuid.UUID, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[taskID]; ok {
		return ErrAlreadyRunning
	}
	r.running[taskID] = runEntry{runID: runID, cancel: cancel}
	return nil
}

// release frees the task slot after the run reaches a terminal state.
func (r *Registry) release(taskID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, taskID)
}

// RequestStop signals the task's run to cancel. It reports whether a running
// task was found.
func (r *Registry) RequestStop(taskID int64) bool {
	r.mu.Lock()
	entry, ok := r.running[taskID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	return true
}

// IsRunning reports whether the task currently has an active run.
func (r *Registry) IsRunning(taskID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[taskID]
	return ok
}

// RunID returns the active run id for the task, if any.
func (r *Registry) RunID(taskID int64) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.running[taskID]
	return entry.runID, ok
}

// RunningTasks returns the ids of tasks with active runs, sorted.
func (r *Registry) RunningTasks() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
