package loop

import (
	"fmt"
	"sync"
)

// Registry tracks the active loop per project and fronts the persisted
// history store. Claim/Release is the single-flight gate: at most one task
// per project holds the slot at any time.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Task // projectID -> active task
	byID   map[string]*Task // taskID -> active task
	store  Store
}

// NewRegistry returns a registry backed by the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		active: make(map[string]*Task),
		byID:   make(map[string]*Task),
		store:  store,
	}
}

// Claim atomically reserves the project slot for the task. It fails with
// ErrAlreadyRunning if another task holds the slot, before any state is
// persisted or any session spawned.
func (r *Registry) Claim(task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[task.ProjectID]; ok {
		return fmt.Errorf("%w: task %s", ErrAlreadyRunning, cur.TaskID)
	}
	r.active[task.ProjectID] = task
	r.byID[task.TaskID] = task
	return nil
}

// Release frees the project slot if the given task holds it. Releasing a
// slot held by a different task is a no-op.
func (r *Registry) Release(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[task.ProjectID]; ok && cur.TaskID == task.TaskID {
		delete(r.active, task.ProjectID)
	}
	delete(r.byID, task.TaskID)
}

// ReleaseSlot frees the project's single-flight slot while keeping the task
// resolvable by ID. Called on the terminal transition so a new loop can
// start for the project before the finished goroutine has unwound.
func (r *Registry) ReleaseSlot(task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[task.ProjectID]; ok && cur.TaskID == task.TaskID {
		delete(r.active, task.ProjectID)
	}
}

// ActiveTask returns the task currently holding the project slot, or nil.
func (r *Registry) ActiveTask(projectID string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[projectID]
}

// Lookup resolves a task ID. Active tasks are served from memory so the
// caller sees live status; finished tasks come from the store.
func (r *Registry) Lookup(projectID, taskID string) (*Task, error) {
	r.mu.Lock()
	task, ok := r.byID[taskID]
	r.mu.Unlock()
	if ok {
		if task.ProjectID != projectID {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return task, nil
	}
	task, err := r.store.Load(projectID, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return task, nil
}

// Save persists the task's current state.
func (r *Registry) Save(task *Task) error {
	return r.store.Save(task)
}

// List returns every persisted task for the project.
func (r *Registry) List(projectID string) ([]*Task, error) {
	return r.store.List(projectID)
}

// Remove deletes the task's persisted record.
func (r *Registry) Remove(projectID, taskID string) error {
	return r.store.Remove(projectID, taskID)
}
