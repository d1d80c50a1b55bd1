// Package store persists loop task records as JSON files, one per task,
// under <dataDir>/<projectID>/<taskID>.json.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/loopdeck/loopdeck/internal/loop"
)

// safeSegment matches IDs that are usable as a single path component.
var safeSegment = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStore implements loop.Store on the local filesystem. Writes are
// atomic (temp file then rename), so a crash mid-write never leaves a
// corrupt record behind.
type FileStore struct {
	dataDir string
}

var _ loop.Store = (*FileStore)(nil)

// New creates a store rooted at dataDir. The directory is created lazily
// on first save.
func New(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

// Save writes the task record, replacing any previous version atomically.
func (s *FileStore) Save(task *loop.Task) error {
	path, err := s.taskPath(task.ProjectID, task.TaskID)
	if err != nil {
		return err
	}
	return s.writeAtomic(path, task)
}

// Load reads one task record. A missing file is reported as
// loop.ErrNotFound.
func (s *FileStore) Load(projectID, taskID string) (*loop.Task, error) {
	path, err := s.taskPath(projectID, taskID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", loop.ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("reading task record %q: %w", path, err)
	}
	var task loop.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("decoding task record %q: %w", path, err)
	}
	return &task, nil
}

// List returns every task record for the project, oldest first. A project
// with no records yields an empty slice, not an error.
func (s *FileStore) List(projectID string) ([]*loop.Task, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*loop.Task{}, nil
		}
		return nil, fmt.Errorf("listing task records in %q: %w", dir, err)
	}

	tasks := make([]*loop.Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		task, err := s.Load(projectID, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			// One corrupt record must not hide the rest of the history.
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Remove deletes one task record. Removing a record that does not exist is
// a no-op.
func (s *FileStore) Remove(projectID, taskID string) error {
	path, err := s.taskPath(projectID, taskID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing task record %q: %w", path, err)
	}
	return nil
}

func (s *FileStore) projectDir(projectID string) (string, error) {
	if !safeSegment.MatchString(projectID) {
		return "", fmt.Errorf("invalid project id %q", projectID)
	}
	return filepath.Join(s.dataDir, projectID), nil
}

func (s *FileStore) taskPath(projectID, taskID string) (string, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return "", err
	}
	if !safeSegment.MatchString(taskID) {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return filepath.Join(dir, taskID+".json"), nil
}

// writeAtomic writes the record to a temp file in the target directory and
// renames it into place.
func (s *FileStore) writeAtomic(path string, task *loop.Task) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating store directory %q: %w", dir, err)
	}

	raw, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task record %q: %w", task.TaskID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0644); err != nil {
		return fmt.Errorf("writing temp task record %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("renaming task record into place: %w", err)
	}
	return nil
}
