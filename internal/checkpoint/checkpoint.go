// Package checkpoint persists the set of terminally-resolved instance ids so
// interrupted runs can resume without duplicate or lost work.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunConfig is the slice of configuration frozen into the checkpoint at run
// start, recorded for provenance.
type RunConfig struct {
	Dataset    string `json:"dataset"`
	Timeout    int    `json:"timeout"`
	MaxWorkers int    `json:"max_workers"`
}

// Checkpoint is the durable record of which instances reached a terminal
// outcome. Its two id lists only ever grow during a run.
type Checkpoint struct {
	CompletedInstances []string  `json:"completed_instances"`
	FailedInstances    []string  `json:"failed_instances"`
	TotalInstances     int       `json:"total_instances"`
	StartTime          string    `json:"start_time"`
	Mode               string    `json:"mode"`
	Config             RunConfig `json:"config"`
}

// Store owns a checkpoint and its on-disk representation. All mutating
// methods persist the whole record atomically before returning, so a crash at
// any point leaves either the previous or the new state on disk, never a
// truncated mix.
type Store struct {
	path string

	mu sync.Mutex
	cp Checkpoint

	completed map[string]bool
	failed    map[string]bool
}

// New creates a store for a fresh run.
func New(path, mode string, cfg RunConfig) *Store {
	return &Store{
		path: path,
		cp: Checkpoint{
			StartTime: time.Now().Format(time.RFC3339),
			Mode:      mode,
			Config:    cfg,
		},
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
	}
}

// Load reads an existing checkpoint for a resumed run. The path comes from an
// explicit resume flag; checkpoints are never auto-discovered.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}

	s := &Store{
		path:      path,
		cp:        cp,
		completed: make(map[string]bool, len(cp.CompletedInstances)),
		failed:    make(map[string]bool, len(cp.FailedInstances)),
	}
	for _, id := range cp.CompletedInstances {
		s.completed[id] = true
	}
	for _, id := range cp.FailedInstances {
		s.failed[id] = true
	}
	return s, nil
}

// Path returns the on-disk location of the checkpoint.
func (s *Store) Path() string { return s.path }

// SetPath redirects persistence to a new location, used when resuming into a
// different output directory.
func (s *Store) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

// Snapshot returns a copy of the current checkpoint record.
func (s *Store) Snapshot() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.cp
	cp.CompletedInstances = append([]string(nil), s.cp.CompletedInstances...)
	cp.FailedInstances = append([]string(nil), s.cp.FailedInstances...)
	return cp
}

// CompletedSet returns the set of successfully completed instance ids.
func (s *Store) CompletedSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySet(s.completed)
}

// FailedSet returns the set of exhausted-failed instance ids.
func (s *Store) FailedSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySet(s.failed)
}

// TerminalSet returns the union of completed and failed ids: everything a
// resumed run must not reprocess.
func (s *Store) TerminalSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := copySet(s.completed)
	for id := range s.failed {
		set[id] = true
	}
	return set
}

// SetTotal records the run's task count and persists.
func (s *Store) SetTotal(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.TotalInstances = n
	return s.save()
}

// MarkCompleted adds id to the completed set and persists. Idempotent.
func (s *Store) MarkCompleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.completed[id] {
		s.completed[id] = true
		s.cp.CompletedInstances = append(s.cp.CompletedInstances, id)
	}
	return s.save()
}

// MarkFailed adds id to the failed set and persists. Idempotent.
func (s *Store) MarkFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed[id] {
		s.failed[id] = true
		s.cp.FailedInstances = append(s.cp.FailedInstances, id)
	}
	return s.save()
}

// ClearFailed empties the failed set so previously-exhausted instances become
// eligible again. Only invoked through an explicit retry flag.
func (s *Store) ClearFailed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = make(map[string]bool)
	s.cp.FailedInstances = nil
	return s.save()
}

// Repair reconciles the completed set against the instances actually present
// in the result sink. Ids checkpointed complete but missing their artifact are
// dropped (and returned) so they run again instead of being silently lost.
func (s *Store) Repair(haveArtifact map[string]bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	kept := s.cp.CompletedInstances[:0]
	for _, id := range s.cp.CompletedInstances {
		if haveArtifact[id] {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, id)
			delete(s.completed, id)
		}
	}
	s.cp.CompletedInstances = kept

	if len(dropped) == 0 {
		return nil, nil
	}
	return dropped, s.save()
}

// Save persists the current state. Mutating methods already persist; this is
// for callers that changed nothing but want the file to exist.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// save writes the whole record via temp-file-then-rename so a crash mid-write
// never leaves an observably corrupted checkpoint. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
