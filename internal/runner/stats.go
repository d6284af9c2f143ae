package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Summary is the run statistics record written at run end. Fully recomputable
// from the prediction sink and checkpoint; safe to be partial or absent if
// the run is interrupted.
type Summary struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	TotalDuration float64 `json:"total_duration"`
	TotalTokens   int     `json:"total_tokens"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDuration   float64 `json:"avg_duration"`
}

// Stats is a lock-guarded accumulator of run statistics. Only the scheduler's
// collector goroutine writes to it; the lock keeps concurrent readers safe.
type Stats struct {
	mu            sync.Mutex
	total         int
	completed     int
	failed        int
	totalDuration float64
	totalTokens   int
}

// NewStats creates an accumulator for a run of the given size.
func NewStats(total int) *Stats {
	return &Stats{total: total}
}

// Add folds one terminal result into the aggregate.
func (s *Stats) Add(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Success {
		s.completed++
	} else {
		s.failed++
	}
	s.totalDuration += res.Duration.Seconds()
	s.totalTokens += res.Usage.Tokens
}

// Processed returns the number of instances with a terminal outcome so far.
func (s *Stats) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed + s.failed
}

// Snapshot derives the summary record from the current aggregate.
func (s *Stats) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Total:         s.total,
		Completed:     s.completed,
		Failed:        s.failed,
		TotalDuration: s.totalDuration,
		TotalTokens:   s.totalTokens,
	}
	if s.total > 0 {
		sum.SuccessRate = float64(s.completed) / float64(s.total) * 100
		sum.AvgDuration = s.totalDuration / float64(s.total)
	}
	return sum
}

// Save writes the summary as JSON. A plain write is fine here; the record is
// derived and never the source of truth.
func (s *Stats) Save(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing stats: %w", err)
	}
	return nil
}

// LoadSummary reads a stats file written by Save.
func LoadSummary(path string) (Summary, error) {
	var sum Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return sum, fmt.Errorf("reading stats: %w", err)
	}
	if err := json.Unmarshal(data, &sum); err != nil {
		return sum, fmt.Errorf("parsing stats %s: %w", path, err)
	}
	return sum, nil
}
