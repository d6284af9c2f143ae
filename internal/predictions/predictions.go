// Package predictions is the append-only durable log of artifacts produced by
// successful tasks, one self-contained JSON record per line.
package predictions

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// Record is one prediction in the sink: the patch an agent produced for an
// instance, tagged with the producing model/mode identifier and a content
// digest for integrity checks on resume.
type Record struct {
	InstanceID      string `json:"instance_id"`
	ModelNameOrPath string `json:"model_name_or_path"`
	ModelPatch      string `json:"model_patch"`
	PatchSHA        string `json:"patch_sha,omitempty"`
}

// Failure is one terminally-failed instance, recorded for later analysis.
type Failure struct {
	InstanceID string `json:"instance_id"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts"`
}

// Digest returns the hex blake3 digest of a patch.
func Digest(patch string) string {
	sum := blake3.Sum256([]byte(patch))
	return hex.EncodeToString(sum[:])
}

// Sink appends records to a JSONL file. Appends are serialized; the scheduler
// additionally funnels all writes through a single collector goroutine.
type Sink struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if needed) an append-only sink at path.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening sink: %w", err)
	}
	return &Sink{f: f}, nil
}

// Append writes one record as a single JSON line. The patch digest is filled
// in if the caller left it empty.
func (s *Sink) Append(rec Record) error {
	if rec.PatchSHA == "" {
		rec.PatchSHA = Digest(rec.ModelPatch)
	}
	return s.appendJSON(rec)
}

// AppendFailure writes one failure record.
func (s *Sink) AppendFailure(f Failure) error {
	return s.appendJSON(f)
}

func (s *Sink) appendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	return nil
}

// Sync flushes the sink to stable storage.
func (s *Sink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Sync()
}

// Close closes the sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Load reads all records from a predictions file. A missing file yields an
// empty slice: a fresh run simply has no artifacts yet.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening predictions: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", path, lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading predictions: %w", err)
	}
	return records, nil
}

// LoadFailures reads all failure records from a failures file. A missing file
// yields an empty slice.
func LoadFailures(path string) ([]Failure, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening failures: %w", err)
	}
	defer func() { _ = f.Close() }()

	var failures []Failure
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Failure
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", path, lineNo, err)
		}
		failures = append(failures, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading failures: %w", err)
	}
	return failures, nil
}

// Verify recomputes patch digests and returns the ids of records whose stored
// digest no longer matches their patch. Records without a digest are skipped.
func Verify(records []Record) []string {
	var bad []string
	for _, rec := range records {
		if rec.PatchSHA == "" {
			continue
		}
		if Digest(rec.ModelPatch) != rec.PatchSHA {
			bad = append(bad, rec.InstanceID)
		}
	}
	return bad
}

// IDSet returns the set of instance ids present in records, for checkpoint
// repair on resume.
func IDSet(records []Record) map[string]bool {
	set := make(map[string]bool, len(records))
	for _, rec := range records {
		set[rec.InstanceID] = true
	}
	return set
}
