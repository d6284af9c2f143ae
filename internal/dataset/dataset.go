// Package dataset loads benchmark task descriptors from local dataset files.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Instance identifies one unit of work: a repository at a revision plus the
// issue the agent is asked to fix. Instances are immutable once loaded.
type Instance struct {
	InstanceID       string `json:"instance_id"`
	Repo             string `json:"repo"` // "owner/name" GitHub coordinate
	BaseCommit       string `json:"base_commit"`
	ProblemStatement string `json:"problem_statement"`
}

// Load reads instances from a JSONL file (one JSON object per line) or a
// single JSON array, preserving file order.
func Load(path string) ([]Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}

	var instances []Instance
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &instances); err != nil {
			return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
		}
	} else {
		scanner := bufio.NewScanner(strings.NewReader(trimmed))
		scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var inst Instance
			if err := json.Unmarshal([]byte(line), &inst); err != nil {
				return nil, fmt.Errorf("parsing dataset %s line %d: %w", path, lineNo, err)
			}
			instances = append(instances, inst)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading dataset %s: %w", path, err)
		}
	}

	for i, inst := range instances {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s entry %d: %w", path, i+1, err)
		}
	}

	return instances, nil
}

// Validate checks that the instance carries enough information to reproduce
// its starting state.
func (i Instance) Validate() error {
	if i.InstanceID == "" {
		return fmt.Errorf("missing instance_id")
	}
	if i.Repo == "" {
		return fmt.Errorf("%s: missing repo", i.InstanceID)
	}
	if i.BaseCommit == "" {
		return fmt.Errorf("%s: missing base_commit", i.InstanceID)
	}
	return nil
}

// FilterCompleted removes instances whose ids appear in done, preserving order.
func FilterCompleted(instances []Instance, done map[string]bool) []Instance {
	if len(done) == 0 {
		return instances
	}
	filtered := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		if !done[inst.InstanceID] {
			filtered = append(filtered, inst)
		}
	}
	return filtered
}

// Window applies skip and limit to the instance sequence, in that order.
// A limit <= 0 means no limit.
func Window(instances []Instance, skip, limit int) []Instance {
	if skip > 0 {
		if skip >= len(instances) {
			return nil
		}
		instances = instances[skip:]
	}
	if limit > 0 && limit < len(instances) {
		instances = instances[:limit]
	}
	return instances
}
