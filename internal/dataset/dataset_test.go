package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing dataset: %v", err)
	}
	return path
}

func TestLoadJSONL(t *testing.T) {
	t.Parallel()

	path := writeDataset(t, `{"instance_id":"astropy__astropy-12907","repo":"astropy/astropy","base_commit":"d16bfe0","problem_statement":"Modeling's separability matrix does not compute correctly."}
{"instance_id":"django__django-11019","repo":"django/django","base_commit":"93e892b","problem_statement":"Merging 3 or more media objects can throw unnecessary warnings."}
`)

	instances, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("Load() = %d instances, want 2", len(instances))
	}
	if instances[0].InstanceID != "astropy__astropy-12907" {
		t.Errorf("first instance id = %q", instances[0].InstanceID)
	}
	if instances[1].Repo != "django/django" {
		t.Errorf("second repo = %q", instances[1].Repo)
	}
}

func TestLoadJSONArray(t *testing.T) {
	t.Parallel()

	path := writeDataset(t, `[
  {"instance_id": "a-1", "repo": "o/r", "base_commit": "abc", "problem_statement": "x"},
  {"instance_id": "a-2", "repo": "o/r", "base_commit": "def", "problem_statement": "y"}
]`)

	instances, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("Load() = %d instances, want 2", len(instances))
	}
	if instances[0].InstanceID != "a-1" || instances[1].InstanceID != "a-2" {
		t.Errorf("order not preserved: %s, %s", instances[0].InstanceID, instances[1].InstanceID)
	}
}

func TestLoadSkipsBlankLines(t *testing.T) {
	t.Parallel()

	path := writeDataset(t, `{"instance_id":"a-1","repo":"o/r","base_commit":"abc"}

{"instance_id":"a-2","repo":"o/r","base_commit":"def"}
`)

	instances, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(instances) != 2 {
		t.Errorf("Load() = %d instances, want 2", len(instances))
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty file", "", "empty"},
		{"malformed line", `{"instance_id": not json}`, "line 1"},
		{"missing id", `{"repo":"o/r","base_commit":"abc"}`, "missing instance_id"},
		{"missing repo", `{"instance_id":"a-1","base_commit":"abc"}`, "missing repo"},
		{"missing commit", `{"instance_id":"a-1","repo":"o/r"}`, "missing base_commit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeDataset(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("Load() of missing file should error")
	}
}

func TestFilterCompleted(t *testing.T) {
	t.Parallel()

	instances := []Instance{
		{InstanceID: "a", Repo: "o/r", BaseCommit: "1"},
		{InstanceID: "b", Repo: "o/r", BaseCommit: "2"},
		{InstanceID: "c", Repo: "o/r", BaseCommit: "3"},
	}

	out := FilterCompleted(instances, map[string]bool{"a": true, "c": true})
	if len(out) != 1 || out[0].InstanceID != "b" {
		t.Errorf("FilterCompleted() = %v, want [b]", out)
	}

	// Empty done set returns the input unchanged.
	out = FilterCompleted(instances, nil)
	if len(out) != 3 {
		t.Errorf("FilterCompleted(nil) = %d instances, want 3", len(out))
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()

	instances := []Instance{
		{InstanceID: "a"}, {InstanceID: "b"}, {InstanceID: "c"}, {InstanceID: "d"},
	}

	tests := []struct {
		name        string
		skip, limit int
		want        []string
	}{
		{"no window", 0, 0, []string{"a", "b", "c", "d"}},
		{"limit only", 0, 2, []string{"a", "b"}},
		{"skip only", 1, 0, []string{"b", "c", "d"}},
		{"skip then limit", 1, 2, []string{"b", "c"}},
		{"skip past end", 10, 0, nil},
		{"limit past end", 0, 10, []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := Window(instances, tt.skip, tt.limit)
			if len(out) != len(tt.want) {
				t.Fatalf("Window(%d, %d) = %d instances, want %d", tt.skip, tt.limit, len(out), len(tt.want))
			}
			for i, id := range tt.want {
				if out[i].InstanceID != id {
					t.Errorf("Window(%d, %d)[%d] = %q, want %q", tt.skip, tt.limit, i, out[i].InstanceID, id)
				}
			}
		})
	}
}
