package predictions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePatch = `diff --git a/models.py b/models.py
index 1234567..89abcde 100644
--- a/models.py
+++ b/models.py
@@ -1,3 +1,4 @@
 import os
+import sys

 def main():
`

func TestAppendLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "predictions.jsonl")
	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	recs := []Record{
		{InstanceID: "a-1", ModelNameOrPath: "claude-vanilla", ModelPatch: samplePatch},
		{InstanceID: "a-2", ModelNameOrPath: "claude-vanilla", ModelPatch: "diff --git a/x b/x\n+line with \"quotes\" and\ttabs"},
	}
	for _, rec := range recs {
		if err := sink.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() = %d records, want 2", len(loaded))
	}
	for i, rec := range recs {
		if loaded[i].InstanceID != rec.InstanceID {
			t.Errorf("record %d id = %q, want %q", i, loaded[i].InstanceID, rec.InstanceID)
		}
		// Patches must survive byte-for-byte, newlines and all.
		if loaded[i].ModelPatch != rec.ModelPatch {
			t.Errorf("record %d patch corrupted:\ngot  %q\nwant %q", i, loaded[i].ModelPatch, rec.ModelPatch)
		}
		if loaded[i].PatchSHA != Digest(rec.ModelPatch) {
			t.Errorf("record %d digest = %q, want %q", i, loaded[i].PatchSHA, Digest(rec.ModelPatch))
		}
	}
}

func TestAppendIsAppend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "predictions.jsonl")

	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = sink.Append(Record{InstanceID: "a-1", ModelPatch: "p1"})
	_ = sink.Close()

	// Reopening must not truncate previous records.
	sink, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = sink.Append(Record{InstanceID: "a-2", ModelPatch: "p2"})
	_ = sink.Close()

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() = %d records, want 2 after reopen", len(loaded))
	}
	if loaded[0].InstanceID != "a-1" || loaded[1].InstanceID != "a-2" {
		t.Errorf("order = %s, %s", loaded[0].InstanceID, loaded[1].InstanceID)
	}
}

func TestJSONFieldNames(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "predictions.jsonl")
	sink, _ := Open(path)
	_ = sink.Append(Record{InstanceID: "a-1", ModelNameOrPath: "m", ModelPatch: "p"})
	_ = sink.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading sink: %v", err)
	}
	for _, key := range []string{"instance_id", "model_name_or_path", "model_patch"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("record missing key %q", key)
		}
	}
	if strings.Count(strings.TrimSpace(string(data)), "\n") != 0 {
		t.Error("record should be a single line")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	recs, err := Load(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if recs != nil {
		t.Errorf("Load of missing file = %v, want nil", recs)
	}
}

func TestLoadMalformedLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "predictions.jsonl")
	content := `{"instance_id":"a-1","model_patch":"p"}
{broken
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Load error = %v, want line 2 parse failure", err)
	}
}

func TestDigestStable(t *testing.T) {
	t.Parallel()

	a := Digest(samplePatch)
	b := Digest(samplePatch)
	if a != b {
		t.Errorf("digest not deterministic: %s vs %s", a, b)
	}
	if a == Digest(samplePatch+" ") {
		t.Error("digest should change with content")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	good := Record{InstanceID: "good", ModelPatch: "p", PatchSHA: Digest("p")}
	bad := Record{InstanceID: "bad", ModelPatch: "p", PatchSHA: Digest("something else")}
	legacy := Record{InstanceID: "legacy", ModelPatch: "p"} // no digest recorded

	mismatched := Verify([]Record{good, bad, legacy})
	if len(mismatched) != 1 || mismatched[0] != "bad" {
		t.Errorf("Verify() = %v, want [bad]", mismatched)
	}
}

func TestIDSet(t *testing.T) {
	t.Parallel()

	set := IDSet([]Record{{InstanceID: "a"}, {InstanceID: "b"}, {InstanceID: "a"}})
	if len(set) != 2 || !set["a"] || !set["b"] {
		t.Errorf("IDSet() = %v, want {a, b}", set)
	}
}

func TestFailureRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "failures.jsonl")
	sink, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sink.AppendFailure(Failure{InstanceID: "a-1", Error: "agent timed out after 30m0s", Attempts: 3}); err != nil {
		t.Fatalf("AppendFailure: %v", err)
	}
	_ = sink.Close()

	failures, err := LoadFailures(path)
	if err != nil {
		t.Fatalf("LoadFailures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("LoadFailures() = %d records, want 1", len(failures))
	}
	f := failures[0]
	if f.InstanceID != "a-1" || f.Attempts != 3 || !strings.Contains(f.Error, "timed out") {
		t.Errorf("failure = %+v", f)
	}
}

func TestLoadFailuresMissingFile(t *testing.T) {
	t.Parallel()

	failures, err := LoadFailures(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("LoadFailures of missing file: %v", err)
	}
	if failures != nil {
		t.Errorf("LoadFailures of missing file = %v, want nil", failures)
	}
}
