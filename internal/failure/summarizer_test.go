package failure

import (
	"testing"

	"github.com/lemon07r/patchbench/internal/predictions"
)

func TestCategorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want string
	}{
		{"agent timed out after 30m0s", "timeout"},
		{"context deadline exceeded", "timeout"},
		{"agent produced no patch", "no_patch"},
		{"provisioning django__django-11019: clone: exit status 128", "provision"},
		{"ModuleNotFoundError: No module named 'requests'", "import_error"},
		{"SyntaxError: invalid syntax on line 42", "syntax_error"},
		{"TypeError: unsupported operand type(s)", "type_error"},
		{"AttributeError: 'NoneType' object has no attribute 'shape'", "attribute_error"},
		{"AssertionError: expected separable matrix", "assertion_error"},
		{"2 tests FAILED in module test_models", "test_failure"},
		{"something entirely novel happened", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := Categorize(tt.msg); got != tt.want {
				t.Errorf("Categorize(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestCategorizeOrderMatters(t *testing.T) {
	t.Parallel()

	// A timeout whose captured output mentions test failures is still a
	// timeout; infrastructure classes are checked first.
	msg := "agent timed out after 30m0s; last output: 3 tests FAILED"
	if got := Categorize(msg); got != "timeout" {
		t.Errorf("Categorize(%q) = %q, want timeout", msg, got)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	failures := []predictions.Failure{
		{InstanceID: "a", Error: "agent timed out after 10s"},
		{InstanceID: "b", Error: "agent timed out after 20s"},
		{InstanceID: "c", Error: "agent produced no patch"},
		{InstanceID: "d", Error: "weird one"},
	}

	counts := Summarize(failures)
	if len(counts) != 3 {
		t.Fatalf("Summarize() = %d categories, want 3", len(counts))
	}
	if counts[0].Category != "timeout" || counts[0].Count != 2 {
		t.Errorf("top category = %+v, want timeout x2", counts[0])
	}
	if counts[0].Instances[0] != "a" || counts[0].Instances[1] != "b" {
		t.Errorf("timeout instances = %v", counts[0].Instances)
	}

	// Ties sort alphabetically for stable output.
	if counts[1].Category != "no_patch" || counts[2].Category != Unknown {
		t.Errorf("tie order = %s, %s; want no_patch then unknown", counts[1].Category, counts[2].Category)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	if counts := Summarize(nil); len(counts) != 0 {
		t.Errorf("Summarize(nil) = %v, want empty", counts)
	}
}
