package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func finishedResult() RunResult {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code0, code101 := 0, 101
	return RunResult{
		RunID:      "5f0c6f7e-8d7b-4c55-9a2f-0d5c1d9b8a11",
		Workflow:   "rust",
		Event:      Event{Name: "push", Branch: "main"},
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Outcome:    OutcomeFailure,
		Jobs: []JobResult{
			{
				ID: "check", Job: "check", Name: "check", Status: StatusSucceeded, Required: true,
				StartedAt: start, FinishedAt: start.Add(10 * time.Second),
				Steps: []StepResult{{Name: "cargo check", Status: StatusSucceeded, ExitCode: &code0}},
			},
			{
				ID: "build (x86_64-unknown-linux-musl)", Job: "build", Name: "build",
				Matrix: map[string]string{"target": "x86_64-unknown-linux-musl"},
				Status: StatusFailed, Required: true,
				Steps: []StepResult{
					{Name: "install musl", Status: StatusFailed, Masked: true, ExitCode: &code101, ErrorKind: ErrorExitCode},
					{Name: "cargo build", Status: StatusFailed, ErrorKind: ErrorUnresolvedTemplate, Error: "unresolved template"},
					{Name: "cargo test", Status: StatusSkipped},
				},
			},
			{ID: "release", Job: "release", Name: "release", Status: StatusSkipped, Reason: "dependency failed", Required: true},
			{ID: "deploy", Job: "deploy", Name: "deploy", Status: StatusCancelledTimeout, Required: false},
		},
	}
}

func statusSet(r RunResult) map[string]Status {
	out := make(map[string]Status)
	for _, j := range r.Jobs {
		out[j.ID] = j.Status
		for _, s := range j.Steps {
			out[j.ID+"/"+s.Name] = s.Status
		}
	}
	return out
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			original := finishedResult()

			var buf bytes.Buffer
			if err := Write(&buf, original, format); err != nil {
				t.Fatalf("write: %v", err)
			}
			reloaded, err := Read(&buf, format)
			if err != nil {
				t.Fatalf("read: %v", err)
			}

			if diff := cmp.Diff(statusSet(original), statusSet(reloaded)); diff != "" {
				t.Errorf("status set mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(original, reloaded, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}

			// Writing the reloaded result again yields the same bytes.
			var first, second bytes.Buffer
			_ = Write(&first, original, format)
			_ = Write(&second, reloaded, format)
			if first.String() != second.String() {
				t.Error("re-serialized report differs")
			}
		})
	}
}

func TestRead_RejectsUnknownStatus(t *testing.T) {
	_, err := Read(strings.NewReader(`{"runId":"x","outcome":"success","jobs":[{"id":"a","job":"a","name":"a","status":"exploded","required":true,"steps":[]}]}`), FormatJSON)
	if err == nil || !strings.Contains(err.Error(), `unknown status "exploded"`) {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"json", "yaml"} {
		if _, err := ParseFormat(name); err != nil {
			t.Errorf("ParseFormat(%q): %v", name, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteFile(path, finishedResult(), FormatJSON); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"status": "cancelled-timeout"`) {
		t.Errorf("report does not contain the timeout status:\n%s", data)
	}
}
