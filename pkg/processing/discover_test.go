package processing

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/systemstart/many-ci/pkg/plan"
)

const minimalWorkflow = "on: push\njobs:\n  a:\n    steps:\n      - run: echo a\n"

func writeWorkflow(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func relPaths(t *testing.T, root string, paths []string) []string {
	t.Helper()
	absRoot, err := filepath.Abs(root)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestDiscoverWorkflows(t *testing.T) {
	root := t.TempDir()
	writeWorkflow(t, filepath.Join(root, "ci.yml"), minimalWorkflow)
	writeWorkflow(t, filepath.Join(root, "release.yaml"), minimalWorkflow)
	writeWorkflow(t, filepath.Join(root, "README.md"), "not a workflow")
	writeWorkflow(t, filepath.Join(root, "nested", "deploy.yml"), minimalWorkflow)
	writeWorkflow(t, filepath.Join(root, "nested", "deeper", "nightly.yml"), minimalWorkflow)

	tests := []struct {
		name     string
		pattern  string
		maxDepth int
		want     []string
	}{
		{"unlimited", "", -1, []string{"ci.yml", "release.yaml", "nested/deploy.yml", "nested/deeper/nightly.yml"}},
		{"root only", "", 0, []string{"ci.yml", "release.yaml"}},
		{"depth 1", "", 1, []string{"ci.yml", "release.yaml", "nested/deploy.yml"}},
		{"custom pattern", "nested/**/*.yml", -1, []string{"nested/deploy.yml", "nested/deeper/nightly.yml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := DiscoverWorkflows(root, tt.pattern, tt.maxDepth)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, relPaths(t, root, paths)); diff != "" {
				t.Errorf("paths mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiscoverWorkflows_File(t *testing.T) {
	f := filepath.Join(t.TempDir(), "ci.yml")
	writeWorkflow(t, f, minimalWorkflow)

	paths, err := DiscoverWorkflows(f, "", -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{f}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverWorkflows_Errors(t *testing.T) {
	if _, err := DiscoverWorkflows("/nonexistent/workflows", "", -1); err == nil {
		t.Error("expected error for missing root")
	}
	if _, err := DiscoverWorkflows(t.TempDir(), "[", -1); err == nil || !strings.Contains(err.Error(), "invalid workflow pattern") {
		t.Errorf("expected invalid pattern error, got %v", err)
	}
}

func TestLoadAll(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "ci.yml")
	bad := filepath.Join(root, "broken.yml")
	writeWorkflow(t, good, minimalWorkflow)
	writeWorkflow(t, bad, "on: push\njobs: {}\n")

	workflows, err := LoadAll([]string{good})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(workflows) != 1 || workflows[0].FilePath != good {
		t.Errorf("unexpected workflows: %+v", workflows)
	}

	_, err = LoadAll([]string{good, bad})
	if err == nil || !strings.Contains(err.Error(), "broken.yml") {
		t.Errorf("expected error naming broken.yml, got %v", err)
	}
}

func TestPrepareAll_GraphErrorStopsEveryRun(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "ci.yml")
	cyclic := filepath.Join(root, "nightly.yml")
	writeWorkflow(t, good, minimalWorkflow)
	writeWorkflow(t, cyclic, `
on: push
jobs:
  a:
    needs: b
    steps: [{run: a}]
  b:
    needs: a
    steps: [{run: b}]
`)

	workflows, err := LoadAll([]string{good, cyclic})
	if err != nil {
		t.Fatalf("the cycle is a graph error, not a document error: %v", err)
	}

	exec := newFakeExecutor()
	runs, err := PrepareAll(workflows, testOptions(exec))
	if !errors.Is(err, plan.ErrGraph) {
		t.Fatalf("expected graph error, got %v", err)
	}
	if runs != nil || !strings.Contains(err.Error(), "nightly.yml") {
		t.Errorf("expected no runs and an error naming nightly.yml, got %d runs, %v", len(runs), err)
	}
	if len(exec.runs()) != 0 {
		t.Errorf("nothing may run, got %v", exec.runs())
	}

	runs, err = PrepareAll(workflows[:1], testOptions(exec))
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one prepared run, got %d, %v", len(runs), err)
	}
}
