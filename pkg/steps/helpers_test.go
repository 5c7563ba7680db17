package steps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeTestFile writes content to a file in dir, failing the test on error.
func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// recordingExecutor remembers the invocations it was asked to run.
type recordingExecutor struct {
	calls   []Invocation
	outcome Outcome
	err     error
}

func (r *recordingExecutor) Execute(_ context.Context, inv Invocation) (Outcome, error) {
	r.calls = append(r.calls, inv)
	return r.outcome, r.err
}
