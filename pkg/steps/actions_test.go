package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/systemstart/many-ci/pkg/api"
)

func testRegistry(t *testing.T) *ActionRegistry {
	t.Helper()
	r, err := NewActionRegistry(&api.ActionsConfig{Actions: []api.ActionDef{
		{Name: "checkout", Version: "3.6.0", Run: "echo v3"},
		{Name: "checkout", Version: "4.1.3", Run: "echo v4.1", Aliases: []string{"stable"}},
		{Name: "checkout", Version: "4.2.0", Run: "echo v4.2", Inputs: map[string]string{"fetch-depth": "1"}},
		{Name: "checkout", Version: "5.0.0-rc.1", Run: "echo rc"},
		{Name: "setup-rust", Version: "1.0.0", Run: "rustup show", Shell: "bash"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		uses     string
		wantName string
		wantRef  string
		wantErr  bool
	}{
		{uses: "checkout@v4", wantName: "checkout", wantRef: "v4"},
		{uses: "checkout", wantName: "checkout", wantRef: LatestRef},
		{uses: "checkout@", wantErr: true},
		{uses: "@v4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uses, func(t *testing.T) {
			name, ref, err := ParseRef(tt.uses)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.wantName || ref != tt.wantRef {
				t.Errorf("ParseRef(%q) = %q, %q", tt.uses, name, ref)
			}
		})
	}
}

func TestActionRegistry_Resolve(t *testing.T) {
	r := testRegistry(t)

	tests := []struct {
		uses        string
		wantVersion string
	}{
		{"checkout@v4", "4.2.0"},
		{"checkout@4.1", "4.1.3"},
		{"checkout@v3", "3.6.0"},
		{"checkout@4.1.3", "4.1.3"},
		{"checkout@stable", "4.1.3"},
		{"checkout@latest", "5.0.0-rc.1"},
		{"checkout", "5.0.0-rc.1"},
		{"setup-rust@v1", "1.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.uses, func(t *testing.T) {
			def, err := r.Resolve(tt.uses)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if def.Version != tt.wantVersion {
				t.Errorf("Resolve(%q) = %s, want %s", tt.uses, def.Version, tt.wantVersion)
			}
		})
	}
}

func TestActionRegistry_ResolveErrors(t *testing.T) {
	r := testRegistry(t)

	for _, uses := range []string{"cache@v4", "checkout@v9", "checkout@4.1.9", "checkout@not-a-ref", "checkout@"} {
		t.Run(uses, func(t *testing.T) {
			_, err := r.Resolve(uses)
			if !errors.Is(err, ErrExecutorUnavailable) {
				t.Fatalf("expected ErrExecutorUnavailable, got %v", err)
			}
		})
	}
}

func TestActionRegistry_Names(t *testing.T) {
	if diff := cmp.Diff([]string{"checkout", "setup-rust"}, testRegistry(t).Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestActionExecutor_Inputs(t *testing.T) {
	shell := &recordingExecutor{}
	exec := &ActionExecutor{Registry: testRegistry(t), Shell: shell}

	_, err := exec.Execute(context.Background(), Invocation{
		Step: "checkout",
		Uses: "checkout@v4",
		With: map[string]string{"ref": "main"},
		Env:  map[string]string{"CI": "true"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shell.calls) != 1 {
		t.Fatalf("expected one shell call, got %d", len(shell.calls))
	}

	got := shell.calls[0]
	if got.Run != "echo v4.2" || got.Uses != "" {
		t.Errorf("unexpected invocation %+v", got)
	}
	want := map[string]string{"CI": "true", "INPUT_FETCH_DEPTH": "1", "INPUT_REF": "main"}
	if diff := cmp.Diff(want, got.Env); diff != "" {
		t.Errorf("env mismatch (-want +got):\n%s", diff)
	}
}

func TestActionExecutor_WithOverridesDefaults(t *testing.T) {
	shell := &recordingExecutor{}
	exec := &ActionExecutor{Registry: testRegistry(t), Shell: shell}

	_, err := exec.Execute(context.Background(), Invocation{
		Uses: "checkout@v4",
		With: map[string]string{"fetch-depth": "0"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := shell.calls[0].Env["INPUT_FETCH_DEPTH"]; got != "0" {
		t.Errorf("expected with to override default, got %q", got)
	}
}

func TestActionExecutor_ActionShell(t *testing.T) {
	shell := &recordingExecutor{}
	exec := &ActionExecutor{Registry: testRegistry(t), Shell: shell}

	if _, err := exec.Execute(context.Background(), Invocation{Uses: "setup-rust@v1", Shell: "sh"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shell.calls[0].Shell != "bash" {
		t.Errorf("expected the action's shell, got %q", shell.calls[0].Shell)
	}
}

func TestActionExecutor_UnknownAction(t *testing.T) {
	shell := &recordingExecutor{}
	exec := &ActionExecutor{Registry: testRegistry(t), Shell: shell}

	_, err := exec.Execute(context.Background(), Invocation{Uses: "cache@v4"})
	if !errors.Is(err, ErrExecutorUnavailable) {
		t.Fatalf("expected ErrExecutorUnavailable, got %v", err)
	}
	if len(shell.calls) != 0 {
		t.Error("shell should not run for an unknown action")
	}
}
