package api

import (
	"strings"
	"testing"
)

func validWorkflow() *Workflow {
	return &Workflow{
		On: []Trigger{{Event: EventPush}},
		Jobs: []Job{
			{ID: "check", Steps: []Step{{Run: "cargo check"}}},
			{ID: "build", Needs: []string{"check"}, Steps: []Step{{Run: "cargo build"}}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Workflow)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Workflow) {},
		},
		{
			name:    "no triggers",
			mutate:  func(w *Workflow) { w.On = nil },
			wantErr: "on must name at least one event",
		},
		{
			name:    "bad branch pattern",
			mutate:  func(w *Workflow) { w.On[0].Branches = []string{"release/[a"} },
			wantErr: "invalid branch pattern",
		},
		{
			name:    "no jobs",
			mutate:  func(w *Workflow) { w.Jobs = nil },
			wantErr: "workflow has no jobs",
		},
		{
			name:    "duplicate job id",
			mutate:  func(w *Workflow) { w.Jobs[1].ID = "check"; w.Jobs[1].Needs = nil },
			wantErr: `duplicate job id "check"`,
		},
		{
			name:    "no steps",
			mutate:  func(w *Workflow) { w.Jobs[0].Steps = nil },
			wantErr: `job "check": has no steps`,
		},
		{
			name:    "needs itself",
			mutate:  func(w *Workflow) { w.Jobs[0].Needs = []string{"check"} },
			wantErr: "needs itself",
		},
		{
			name:    "needs unknown",
			mutate:  func(w *Workflow) { w.Jobs[1].Needs = []string{"lint"} },
			wantErr: `needs unknown job "lint"`,
		},
		{
			name:    "needs twice",
			mutate:  func(w *Workflow) { w.Jobs[1].Needs = []string{"check", "check"} },
			wantErr: `needs "check" more than once`,
		},
		{
			name: "duplicate axis",
			mutate: func(w *Workflow) {
				w.Jobs[0].Matrix = []Axis{
					{Name: "os", Values: []Value{StringValue("linux")}},
					{Name: "os", Values: []Value{StringValue("mac")}},
				}
			},
			wantErr: `duplicate matrix axis "os"`,
		},
		{
			name: "duplicate axis value",
			mutate: func(w *Workflow) {
				w.Jobs[0].Matrix = []Axis{{Name: "os", Values: []Value{StringValue("a"), StringValue("a")}}}
			},
			wantErr: `matrix axis "os" lists "a" more than once`,
		},
		{
			name: "axis values colliding as text",
			mutate: func(w *Workflow) {
				w.Jobs[0].Matrix = []Axis{{Name: "n", Values: []Value{{Kind: KindNumber, Raw: "1"}, StringValue("1")}}}
			},
			wantErr: `matrix axis "n" lists "1" more than once`,
		},
		{
			name:    "empty axis",
			mutate:  func(w *Workflow) { w.Jobs[0].Matrix = []Axis{{Name: "os"}} },
			wantErr: `matrix axis "os" has no values`,
		},
		{
			name:    "invalid job condition",
			mutate:  func(w *Workflow) { w.Jobs[0].If = "matrix.os ==" },
			wantErr: "invalid if expression",
		},
		{
			name:    "run and uses",
			mutate:  func(w *Workflow) { w.Jobs[0].Steps[0].Uses = "checkout@v4" },
			wantErr: "run and uses are mutually exclusive",
		},
		{
			name:    "neither run nor uses",
			mutate:  func(w *Workflow) { w.Jobs[0].Steps[0].Run = "" },
			wantErr: "one of run or uses is required",
		},
		{
			name:    "with on run step",
			mutate:  func(w *Workflow) { w.Jobs[0].Steps[0].With = []EnvVar{{Name: "a", Value: "b"}} },
			wantErr: "with is only valid together with uses",
		},
		{
			name:    "invalid step condition",
			mutate:  func(w *Workflow) { w.Jobs[0].Steps[0].If = "success(1)" },
			wantErr: "invalid if expression",
		},
		{
			name: "duplicate step id",
			mutate: func(w *Workflow) {
				w.Jobs[0].Steps = []Step{{ID: "t", Run: "a"}, {ID: "t", Run: "b"}}
			},
			wantErr: `duplicate step id "t"`,
		},
		{
			name:    "duplicate env",
			mutate:  func(w *Workflow) { w.Env = []EnvVar{{Name: "A", Value: "1"}, {Name: "A", Value: "2"}} },
			wantErr: `duplicate variable "A"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validWorkflow()
			tt.mutate(w)
			err := w.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTriggered(t *testing.T) {
	w := &Workflow{On: []Trigger{
		{Event: EventPush, Branches: []string{"main", "release/**"}, BranchesIgnore: []string{"release/old/**"}},
		{Event: EventPullRequest},
	}}

	tests := []struct {
		event, branch string
		want          bool
	}{
		{"", "", true},
		{"", "feature/x", true},
		{EventPush, "main", true},
		{EventPush, "release/1.2", true},
		{EventPush, "release/old/1.0", false},
		{EventPush, "feature/x", false},
		{EventPush, "", true},
		{EventPullRequest, "feature/x", true},
		{EventWorkflowDispatch, "main", false},
	}

	for _, tt := range tests {
		t.Run(tt.event+"/"+tt.branch, func(t *testing.T) {
			if got := w.Triggered(tt.event, tt.branch); got != tt.want {
				t.Errorf("Triggered(%q, %q) = %v, want %v", tt.event, tt.branch, got, tt.want)
			}
		})
	}
}
