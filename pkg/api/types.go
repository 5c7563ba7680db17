package api

import (
	"strings"
	"time"
)

const (
	EventPush             = "push"
	EventPullRequest      = "pull_request"
	EventWorkflowDispatch = "workflow_dispatch"

	DefaultShell = "sh"
)

// ValueKind is the scalar type of a document value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

// Value is a typed scalar taken from the document. Raw keeps the literal
// text so it can be substituted into environment variables unchanged.
type Value struct {
	Kind ValueKind
	Raw  string
}

// StringValue returns a string-typed Value.
func StringValue(s string) Value { return Value{Kind: KindString, Raw: s} }

func (v Value) String() string { return v.Raw }

// Pos is a location in the workflow document. The zero value means unknown.
type Pos struct {
	Line   int
	Column int
}

// Workflow is the in-memory model of a workflow document.
type Workflow struct {
	Name     string
	On       []Trigger
	Env      []EnvVar
	Jobs     []Job
	FailFast *bool

	// Set by the loader, not from YAML.
	FilePath string
}

// Trigger is one event the workflow reacts to, optionally filtered by branch.
type Trigger struct {
	Event          string
	Branches       []string
	BranchesIgnore []string
}

// EnvVar is a single name/value pair. Order follows the document.
type EnvVar struct {
	Name  string
	Value string
}

// Axis is one matrix dimension.
type Axis struct {
	Name   string
	Values []Value
	Pos    Pos
}

// Job is a job declaration before matrix expansion.
type Job struct {
	ID              string
	Name            string
	RunsOn          []string
	Matrix          []Axis
	Needs           []string
	Steps           []Step
	If              string
	ContinueOnError bool
	TimeoutMinutes  float64
	Env             []EnvVar
	Pos             Pos
}

// Step is a single step of a job. Exactly one of Run and Uses is set.
type Step struct {
	ID               string
	Name             string
	Run              string
	Uses             string
	With             []EnvVar
	If               string
	Env              []EnvVar
	ContinueOnError  bool
	Shell            string
	WorkingDirectory string
	Pos              Pos
}

// Job returns the job with the given ID.
func (w *Workflow) Job(id string) (*Job, bool) {
	for i := range w.Jobs {
		if w.Jobs[i].ID == id {
			return &w.Jobs[i], true
		}
	}
	return nil, false
}

// DisplayName is the job name shown in reports.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// MaxDuration converts timeout-minutes into a duration; zero means unlimited.
func (j *Job) MaxDuration() time.Duration {
	return time.Duration(j.TimeoutMinutes * float64(time.Minute))
}

// DisplayName is the step name shown in reports.
func (s *Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return "Run " + s.Uses
	default:
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
		return "Run " + line
	}
}
