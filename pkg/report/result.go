package report

import (
	"maps"
	"slices"
	"time"
)

// StepResult is the record of one step of a job instance.
type StepResult struct {
	ID     string `json:"id,omitzero" yaml:"id,omitempty"`
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status" yaml:"status"`
	// Masked is set when the step failed but carried continue-on-error.
	Masked     bool      `json:"masked,omitzero" yaml:"masked,omitempty"`
	ExitCode   *int      `json:"exitCode,omitzero" yaml:"exitCode,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitzero" yaml:"errorKind,omitempty"`
	Error      string    `json:"error,omitzero" yaml:"error,omitempty"`
	Output     string    `json:"output,omitzero" yaml:"output,omitempty"`
	Warnings   []string  `json:"warnings,omitzero" yaml:"warnings,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`
}

// Conclusion is the result after continue-on-error masking.
func (s StepResult) Conclusion() string {
	if s.Masked {
		return StatusSucceeded.Result()
	}
	return s.Status.Result()
}

// JobResult is the record of one job instance.
type JobResult struct {
	ID         string            `json:"id" yaml:"id"`
	Job        string            `json:"job" yaml:"job"`
	Name       string            `json:"name" yaml:"name"`
	Matrix     map[string]string `json:"matrix,omitzero" yaml:"matrix,omitempty"`
	Status     Status            `json:"status" yaml:"status"`
	Reason     string            `json:"reason,omitzero" yaml:"reason,omitempty"`
	Required   bool              `json:"required" yaml:"required"`
	Warnings   []string          `json:"warnings,omitzero" yaml:"warnings,omitempty"`
	StartedAt  time.Time         `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	FinishedAt time.Time         `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`
	Steps      []StepResult      `json:"steps" yaml:"steps"`
}

// Duration is zero until the instance has both started and finished.
func (j JobResult) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

func (j JobResult) clone() JobResult {
	j.Matrix = maps.Clone(j.Matrix)
	j.Warnings = slices.Clone(j.Warnings)
	j.Steps = slices.Clone(j.Steps)
	for i := range j.Steps {
		j.Steps[i].Warnings = slices.Clone(j.Steps[i].Warnings)
		if code := j.Steps[i].ExitCode; code != nil {
			c := *code
			j.Steps[i].ExitCode = &c
		}
	}
	return j
}

// Event is the trigger context a run was started for.
type Event struct {
	Name   string `json:"name,omitzero" yaml:"name,omitempty"`
	Branch string `json:"branch,omitzero" yaml:"branch,omitempty"`
}

// RunResult is the report for a whole run. Jobs are in declaration order,
// then matrix order.
type RunResult struct {
	RunID      string      `json:"runId" yaml:"runId"`
	Workflow   string      `json:"workflow,omitzero" yaml:"workflow,omitempty"`
	Event      Event       `json:"event,omitzero" yaml:"event,omitempty"`
	StartedAt  time.Time   `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	FinishedAt time.Time   `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`
	Outcome    Outcome     `json:"outcome" yaml:"outcome"`
	Jobs       []JobResult `json:"jobs" yaml:"jobs"`
}

func (r RunResult) clone() RunResult {
	r.Jobs = slices.Clone(r.Jobs)
	for i := range r.Jobs {
		r.Jobs[i] = r.Jobs[i].clone()
	}
	return r
}

// ComputeOutcome is Success iff every required instance Succeeded or was
// Skipped, and Pending while any instance is not terminal.
func ComputeOutcome(jobs []JobResult) Outcome {
	outcome := OutcomeSuccess
	for _, j := range jobs {
		if !j.Status.Terminal() {
			return OutcomePending
		}
		if j.Required && j.Status != StatusSucceeded && j.Status != StatusSkipped {
			outcome = OutcomeFailure
		}
	}
	return outcome
}

// Conclusion summarizes the instances of one job for needs.<job>.result:
// failure if any failed, else cancelled if any was cancelled, else skipped
// if all were skipped, else success.
func Conclusion(instances []JobResult) string {
	var failed, cancelled bool
	skipped := len(instances) > 0
	for _, j := range instances {
		switch j.Status {
		case StatusFailed:
			failed = true
		case StatusCancelled, StatusCancelledTimeout:
			cancelled = true
		}
		if j.Status != StatusSkipped {
			skipped = false
		}
	}
	switch {
	case failed:
		return StatusFailed.Result()
	case cancelled:
		return StatusCancelled.Result()
	case skipped:
		return StatusSkipped.Result()
	}
	return StatusSucceeded.Result()
}
