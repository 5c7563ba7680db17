package api

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/systemstart/many-ci/pkg/expr"
)

func invalid(pos Pos, format string, args ...any) *ParseError {
	return &ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the workflow for errors that the decoder cannot catch on
// its own. It is also usable on workflows built in code.
func (w *Workflow) Validate() error {
	if len(w.On) == 0 {
		return invalid(Pos{}, "on must name at least one event")
	}
	for _, t := range w.On {
		if t.Event == "" {
			return invalid(Pos{}, "on: event name is required")
		}
		for _, pattern := range append(slices.Clone(t.Branches), t.BranchesIgnore...) {
			if !doublestar.ValidatePattern(pattern) {
				return invalid(Pos{}, "on.%s: invalid branch pattern %q", t.Event, pattern)
			}
		}
	}
	if len(w.Jobs) == 0 {
		return invalid(Pos{}, "workflow has no jobs")
	}
	if err := validateEnv(w.Env, Pos{}, "env"); err != nil {
		return err
	}

	ids := make(map[string]Pos, len(w.Jobs))
	for _, job := range w.Jobs {
		if job.ID == "" {
			return invalid(job.Pos, "job id is required")
		}
		if first, exists := ids[job.ID]; exists {
			return invalid(job.Pos, "duplicate job id %q (first defined at line %d)", job.ID, first.Line)
		}
		ids[job.ID] = job.Pos
	}

	for i := range w.Jobs {
		if err := validateJob(&w.Jobs[i], ids); err != nil {
			return err
		}
	}
	return nil
}

func validateJob(job *Job, ids map[string]Pos) error {
	if len(job.Steps) == 0 {
		return invalid(job.Pos, "job %q: has no steps", job.ID)
	}

	for _, need := range job.Needs {
		if need == job.ID {
			return invalid(job.Pos, "job %q: needs itself", job.ID)
		}
		if _, ok := ids[need]; !ok {
			return invalid(job.Pos, "job %q: needs unknown job %q", job.ID, need)
		}
	}
	if dup := firstDuplicate(job.Needs); dup != "" {
		return invalid(job.Pos, "job %q: needs %q more than once", job.ID, dup)
	}

	axes := make(map[string]bool, len(job.Matrix))
	for _, axis := range job.Matrix {
		if axis.Name == "" {
			return invalid(axis.Pos, "job %q: matrix axis name is required", job.ID)
		}
		if axes[axis.Name] {
			return invalid(axis.Pos, "job %q: duplicate matrix axis %q", job.ID, axis.Name)
		}
		axes[axis.Name] = true
		if len(axis.Values) == 0 {
			return invalid(axis.Pos, "job %q: matrix axis %q has no values", job.ID, axis.Name)
		}
		raw := make([]string, len(axis.Values))
		for i, v := range axis.Values {
			raw[i] = v.Raw
		}
		if dup := firstDuplicate(raw); dup != "" {
			return invalid(axis.Pos, "job %q: matrix axis %q lists %q more than once", job.ID, axis.Name, dup)
		}
	}

	if job.TimeoutMinutes < 0 {
		return invalid(job.Pos, "job %q: timeout-minutes must be positive", job.ID)
	}
	if err := validateCondition(job.If, job.Pos, "job "+quote(job.ID)); err != nil {
		return err
	}
	if err := validateEnv(job.Env, job.Pos, "job "+quote(job.ID)+" env"); err != nil {
		return err
	}

	stepIDs := make(map[string]bool, len(job.Steps))
	for i, step := range job.Steps {
		where := fmt.Sprintf("job %q step %d", job.ID, i)
		if err := validateStep(step, where); err != nil {
			return err
		}
		if step.ID == "" {
			continue
		}
		if stepIDs[step.ID] {
			return invalid(step.Pos, "%s: duplicate step id %q", where, step.ID)
		}
		stepIDs[step.ID] = true
	}
	return nil
}

func validateStep(step Step, where string) error {
	switch {
	case step.Run == "" && step.Uses == "":
		return invalid(step.Pos, "%s: one of run or uses is required", where)
	case step.Run != "" && step.Uses != "":
		return invalid(step.Pos, "%s: run and uses are mutually exclusive", where)
	case step.Run != "" && len(step.With) > 0:
		return invalid(step.Pos, "%s: with is only valid together with uses", where)
	}
	if err := validateCondition(step.If, step.Pos, where); err != nil {
		return err
	}
	return validateEnv(step.Env, step.Pos, where+" env")
}

func validateCondition(src string, pos Pos, where string) error {
	if src == "" {
		return nil
	}
	if _, err := expr.Parse(src); err != nil {
		return invalid(pos, "%s: invalid if expression: %v", where, err)
	}
	return nil
}

func validateEnv(vars []EnvVar, pos Pos, where string) error {
	names := make([]string, 0, len(vars))
	for _, v := range vars {
		if v.Name == "" {
			return invalid(pos, "%s: variable name is required", where)
		}
		names = append(names, v.Name)
	}
	if dup := firstDuplicate(names); dup != "" {
		return invalid(pos, "%s: duplicate variable %q", where, dup)
	}
	return nil
}

func firstDuplicate(items []string) string {
	for i, item := range items {
		if slices.Contains(items[:i], item) {
			return item
		}
	}
	return ""
}

func quote(s string) string { return fmt.Sprintf("%q", s) }
