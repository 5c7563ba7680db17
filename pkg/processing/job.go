package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/systemstart/many-ci/pkg/api"
	"github.com/systemstart/many-ci/pkg/expr"
	"github.com/systemstart/many-ci/pkg/plan"
	"github.com/systemstart/many-ci/pkg/report"
	"github.com/systemstart/many-ci/pkg/steps"
)

// JobRunner runs the steps of one job instance in declared order.
type JobRunner struct {
	Event       report.Event
	Env         []api.EnvVar
	Executor    steps.Executor
	Aggregator  *report.Aggregator
	Logger      *slog.Logger
	OutputLimit int
}

// instanceEnv is the evaluation state shared by the steps of an instance.
type instanceEnv struct {
	inst   *plan.Instance
	exprs  *expr.Context
	data   steps.TemplateData
	env    map[string]string
	envErr error
}

func (r *JobRunner) prepare(inst *plan.Instance) *instanceEnv {
	matrix := make(map[string]string, len(inst.Matrix))
	typed := make(map[string]expr.Value, len(inst.Matrix))
	for axis, v := range inst.MatrixValues() {
		matrix[axis] = v.Raw
		typed[axis] = exprValue(v)
	}
	event := map[string]string{"name": r.Event.Name, "branch": r.Event.Branch}

	needs := make(map[string]string, len(inst.Job.Needs))
	needsData := make(map[string]map[string]string, len(inst.Job.Needs))
	for _, need := range inst.Job.Needs {
		result := report.Conclusion(r.Aggregator.JobResults(need))
		needs[need] = result
		needsData[need] = map[string]string{"result": result}
	}

	ie := &instanceEnv{
		inst: inst,
		data: steps.TemplateData{Matrix: matrix, Event: event, Needs: needsData},
	}
	ie.env, ie.envErr = renderLayers(ie.data, map[string]string{}, r.Env, inst.Job.Env)

	state := expr.StateSuccess
	for _, dep := range inst.Deps {
		if j, ok := r.Aggregator.Lookup(dep.ID); ok && j.Status != report.StatusSucceeded && j.Status != report.StatusSkipped {
			state = expr.StateFailure
		}
	}
	ie.exprs = &expr.Context{
		Matrix: typed,
		Event:  event,
		Env:    ie.env,
		Needs:  needs,
		Steps:  make(map[string]expr.StepInfo),
		State:  state,
	}
	return ie
}

// renderLayers renders env layers in order on top of base. Each value sees
// the variables defined before it.
func renderLayers(data steps.TemplateData, base map[string]string, layers ...[]api.EnvVar) (map[string]string, error) {
	env := make(map[string]string, len(base))
	for k, v := range base {
		env[k] = v
	}
	for _, layer := range layers {
		for _, v := range layer {
			data.Env = env
			rendered, err := steps.Render("env."+v.Name, v.Value, data)
			if err != nil {
				return env, err
			}
			env[v.Name] = rendered
		}
	}
	return env, nil
}

// Admit evaluates the job's if condition. An empty condition admits.
func (r *JobRunner) Admit(inst *plan.Instance) (bool, []string) {
	if inst.Job.If == "" {
		return true, nil
	}
	return r.evaluate(inst.Job.If, r.prepare(inst).exprs, "instance", inst.ID)
}

func (r *JobRunner) evaluate(src string, ctx *expr.Context, attrs ...any) (bool, []string) {
	e, err := expr.Parse(src)
	if err != nil {
		// Conditions are validated at load time; this only guards workflows
		// built in code.
		msg := fmt.Sprintf("invalid condition %q: %v", src, err)
		r.Logger.Warn(msg, attrs...)
		return false, []string{msg}
	}
	res := e.Eval(ctx)
	for _, w := range res.Warnings {
		r.Logger.Warn("condition warning", append(attrs, "condition", src, "warning", w)...)
	}
	return res.Value, res.Warnings
}

// RunInstance executes the instance's steps and returns its status. Steps
// after an unmasked failure run only if their condition explicitly holds in
// the failure state, for example always() or failure().
func (r *JobRunner) RunInstance(ctx context.Context, inst *plan.Instance) report.Status {
	ie := r.prepare(inst)
	// Dependency results only gate the job; step status functions start
	// from this job's own steps.
	ie.exprs.State = expr.StateSuccess
	logger := r.Logger.With("instance", inst.ID)
	failed := false

	for i := range inst.Job.Steps {
		step := &inst.Job.Steps[i]

		if ctx.Err() != nil {
			r.closeSteps(inst, i, report.StatusCancelled)
			return report.StatusCancelled
		}

		if failed {
			ie.exprs.State = expr.StateFailure
		}
		cond := step.If
		if cond == "" {
			cond = "success()"
		}
		ok, warnings := r.evaluate(cond, ie.exprs, "instance", inst.ID, "step", step.DisplayName())
		if !ok {
			r.record(inst, i, func(s *report.StepResult) {
				s.Status = report.StatusSkipped
				s.Warnings = append(s.Warnings, warnings...)
			})
			r.remember(ie, step, report.StatusSkipped, false)
			continue
		}

		result := r.runStep(ctx, ie, i, warnings, logger)
		if ctx.Err() != nil && result.Status != report.StatusSucceeded {
			r.closeSteps(inst, i+1, report.StatusCancelled)
			return report.StatusCancelled
		}

		masked := result.Status == report.StatusFailed && step.ContinueOnError
		r.remember(ie, step, result.Status, masked)
		if result.Status == report.StatusFailed && !masked {
			failed = true
		}
	}

	if failed {
		return report.StatusFailed
	}
	return report.StatusSucceeded
}

func (r *JobRunner) runStep(ctx context.Context, ie *instanceEnv, i int, warnings []string, logger *slog.Logger) report.StepResult {
	inst := ie.inst
	step := &inst.Job.Steps[i]
	name := step.DisplayName()

	result := report.StepResult{Status: report.StatusRunning, StartedAt: time.Now()}
	r.record(inst, i, func(s *report.StepResult) {
		s.Status = result.Status
		s.StartedAt = result.StartedAt
		s.Warnings = append(s.Warnings, warnings...)
	})

	inv, err := r.invocation(ie, step)
	if err != nil {
		result.Status = report.StatusFailed
		result.ErrorKind = report.ErrorUnresolvedTemplate
		result.Error = err.Error()
	} else {
		logger.Info("running step", "step", name)
		out, err := r.Executor.Execute(ctx, inv)
		result.Output = tail(out.Output, r.OutputLimit)
		switch {
		case ctx.Err() != nil:
			result.Status = report.StatusCancelled
			result.ErrorKind = report.ErrorCancelled
		case errors.Is(err, steps.ErrExecutorUnavailable):
			result.Status = report.StatusFailed
			result.ErrorKind = report.ErrorExecutorUnavailable
			result.Error = err.Error()
		case err != nil:
			result.Status = report.StatusFailed
			result.ErrorKind = report.ErrorInternal
			result.Error = err.Error()
		default:
			code := out.ExitCode
			result.ExitCode = &code
			result.Status = report.StatusSucceeded
			if code != 0 {
				result.Status = report.StatusFailed
				result.ErrorKind = report.ErrorExitCode
			}
		}
	}

	result.Masked = result.Status == report.StatusFailed && step.ContinueOnError
	result.FinishedAt = time.Now()
	if result.Status == report.StatusFailed {
		logger.Warn("step failed", "step", name, "kind", result.ErrorKind, "error", result.Error, "masked", result.Masked)
	} else {
		logger.Debug("step finished", "step", name, "status", result.Status)
	}

	r.record(inst, i, func(s *report.StepResult) {
		s.Status = result.Status
		s.Masked = result.Masked
		s.ExitCode = result.ExitCode
		s.ErrorKind = result.ErrorKind
		s.Error = result.Error
		s.Output = result.Output
		s.FinishedAt = result.FinishedAt
	})
	return result
}

// invocation renders the step's env, command and inputs.
func (r *JobRunner) invocation(ie *instanceEnv, step *api.Step) (steps.Invocation, error) {
	if ie.envErr != nil {
		return steps.Invocation{}, ie.envErr
	}
	env, err := renderLayers(ie.data, ie.env, step.Env)
	if err != nil {
		return steps.Invocation{}, err
	}

	data := ie.data
	data.Env = env
	inv := steps.Invocation{
		Job:     ie.inst.ID,
		Step:    step.DisplayName(),
		Uses:    step.Uses,
		Env:     env,
		Shell:   step.Shell,
		WorkDir: step.WorkingDirectory,
	}
	if inv.Run, err = steps.Render("run", step.Run, data); err != nil {
		return steps.Invocation{}, err
	}
	if len(step.With) > 0 {
		inv.With = make(map[string]string, len(step.With))
		for _, w := range step.With {
			if inv.With[w.Name], err = steps.Render("with."+w.Name, w.Value, data); err != nil {
				return steps.Invocation{}, err
			}
		}
	}
	return inv, nil
}

// remember exposes a finished step to later conditions as steps.<id>.
func (r *JobRunner) remember(ie *instanceEnv, step *api.Step, status report.Status, masked bool) {
	if step.ID == "" {
		return
	}
	conclusion := status.Result()
	if masked {
		conclusion = report.StatusSucceeded.Result()
	}
	ie.exprs.Steps[step.ID] = expr.StepInfo{Outcome: status.Result(), Conclusion: conclusion}
}

// record updates one step of a running instance. Once the instance is
// terminal its worker no longer owns it, so late updates are dropped.
func (r *JobRunner) record(inst *plan.Instance, i int, fn func(*report.StepResult)) {
	err := r.Aggregator.Update(inst.ID, func(j *report.JobResult) {
		if j.Status.Terminal() || i >= len(j.Steps) {
			return
		}
		fn(&j.Steps[i])
	})
	if err != nil && !errors.Is(err, report.ErrFinalized) {
		r.Logger.Warn("recording step result", "instance", inst.ID, "error", err)
	}
}

func (r *JobRunner) closeSteps(inst *plan.Instance, from int, status report.Status) {
	for i := from; i < len(inst.Job.Steps); i++ {
		r.record(inst, i, func(s *report.StepResult) {
			if !s.Status.Terminal() {
				s.Status = status
			}
		})
	}
}

func tail(out []byte, limit int) string {
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return string(out)
}

func exprValue(v api.Value) expr.Value {
	switch v.Kind {
	case api.KindNumber:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return expr.Str(v.Raw)
		}
		return expr.Num(f)
	case api.KindBool:
		return expr.Boolean(v.Raw == "true")
	default:
		return expr.Str(v.Raw)
	}
}
