package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/systemstart/many-ci/pkg/api"
	"github.com/systemstart/many-ci/pkg/plan"
	"github.com/systemstart/many-ci/pkg/report"
	"github.com/systemstart/many-ci/pkg/steps"
)

const (
	DefaultWorkers     = 2
	DefaultGracePeriod = 10 * time.Second
	DefaultOutputLimit = 64 << 10
)

// ErrPipelineTimeout is the cancellation cause when the whole run exceeds
// Options.Timeout.
var ErrPipelineTimeout = errors.New("pipeline timeout")

// Options configure a run.
type Options struct {
	Event  string
	Branch string

	Workers     int
	FailFast    bool
	Timeout     time.Duration
	GracePeriod time.Duration
	MaxMatrix   int
	// OutputLimit caps the captured output kept per step; the tail is kept.
	OutputLimit int

	// Env is layered over the workflow env and under job env.
	Env map[string]string

	Executor steps.Executor
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.OutputLimit <= 0 {
		o.OutputLimit = DefaultOutputLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// RunContext carries everything one run needs: the workflow, its plan, the
// event, the global environment and the live result.
type RunContext struct {
	Workflow *api.Workflow
	Plan     *plan.Plan
	Event    report.Event
	Env      []api.EnvVar

	opts   Options
	agg    *report.Aggregator
	logger *slog.Logger
}

// Prepare builds the plan and seeds the result with every instance pending.
// Graph errors are returned unchanged so callers can classify them.
func Prepare(wf *api.Workflow, opts Options) (*RunContext, error) {
	opts = opts.withDefaults()
	if opts.Executor == nil {
		return nil, errors.New("no step executor configured")
	}

	p, err := plan.Build(wf, plan.Options{MaxMatrix: opts.MaxMatrix})
	if err != nil {
		return nil, err
	}

	rc := &RunContext{
		Workflow: wf,
		Plan:     p,
		Event:    report.Event{Name: opts.Event, Branch: opts.Branch},
		Env:      MergeEnv(wf.Env, opts.Env),
		opts:     opts,
	}
	runID := uuid.NewString()
	rc.logger = opts.Logger.With("run", runID)
	rc.agg = report.NewAggregator(rc.seed(runID))
	return rc, nil
}

func (rc *RunContext) seed(runID string) report.RunResult {
	name := rc.Workflow.Name
	if name == "" && rc.Workflow.FilePath != "" {
		name = filepath.Base(rc.Workflow.FilePath)
	}

	result := report.RunResult{
		RunID:    runID,
		Workflow: name,
		Event:    rc.Event,
		Outcome:  report.OutcomePending,
	}
	for _, inst := range rc.Plan.Instances {
		job := report.JobResult{
			ID:       inst.ID,
			Job:      inst.Job.ID,
			Name:     inst.Job.DisplayName(),
			Status:   report.StatusPending,
			Required: inst.Required(),
			Steps:    make([]report.StepResult, len(inst.Job.Steps)),
		}
		if len(inst.Matrix) > 0 {
			job.Matrix = make(map[string]string, len(inst.Matrix))
			for _, a := range inst.Matrix {
				job.Matrix[a.Axis] = a.Value.Raw
			}
		}
		for i, step := range inst.Job.Steps {
			job.Steps[i] = report.StepResult{ID: step.ID, Name: step.DisplayName(), Status: report.StatusPending}
		}
		result.Jobs = append(result.Jobs, job)
	}
	return result
}

// Order lists instance IDs in an order that respects every dependency,
// declaration order breaking ties. With one worker and no failures this is
// the order instances run in.
func (rc *RunContext) Order() []string {
	order := rc.Plan.TopologicalOrder()
	ids := make([]string, len(order))
	for i, inst := range order {
		ids[i] = inst.ID
	}
	return ids
}

// Aggregator exposes the live result, for example to a status endpoint.
func (rc *RunContext) Aggregator() *report.Aggregator { return rc.agg }

// Run executes the plan and returns the finalized result. Every instance
// is terminal when Run returns.
func (rc *RunContext) Run(ctx context.Context) report.RunResult {
	rc.agg.Start()

	if !rc.Workflow.Triggered(rc.Event.Name, rc.Event.Branch) {
		rc.logger.Info("workflow not triggered by event", "event", rc.Event.Name, "branch", rc.Event.Branch)
		for _, inst := range rc.Plan.Instances {
			rc.settle(inst, report.StatusSkipped, "not triggered")
		}
		return rc.agg.Finalize()
	}

	if rc.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, rc.opts.Timeout, ErrPipelineTimeout)
		defer cancel()
	}

	failFast := rc.opts.FailFast || (rc.Workflow.FailFast != nil && *rc.Workflow.FailFast)
	runner := &JobRunner{
		Event:       rc.Event,
		Env:         rc.Env,
		Executor:    rc.opts.Executor,
		Aggregator:  rc.agg,
		Logger:      rc.logger,
		OutputLimit: rc.opts.OutputLimit,
	}
	s := NewScheduler(rc, runner, SchedulerOptions{
		Workers:     rc.opts.Workers,
		FailFast:    failFast,
		GracePeriod: rc.opts.GracePeriod,
	})

	rc.logger.Info("starting run", "workflow", rc.Workflow.Name, "instances", len(rc.Plan.Instances),
		"workers", rc.opts.Workers, "failFast", failFast)
	s.Run(ctx)

	result := rc.agg.Finalize()
	rc.logger.Info("run finished", "outcome", result.Outcome)
	return result
}

// settle records a terminal status for an instance that never started, and
// gives its steps the same fate.
func (rc *RunContext) settle(inst *plan.Instance, status report.Status, reason string) {
	err := rc.agg.Transition(inst.ID, status, reason, func(j *report.JobResult) {
		for i := range j.Steps {
			if !j.Steps[i].Status.Terminal() {
				j.Steps[i].Status = status
			}
		}
	})
	if err != nil {
		rc.logger.Warn("recording instance status", "instance", inst.ID, "error", err)
	}
}

// MergeEnv layers env maps over ordered document variables. Later layers
// override earlier ones; new names from a map layer are appended sorted.
func MergeEnv(base []api.EnvVar, layers ...map[string]string) []api.EnvVar {
	merged := slices.Clone(base)
	for _, layer := range layers {
		for _, name := range slices.Sorted(maps.Keys(layer)) {
			i := slices.IndexFunc(merged, func(v api.EnvVar) bool { return v.Name == name })
			if i >= 0 {
				merged[i].Value = layer[name]
				continue
			}
			merged = append(merged, api.EnvVar{Name: name, Value: layer[name]})
		}
	}
	return merged
}

// LoadEnvFile reads KEY=VALUE pairs in dotenv format.
func LoadEnvFile(filename string) (map[string]string, error) {
	env, err := godotenv.Read(filename)
	if err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	return env, nil
}
