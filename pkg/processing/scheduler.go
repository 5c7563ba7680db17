package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/systemstart/many-ci/pkg/plan"
	"github.com/systemstart/many-ci/pkg/report"
)

var (
	errFailFast    = errors.New("fail-fast")
	errMaxDuration = errors.New("max duration exceeded")
)

// InstanceRunner executes job instances for the scheduler.
type InstanceRunner interface {
	// Admit evaluates the job condition of an instance whose dependencies
	// are all terminal, returning any evaluation warnings.
	Admit(inst *plan.Instance) (bool, []string)
	// RunInstance runs the instance's steps and returns its terminal
	// status. It must return promptly once ctx is cancelled.
	RunInstance(ctx context.Context, inst *plan.Instance) report.Status
}

// SchedulerOptions tune dispatch.
type SchedulerOptions struct {
	Workers     int
	FailFast    bool
	GracePeriod time.Duration
}

type completion struct {
	inst   *plan.Instance
	status report.Status
}

// Scheduler drives instances from pending to a terminal status. All
// pre-start transitions happen on the goroutine calling Run; a started
// instance belongs to its worker until the worker reports completion.
type Scheduler struct {
	rc     *RunContext
	runner InstanceRunner
	opts   SchedulerOptions
	logger *slog.Logger

	status  []report.Status
	waiting []int
	ready   []*plan.Instance
	running int
	cancels map[int]context.CancelCauseFunc
	done    chan completion
	halted  bool
	reason  string
}

// NewScheduler prepares a scheduler for one run of rc's plan.
func NewScheduler(rc *RunContext, runner InstanceRunner, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	n := len(rc.Plan.Instances)
	s := &Scheduler{
		rc:      rc,
		runner:  runner,
		opts:    opts,
		logger:  rc.logger,
		status:  make([]report.Status, n),
		waiting: make([]int, n),
		cancels: make(map[int]context.CancelCauseFunc),
		done:    make(chan completion),
	}
	for _, inst := range rc.Plan.Instances {
		s.status[inst.Index] = report.StatusPending
		s.waiting[inst.Index] = len(inst.Deps)
	}
	return s
}

// Run blocks until every instance is terminal.
func (s *Scheduler) Run(ctx context.Context) {
	for _, inst := range s.rc.Plan.Instances {
		if len(inst.Deps) == 0 {
			s.resolve(inst)
		}
	}

	ctxDone := ctx.Done()
	for {
		if !s.halted && ctx.Err() != nil {
			s.halt(context.Cause(ctx))
			ctxDone = nil
		}
		s.dispatch(ctx)
		if s.running == 0 {
			return
		}

		select {
		case c := <-s.done:
			s.complete(c)
		case <-ctxDone:
			s.halt(context.Cause(ctx))
			ctxDone = nil
		}
	}
}

// resolve decides the fate of an instance whose dependencies are terminal.
func (s *Scheduler) resolve(inst *plan.Instance) {
	if s.status[inst.Index].Terminal() {
		return
	}
	if s.halted {
		s.settle(inst, report.StatusCancelled, s.reason)
		return
	}

	if dep := s.blockingDep(inst); dep != nil && !inst.Job.ContinueOnError {
		s.settle(inst, report.StatusSkipped, fmt.Sprintf("dependency %s %s", dep.ID, s.status[dep.Index]))
		return
	}

	ok, warnings := s.runner.Admit(inst)
	if len(warnings) > 0 {
		_ = s.rc.agg.Update(inst.ID, func(j *report.JobResult) {
			j.Warnings = append(j.Warnings, warnings...)
		})
	}
	if !ok {
		s.settle(inst, report.StatusSkipped, "condition false")
		return
	}

	s.status[inst.Index] = report.StatusRunnable
	if err := s.rc.agg.Transition(inst.ID, report.StatusRunnable, ""); err != nil {
		s.logger.Warn("recording instance status", "instance", inst.ID, "error", err)
	}
	pos, _ := slices.BinarySearchFunc(s.ready, inst.Index, func(q *plan.Instance, index int) int {
		return q.Index - index
	})
	s.ready = slices.Insert(s.ready, pos, inst)
}

// blockingDep returns the first dependency whose status prevents inst from
// running. A failure masked by the dependency's continue-on-error does not
// block.
func (s *Scheduler) blockingDep(inst *plan.Instance) *plan.Instance {
	for _, dep := range inst.Deps {
		switch s.status[dep.Index] {
		case report.StatusSucceeded:
		case report.StatusFailed:
			if dep.Required() {
				return dep
			}
		default:
			return dep
		}
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for s.running < s.opts.Workers && len(s.ready) > 0 && !s.halted {
		inst := s.ready[0]
		s.ready = s.ready[1:]
		s.start(ctx, inst)
	}
}

func (s *Scheduler) start(ctx context.Context, inst *plan.Instance) {
	ictx, cancel := context.WithCancelCause(ctx)
	var stopTimer context.CancelFunc = func() {}
	if d := inst.Job.MaxDuration(); d > 0 {
		ictx, stopTimer = context.WithTimeoutCause(ictx, d, errMaxDuration)
	}
	s.cancels[inst.Index] = func(cause error) {
		cancel(cause)
		stopTimer()
	}
	s.status[inst.Index] = report.StatusRunning
	s.running++

	s.logger.Info("starting job", "instance", inst.ID)
	go func() {
		status := s.work(ictx, inst)
		s.done <- completion{inst: inst, status: status}
	}()
}

func (s *Scheduler) complete(c completion) {
	s.running--
	s.status[c.inst.Index] = c.status
	if cancel, ok := s.cancels[c.inst.Index]; ok {
		cancel(nil)
		delete(s.cancels, c.inst.Index)
	}

	log := s.logger.Info
	if c.status != report.StatusSucceeded {
		log = s.logger.Warn
	}
	log("job finished", "instance", c.inst.ID, "status", c.status)

	failed := c.status == report.StatusFailed || c.status == report.StatusCancelled || c.status == report.StatusCancelledTimeout
	if s.opts.FailFast && !s.halted && failed && c.inst.Required() {
		s.halt(errFailFast)
	}

	s.release(c.inst)
}

// release tells the dependents of a terminal instance that one more
// dependency is settled. Dependents whose dependencies are all terminal are
// resolved, so skips and cancellations propagate transitively.
func (s *Scheduler) release(inst *plan.Instance) {
	for _, d := range inst.Dependents {
		s.waiting[d.Index]--
		if s.waiting[d.Index] == 0 {
			s.resolve(d)
		}
	}
}

// halt cancels every instance that has not started and signals the running
// ones. Workers stopping within the grace period end Cancelled; the others
// end Cancelled-Timeout.
func (s *Scheduler) halt(cause error) {
	s.halted = true
	s.reason = cancelReason(cause)
	s.logger.Warn("halting run", "reason", s.reason, "running", s.running)

	for idx, cancel := range s.cancels {
		cancel(cause)
		delete(s.cancels, idx)
	}
	s.ready = nil
	for _, inst := range s.rc.Plan.Instances {
		switch s.status[inst.Index] {
		case report.StatusPending, report.StatusRunnable:
			s.settle(inst, report.StatusCancelled, s.reason)
		}
	}
}

func (s *Scheduler) settle(inst *plan.Instance, status report.Status, reason string) {
	s.status[inst.Index] = status
	s.rc.settle(inst, status, reason)
	s.logger.Info("job not started", "instance", inst.ID, "status", status, "reason", reason)
	s.release(inst)
}

// work supervises one instance on its worker. The runner runs on a separate
// goroutine so a runner that ignores cancellation can be abandoned after the
// grace period.
func (s *Scheduler) work(ctx context.Context, inst *plan.Instance) report.Status {
	if err := s.rc.agg.Transition(inst.ID, report.StatusRunning, ""); err != nil {
		s.logger.Warn("recording instance status", "instance", inst.ID, "error", err)
	}

	type outcome struct {
		status report.Status
		panic  any
	}
	result := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("internal error in job", "instance", inst.ID, "panic", r, "stack", string(debug.Stack()))
				result <- outcome{status: report.StatusFailed, panic: r}
			}
		}()
		result <- outcome{status: s.runner.RunInstance(ctx, inst)}
	}()

	var out outcome
	select {
	case out = <-result:
	case <-ctx.Done():
		timer := time.NewTimer(s.opts.GracePeriod)
		defer timer.Stop()
		select {
		case out = <-result:
		case <-timer.C:
			reason := cancelReason(context.Cause(ctx))
			s.logger.Warn("job did not stop within grace period", "instance", inst.ID, "grace", s.opts.GracePeriod)
			s.finish(inst, report.StatusCancelledTimeout, reason, report.ErrorCancelled, "")
			return report.StatusCancelledTimeout
		}
	}

	switch {
	case out.panic != nil:
		s.finish(inst, report.StatusFailed, "internal error", report.ErrorInternal, fmt.Sprint(out.panic))
		return report.StatusFailed
	case ctx.Err() != nil && out.status != report.StatusSucceeded:
		// A runner that stopped in time ends cleanly cancelled.
		status := report.StatusCancelled
		if out.status == report.StatusFailed {
			status = report.StatusFailed
		}
		s.finish(inst, status, cancelReason(context.Cause(ctx)), report.ErrorCancelled, "")
		return status
	default:
		s.finish(inst, out.status, "", "", "")
		return out.status
	}
}

// finish records the terminal status of a started instance. Steps that are
// still open get a matching status: the running one is charged with kind,
// the rest did not run.
func (s *Scheduler) finish(inst *plan.Instance, status report.Status, reason string, kind report.ErrorKind, detail string) {
	err := s.rc.agg.Transition(inst.ID, status, reason, func(j *report.JobResult) {
		for i := range j.Steps {
			step := &j.Steps[i]
			switch step.Status {
			case report.StatusRunning:
				step.Status = status
				if kind != "" {
					step.ErrorKind = kind
					step.Error = detail
				}
				step.FinishedAt = j.FinishedAt
			case report.StatusPending:
				switch status {
				case report.StatusFailed:
					step.Status = report.StatusSkipped
				case report.StatusCancelledTimeout:
					step.Status = report.StatusCancelled
				default:
					step.Status = status
				}
			}
		}
		if kind == report.ErrorInternal && detail != "" {
			j.Warnings = append(j.Warnings, "internal error: "+detail)
		}
	})
	if err != nil {
		s.logger.Warn("recording instance status", "instance", inst.ID, "error", err)
	}
}

func cancelReason(cause error) string {
	switch {
	case cause == nil:
		return "cancelled"
	case errors.Is(cause, context.Canceled):
		return "cancelled"
	default:
		return cause.Error()
	}
}
