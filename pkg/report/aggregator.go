package report

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrFinalized is returned when a result changes after Finalize.
var ErrFinalized = errors.New("run result is finalized")

// Aggregator owns the run result. Every change goes through one critical
// section, so readers never observe a partially applied update.
type Aggregator struct {
	mu        sync.Mutex
	result    RunResult
	index     map[string]int
	finalized bool
	now       func() time.Time
}

// NewAggregator starts from a seeded result that already lists every
// instance in plan order.
func NewAggregator(seed RunResult) *Aggregator {
	a := &Aggregator{
		result: seed.clone(),
		index:  make(map[string]int, len(seed.Jobs)),
		now:    time.Now,
	}
	for i, j := range a.result.Jobs {
		a.index[j.ID] = i
	}
	if a.result.Outcome == "" {
		a.result.Outcome = OutcomePending
	}
	return a
}

// Update applies fn to the instance's result under the lock.
func (a *Aggregator) Update(id string, fn func(*JobResult)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return ErrFinalized
	}
	i, ok := a.index[id]
	if !ok {
		return fmt.Errorf("unknown job instance %q", id)
	}
	fn(&a.result.Jobs[i])
	return nil
}

// Transition moves an instance to status, stamping start and finish times,
// and applies fns in the same critical section. A terminal status is never
// left again.
func (a *Aggregator) Transition(id string, status Status, reason string, fns ...func(*JobResult)) error {
	var err error
	updateErr := a.Update(id, func(j *JobResult) {
		if j.Status.Terminal() {
			err = fmt.Errorf("job instance %q is already %s", id, j.Status)
			return
		}
		now := a.now()
		j.Status = status
		if reason != "" {
			j.Reason = reason
		}
		if status == StatusRunning && j.StartedAt.IsZero() {
			j.StartedAt = now
		}
		if status.Terminal() {
			j.FinishedAt = now
		}
		for _, fn := range fns {
			fn(j)
		}
	})
	if updateErr != nil {
		return updateErr
	}
	return err
}

// Start stamps the run start time.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.StartedAt = a.now()
}

// Lookup returns a copy of one instance's result.
func (a *Aggregator) Lookup(id string) (JobResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.index[id]
	if !ok {
		return JobResult{}, false
	}
	return a.result.Jobs[i].clone(), true
}

// JobResults returns copies of every instance expanded from a job.
func (a *Aggregator) JobResults(jobID string) []JobResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []JobResult
	for _, j := range a.result.Jobs {
		if j.Job == jobID {
			out = append(out, j.clone())
		}
	}
	return out
}

// Snapshot returns a deep copy of the current result with the outcome
// computed so far.
func (a *Aggregator) Snapshot() RunResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.result.clone()
	if !a.finalized {
		snap.Outcome = ComputeOutcome(snap.Jobs)
	}
	return snap
}

// Finalize computes the outcome and freezes the result.
func (a *Aggregator) Finalize() RunResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.finalized {
		a.result.Outcome = ComputeOutcome(a.result.Jobs)
		a.result.FinishedAt = a.now()
		a.finalized = true
	}
	return a.result.clone()
}
