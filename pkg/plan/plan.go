// Package plan expands matrix jobs into concrete instances and builds the
// dependency graph the scheduler executes.
package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/systemstart/many-ci/pkg/api"
)

// DefaultMaxMatrix bounds the number of instances one job may expand into.
const DefaultMaxMatrix = 256

// ErrGraph is wrapped by every GraphError.
var ErrGraph = errors.New("invalid job graph")

// ErrorKind classifies a GraphError.
type ErrorKind string

const (
	KindCycle                ErrorKind = "cycle"
	KindUnresolvedDependency ErrorKind = "unresolved-dependency"
	KindMatrixTooLarge       ErrorKind = "matrix-too-large"
	KindEmptyMatrixAxis      ErrorKind = "empty-matrix-axis"
	KindDuplicateInstance    ErrorKind = "duplicate-instance"
)

// GraphError rejects a workflow before anything is scheduled.
type GraphError struct {
	Kind ErrorKind
	Job  string
	// Path is the offending cycle, first node repeated at the end.
	Path    []string
	Message string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case KindCycle:
		return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
	default:
		return fmt.Sprintf("job %q: %s", e.Job, e.Message)
	}
}

func (e *GraphError) Unwrap() error { return ErrGraph }

// Options tune plan construction.
type Options struct {
	MaxMatrix int
}

// Assignment is one matrix axis bound to a value.
type Assignment struct {
	Axis  string
	Value api.Value
}

// Instance is one concrete, schedulable job.
type Instance struct {
	// Index is the position in declaration order, then matrix order.
	Index      int
	ID         string
	Job        *api.Job
	Matrix     []Assignment
	Deps       []*Instance
	Dependents []*Instance
}

// MatrixValues returns the matrix assignment keyed by axis name.
func (i *Instance) MatrixValues() map[string]api.Value {
	out := make(map[string]api.Value, len(i.Matrix))
	for _, a := range i.Matrix {
		out[a.Axis] = a.Value
	}
	return out
}

// Required reports whether a failure of this instance fails the pipeline.
func (i *Instance) Required() bool { return !i.Job.ContinueOnError }

// Plan is the execution DAG over job instances.
type Plan struct {
	Workflow  *api.Workflow
	Instances []*Instance
	byJob     map[string][]*Instance
}

// InstancesOf returns the instances expanded from a job.
func (p *Plan) InstancesOf(jobID string) []*Instance {
	return p.byJob[jobID]
}

// Build validates the job graph and expands it into a plan.
func Build(wf *api.Workflow, opts Options) (*Plan, error) {
	limit := opts.MaxMatrix
	if limit <= 0 {
		limit = DefaultMaxMatrix
	}

	if err := checkReferences(wf); err != nil {
		return nil, err
	}
	if err := detectCycle(wf); err != nil {
		return nil, err
	}

	p := &Plan{Workflow: wf, byJob: make(map[string][]*Instance, len(wf.Jobs))}
	owners := make(map[string]string)
	for i := range wf.Jobs {
		job := &wf.Jobs[i]
		for _, axis := range job.Matrix {
			if len(axis.Values) == 0 {
				return nil, &GraphError{Kind: KindEmptyMatrixAxis, Job: job.ID, Message: fmt.Sprintf("matrix axis %q has no values", axis.Name)}
			}
		}
		combos, err := Expand(job.Matrix, limit)
		if err != nil {
			return nil, &GraphError{Kind: KindMatrixTooLarge, Job: job.ID, Message: err.Error()}
		}
		for _, combo := range combos {
			id := instanceID(job.ID, combo)
			if owner, taken := owners[id]; taken {
				return nil, &GraphError{
					Kind:    KindDuplicateInstance,
					Job:     job.ID,
					Message: fmt.Sprintf("instance %q is also produced by job %q", id, owner),
				}
			}
			owners[id] = job.ID
			inst := &Instance{
				Index:  len(p.Instances),
				ID:     id,
				Job:    job,
				Matrix: combo,
			}
			p.Instances = append(p.Instances, inst)
			p.byJob[job.ID] = append(p.byJob[job.ID], inst)
		}
	}

	// Every instance of a job depends on every instance of each job it needs.
	for _, inst := range p.Instances {
		for _, need := range inst.Job.Needs {
			for _, dep := range p.byJob[need] {
				inst.Deps = append(inst.Deps, dep)
				dep.Dependents = append(dep.Dependents, inst)
			}
		}
	}
	return p, nil
}

func instanceID(jobID string, combo []Assignment) string {
	if len(combo) == 0 {
		return jobID
	}
	values := make([]string, len(combo))
	for i, a := range combo {
		values[i] = a.Value.Raw
	}
	return fmt.Sprintf("%s (%s)", jobID, strings.Join(values, ", "))
}

func checkReferences(wf *api.Workflow) error {
	declared := make(map[string]bool, len(wf.Jobs))
	for _, job := range wf.Jobs {
		declared[job.ID] = true
	}
	for _, job := range wf.Jobs {
		for _, need := range job.Needs {
			if !declared[need] {
				return &GraphError{
					Kind:    KindUnresolvedDependency,
					Job:     job.ID,
					Message: fmt.Sprintf("needs undeclared job %q", need),
				}
			}
		}
	}
	return nil
}

// TopologicalOrder returns the instances in an order that respects every
// dependency edge, preferring the lowest index whenever there is a choice.
func (p *Plan) TopologicalOrder() []*Instance {
	waiting := make([]int, len(p.Instances))
	var ready []*Instance
	for _, inst := range p.Instances {
		waiting[inst.Index] = len(inst.Deps)
		if len(inst.Deps) == 0 {
			ready = append(ready, inst)
		}
	}

	order := make([]*Instance, 0, len(p.Instances))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range next.Dependents {
			waiting[d.Index]--
			if waiting[d.Index] == 0 {
				ready = insertByIndex(ready, d)
			}
		}
	}
	return order
}

func insertByIndex(queue []*Instance, inst *Instance) []*Instance {
	pos, _ := slices.BinarySearchFunc(queue, inst.Index, func(q *Instance, index int) int {
		return q.Index - index
	})
	return slices.Insert(queue, pos, inst)
}
