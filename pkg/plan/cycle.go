package plan

import "github.com/systemstart/many-ci/pkg/api"

type color int

const (
	unvisited color = iota
	visiting
	done
)

// detectCycle runs a three-color depth-first search over the job-level
// "needs" graph. Instance edges are derived from job edges, so a job cycle
// exists exactly when an instance cycle does.
func detectCycle(wf *api.Workflow) error {
	colors := make(map[string]color, len(wf.Jobs))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = visiting
		stack = append(stack, id)

		job, _ := wf.Job(id)
		for _, need := range job.Needs {
			switch colors[need] {
			case visiting:
				return cyclePath(stack, need)
			case unvisited:
				if cycle := visit(need); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = done
		return nil
	}

	for _, job := range wf.Jobs {
		if colors[job.ID] != unvisited {
			continue
		}
		if cycle := visit(job.ID); cycle != nil {
			return &GraphError{Kind: KindCycle, Job: cycle[0], Path: cycle}
		}
	}
	return nil
}

// cyclePath cuts the DFS stack at the back-edge target and closes the loop.
func cyclePath(stack []string, target string) []string {
	for i, id := range stack {
		if id == target {
			path := append([]string(nil), stack[i:]...)
			return append(path, target)
		}
	}
	return []string{target, target}
}
