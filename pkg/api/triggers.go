package api

import (
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
)

// Triggered reports whether the workflow runs for the given event and branch.
// An empty event means a manual run and always matches.
func (w *Workflow) Triggered(event, branch string) bool {
	if event == "" {
		return true
	}
	for _, t := range w.On {
		if t.Event == event && t.matchesBranch(branch) {
			return true
		}
	}
	return false
}

func (t Trigger) matchesBranch(branch string) bool {
	if branch == "" {
		return true
	}
	if len(t.Branches) > 0 && !matchAny(t.Branches, branch) {
		return false
	}
	return !matchAny(t.BranchesIgnore, branch)
}

func matchAny(patterns []string, branch string) bool {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, branch)
		if err != nil {
			slog.Warn("invalid branch pattern", "pattern", pattern, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
