// Package report collects job and step results into a run report that can be
// read while the run is in progress, serialized, and summarized.
package report

import (
	"fmt"
	"slices"
)

// Status is the lifecycle state of a job instance or step.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunnable         Status = "runnable"
	StatusRunning          Status = "running"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusSkipped          Status = "skipped"
	StatusCancelled        Status = "cancelled"
	StatusCancelledTimeout Status = "cancelled-timeout"
)

var statuses = []Status{
	StatusPending, StatusRunnable, StatusRunning, StatusSucceeded,
	StatusFailed, StatusSkipped, StatusCancelled, StatusCancelledTimeout,
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled, StatusCancelledTimeout:
		return true
	}
	return false
}

// Result is the value conditions see for needs.<job>.result and
// steps.<id>.outcome.
func (s Status) Result() string {
	switch s {
	case StatusSucceeded:
		return "success"
	case StatusFailed:
		return "failure"
	case StatusSkipped:
		return "skipped"
	case StatusCancelled, StatusCancelledTimeout:
		return "cancelled"
	}
	return ""
}

func (s *Status) UnmarshalText(text []byte) error {
	v := Status(text)
	if !slices.Contains(statuses, v) {
		return fmt.Errorf("unknown status %q", text)
	}
	*s = v
	return nil
}

// ErrorKind classifies why a step failed.
type ErrorKind string

const (
	ErrorExitCode            ErrorKind = "exit-code"
	ErrorExecutorUnavailable ErrorKind = "executor-unavailable"
	ErrorUnresolvedTemplate  ErrorKind = "unresolved-template"
	ErrorCancelled           ErrorKind = "cancelled"
	ErrorInternal            ErrorKind = "internal"
)

// Outcome is the verdict for the whole run.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)
