package steps

import (
	"context"
	"errors"
)

var (
	// ErrExecutorUnavailable means the step could not be started at all: the
	// shell binary is missing or the referenced action is unknown.
	ErrExecutorUnavailable = errors.New("executor unavailable")
	// ErrUnresolvedTemplate means a ${{ }} template could not be rendered.
	ErrUnresolvedTemplate = errors.New("unresolved template")
)

// Invocation is a step ready to execute: templates rendered and the
// environment layered.
type Invocation struct {
	Job     string
	Step    string
	Run     string
	Uses    string
	With    map[string]string
	Env     map[string]string
	Shell   string
	WorkDir string
}

// Outcome is what a finished command reports. A non-zero ExitCode is a step
// failure, not an executor error.
type Outcome struct {
	ExitCode int
	Output   []byte
}

// Executor runs one step invocation. It returns an error only when the
// command could not run to completion: it was unavailable or ctx ended.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (Outcome, error)
}
