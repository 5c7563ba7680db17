package steps

import (
	"context"
	"fmt"
	"log/slog"
)

type router struct {
	commands Executor
	actions  Executor
}

// NewExecutor routes run steps to commands and uses steps to actions. A nil
// actions executor makes every uses step unavailable.
func NewExecutor(commands Executor, actions Executor) Executor {
	return &router{commands: commands, actions: actions}
}

func (r *router) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	if inv.Uses == "" {
		return r.commands.Execute(ctx, inv)
	}
	if r.actions == nil {
		return Outcome{}, fmt.Errorf("%w: no actions registered for %q", ErrExecutorUnavailable, inv.Uses)
	}
	return r.actions.Execute(ctx, inv)
}

// DryRunExecutor logs each invocation and reports success without running it.
type DryRunExecutor struct{}

func (DryRunExecutor) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{ExitCode: -1}, context.Cause(ctx)
	}
	target := inv.Run
	if inv.Uses != "" {
		target = inv.Uses
	}
	slog.Info("dry run: skipping execution", "job", inv.Job, "step", inv.Step, "command", target)
	return Outcome{}, nil
}
