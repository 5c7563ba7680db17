package processing

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/systemstart/many-ci/pkg/api"
	"github.com/systemstart/many-ci/pkg/report"
	"github.com/systemstart/many-ci/pkg/steps"
)

type handler func(ctx context.Context, inv steps.Invocation) (steps.Outcome, error)

// fakeExecutor records invocations and answers by run command. Commands
// without a handler succeed.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []steps.Invocation
	handlers map[string]handler
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{handlers: make(map[string]handler)}
}

func (f *fakeExecutor) on(run string, h handler) *fakeExecutor {
	f.handlers[run] = h
	return f
}

func (f *fakeExecutor) Execute(ctx context.Context, inv steps.Invocation) (steps.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	h := f.handlers[inv.Run]
	f.mu.Unlock()

	if h != nil {
		return h(ctx, inv)
	}
	return steps.Outcome{Output: []byte(inv.Run)}, nil
}

func (f *fakeExecutor) runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Run
	}
	return out
}

func (f *fakeExecutor) invocation(t *testing.T, run string) steps.Invocation {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.IndexFunc(f.calls, func(c steps.Invocation) bool { return c.Run == run })
	if i < 0 {
		t.Fatalf("%q was never invoked", run)
	}
	return f.calls[i]
}

func exitWith(code int) handler {
	return func(context.Context, steps.Invocation) (steps.Outcome, error) {
		return steps.Outcome{ExitCode: code}, nil
	}
}

func exitAfter(d time.Duration, code int) handler {
	return func(ctx context.Context, _ steps.Invocation) (steps.Outcome, error) {
		select {
		case <-time.After(d):
			return steps.Outcome{ExitCode: code}, nil
		case <-ctx.Done():
			return steps.Outcome{ExitCode: -1}, context.Cause(ctx)
		}
	}
}

// blockUntilCancelled stops cleanly when signalled.
func blockUntilCancelled(started chan<- struct{}) handler {
	return func(ctx context.Context, _ steps.Invocation) (steps.Outcome, error) {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return steps.Outcome{ExitCode: -1}, context.Cause(ctx)
	}
}

// hang ignores cancellation until the test ends.
func hang(t *testing.T) handler {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return func(context.Context, steps.Invocation) (steps.Outcome, error) {
		<-release
		return steps.Outcome{}, nil
	}
}

func mustParse(t *testing.T, doc string) *api.Workflow {
	t.Helper()
	wf, err := api.ParseWorkflow([]byte(doc))
	if err != nil {
		t.Fatalf("parsing workflow: %v", err)
	}
	return wf
}

func testOptions(exec steps.Executor) Options {
	return Options{
		Event:       api.EventPush,
		Branch:      "main",
		Workers:     2,
		GracePeriod: 50 * time.Millisecond,
		Executor:    exec,
		Logger:      slog.New(slog.DiscardHandler),
	}
}

func run(t *testing.T, doc string, opts Options) report.RunResult {
	t.Helper()
	rc, err := Prepare(mustParse(t, doc), opts)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	done := make(chan report.RunResult, 1)
	go func() { done <- rc.Run(context.Background()) }()
	select {
	case result := <-done:
		assertAllTerminal(t, result)
		return result
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
		return report.RunResult{}
	}
}

func assertAllTerminal(t *testing.T, result report.RunResult) {
	t.Helper()
	for _, j := range result.Jobs {
		if !j.Status.Terminal() {
			t.Errorf("instance %s is not terminal: %s", j.ID, j.Status)
		}
		for _, s := range j.Steps {
			if !s.Status.Terminal() {
				t.Errorf("step %s/%s is not terminal: %s", j.ID, s.Name, s.Status)
			}
		}
	}
}

func job(t *testing.T, result report.RunResult, id string) report.JobResult {
	t.Helper()
	i := slices.IndexFunc(result.Jobs, func(j report.JobResult) bool { return j.ID == id })
	if i < 0 {
		t.Fatalf("no instance %q in result", id)
	}
	return result.Jobs[i]
}

func stepStatuses(j report.JobResult) []report.Status {
	out := make([]report.Status, len(j.Steps))
	for i, s := range j.Steps {
		out[i] = s.Status
	}
	return out
}
