package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/systemstart/many-ci/pkg/report"
)

// liveStatus exposes the run currently in progress, or the last one.
type liveStatus struct {
	current atomic.Pointer[report.Aggregator]
}

func (l *liveStatus) Snapshot() report.RunResult {
	agg := l.current.Load()
	if agg == nil {
		return report.RunResult{Outcome: report.OutcomePending}
	}
	return agg.Snapshot()
}

// serveStatus starts the status endpoint. The listener is opened before
// returning so a bad address fails the run up front.
func serveStatus(ctx context.Context, live *liveStatus) {
	ln, err := net.Listen("tcp", statusAddr)
	if err != nil {
		slog.Error("failed to listen for status requests", "address", statusAddr, "error", err)
		os.Exit(exitStatusServerFailed)
	}

	srv := &http.Server{
		Handler:           report.NewStatusHandler(live),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server failed", "error", err)
		}
	}()
	slog.Info("serving run status", "address", ln.Addr().String())
}
