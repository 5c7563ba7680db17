package report

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// SnapshotSource provides the current run result.
type SnapshotSource interface {
	Snapshot() RunResult
}

// NewStatusHandler serves the live run result:
//
//	GET /status        the whole run
//	GET /status/{job}  the instances of one job, or one instance by ID
//	GET /healthz       liveness
func NewStatusHandler(src SnapshotSource) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	})

	r.Get("/status/{job}", func(w http.ResponseWriter, req *http.Request) {
		key, err := url.PathUnescape(chi.URLParam(req, "job"))
		if err != nil {
			http.Error(w, "invalid job reference", http.StatusBadRequest)
			return
		}

		var matches []JobResult
		for _, j := range src.Snapshot().Jobs {
			if j.ID == key || j.Job == key {
				matches = append(matches, j)
			}
		}
		if len(matches) == 0 {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing status response", "error", err)
	}
}
