package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticSource RunResult

func (s staticSource) Snapshot() RunResult { return RunResult(s) }

func TestStatusHandler(t *testing.T) {
	h := NewStatusHandler(staticSource(finishedResult()))

	tests := []struct {
		path     string
		wantCode int
		wantJobs int
	}{
		{"/status", http.StatusOK, 4},
		{"/status/build", http.StatusOK, 1},
		{"/status/build%20%28x86_64-unknown-linux-musl%29", http.StatusOK, 1},
		{"/status/check", http.StatusOK, 1},
		{"/status/lint", http.StatusNotFound, 0},
		{"/healthz", http.StatusOK, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantJobs == 0 {
				return
			}

			var jobs []JobResult
			if tt.path == "/status" {
				var run RunResult
				if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
					t.Fatal(err)
				}
				jobs = run.Jobs
			} else if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
				t.Fatal(err)
			}
			if len(jobs) != tt.wantJobs {
				t.Errorf("got %d jobs, want %d", len(jobs), tt.wantJobs)
			}
		})
	}
}
