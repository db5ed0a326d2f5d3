package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Readiness states.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Sessions int    `json:"sessions"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	Required  bool   `json:"required"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists the dependencies of a wizard instance. Nil checkers
// are skipped.
type ReadinessChecks struct {
	// BackendLoaded reports whether case data can be served at all: remote
	// routes resolved or fixtures loaded. Always checked.
	BackendLoaded func() bool

	// CaseService and ProgressStore fail readiness when unhealthy.
	CaseService   HealthChecker
	ProgressStore HealthChecker

	// EventBus only degrades readiness; sessions work without events.
	EventBus HealthChecker
}

const checkTimeout = 2 * time.Second

var errBackendNotLoaded = errors.New("case backend not loaded")

type probe struct {
	name     string
	required bool
	check    func(context.Context) error
}

func (c ReadinessChecks) probes() []probe {
	probes := []probe{{
		name:     "backend",
		required: true,
		check: func(context.Context) error {
			if c.BackendLoaded == nil || !c.BackendLoaded() {
				return errBackendNotLoaded
			}
			return nil
		},
	}}
	for _, p := range []struct {
		name     string
		required bool
		checker  HealthChecker
	}{
		{"case_service", true, c.CaseService},
		{"progress_store", true, c.ProgressStore},
		{"event_bus", false, c.EventBus},
	} {
		if p.checker != nil {
			probes = append(probes, probe{name: p.name, required: p.required, check: p.checker.HealthCheck})
		}
	}
	return probes
}

// HandleHealth serves liveness. sessions, when non-nil, reports the number
// of live wizard sessions.
func HandleHealth(sessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok", Version: Version, Commit: Commit}
		if sessions != nil {
			resp.Sessions = sessions()
		}
		writeHealthJSON(w, http.StatusOK, resp)
	}
}

// HandleReady serves readiness. Checks run concurrently, each bounded by
// checkTimeout. A failed required check answers 503; a failed optional
// check answers 200 with status degraded.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		results := make([]CheckResult, len(probes))

		var wg sync.WaitGroup
		for i, p := range probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runCheck(r.Context(), p)
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: StatusReady, Checks: make(map[string]CheckResult, len(probes))}
		code := http.StatusOK
		for i, p := range probes {
			res := results[i]
			resp.Checks[p.name] = res
			if res.Status == "ok" {
				continue
			}
			if res.Required {
				resp.Status, code = StatusNotReady, http.StatusServiceUnavailable
			} else if resp.Status == StatusReady {
				resp.Status = StatusDegraded
			}
		}
		writeHealthJSON(w, code, resp)
	}
}

func runCheck(parent context.Context, p probe) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.check(ctx)
	res := CheckResult{Status: "ok", Required: p.required, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "error", err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
