// Package health provides HTTP liveness and readiness handlers for the
// correction service.
//
//   - /healthz reports that the process is serving and echoes static build
//     details (service name, version).
//   - /readyz runs every registered [Checker] concurrently and returns 200
//     only when all of them pass. A service without a loaded knowledge base
//     or an unreachable term store is alive but not ready.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and an error describing the failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "engine", "term_store").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_ms"`
}

type liveness struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Version string `json:"version,omitempty"`
}

type readiness struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithVersion sets the service name and version reported by /healthz.
func WithVersion(service, version string) Option {
	return func(h *Handler) {
		h.service = service
		h.version = version
	}
}

// WithCheckTimeout overrides the per-check deadline. Default: 5s.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	service  string
	version  string
}

// New creates a [Handler] that evaluates checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  checkTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{Status: "ok", Service: h.service, Version: h.version})
}

// Readyz runs all checkers concurrently, each under its own deadline derived
// from the request context, and returns 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := h.Check(r.Context())

	res := readiness{Status: "ok", Checks: results}
	status := http.StatusOK
	for _, cr := range results {
		if cr.Status != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, res)
}

// Check runs every checker and returns the results keyed by checker name.
func (h *Handler) Check(ctx context.Context) map[string]CheckResult {
	results := make(map[string]CheckResult, len(h.checkers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(cctx)
			cr := CheckResult{Status: "ok", Duration: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				cr.Status = "fail"
				cr.Error = err.Error()
			}
			mu.Lock()
			results[c.Name] = cr
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
