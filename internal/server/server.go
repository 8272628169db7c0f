// Package server exposes the correction engine over HTTP.
//
// Routes:
//
//	POST /v1/correct         correct a transcript (text plus optional word detail)
//	POST /v1/distance        compare the pronunciations of two strings
//	GET  /v1/terms           list the active knowledge base
//	GET  /v1/terms/similar   rank terms against ?q= (optional &k=)
//	GET  /healthz, /readyz   liveness and readiness
//	GET  /metrics            Prometheus scrape endpoint (optional)
//	ANY  /mcp                MCP Streamable HTTP endpoint (optional)
//
// Every /v1 route is wrapped in [observe.Middleware]. Request and response
// bodies are JSON; errors use {"error": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/phonofix/internal/engine"
	"github.com/MrWong99/phonofix/internal/health"
	"github.com/MrWong99/phonofix/internal/observe"
	"github.com/MrWong99/phonofix/internal/transcript"
	"github.com/MrWong99/phonofix/pkg/phonetic/distance"
	"github.com/MrWong99/phonofix/pkg/types"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultSimilarK     = 5
	readHeaderTimeout   = 10 * time.Second
)

// DistanceRequest is the body of POST /v1/distance.
type DistanceRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// DistanceResponse is the reply to POST /v1/distance.
type DistanceResponse struct {
	A         string             `json:"a"`
	B         string             `json:"b"`
	Breakdown distance.Breakdown `json:"breakdown"`
}

// TermsResponse is the reply to GET /v1/terms.
type TermsResponse struct {
	Generation  uint64             `json:"generation"`
	Transcriber string             `json:"transcriber"`
	Usable      int                `json:"usable"`
	Skipped     int                `json:"skipped"`
	Terms       []transcript.Entry `json:"terms"`
}

// SimilarResponse is the reply to GET /v1/terms/similar.
type SimilarResponse struct {
	Query       string                  `json:"query"`
	Suggestions []transcript.Suggestion `json:"suggestions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the instruments used by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsEndpoint serves the Prometheus registry at GET /metrics.
func WithMetricsEndpoint() Option {
	return func(s *Server) { s.promEndpoint = true }
}

// WithHealthCheckers adds readiness checks beyond the built-in "engine" check.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, checkers...) }
}

// WithMCPHandler mounts h at /mcp for all methods.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithVersion sets the service version reported by /healthz.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithMaxBodyBytes caps request body size. Default: 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithTLS serves HTTPS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// Server is the HTTP front end of an [engine.Engine].
type Server struct {
	engine       *engine.Engine
	metrics      *observe.Metrics
	checkers     []health.Checker
	promEndpoint bool
	mcp          http.Handler
	version      string
	maxBody      int64
	certFile     string
	keyFile      string

	handler http.Handler
}

// New builds a Server over e. Routes are fixed at construction time.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		checkers: []health.Checker{{Name: "engine", Check: e.Ready}},
		maxBody:  defaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mw := observe.Middleware(s.metrics)
	mux.Handle("POST /v1/correct", mw(http.HandlerFunc(s.handleCorrect)))
	mux.Handle("POST /v1/distance", mw(http.HandlerFunc(s.handleDistance)))
	mux.Handle("GET /v1/terms", mw(http.HandlerFunc(s.handleTerms)))
	mux.Handle("GET /v1/terms/similar", mw(http.HandlerFunc(s.handleSimilar)))
	health.New(s.checkers, health.WithVersion("phonofix", s.version)).Register(mux)
	if s.promEndpoint {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	s.handler = mux
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, waiting at most shutdownTimeout for in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is [Server.ListenAndServe] on an existing listener. It takes
// ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", s.certFile != "")
		if s.certFile != "" {
			errCh <- srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-errCh
	slog.Info("http server stopped")
	return nil
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var t types.Transcript
	if !s.decode(w, r, &t) {
		return
	}
	out, err := s.engine.CorrectTranscript(r.Context(), t)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	var req DistanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	bd, err := s.engine.Distance(r.Context(), req.A, req.B)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DistanceResponse{A: req.A, B: req.B, Breakdown: bd})
}

func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Load()
	if snap == nil {
		s.fail(w, r, engine.ErrNotReady)
		return
	}
	writeJSON(w, http.StatusOK, TermsResponse{
		Generation:  snap.Generation,
		Transcriber: snap.TranscriberName,
		Usable:      snap.Corrector.Len(),
		Skipped:     snap.Corrector.SkippedEntries(),
		Terms:       snap.Corrector.Entries(),
	})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing query parameter q"})
		return
	}
	k := defaultSimilarK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid k %q", raw)})
			return
		}
		k = n
	}
	out, err := s.engine.Similar(r.Context(), q, k)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SimilarResponse{Query: q, Suggestions: out})
}

// decode reads a JSON body into v. Unknown fields are rejected. On failure it
// writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail maps an engine error to a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, engine.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	observe.Logger(r.Context()).Warn("request failed", "path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
