// Package server exposes the coach over a JSON HTTP API.
//
// Audio travels as the raw request body. Every failure is answered with a
// JSON body {"kind": ..., "reason": ...} whose kind is one of the error
// taxonomy values and whose HTTP status follows from the kind.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/speakwise/internal/app"
	"github.com/MrWong99/speakwise/internal/course"
	"github.com/MrWong99/speakwise/internal/health"
	"github.com/MrWong99/speakwise/internal/history"
	"github.com/MrWong99/speakwise/internal/observe"
	"github.com/MrWong99/speakwise/internal/scoring"
	"github.com/MrWong99/speakwise/pkg/provider/tts"
	"github.com/MrWong99/speakwise/pkg/types"
)

// DefaultMaxBodyBytes caps request bodies unless overridden.
const DefaultMaxBodyBytes = 32 << 20

// Coach is the facade the handlers drive. *app.Coach satisfies it.
type Coach interface {
	ScorePronunciation(ctx context.Context, audio scoring.Audio, targetText string) (types.AnalysisResult, error)
	Assess(ctx context.Context, data []byte, targetText, prompt string) (app.Assessment, error)
	CritiqueAudio(ctx context.Context, audio []byte, prompt string) (string, error)
	SetLanguage(tag string) error
	Phonemize(text string) (string, error)
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
	SupportedLanguages() []tts.Language
	Status() app.Status
}

var _ Coach = (*app.Coach)(nil)

// Option is a functional option for New.
type Option func(*Server)

// WithHistory enables the /v1/history routes. Without it they report
// not-configured.
func WithHistory(s history.Store) Option {
	return func(srv *Server) { srv.history = s }
}

// WithCourses sets the course catalogue. Without it the catalogue is empty.
func WithCourses(c *course.Catalogue) Option {
	return func(srv *Server) { srv.courses = c }
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetrics sets the metrics sink for the request middleware. Defaults to
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.metricsHandler = h }
}

// WithMaxBodyBytes caps the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxBody = n
		}
	}
}

// Server routes HTTP requests to the coach and its collaborators.
type Server struct {
	coach          Coach
	history        history.Store
	courses        *course.Catalogue
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	maxBody        int64

	handler http.Handler
}

// New builds a Server around coach.
func New(coach Coach, opts ...Option) *Server {
	s := &Server{coach: coach, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler including tracing and metrics
// middleware.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/score", s.handleScore)
	mux.HandleFunc("POST /v1/critique", s.handleCritique)
	mux.HandleFunc("POST /v1/phonemize", s.handlePhonemize)
	mux.HandleFunc("PUT /v1/language", s.handleSetLanguage)
	mux.HandleFunc("GET /v1/languages", s.handleLanguages)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/tts", s.handleSynthesize)

	mux.HandleFunc("GET /v1/history", s.handleListHistory)
	mux.HandleFunc("POST /v1/history", s.handleAddHistory)
	mux.HandleFunc("DELETE /v1/history", s.handleClearHistory)

	mux.HandleFunc("GET /v1/courses", s.handleListCourses)
	mux.HandleFunc("GET /v1/courses/{id}", s.handleGetCourse)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	slog.Info("server: stopped")
	return nil
}
