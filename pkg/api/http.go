// Package api exposes the rating engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pashagolub/tierelo/pkg/elo"
	"github.com/pashagolub/tierelo/pkg/engine"
	"github.com/pashagolub/tierelo/pkg/logger"
	"github.com/pashagolub/tierelo/pkg/metrics"
	"github.com/pashagolub/tierelo/pkg/tier"
)

const (
	defaultMatchups = 5
	maxMatchups     = 100
	maxTiers        = tier.MaxTiers
	maxBodyBytes    = 8 << 20
)

// TemplateSource returns the presentation templates of count tiers
type TemplateSource func(count int) ([]tier.Template, error)

// Server serves one engine. The engine is not safe for concurrent use, so
// every handler holds mu while it touches it.
type Server struct {
	mu     sync.Mutex
	engine *engine.Engine

	defaultTiers int
	templates    TemplateSource
	clock        elo.Clock
	log          logger.Logger
	metrics      *metrics.Manager
	gatherer     prometheus.Gatherer
}

// Option customizes a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records request metrics on m
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer exposes g on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithTiers sets the tier count used when a request names none, and where
// tier labels come from
func WithTiers(defaultCount int, templates TemplateSource) Option {
	return func(s *Server) {
		if defaultCount > 0 {
			s.defaultTiers = defaultCount
		}
		if templates != nil {
			s.templates = templates
		}
	}
}

// WithClock stamps comparisons posted without a timestamp
func WithClock(c elo.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewServer creates a server around eng
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:       eng,
		defaultTiers: 5,
		templates: func(count int) ([]tier.Template, error) {
			return tier.DefaultTemplates(count), nil
		},
		clock:    elo.SystemClock(),
		log:      logger.Nop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /items", s.instrument(s.handlePostItems, "items"))
	mux.HandleFunc("POST /comparisons", s.instrument(s.handlePostComparisons, "comparisons"))
	mux.HandleFunc("GET /ratings", s.instrument(s.handleGetRatings, "ratings"))
	mux.HandleFunc("GET /tiers", s.instrument(s.handleGetTiers, "tiers"))
	mux.HandleFunc("GET /confidence", s.instrument(s.handleGetConfidence, "confidence"))
	mux.HandleFunc("GET /matchups", s.instrument(s.handleGetMatchups, "matchups"))
	mux.HandleFunc("GET /healthz", s.instrument(s.handleHealth, "healthz"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns a mux with every route registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeEngineError maps engine failures onto HTTP statuses
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidItem),
		errors.Is(err, elo.ErrInvalidComparison),
		errors.Is(err, elo.ErrTooFewItems),
		errors.Is(err, elo.ErrDuplicateItem),
		errors.Is(err, tier.ErrInvalidTierCount),
		errors.Is(err, tier.ErrInvalidDefinitions):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}
