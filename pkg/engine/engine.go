// Package engine is the single entry point to the rating and tier engine. It
// owns the rating store and wires the comparison processor, the boundary
// calculator, the tier assigner and the confidence reporter around it.
//
// An Engine is synchronous and performs no locking; callers serialize access.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pashagolub/tierelo/pkg/elo"
	"github.com/pashagolub/tierelo/pkg/logger"
	"github.com/pashagolub/tierelo/pkg/metrics"
	"github.com/pashagolub/tierelo/pkg/tier"
)

// ErrInvalidItem is returned when an item id cannot be registered
var ErrInvalidItem = errors.New("invalid item id")

// State is the engine lifecycle state
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Journal receives an audit record of everything that changes the ratings
type Journal interface {
	RecordComparison(result elo.Result) error
	RecordRejection(c elo.Comparison, reason error) error
	RecordTiers(defs []tier.Definition, itemCount int) error
}

// Config groups the tunables of every component
type Config struct {
	Elo          elo.Config
	Optimization elo.OptimizationConfig
	Reporter     tier.ReporterConfig
}

// DefaultConfig returns the standard engine settings
func DefaultConfig() Config {
	return Config{
		Elo:          elo.DefaultConfig(),
		Optimization: elo.DefaultOptimizationConfig(),
		Reporter:     tier.DefaultReporterConfig(),
	}
}

// Option customizes an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics publishes engine activity to m
func WithMetrics(m *metrics.Manager) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithJournal records every applied and rejected comparison to j
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithClock replaces the time source used for decay
func WithClock(c elo.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// Engine is the facade over the rating store and the tier components
type Engine struct {
	config Config
	state  State

	store      *elo.Store
	processor  *elo.Processor
	calculator *tier.Calculator
	assigner   *tier.Assigner
	reporter   *tier.Reporter

	clock   elo.Clock
	log     logger.Logger
	metrics *metrics.Manager
	journal Journal
}

// New creates an engine in the Uninitialized state
func New(config Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		config: config,
		state:  Uninitialized,
		clock:  elo.SystemClock(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.store = elo.NewStore(config.Elo.InitialRating)
	processor, err := elo.NewProcessor(e.store, config.Elo, e.clock)
	if err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}
	e.processor = processor
	e.calculator = tier.NewCalculator(e.store)
	e.assigner = tier.NewAssigner(e.store)
	e.reporter = tier.NewReporter(e.store, config.Reporter)
	return e, nil
}

// State returns the lifecycle state
func (e *Engine) State() State {
	return e.state
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// ensureReady moves the engine to Ready on first use
func (e *Engine) ensureReady(ctx context.Context) {
	if e.state == Ready {
		return
	}
	e.state = Ready
	e.log.Debug(ctx, "engine ready", logger.Int("items", e.store.Len()))
}

// Initialize registers items at the initial rating. Items already known keep
// their rating and counters, so repeated calls are harmless.
func (e *Engine) Initialize(ctx context.Context, ids []string) error {
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty id at position %d", ErrInvalidItem, i)
		}
	}

	before := e.store.Len()
	for _, id := range ids {
		e.store.GetOrCreate(id)
	}
	e.ensureReady(ctx)
	e.metrics.SetItems(e.store.Len())

	e.log.Info(ctx, "items registered",
		logger.Int("requested", len(ids)),
		logger.Int("created", e.store.Len()-before))
	return nil
}

// RecordComparisons applies a batch in timestamp order. Malformed comparisons
// are skipped; the returned error joins their reasons while the result still
// describes everything that was applied.
func (e *Engine) RecordComparisons(ctx context.Context, comparisons []elo.Comparison) (elo.BatchResult, error) {
	e.ensureReady(ctx)

	batch, err := e.processor.ProcessBatch(comparisons)

	for _, res := range batch.Results {
		for _, u := range res.Updates {
			e.metrics.ObserveRatingDelta(u.Delta)
		}
		if e.journal != nil {
			if jerr := e.journal.RecordComparison(res); jerr != nil {
				e.log.Error(ctx, "journal write failed", logger.Error(jerr))
			}
		}
	}
	for _, rej := range batch.Rejected {
		e.log.Warn(ctx, "comparison rejected",
			logger.Int("index", rej.Index),
			logger.String("item_a", rej.Comparison.ItemA),
			logger.String("item_b", rej.Comparison.ItemB),
			logger.Error(rej.Err))
		if e.journal != nil {
			if jerr := e.journal.RecordRejection(rej.Comparison, rej.Err); jerr != nil {
				e.log.Error(ctx, "journal write failed", logger.Error(jerr))
			}
		}
	}

	e.metrics.RecordProcessed(batch.Applied())
	e.metrics.RecordRejected(len(batch.Rejected))
	e.metrics.SetItems(e.store.Len())

	e.log.Info(ctx, "comparisons recorded",
		logger.Int("submitted", len(comparisons)),
		logger.Int("applied", batch.Applied()),
		logger.Int("rejected", len(batch.Rejected)))
	return batch, err
}

// ComputeBoundaries splits the current ranking into tierCount bands
func (e *Engine) ComputeBoundaries(ctx context.Context, tierCount int) ([]int, error) {
	e.ensureReady(ctx)
	start := time.Now()

	boundaries, err := e.calculator.Boundaries(tierCount)
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveTierComputation("boundaries", time.Since(start))
	e.log.Debug(ctx, "boundaries computed",
		logger.Int("tiers", tierCount),
		logger.Any("boundaries", boundaries))
	return boundaries, nil
}

// ComputeTiers maps every item id to its tier
func (e *Engine) ComputeTiers(ctx context.Context, defs []tier.Definition) (map[string]tier.Definition, error) {
	e.ensureReady(ctx)
	start := time.Now()

	assigned, err := e.assigner.Assign(defs)
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveTierComputation("tiers", time.Since(start))
	if e.journal != nil {
		if jerr := e.journal.RecordTiers(defs, len(assigned)); jerr != nil {
			e.log.Error(ctx, "journal write failed", logger.Error(jerr))
		}
	}
	e.log.Info(ctx, "tiers computed",
		logger.Int("tiers", len(defs)),
		logger.Int("items", len(assigned)))
	return assigned, nil
}

// GetConfidenceReport explains each placement, in rating order
func (e *Engine) GetConfidenceReport(ctx context.Context, defs []tier.Definition) ([]tier.Confidence, error) {
	e.ensureReady(ctx)
	start := time.Now()

	report, err := e.reporter.Report(defs)
	if err != nil {
		return nil, err
	}

	ambiguous := 0
	for _, c := range report {
		if c.HasAlternative() {
			ambiguous++
		}
	}
	e.metrics.ObserveTierComputation("report", time.Since(start))
	e.metrics.SetAmbiguous(ambiguous)
	e.log.Debug(ctx, "confidence report built",
		logger.Int("items", len(report)),
		logger.Int("ambiguous", ambiguous))
	return report, nil
}

// GetRatings returns a copy of every rated item keyed by id. The rating of
// an item is its Rating field; the counters come along with it.
func (e *Engine) GetRatings() map[string]elo.RatedItem {
	items := e.store.Sorted()
	ratings := make(map[string]elo.RatedItem, len(items))
	for _, item := range items {
		ratings[item.ID] = item
	}
	return ratings
}

// Items returns every rated item, highest rating first
func (e *Engine) Items() []elo.RatedItem {
	return e.store.Sorted()
}

// Snapshot returns the ratings in a form Restore accepts
func (e *Engine) Snapshot() []elo.RatedItem {
	return e.store.Snapshot()
}

// Restore replaces all ratings with a snapshot and marks the engine ready.
// Item confidence is recomputed from the restored counters.
func (e *Engine) Restore(ctx context.Context, items []elo.RatedItem) error {
	if err := e.store.Restore(items); err != nil {
		return err
	}
	for _, item := range items {
		record := e.store.GetOrCreate(item.ID)
		record.Confidence = elo.ItemConfidence(*record, e.config.Elo.MinComparisons)
	}
	e.ensureReady(ctx)
	e.metrics.SetItems(e.store.Len())
	e.log.Info(ctx, "ratings restored", logger.Int("items", len(items)))
	return nil
}

// SuggestMatchups proposes up to n comparisons expected to be most informative
func (e *Engine) SuggestMatchups(n int) []elo.Matchup {
	return elo.Suggest(e.store.Sorted(), e.store, n, e.config.Optimization)
}

// Reset forgets every item and returns to Uninitialized
func (e *Engine) Reset() {
	e.store.Reset()
	e.state = Uninitialized
	e.metrics.SetItems(0)
}
