// Package elo provides Elo rating calculations for pairwise comparison systems.
// It keeps one rating record per item in a Store and updates it from head-to-head
// outcomes using an adaptive K-factor, time decay of stale comparisons and an
// incrementally maintained confidence score.
package elo

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Error types for validation
var (
	ErrInvalidRating     = errors.New("rating value is invalid")
	ErrInvalidKFactor    = errors.New("k-factor must be positive")
	ErrInvalidDecay      = errors.New("decay factor must be in (0, 1]")
	ErrInvalidMinimum    = errors.New("minimum comparisons must be positive")
	ErrInvalidComparison = errors.New("invalid comparison")
	ErrInvalidRecord     = errors.New("invalid rating record")
)

const (
	// ratingScale is the logistic divisor of the Elo expectation. It is a
	// constant of the model, not a tuning knob.
	ratingScale = 400.0

	decayPeriodDays = 7.0
	hoursPerDay     = 24.0
)

// Config holds configuration parameters for the comparison processor
type Config struct {
	InitialRating  float64 // Default rating for new items
	BaseK          float64 // K-factor before adaptive scaling
	AdaptiveK      bool    // Scale K by the item's prior comparison count
	DecayEnabled   bool    // Down-weight comparisons by age
	DecayFactor    float64 // Weight multiplier per week of age
	MinComparisons int     // Comparisons that earn half of the data points term
}

// DefaultConfig returns the recommended processor settings
func DefaultConfig() Config {
	return Config{
		InitialRating:  1500.0,
		BaseK:          32.0,
		AdaptiveK:      true,
		DecayEnabled:   true,
		DecayFactor:    0.95,
		MinComparisons: 5,
	}
}

// Validate checks the processor configuration
func (c Config) Validate() error {
	if math.IsNaN(c.InitialRating) || math.IsInf(c.InitialRating, 0) {
		return ErrInvalidRating
	}
	if c.BaseK <= 0 || math.IsNaN(c.BaseK) || math.IsInf(c.BaseK, 0) {
		return ErrInvalidKFactor
	}
	if c.DecayEnabled && (c.DecayFactor <= 0 || c.DecayFactor > 1 || math.IsNaN(c.DecayFactor)) {
		return ErrInvalidDecay
	}
	if c.MinComparisons <= 0 {
		return ErrInvalidMinimum
	}
	return nil
}

// Update represents an individual rating change record
type Update struct {
	ItemID    string  `json:"item_id"`
	OldRating float64 `json:"old_rating"`
	NewRating float64 `json:"new_rating"`
	Delta     float64 `json:"delta"`
	KFactor   float64 `json:"k_factor"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
}

// Result describes how a single comparison changed the store
type Result struct {
	Comparison Comparison `json:"comparison"`
	Weight     float64    `json:"weight"` // Caller confidence after decay
	Updates    []Update   `json:"updates"`
}

// Rejection records a comparison refused by ProcessBatch
type Rejection struct {
	Index      int        `json:"index"` // Position in the caller's input
	Comparison Comparison `json:"comparison"`
	Err        error      `json:"-"`
}

// BatchResult summarizes a ProcessBatch call
type BatchResult struct {
	Results  []Result    `json:"results"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Applied returns the number of comparisons that changed the store
func (b BatchResult) Applied() int {
	return len(b.Results)
}

// Processor applies comparison outcomes to a Store
type Processor struct {
	store  *Store
	config Config
	clock  Clock
}

// NewProcessor creates a processor writing to store. A nil clock uses the
// system clock.
func NewProcessor(store *Store, config Config, clock Clock) (*Processor, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &Processor{
		store:  store,
		config: config,
		clock:  clock,
	}, nil
}

// Config returns the processor configuration
func (p *Processor) Config() Config {
	return p.config
}

// Process applies a single comparison. An invalid comparison is rejected
// before anything in the store changes; unseen items are created. A
// comparison without a timestamp is stamped with the current clock time.
func (p *Processor) Process(c Comparison) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	c = p.stamp(c)

	itemA := p.store.GetOrCreate(c.ItemA)
	itemB := p.store.GetOrCreate(c.ItemB)

	expectedA := calculateExpectedScore(itemA.Rating, itemB.Rating)
	expectedB := 1.0 - expectedA
	actualA, actualB := c.actualScores()

	weight := p.weight(c)
	kA := p.kFactor(itemA.Comparisons)
	kB := p.kFactor(itemB.Comparisons)

	updateA := Update{
		ItemID:    itemA.ID,
		OldRating: itemA.Rating,
		KFactor:   kA,
		Expected:  expectedA,
		Actual:    actualA,
	}
	updateB := Update{
		ItemID:    itemB.ID,
		OldRating: itemB.Rating,
		KFactor:   kB,
		Expected:  expectedB,
		Actual:    actualB,
	}

	itemA.Rating += kA * weight * (actualA - expectedA)
	itemB.Rating += kB * weight * (actualB - expectedB)

	applyOutcome(itemA, actualA)
	applyOutcome(itemB, actualB)
	itemA.Confidence = ItemConfidence(*itemA, p.config.MinComparisons)
	itemB.Confidence = ItemConfidence(*itemB, p.config.MinComparisons)
	p.store.recordPair(itemA.ID, itemB.ID)

	updateA.NewRating = itemA.Rating
	updateA.Delta = itemA.Rating - updateA.OldRating
	updateB.NewRating = itemB.Rating
	updateB.Delta = itemB.Rating - updateB.OldRating

	return Result{
		Comparison: c,
		Weight:     weight,
		Updates:    []Update{updateA, updateB},
	}, nil
}

// ProcessBatch applies comparisons in timestamp order, ties keeping their
// input order. Malformed records are skipped and the rest of the batch is
// still applied; the returned error joins every rejection.
func (p *Processor) ProcessBatch(comparisons []Comparison) (BatchResult, error) {
	now := p.clock.Now()
	stamped := make([]Comparison, len(comparisons))
	order := make([]int, len(comparisons))
	for i, c := range comparisons {
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		stamped[i] = c
		order[i] = i
	}
	comparisons = stamped
	sort.SliceStable(order, func(i, j int) bool {
		return comparisons[order[i]].Timestamp.Before(comparisons[order[j]].Timestamp)
	})

	result := BatchResult{Results: make([]Result, 0, len(comparisons))}
	var errs []error

	for _, idx := range order {
		res, err := p.Process(comparisons[idx])
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{
				Index:      idx,
				Comparison: comparisons[idx],
				Err:        err,
			})
			errs = append(errs, fmt.Errorf("comparison %d: %w", idx, err))
			continue
		}
		result.Results = append(result.Results, res)
	}

	return result, errors.Join(errs...)
}

// DecayMultiplier returns the age weight applied to a comparison. It depends
// only on the clock and the comparison timestamp; a missing timestamp counts
// as age zero.
func (p *Processor) DecayMultiplier(c Comparison) float64 {
	if !p.config.DecayEnabled || c.Timestamp.IsZero() {
		return 1.0
	}
	ageDays := p.clock.Now().Sub(c.Timestamp).Hours() / hoursPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(p.config.DecayFactor, ageDays/decayPeriodDays)
}

func (p *Processor) stamp(c Comparison) Comparison {
	if c.Timestamp.IsZero() {
		c.Timestamp = p.clock.Now()
	}
	return c
}

// weight combines the caller confidence with decay
func (p *Processor) weight(c Comparison) float64 {
	return c.weight() * p.DecayMultiplier(c)
}

// kFactor scales the base K by how established an item already is
func (p *Processor) kFactor(priorComparisons int) float64 {
	if !p.config.AdaptiveK {
		return p.config.BaseK
	}
	switch {
	case priorComparisons < 10:
		return p.config.BaseK * 1.5
	case priorComparisons < 30:
		return p.config.BaseK
	default:
		return p.config.BaseK * 0.75
	}
}

// calculateExpectedScore computes the expected score for A against B
func calculateExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10.0, (ratingB-ratingA)/ratingScale))
}

// ExpectedScore is the probability that an item rated ratingA beats one rated ratingB
func ExpectedScore(ratingA, ratingB float64) float64 {
	return calculateExpectedScore(ratingA, ratingB)
}

// applyOutcome bumps the counters for one side of a comparison
func applyOutcome(item *RatedItem, actual float64) {
	switch actual {
	case 1.0:
		item.Wins++
	case 0.0:
		item.Losses++
	default:
		item.Draws++
	}
	item.Comparisons++
}
