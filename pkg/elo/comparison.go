package elo

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Draw is the Winner value of a tied comparison. A winner naming one of the
// two items always takes precedence over the sentinel.
const Draw = "draw"

// Errors returned when expanding ranked lists
var (
	ErrTooFewItems     = errors.New("ranking requires at least 2 items")
	ErrDuplicateItem   = errors.New("item appears multiple times")
	ErrInvalidPosition = errors.New("position weight must be in (0, 1]")
)

// Comparison is a single head-to-head outcome between two items
type Comparison struct {
	ItemA      string    `json:"item_a" yaml:"item_a"`
	ItemB      string    `json:"item_b" yaml:"item_b"`
	Winner     string    `json:"winner" yaml:"winner"` // ItemA, ItemB or Draw
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Confidence float64   `json:"confidence,omitempty" yaml:"confidence,omitempty"` // (0,1], zero means 1
}

// Validate checks that the comparison can be applied
func (c Comparison) Validate() error {
	if strings.TrimSpace(c.ItemA) == "" || strings.TrimSpace(c.ItemB) == "" {
		return fmt.Errorf("%w: item ids cannot be empty", ErrInvalidComparison)
	}
	if c.ItemA == c.ItemB {
		return fmt.Errorf("%w: item %q compared with itself", ErrInvalidComparison, c.ItemA)
	}
	if c.Winner != c.ItemA && c.Winner != c.ItemB && c.Winner != Draw {
		return fmt.Errorf("%w: winner %q is neither %q, %q nor a draw",
			ErrInvalidComparison, c.Winner, c.ItemA, c.ItemB)
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside (0, 1]", ErrInvalidComparison, c.Confidence)
	}
	return nil
}

// IsDraw reports whether the comparison ended level
func (c Comparison) IsDraw() bool {
	return c.Winner != c.ItemA && c.Winner != c.ItemB
}

// actualScores maps the winner to Elo scores for A and B
func (c Comparison) actualScores() (float64, float64) {
	switch c.Winner {
	case c.ItemA:
		return 1.0, 0.0
	case c.ItemB:
		return 0.0, 1.0
	default:
		return 0.5, 0.5
	}
}

// weight returns the caller supplied confidence, defaulting to 1
func (c Comparison) weight() float64 {
	if c.Confidence == 0 {
		return 1.0
	}
	return c.Confidence
}

// calculatePositionWeight determines the weight of a game won by the item at
// higherPos (0 = first place). It drops by 0.2 per place with a floor of 0.6.
func calculatePositionWeight(higherPos int) float64 {
	weight := 1.0 - float64(higherPos)*0.2
	if weight < 0.6 {
		weight = 0.6
	}
	return weight
}

// ExpandRanking turns an ordered list (best first) into the pairwise
// comparisons it implies. Every higher placed item beats every lower placed
// one; the comparison confidence reflects the winner's position.
func ExpandRanking(ranking []string, timestamp time.Time) ([]Comparison, error) {
	if len(ranking) < 2 {
		return nil, ErrTooFewItems
	}

	seen := make(map[string]bool, len(ranking))
	for _, id := range ranking {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: item ids cannot be empty", ErrInvalidComparison)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, id)
		}
		seen[id] = true
	}

	comparisons := make([]Comparison, 0, GetExpectedGameCount(len(ranking)))
	for i := range ranking {
		for j := i + 1; j < len(ranking); j++ {
			comparisons = append(comparisons, Comparison{
				ItemA:      ranking[i],
				ItemB:      ranking[j],
				Winner:     ranking[i],
				Timestamp:  timestamp,
				Confidence: calculatePositionWeight(i),
			})
		}
	}

	return comparisons, nil
}

// GetExpectedGameCount returns the number of pairwise games for n ranked items
func GetExpectedGameCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}
