// Package tier partitions a rating-sorted item list into ordered tiers and
// reports how confidently each item sits in its tier.
package tier

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pashagolub/tierelo/pkg/elo"
)

// Error types for tier computation
var (
	ErrInvalidTierCount   = errors.New("invalid tier count")
	ErrInvalidDefinitions = errors.New("tier definitions must cover all positions contiguously")
)

// pyramidRatio is the geometric growth of tier widths from the top tier down
const pyramidRatio = 1.6

// MaxTiers bounds tier counts taken from configuration or requests
const MaxTiers = 26

// Source provides items ordered by rating, highest first
type Source interface {
	Sorted() []elo.RatedItem
}

// Calculator computes tier boundaries over the current ratings
type Calculator struct {
	source Source
}

// NewCalculator creates a calculator reading from source
func NewCalculator(source Source) *Calculator {
	return &Calculator{source: source}
}

// Boundaries returns tierCount+1 ascending positions into the rating-sorted
// item list. The first is 0 and the last is the item count; equal adjacent
// values denote empty tiers.
func (c *Calculator) Boundaries(tierCount int) ([]int, error) {
	return ComputeBoundaries(c.source.Sorted(), tierCount)
}

// ComputeBoundaries splits sorted (rating descending) into tierCount bands.
// Top tiers are narrower than lower ones: tier j is weighted pyramidRatio^j
// and each boundary sits where the rating drops below the matching share of
// the rating range. Without a rating spread the split is even.
func ComputeBoundaries(sorted []elo.RatedItem, tierCount int) ([]int, error) {
	if tierCount < 1 {
		return nil, fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidTierCount, tierCount)
	}

	n := len(sorted)
	if n == 0 || sorted[0].Rating == sorted[n-1].Rating {
		return equalSplit(n, tierCount), nil
	}

	maxRating := sorted[0].Rating
	minRating := sorted[n-1].Rating
	ratingRange := maxRating - minRating

	totalWeight := 0.0
	for j := 0; j < tierCount; j++ {
		totalWeight += math.Pow(pyramidRatio, float64(j))
	}

	boundaries := make([]int, tierCount+1)
	cumulative := 0.0
	for i := 1; i < tierCount; i++ {
		cumulative += math.Pow(pyramidRatio, float64(i-1))
		percentile := 1.0 - cumulative/totalWeight
		threshold := minRating + ratingRange*percentile

		// First position whose rating drops below the threshold
		boundaries[i] = sort.Search(n, func(k int) bool {
			return sorted[k].Rating < threshold
		})
	}
	boundaries[tierCount] = n

	sort.Ints(boundaries)
	boundaries[0] = 0
	boundaries[tierCount] = n
	return boundaries, nil
}

// equalSplit gives every tier ceil(n/tierCount) positions until items run out
func equalSplit(n, tierCount int) []int {
	size := (n + tierCount - 1) / tierCount
	boundaries := make([]int, tierCount+1)
	for i := range boundaries {
		boundaries[i] = min(n, i*size)
	}
	boundaries[tierCount] = n
	return boundaries
}

// Distinct drops repeated boundaries, collapsing empty tiers
func Distinct(boundaries []int) []int {
	if len(boundaries) == 0 {
		return nil
	}
	sorted := make([]int, len(boundaries))
	copy(sorted, boundaries)
	sort.Ints(sorted)

	distinct := sorted[:1]
	for _, b := range sorted[1:] {
		if b != distinct[len(distinct)-1] {
			distinct = append(distinct, b)
		}
	}
	return distinct
}
