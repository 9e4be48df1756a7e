package elo

import (
	"math"
	"sort"
)

// Matchup represents a suggested comparison between two items
type Matchup struct {
	ItemA         string  `json:"item_a"`
	ItemB         string  `json:"item_b"`
	ExpectedClose bool    `json:"expected_close"` // true if ratings within 50 points
	Priority      int     `json:"priority"`       // 1-5, higher = more informative
	Information   float64 `json:"information"`    // expected information gain
}

// PairCounter reports how often two items have been compared
type PairCounter interface {
	PairCount(a, b string) int
}

// OptimizationConfig holds settings for matchup selection
type OptimizationConfig struct {
	BinSize      float64 // rating range per bin (default: 50.0)
	CenterRating float64 // rating favoured by the middle factor (default: 1500)
}

// DefaultOptimizationConfig returns recommended optimization settings
func DefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		BinSize:      50.0,
		CenterRating: 1500.0,
	}
}

// Suggest returns up to n matchups ordered by expected information gain.
// Candidates are pairs inside one rating bin or in adjacent bins; adjacent
// pairs lose one priority level.
func Suggest(items []RatedItem, pairs PairCounter, n int, config OptimizationConfig) []Matchup {
	if len(items) < 2 || n <= 0 {
		return nil
	}
	if config.BinSize <= 0 {
		config.BinSize = 50.0
	}

	bins := GetRatingBins(items, config.BinSize)
	binIndices := make([]int, 0, len(bins))
	for idx := range bins {
		binIndices = append(binIndices, idx)
	}
	sort.Ints(binIndices)

	var candidates []Matchup
	for _, binIndex := range binIndices {
		members := bins[binIndex]

		// Within-bin matchups
		for i := range members {
			for j := i + 1; j < len(members); j++ {
				candidates = append(candidates, evaluateMatchup(members[i], members[j], pairs, config))
			}
		}

		// Adjacent-bin matchups
		for _, a := range members {
			for _, b := range bins[binIndex+1] {
				matchup := evaluateMatchup(a, b, pairs, config)
				matchup.Priority = max(1, matchup.Priority-1)
				candidates = append(candidates, matchup)
			}
		}
	}

	// Sparse ratings leave every bin alone; fall back to rating neighbours
	if len(candidates) == 0 {
		sorted := make([]RatedItem, len(items))
		copy(sorted, items)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rating > sorted[j].Rating })
		for i := 0; i+1 < len(sorted); i++ {
			candidates = append(candidates, evaluateMatchup(sorted[i], sorted[i+1], pairs, config))
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Information != candidates[j].Information {
			return candidates[i].Information > candidates[j].Information
		}
		if candidates[i].ItemA != candidates[j].ItemA {
			return candidates[i].ItemA < candidates[j].ItemA
		}
		return candidates[i].ItemB < candidates[j].ItemB
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// GetRatingBins groups items into rating bins of binSize points. Members of
// each bin are ordered by id.
func GetRatingBins(items []RatedItem, binSize float64) map[int][]RatedItem {
	if binSize <= 0 {
		binSize = 50.0
	}

	bins := make(map[int][]RatedItem)
	for _, item := range items {
		binIndex := int(math.Floor(item.Rating / binSize))
		bins[binIndex] = append(bins[binIndex], item)
	}
	for _, members := range bins {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	}
	return bins
}

// evaluateMatchup calculates the quality metrics for a potential matchup
func evaluateMatchup(a, b RatedItem, pairs PairCounter, config OptimizationConfig) Matchup {
	gamesPlayed := 0
	if pairs != nil {
		gamesPlayed = pairs.PairCount(a.ID, b.ID)
	}

	information := calculateInformationGain(a.Rating, b.Rating, gamesPlayed, config.CenterRating)

	first, second := a.ID, b.ID
	if second < first {
		first, second = second, first
	}
	return Matchup{
		ItemA:         first,
		ItemB:         second,
		ExpectedClose: math.Abs(a.Rating-b.Rating) <= 50.0,
		Priority:      calculatePriority(information),
		Information:   information,
	}
}

// calculateInformationGain estimates the expected information gain from a matchup.
// Gain is higher for close ratings, rarely compared pairs and mid-scale ratings.
func calculateInformationGain(ratingA, ratingB float64, gamesPlayed int, center float64) float64 {
	ratingDiff := math.Abs(ratingA - ratingB)

	closenessFactor := math.Exp(-ratingDiff / 100.0)
	noveltyFactor := math.Exp(-float64(gamesPlayed) / 3.0)

	avgRating := (ratingA + ratingB) / 2.0
	middleFactor := 1.0 - math.Abs(avgRating-center)/1000.0
	if middleFactor < 0.5 {
		middleFactor = 0.5
	}

	return closenessFactor * noveltyFactor * middleFactor
}

// calculatePriority determines the priority level (1-5) for a matchup
func calculatePriority(informationGain float64) int {
	switch {
	case informationGain >= 0.8:
		return 5
	case informationGain >= 0.6:
		return 4
	case informationGain >= 0.4:
		return 3
	case informationGain >= 0.2:
		return 2
	default:
		return 1
	}
}
