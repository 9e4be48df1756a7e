package elo

import "math"

// ItemConfidence scores how reliable an item's rating is on a 0-100 scale.
// It sums a sample size term (up to 100), a win/loss consistency term (up to
// 30) and a stability term (up to 20), capped at 100.
func ItemConfidence(item RatedItem, minComparisons int) float64 {
	if minComparisons <= 0 {
		minComparisons = 1
	}

	dataPoints := math.Min(100, float64(item.Comparisons)/float64(minComparisons)*50)

	consistency := 0.0
	if decisive := item.Wins + item.Losses; decisive > 0 {
		consistency = math.Abs(float64(item.Wins-item.Losses)) / float64(decisive) * 30
	}

	stability := math.Min(20, float64(item.Comparisons)/10*20)

	return math.Min(100, dataPoints+consistency+stability)
}
