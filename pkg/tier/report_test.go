package tier

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/tierelo/pkg/elo"
)

func TestReport(t *testing.T) {
	items := rankedOf(1800, 1700, 1600, 1500, 1400)
	defs := buildDefs(t, 0, 2, 5)

	report, err := NewReporter(items, DefaultReporterConfig()).Report(defs)
	require.NoError(t, err)
	require.Len(t, report, 5)

	t.Run("top of the top tier", func(t *testing.T) {
		c := report[0]
		assert.Equal(t, "a", c.ItemID)
		assert.Equal(t, "S", c.Tier)
		assert.InDelta(t, 100, c.Factors.Proximity, 1e-9)
		assert.InDelta(t, 100, c.Factors.Separation, 1e-9)
		assert.Equal(t, 80, c.Confidence)
		assert.False(t, c.HasAlternative())
	})

	t.Run("last position above a boundary", func(t *testing.T) {
		c := report[1]
		assert.Equal(t, "S", c.Tier)
		assert.InDelta(t, 0, c.Factors.Proximity, 1e-9)
		assert.Equal(t, 50, c.Confidence)
		assert.True(t, c.HasAlternative())
		assert.Equal(t, "A", c.AlternativeTier)
		assert.Equal(t, 1, c.AlternativeIndex)
		assert.Equal(t, 100, c.AlternativeConfidence)
	})

	t.Run("first position below a boundary", func(t *testing.T) {
		c := report[2]
		assert.Equal(t, "A", c.Tier)
		assert.Equal(t, 1, c.TierIndex)
		assert.InDelta(t, 0, c.Factors.Proximity, 1e-9)
		assert.Equal(t, 50, c.Confidence)
		assert.True(t, c.HasAlternative())
		assert.Equal(t, "S", c.AlternativeTier)
		assert.Equal(t, 0, c.AlternativeIndex)
		assert.Equal(t, 100, c.AlternativeConfidence)
	})

	t.Run("deep in the bottom tier", func(t *testing.T) {
		for _, c := range report[3:] {
			assert.InDelta(t, 100, c.Factors.Proximity, 1e-9)
			assert.False(t, c.HasAlternative())
		}
	})
}

func TestReportPyramidEdges(t *testing.T) {
	items := rankedOf(1800, 1700, 1600, 1500, 1400)
	boundaries, err := ComputeBoundaries(items, 3)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 3, 5}, boundaries)

	report, err := NewReporter(items, DefaultReporterConfig()).Report(buildDefs(t, boundaries...))
	require.NoError(t, err)

	tests := []struct {
		id          string
		proximity   float64
		alternative string
	}{
		{"a", 0, "A"}, // alone in the top tier
		{"b", 0, "S"},
		{"c", 0, "B"},
		{"d", 0, "A"},
		{"e", 100, ""},
	}
	for i, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			c := report[i]
			assert.Equal(t, tt.id, c.ItemID)
			assert.InDelta(t, tt.proximity, c.Factors.Proximity, 1e-9)
			assert.Equal(t, tt.alternative, c.AlternativeTier)
		})
	}
}

func TestReportProximityCentre(t *testing.T) {
	items := rankedOf(1900, 1800, 1700, 1600, 1500, 1400)
	report, err := NewReporter(items, DefaultReporterConfig()).Report(buildDefs(t, 0, 1, 6))
	require.NoError(t, err)

	// tier A spans positions 1-5 and only borders S above it
	assert.InDelta(t, 0, report[1].Factors.Proximity, 1e-9)
	assert.InDelta(t, 50, report[2].Factors.Proximity, 1e-9)
	assert.InDelta(t, 100, report[3].Factors.Proximity, 1e-9)
	assert.InDelta(t, 100, report[5].Factors.Proximity, 1e-9)
	assert.False(t, report[2].HasAlternative(), "proximity at the threshold is not ambiguous")
}

func TestReportSingleTier(t *testing.T) {
	items := rankedOf(1600, 1590, 1580)
	report, err := NewReporter(items, DefaultReporterConfig()).Report(buildDefs(t, 0, 3))
	require.NoError(t, err)

	for _, c := range report {
		assert.InDelta(t, 100, c.Factors.Proximity, 1e-9)
		assert.InDelta(t, 20, c.Factors.Separation, 1e-9)
		assert.False(t, c.HasAlternative())
	}
}

func TestReportAlternativeSkipsEmptyTier(t *testing.T) {
	items := rankedOf(1800, 1700, 1600, 1500, 1400)
	defs := buildDefs(t, 0, 2, 2, 5)

	report, err := NewReporter(items, DefaultReporterConfig()).Report(defs)
	require.NoError(t, err)

	c := report[2]
	assert.Equal(t, 2, c.TierIndex)
	assert.True(t, c.HasAlternative())
	assert.Equal(t, 0, c.AlternativeIndex)
	assert.Equal(t, "S", c.AlternativeTier)
}

func TestReportFactors(t *testing.T) {
	items := ranked{
		{ID: "x", Rating: 1620, Comparisons: 8, Wins: 6, Losses: 2, Confidence: 40},
		{ID: "y", Rating: 1600, Comparisons: 4, Wins: 1, Losses: 1, Draws: 2, Confidence: 10},
	}

	report, err := NewReporter(items, DefaultReporterConfig()).Report(buildDefs(t, 0, 2))
	require.NoError(t, err)

	assert.Equal(t, 8, report[0].Factors.DataPoints)
	assert.InDelta(t, 50, report[0].Factors.Consistency, 1e-9)
	assert.InDelta(t, 0, report[1].Factors.Consistency, 1e-9)
	// Last item measures its gap upwards
	assert.InDelta(t, 40, report[1].Factors.Separation, 1e-9)
}

func TestReportLoneItem(t *testing.T) {
	items := ranked{{ID: "solo", Rating: 1500}}
	report, err := NewReporter(items, DefaultReporterConfig()).Report(buildDefs(t, 0, 1, 1))
	require.NoError(t, err)
	require.Len(t, report, 1)

	assert.InDelta(t, 100, report[0].Factors.Separation, 1e-9)
	assert.InDelta(t, 100, report[0].Factors.Proximity, 1e-9)
	assert.Equal(t, 60, report[0].Confidence)
}

func TestReportBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	config := DefaultReporterConfig()

	for range 25 {
		n := 1 + rng.IntN(30)
		items := make(ranked, n)
		rating := 1800.0
		for i := range items {
			rating -= rng.Float64() * 60
			items[i] = elo.RatedItem{
				ID:         string(rune('A' + i)),
				Rating:     rating,
				Confidence: rng.Float64() * 100,
			}
		}
		tierCount := 1 + rng.IntN(5)
		boundaries, err := ComputeBoundaries(items, tierCount)
		require.NoError(t, err)
		defs := buildDefs(t, boundaries...)

		report, err := NewReporter(items, config).Report(defs)
		require.NoError(t, err)
		require.Len(t, report, n)

		for _, c := range report {
			assert.GreaterOrEqual(t, c.Confidence, 0)
			assert.LessOrEqual(t, c.Confidence, 100)
			if c.HasAlternative() {
				assert.Less(t, c.Factors.Proximity, config.AmbiguityThreshold)
				assert.NotEqual(t, c.TierIndex, c.AlternativeIndex)
				assert.False(t, defs[c.AlternativeIndex].Empty())
			}
		}
	}
}

func TestReportRejectsBadDefinitions(t *testing.T) {
	_, err := NewReporter(rankedOf(1500, 1400), DefaultReporterConfig()).Report(buildDefs(t, 0, 1))
	assert.ErrorIs(t, err, ErrInvalidDefinitions)
}
