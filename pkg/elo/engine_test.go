package elo

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test configuration constants
const (
	tolerance = 0.0001 // Floating point comparison tolerance
)

var testNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// Helper function to create a processor over a fresh store
func createTestProcessor(t *testing.T, mutate func(*Config)) (*Processor, *Store) {
	t.Helper()

	config := DefaultConfig()
	if mutate != nil {
		mutate(&config)
	}
	store := NewStore(config.InitialRating)
	processor, err := NewProcessor(store, config, FixedClock(testNow))
	require.NoError(t, err)
	return processor, store
}

func win(a, b string, ts time.Time) Comparison {
	return Comparison{ItemA: a, ItemB: b, Winner: a, Timestamp: ts}
}

func TestNewProcessor(t *testing.T) {
	t.Run("valid configuration creates processor", func(t *testing.T) {
		processor, err := NewProcessor(NewStore(1500), DefaultConfig(), nil)
		require.NoError(t, err)
		require.NotNil(t, processor)
		assert.Equal(t, 32.0, processor.Config().BaseK)
	})

	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected error
	}{
		{"zero K-factor", func(c *Config) { c.BaseK = 0 }, ErrInvalidKFactor},
		{"negative K-factor", func(c *Config) { c.BaseK = -4 }, ErrInvalidKFactor},
		{"NaN initial rating", func(c *Config) { c.InitialRating = math.NaN() }, ErrInvalidRating},
		{"decay factor above one", func(c *Config) { c.DecayFactor = 1.2 }, ErrInvalidDecay},
		{"zero decay factor", func(c *Config) { c.DecayFactor = 0 }, ErrInvalidDecay},
		{"zero minimum comparisons", func(c *Config) { c.MinComparisons = 0 }, ErrInvalidMinimum},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(&config)

			processor, err := NewProcessor(NewStore(1500), config, nil)
			assert.ErrorIs(t, err, tc.expected)
			assert.Nil(t, processor)
		})
	}

	t.Run("decay factor ignored when decay disabled", func(t *testing.T) {
		config := DefaultConfig()
		config.DecayEnabled = false
		config.DecayFactor = 0

		_, err := NewProcessor(NewStore(1500), config, nil)
		assert.NoError(t, err)
	})

	t.Run("nil store rejected", func(t *testing.T) {
		_, err := NewProcessor(nil, DefaultConfig(), nil)
		assert.Error(t, err)
	})
}

func TestCalculateExpectedScore(t *testing.T) {
	testCases := []struct {
		name     string
		ratingA  float64
		ratingB  float64
		expected float64
	}{
		{"equal ratings", 1200.0, 1200.0, 0.5},
		{"A higher than B by 400", 1600.0, 1200.0, 0.9090909090909091},
		{"A lower than B by 400", 800.0, 1200.0, 0.09090909090909091},
		{"A higher than B by 200", 1400.0, 1200.0, 0.7597469733656174},
		{"A lower than B by 200", 1000.0, 1200.0, 0.24025302663438258},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ExpectedScore(tc.ratingA, tc.ratingB)
			assert.InDelta(t, tc.expected, result, tolerance)
			assert.InDelta(t, 1.0, result+ExpectedScore(tc.ratingB, tc.ratingA), tolerance)
		})
	}
}

func TestProcess(t *testing.T) {
	t.Run("fresh items with flat K move by sixteen", func(t *testing.T) {
		processor, store := createTestProcessor(t, func(c *Config) { c.AdaptiveK = false })

		result, err := processor.Process(win("A", "B", testNow))
		require.NoError(t, err)

		a, _ := store.Get("A")
		b, _ := store.Get("B")
		assert.Equal(t, 1516.0, a.Rating)
		assert.Equal(t, 1484.0, b.Rating)
		assert.Equal(t, 1.0, result.Weight)
		require.Len(t, result.Updates, 2)
		assert.Equal(t, 16.0, result.Updates[0].Delta)
		assert.Equal(t, -16.0, result.Updates[1].Delta)
		assert.Equal(t, 32.0, result.Updates[0].KFactor)
	})

	t.Run("fresh items with adaptive K use one and a half K", func(t *testing.T) {
		processor, store := createTestProcessor(t, nil)

		_, err := processor.Process(win("A", "B", testNow))
		require.NoError(t, err)

		a, _ := store.Get("A")
		b, _ := store.Get("B")
		assert.Equal(t, 1524.0, a.Rating)
		assert.Equal(t, 1476.0, b.Rating)
	})

	t.Run("counters follow the outcome", func(t *testing.T) {
		processor, store := createTestProcessor(t, nil)

		_, err := processor.Process(win("A", "B", testNow))
		require.NoError(t, err)
		_, err = processor.Process(Comparison{ItemA: "A", ItemB: "B", Winner: "B", Timestamp: testNow})
		require.NoError(t, err)
		_, err = processor.Process(Comparison{ItemA: "A", ItemB: "B", Winner: Draw, Timestamp: testNow})
		require.NoError(t, err)

		for _, id := range []string{"A", "B"} {
			item, ok := store.Get(id)
			require.True(t, ok)
			assert.Equal(t, 3, item.Comparisons)
			assert.Equal(t, 1, item.Wins)
			assert.Equal(t, 1, item.Losses)
			assert.Equal(t, 1, item.Draws)
			assert.Equal(t, item.Comparisons, item.Wins+item.Losses+item.Draws)
		}
		assert.Equal(t, 3, store.PairCount("B", "A"))
	})

	t.Run("draw between equals leaves ratings unchanged", func(t *testing.T) {
		processor, store := createTestProcessor(t, nil)

		_, err := processor.Process(Comparison{ItemA: "A", ItemB: "B", Winner: Draw, Timestamp: testNow})
		require.NoError(t, err)

		a, _ := store.Get("A")
		assert.Equal(t, 1500.0, a.Rating)
		assert.Equal(t, 1, a.Draws)
	})

	t.Run("unseen items are created on first reference", func(t *testing.T) {
		processor, store := createTestProcessor(t, nil)
		assert.Equal(t, 0, store.Len())

		_, err := processor.Process(win("new-a", "new-b", testNow))
		require.NoError(t, err)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("confidence is recomputed after each update", func(t *testing.T) {
		processor, store := createTestProcessor(t, nil)

		_, err := processor.Process(win("A", "B", testNow))
		require.NoError(t, err)

		a, _ := store.Get("A")
		assert.InDelta(t, ItemConfidence(a, processor.Config().MinComparisons), a.Confidence, tolerance)
		assert.Greater(t, a.Confidence, 0.0)
	})

	t.Run("caller confidence scales the change", func(t *testing.T) {
		processor, store := createTestProcessor(t, func(c *Config) { c.AdaptiveK = false })

		c := win("A", "B", testNow)
		c.Confidence = 0.5
		result, err := processor.Process(c)
		require.NoError(t, err)

		a, _ := store.Get("A")
		assert.Equal(t, 0.5, result.Weight)
		assert.Equal(t, 1508.0, a.Rating)
	})
}

func TestProcessRejectsInvalidComparisons(t *testing.T) {
	testCases := []struct {
		name       string
		comparison Comparison
	}{
		{"same item twice", Comparison{ItemA: "A", ItemB: "A", Winner: "A", Timestamp: testNow}},
		{"empty item id", Comparison{ItemA: "", ItemB: "B", Winner: "B", Timestamp: testNow}},
		{"unknown winner", Comparison{ItemA: "A", ItemB: "B", Winner: "C", Timestamp: testNow}},
		{"empty winner", Comparison{ItemA: "A", ItemB: "B", Timestamp: testNow}},
		{"confidence above one", Comparison{ItemA: "A", ItemB: "B", Winner: "A", Timestamp: testNow, Confidence: 1.5}},
		{"negative confidence", Comparison{ItemA: "A", ItemB: "B", Winner: "A", Timestamp: testNow, Confidence: -0.1}},
		{"NaN confidence", Comparison{ItemA: "A", ItemB: "B", Winner: "A", Timestamp: testNow, Confidence: math.NaN()}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			processor, store := createTestProcessor(t, nil)

			_, err := processor.Process(tc.comparison)
			assert.ErrorIs(t, err, ErrInvalidComparison)
			assert.Equal(t, 0, store.Len(), "rejected comparison must not touch the store")
		})
	}
}

func TestZeroSumUpdate(t *testing.T) {
	testCases := []struct {
		name    string
		ratingA float64
		ratingB float64
		winner  string
	}{
		{"equal ratings A wins", 1500, 1500, "A"},
		{"favourite wins", 1800, 1400, "A"},
		{"upset", 1300, 1700, "A"},
		{"draw with gap", 1650, 1450, Draw},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			processor, store := createTestProcessor(t, nil)
			require.NoError(t, store.Restore([]RatedItem{
				{ID: "A", Rating: tc.ratingA},
				{ID: "B", Rating: tc.ratingB},
			}))

			result, err := processor.Process(Comparison{ItemA: "A", ItemB: "B", Winner: tc.winner, Timestamp: testNow})
			require.NoError(t, err)

			assert.InDelta(t, 0.0, result.Updates[0].Delta+result.Updates[1].Delta, 1e-9)
		})
	}
}

func TestAdaptiveKFactor(t *testing.T) {
	processor, _ := createTestProcessor(t, nil)

	testCases := []struct {
		prior    int
		expected float64
	}{
		{0, 48},
		{9, 48},
		{10, 32},
		{29, 32},
		{30, 24},
		{500, 24},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, processor.kFactor(tc.prior), "prior=%d", tc.prior)
	}

	flat, _ := createTestProcessor(t, func(c *Config) { c.AdaptiveK = false })
	assert.Equal(t, 32.0, flat.kFactor(0))
	assert.Equal(t, 32.0, flat.kFactor(100))
}

func TestDecay(t *testing.T) {
	t.Run("two week old comparison uses two weekly steps", func(t *testing.T) {
		processor, _ := createTestProcessor(t, nil)

		c := win("A", "B", testNow.Add(-14*24*time.Hour))
		assert.InDelta(t, 0.9025, processor.DecayMultiplier(c), 1e-12)
	})

	t.Run("repeated processing reuses the same multiplier", func(t *testing.T) {
		processor, _ := createTestProcessor(t, func(c *Config) { c.AdaptiveK = false })
		c := win("A", "B", testNow.Add(-3*24*time.Hour))

		first, err := processor.Process(c)
		require.NoError(t, err)
		second, err := processor.Process(c)
		require.NoError(t, err)

		assert.Equal(t, first.Weight, second.Weight)
		assert.Equal(t, math.Pow(0.95, 3.0/7.0), first.Weight)
	})

	t.Run("runs with a fixed clock are reproducible", func(t *testing.T) {
		c := win("A", "B", testNow.Add(-10*24*time.Hour))

		var deltas []float64
		for range 3 {
			processor, _ := createTestProcessor(t, nil)
			result, err := processor.Process(c)
			require.NoError(t, err)
			deltas = append(deltas, result.Updates[0].Delta)
		}
		assert.Equal(t, deltas[0], deltas[1])
		assert.Equal(t, deltas[1], deltas[2])
	})

	t.Run("future timestamps are not boosted", func(t *testing.T) {
		processor, _ := createTestProcessor(t, nil)
		assert.Equal(t, 1.0, processor.DecayMultiplier(win("A", "B", testNow.Add(48*time.Hour))))
	})

	t.Run("missing timestamp counts as now", func(t *testing.T) {
		processor, store := createTestProcessor(t, func(c *Config) { c.AdaptiveK = false })
		assert.Equal(t, 1.0, processor.DecayMultiplier(Comparison{ItemA: "A", ItemB: "B", Winner: "A"}))

		result, err := processor.Process(Comparison{ItemA: "A", ItemB: "B", Winner: "A"})
		require.NoError(t, err)
		assert.Equal(t, testNow, result.Comparison.Timestamp)
		assert.Equal(t, 1.0, result.Weight)

		a, _ := store.Get("A")
		assert.InDelta(t, 1516, a.Rating, 1e-9)
	})

	t.Run("disabled decay keeps full weight", func(t *testing.T) {
		processor, _ := createTestProcessor(t, func(c *Config) { c.DecayEnabled = false })
		assert.Equal(t, 1.0, processor.DecayMultiplier(win("A", "B", testNow.Add(-365*24*time.Hour))))
	})
}

func TestProcessBatch(t *testing.T) {
	t0 := testNow.Add(-72 * time.Hour)
	ordered := []Comparison{
		win("A", "B", t0),
		win("B", "C", t0.Add(time.Hour)),
		win("C", "A", t0.Add(2*time.Hour)),
	}

	t.Run("input order does not change the outcome", func(t *testing.T) {
		inOrder, storeInOrder := createTestProcessor(t, nil)
		shuffled, storeShuffled := createTestProcessor(t, nil)

		_, err := inOrder.ProcessBatch(ordered)
		require.NoError(t, err)
		_, err = shuffled.ProcessBatch([]Comparison{ordered[2], ordered[0], ordered[1]})
		require.NoError(t, err)

		assert.Equal(t, storeInOrder.Sorted(), storeShuffled.Sorted())
	})

	t.Run("results come back in chronological order", func(t *testing.T) {
		processor, _ := createTestProcessor(t, nil)

		result, err := processor.ProcessBatch([]Comparison{ordered[1], ordered[2], ordered[0]})
		require.NoError(t, err)
		require.Equal(t, 3, result.Applied())
		assert.Equal(t, ordered[0], result.Results[0].Comparison)
		assert.Equal(t, ordered[1], result.Results[1].Comparison)
		assert.Equal(t, ordered[2], result.Results[2].Comparison)
	})

	t.Run("malformed records are skipped and the rest applied", func(t *testing.T) {
		processor, store := createTestProcessor(t, nil)
		batch := []Comparison{
			ordered[0],
			{ItemA: "X", ItemB: "X", Winner: "X", Timestamp: t0},
			ordered[1],
		}

		result, err := processor.ProcessBatch(batch)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidComparison)

		assert.Equal(t, 2, result.Applied())
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, 1, result.Rejected[0].Index)
		assert.True(t, errors.Is(result.Rejected[0].Err, ErrInvalidComparison))

		_, exists := store.Get("X")
		assert.False(t, exists)
		b, _ := store.Get("B")
		assert.Equal(t, 2, b.Comparisons)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		processor, store := createTestProcessor(t, nil)

		result, err := processor.ProcessBatch(nil)
		assert.NoError(t, err)
		assert.Equal(t, 0, result.Applied())
		assert.Equal(t, 0, store.Len())
	})
}
