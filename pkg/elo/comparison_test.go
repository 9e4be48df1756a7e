package elo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComparisonValidate(t *testing.T) {
	t.Run("winner naming an item wins over the draw sentinel", func(t *testing.T) {
		c := Comparison{ItemA: Draw, ItemB: "B", Winner: Draw}
		require.NoError(t, c.Validate())
		assert.False(t, c.IsDraw())

		a, b := c.actualScores()
		assert.Equal(t, 1.0, a)
		assert.Equal(t, 0.0, b)
	})

	t.Run("draw sentinel", func(t *testing.T) {
		c := Comparison{ItemA: "A", ItemB: "B", Winner: Draw}
		require.NoError(t, c.Validate())
		assert.True(t, c.IsDraw())

		a, b := c.actualScores()
		assert.Equal(t, 0.5, a)
		assert.Equal(t, 0.5, b)
	})

	t.Run("zero confidence defaults to full weight", func(t *testing.T) {
		c := Comparison{ItemA: "A", ItemB: "B", Winner: "B"}
		require.NoError(t, c.Validate())
		assert.Equal(t, 1.0, c.weight())
	})

	t.Run("whitespace ids are rejected", func(t *testing.T) {
		c := Comparison{ItemA: "  ", ItemB: "B", Winner: "B"}
		assert.ErrorIs(t, c.Validate(), ErrInvalidComparison)
	})
}

func TestCalculatePositionWeight(t *testing.T) {
	testCases := []struct {
		position int
		expected float64
	}{
		{0, 1.0},
		{1, 0.8},
		{2, 0.6},
		{3, 0.6},
		{10, 0.6},
	}

	for _, tc := range testCases {
		assert.InDelta(t, tc.expected, calculatePositionWeight(tc.position), tolerance, "position %d", tc.position)
	}
}

func TestExpandRanking(t *testing.T) {
	ts := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)

	t.Run("trio expands into three games", func(t *testing.T) {
		comparisons, err := ExpandRanking([]string{"a", "b", "c"}, ts)
		require.NoError(t, err)
		require.Len(t, comparisons, 3)

		assert.Equal(t, Comparison{ItemA: "a", ItemB: "b", Winner: "a", Timestamp: ts, Confidence: 1.0}, comparisons[0])
		assert.Equal(t, Comparison{ItemA: "a", ItemB: "c", Winner: "a", Timestamp: ts, Confidence: 1.0}, comparisons[1])
		assert.Equal(t, "b", comparisons[2].Winner)
		assert.InDelta(t, 0.8, comparisons[2].Confidence, tolerance)
	})

	t.Run("every expanded comparison is valid", func(t *testing.T) {
		comparisons, err := ExpandRanking([]string{"a", "b", "c", "d", "e"}, ts)
		require.NoError(t, err)
		assert.Len(t, comparisons, GetExpectedGameCount(5))
		for _, c := range comparisons {
			assert.NoError(t, c.Validate())
		}
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ExpandRanking([]string{"a"}, ts)
		assert.ErrorIs(t, err, ErrTooFewItems)

		_, err = ExpandRanking([]string{"a", "b", "a"}, ts)
		assert.ErrorIs(t, err, ErrDuplicateItem)

		_, err = ExpandRanking([]string{"a", ""}, ts)
		assert.ErrorIs(t, err, ErrInvalidComparison)
	})
}

func TestGetExpectedGameCount(t *testing.T) {
	assert.Equal(t, 0, GetExpectedGameCount(0))
	assert.Equal(t, 0, GetExpectedGameCount(1))
	assert.Equal(t, 1, GetExpectedGameCount(2))
	assert.Equal(t, 3, GetExpectedGameCount(3))
	assert.Equal(t, 6, GetExpectedGameCount(4))
}

func TestExpandedRankingConservesRating(t *testing.T) {
	processor, store := createTestProcessor(t, nil)

	comparisons, err := ExpandRanking([]string{"a", "b", "c", "d"}, testNow)
	require.NoError(t, err)
	_, err = processor.ProcessBatch(comparisons)
	require.NoError(t, err)

	total := 0.0
	for _, item := range store.Sorted() {
		total += item.Rating
	}
	assert.InDelta(t, 4*1500.0, total, 1e-6)

	sorted := store.Sorted()
	assert.Equal(t, "a", sorted[0].ID)
	assert.Equal(t, "d", sorted[3].ID)
}
