package elo

import (
	"fmt"
	"math"
	"sort"
)

// RatedItem holds the rating record of a single ranked item
type RatedItem struct {
	ID          string  `json:"id" yaml:"id"`
	Rating      float64 `json:"rating" yaml:"rating"`
	Comparisons int     `json:"comparisons" yaml:"comparisons"`
	Wins        int     `json:"wins" yaml:"wins"`
	Losses      int     `json:"losses" yaml:"losses"`
	Draws       int     `json:"draws" yaml:"draws"`
	Confidence  float64 `json:"confidence" yaml:"confidence"` // 0-100
}

// Store owns one RatedItem per item id. It is not safe for concurrent use;
// callers serialize access to a single store.
type Store struct {
	initialRating float64
	items         map[string]*RatedItem
	pairs         map[string]int
}

// NewStore creates an empty store seeding new items with initialRating
func NewStore(initialRating float64) *Store {
	return &Store{
		initialRating: initialRating,
		items:         make(map[string]*RatedItem),
		pairs:         make(map[string]int),
	}
}

// InitialRating returns the rating given to newly created items
func (s *Store) InitialRating() float64 {
	return s.initialRating
}

// Get returns a copy of the record for id
func (s *Store) Get(id string) (RatedItem, bool) {
	item, ok := s.items[id]
	if !ok {
		return RatedItem{}, false
	}
	return *item, true
}

// GetOrCreate returns the record for id, creating it with default values on
// first reference. Repeated calls return the same record.
func (s *Store) GetOrCreate(id string) *RatedItem {
	if item, ok := s.items[id]; ok {
		return item
	}
	item := &RatedItem{ID: id, Rating: s.initialRating}
	s.items[id] = item
	return item
}

// Len returns the number of tracked items
func (s *Store) Len() int {
	return len(s.items)
}

// Sorted returns copies of all records ordered by rating descending.
// Equal ratings are ordered by id so the order is deterministic.
func (s *Store) Sorted() []RatedItem {
	sorted := make([]RatedItem, 0, len(s.items))
	for _, item := range s.items {
		sorted = append(sorted, *item)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rating != sorted[j].Rating {
			return sorted[i].Rating > sorted[j].Rating
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Reset drops every record and pair counter
func (s *Store) Reset() {
	s.items = make(map[string]*RatedItem)
	s.pairs = make(map[string]int)
}

// Snapshot returns the current records in rating order
func (s *Store) Snapshot() []RatedItem {
	return s.Sorted()
}

// Restore replaces the store content with the given records.
// Pair counters are not part of a snapshot and start from zero.
func (s *Store) Restore(items []RatedItem) error {
	restored := make(map[string]*RatedItem, len(items))
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: empty item id", ErrInvalidRecord)
		}
		if _, dup := restored[item.ID]; dup {
			return fmt.Errorf("%w: duplicate item %q", ErrInvalidRecord, item.ID)
		}
		if math.IsNaN(item.Rating) || math.IsInf(item.Rating, 0) {
			return fmt.Errorf("%w: item %q: %w", ErrInvalidRecord, item.ID, ErrInvalidRating)
		}
		if math.IsNaN(item.Confidence) || item.Confidence < 0 || item.Confidence > 100 {
			return fmt.Errorf("%w: item %q: confidence %v outside [0, 100]", ErrInvalidRecord, item.ID, item.Confidence)
		}
		if item.Wins < 0 || item.Losses < 0 || item.Draws < 0 ||
			item.Comparisons != item.Wins+item.Losses+item.Draws {
			return fmt.Errorf("%w: item %q: comparisons must equal wins+losses+draws", ErrInvalidRecord, item.ID)
		}
		record := item
		restored[item.ID] = &record
	}

	s.items = restored
	s.pairs = make(map[string]int)
	return nil
}

// PairCount returns how many times a and b were compared
func (s *Store) PairCount(a, b string) int {
	return s.pairs[createPairKey(a, b)]
}

func (s *Store) recordPair(a, b string) {
	s.pairs[createPairKey(a, b)]++
}

// createPairKey creates a consistent key for item pairs
func createPairKey(a, b string) string {
	if a < b {
		return a + "\x00" + b
	}
	return b + "\x00" + a
}
