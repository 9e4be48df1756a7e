package tier

import (
	"math"

	"github.com/pashagolub/tierelo/pkg/elo"
)

// Weights of the placement confidence signals
const (
	itemWeight       = 0.4
	proximityWeight  = 0.3
	separationWeight = 0.3
)

// Factors breaks a placement confidence down into its inputs
type Factors struct {
	DataPoints  int     `json:"data_points" yaml:"data_points"` // comparisons seen
	Consistency float64 `json:"consistency" yaml:"consistency"` // 0-100 win/loss imbalance
	Proximity   float64 `json:"proximity" yaml:"proximity"`     // 0-100, 0 on a shared boundary
	Separation  float64 `json:"separation" yaml:"separation"`   // 0-100 rating gap to the next item
}

// Confidence describes how firmly an item sits in its tier
type Confidence struct {
	ItemID                string  `json:"item_id" yaml:"item_id"`
	Rating                float64 `json:"rating" yaml:"rating"`
	Position              int     `json:"position" yaml:"position"`
	Tier                  string  `json:"tier" yaml:"tier"`
	TierIndex             int     `json:"tier_index" yaml:"tier_index"`
	Confidence            int     `json:"confidence" yaml:"confidence"`
	Factors               Factors `json:"factors" yaml:"factors"`
	AlternativeTier       string  `json:"alternative_tier,omitempty" yaml:"alternative_tier,omitempty"`
	AlternativeIndex      int     `json:"-" yaml:"-"`
	AlternativeConfidence int     `json:"alternative_confidence,omitempty" yaml:"alternative_confidence,omitempty"`
}

// HasAlternative reports whether a neighbouring tier was proposed
func (c Confidence) HasAlternative() bool {
	return c.AlternativeTier != ""
}

// ReporterConfig tunes the placement diagnostics
type ReporterConfig struct {
	AmbiguityThreshold float64 // proximity below which an alternative tier is proposed
	SeparationScale    float64 // rating gap that earns full separation
}

// DefaultReporterConfig returns the standard diagnostics settings
func DefaultReporterConfig() ReporterConfig {
	return ReporterConfig{
		AmbiguityThreshold: 50,
		SeparationScale:    50,
	}
}

// Reporter produces placement confidence reports
type Reporter struct {
	source Source
	config ReporterConfig
}

// NewReporter creates a reporter reading from source
func NewReporter(source Source, config ReporterConfig) *Reporter {
	if config.SeparationScale <= 0 {
		config.SeparationScale = DefaultReporterConfig().SeparationScale
	}
	return &Reporter{source: source, config: config}
}

// Report returns one entry per item in rating order
func (r *Reporter) Report(defs []Definition) ([]Confidence, error) {
	placements, err := Place(r.source.Sorted(), defs)
	if err != nil {
		return nil, err
	}

	report := make([]Confidence, len(placements))
	for i, p := range placements {
		report[i] = r.assess(placements, defs, p)
	}
	return report, nil
}

// assess scores a single placement
func (r *Reporter) assess(placements []Placement, defs []Definition, p Placement) Confidence {
	def := defs[p.Tier]
	proximity, alternative := proximityScore(defs, p)
	separation := r.separationScore(placements, p.Position)

	score := itemWeight*p.Item.Confidence + proximityWeight*proximity + separationWeight*separation

	c := Confidence{
		ItemID:     p.Item.ID,
		Rating:     p.Item.Rating,
		Position:   p.Position,
		Tier:       def.Label,
		TierIndex:  p.Tier,
		Confidence: clampScore(score),
		Factors: Factors{
			DataPoints:  p.Item.Comparisons,
			Consistency: consistency(p.Item),
			Proximity:   proximity,
			Separation:  separation,
		},
	}

	if alternative >= 0 && proximity < r.config.AmbiguityThreshold {
		c.AlternativeTier = defs[alternative].Label
		c.AlternativeIndex = alternative
		c.AlternativeConfidence = clampScore(100 - proximity)
	}
	return c
}

// proximityScore measures how deep inside its tier an item sits: 0 on the
// first or last position next to another tier, 100 at the centre. Only
// boundaries shared with a non-empty tier count; the returned index is the
// tier across the nearer such boundary, or -1 when there is none. A single
// item tier with a neighbour is always on the edge.
func proximityScore(defs []Definition, p Placement) (float64, int) {
	def := defs[p.Tier]
	prev := neighbour(defs, p.Tier, -1)
	next := neighbour(defs, p.Tier, +1)
	if prev < 0 && next < 0 {
		return 100, -1
	}

	toStart := float64(p.Position - def.StartPosition)
	toEnd := float64(def.EndPosition - 1 - p.Position)

	distance, alternative := toEnd, next
	if prev >= 0 && (next < 0 || toStart < toEnd) {
		distance, alternative = toStart, prev
	}

	half := float64(def.Size()-1) / 2
	if half == 0 {
		return 0, alternative
	}
	return math.Min(100, distance/half*100), alternative
}

// neighbour returns the closest non-empty tier in direction step, or -1
func neighbour(defs []Definition, from, step int) int {
	for i := from + step; i >= 0 && i < len(defs); i += step {
		if !defs[i].Empty() {
			return i
		}
	}
	return -1
}

// separationScore rewards a clear rating gap to the next-ranked item. The
// last item is measured against the one above it.
func (r *Reporter) separationScore(placements []Placement, position int) float64 {
	if len(placements) < 2 {
		return 100
	}
	other := position + 1
	if other >= len(placements) {
		other = position - 1
	}
	gap := math.Abs(placements[position].Item.Rating - placements[other].Item.Rating)
	return math.Min(100, gap/r.config.SeparationScale*100)
}

// consistency expresses the win/loss imbalance on a 0-100 scale
func consistency(item elo.RatedItem) float64 {
	decisive := item.Wins + item.Losses
	if decisive == 0 {
		return 0
	}
	return math.Abs(float64(item.Wins-item.Losses)) / float64(decisive) * 100
}

func clampScore(score float64) int {
	rounded := int(math.Round(score))
	return max(0, min(100, rounded))
}
