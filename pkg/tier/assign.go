package tier

import "github.com/pashagolub/tierelo/pkg/elo"

// Placement locates one item in the rating order and in a tier
type Placement struct {
	Item     elo.RatedItem
	Position int // index in the rating-sorted list
	Tier     int // index into the definitions
}

// Assigner maps items to tier definitions
type Assigner struct {
	source Source
}

// NewAssigner creates an assigner reading from source
func NewAssigner(source Source) *Assigner {
	return &Assigner{source: source}
}

// Assign returns the tier of every item keyed by item id
func (a *Assigner) Assign(defs []Definition) (map[string]Definition, error) {
	placements, err := a.Placements(defs)
	if err != nil {
		return nil, err
	}

	assigned := make(map[string]Definition, len(placements))
	for _, p := range placements {
		assigned[p.Item.ID] = defs[p.Tier]
	}
	return assigned, nil
}

// Placements walks the rating-sorted items once, pairing each with the tier
// containing its position
func (a *Assigner) Placements(defs []Definition) ([]Placement, error) {
	return Place(a.source.Sorted(), defs)
}

// Place assigns sorted items (rating descending) to defs
func Place(sorted []elo.RatedItem, defs []Definition) ([]Placement, error) {
	if err := ValidateDefinitions(defs, len(sorted)); err != nil {
		return nil, err
	}

	placements := make([]Placement, len(sorted))
	tierIndex := 0
	for position, item := range sorted {
		// Definitions are contiguous, so the owning tier only moves forward
		for !defs[tierIndex].Contains(position) {
			tierIndex++
		}
		placements[position] = Placement{
			Item:     item,
			Position: position,
			Tier:     tierIndex,
		}
	}
	return placements, nil
}
