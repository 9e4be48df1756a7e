package tier

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Definition is one labelled band of the rating-sorted item list covering
// positions [StartPosition, EndPosition)
type Definition struct {
	Label         string `json:"label" yaml:"label"`
	DisplayName   string `json:"display_name" yaml:"display_name"`
	Color         string `json:"color" yaml:"color"`
	StartPosition int    `json:"start_position" yaml:"start_position"`
	EndPosition   int    `json:"end_position" yaml:"end_position"`
}

// Size returns the number of positions in the tier
func (d Definition) Size() int {
	return d.EndPosition - d.StartPosition
}

// Empty reports whether the tier holds no positions
func (d Definition) Empty() bool {
	return d.Size() == 0
}

// Contains reports whether position falls inside the tier
func (d Definition) Contains(position int) bool {
	return position >= d.StartPosition && position < d.EndPosition
}

// Template carries the presentation half of a Definition
type Template struct {
	Label       string `json:"label" yaml:"label"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Color       string `json:"color" yaml:"color"`
}

// ValidateDefinitions checks that defs are contiguous, ordered and cover
// exactly [0, itemCount)
func ValidateDefinitions(defs []Definition, itemCount int) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: no tiers defined", ErrInvalidDefinitions)
	}

	next := 0
	for i, def := range defs {
		if def.StartPosition != next {
			return fmt.Errorf("%w: tier %d (%s) starts at %d, expected %d",
				ErrInvalidDefinitions, i, def.Label, def.StartPosition, next)
		}
		if def.EndPosition < def.StartPosition {
			return fmt.Errorf("%w: tier %d (%s) ends before it starts",
				ErrInvalidDefinitions, i, def.Label)
		}
		next = def.EndPosition
	}

	if next != itemCount {
		return fmt.Errorf("%w: tiers cover %d positions, have %d items",
			ErrInvalidDefinitions, next, itemCount)
	}
	return nil
}

// Build pairs templates with computed boundaries. There must be exactly one
// template per tier, i.e. len(boundaries)-1 templates.
func Build(templates []Template, boundaries []int) ([]Definition, error) {
	if len(boundaries) != len(templates)+1 {
		return nil, fmt.Errorf("%w: %d templates for %d boundaries",
			ErrInvalidDefinitions, len(templates), len(boundaries))
	}

	defs := make([]Definition, len(templates))
	for i, tmpl := range templates {
		defs[i] = Definition{
			Label:         tmpl.Label,
			DisplayName:   tmpl.DisplayName,
			Color:         tmpl.Color,
			StartPosition: boundaries[i],
			EndPosition:   boundaries[i+1],
		}
	}
	return defs, nil
}

// defaultLabels follows the usual S, A, B, ... tier list naming
func defaultLabels(count int) []string {
	labels := make([]string, 0, count)
	for i := 0; i < count; i++ {
		switch {
		case i == 0:
			labels = append(labels, "S")
		case i <= 26:
			labels = append(labels, string(rune('A'+i-1)))
		default:
			labels = append(labels, fmt.Sprintf("T%d", i))
		}
	}
	return labels
}

// DefaultTemplates generates count templates labelled S, A, B, ... with a
// warm to cool colour gradient
func DefaultTemplates(count int) []Template {
	return TemplatesFor(defaultLabels(count))
}

// TemplatesFor builds templates for caller supplied labels, best tier first
func TemplatesFor(labels []string) []Template {
	title := cases.Title(language.English)
	colors := Palette(len(labels))

	templates := make([]Template, len(labels))
	for i, label := range labels {
		label = strings.TrimSpace(label)
		templates[i] = Template{
			Label:       label,
			DisplayName: title.String(label) + " Tier",
			Color:       colors[i],
		}
	}
	return templates
}
