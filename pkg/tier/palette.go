package tier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
)

// ErrInvalidColor is returned for colour descriptors that cannot be parsed
var ErrInvalidColor = errors.New("invalid colour descriptor")

// Gradient end points: the classic tier list runs from a soft red for the
// top tier to a soft blue for the bottom one
var (
	paletteTop    = colorful.Color{R: 1.0, G: 0.498, B: 0.498} // #ff7f7f
	paletteBottom = colorful.Color{R: 0.498, G: 0.749, B: 1.0} // #7fbfff
)

// Palette returns count hex colours blended in HCL space from the top tier
// colour to the bottom tier colour
func Palette(count int) []string {
	colors := make([]string, count)
	for i := range colors {
		t := 0.0
		if count > 1 {
			t = float64(i) / float64(count-1)
		}
		colors[i] = paletteTop.BlendHcl(paletteBottom, t).Clamped().Hex()
	}
	return colors
}

// NormalizeColor turns a colour descriptor into lower case #rrggbb form.
// Accepts hex notation (#rgb or #rrggbb) and W3C colour names such as "gold".
func NormalizeColor(descriptor string) (string, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidColor)
	}

	if strings.HasPrefix(descriptor, "#") {
		c, err := colorful.Hex(descriptor)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidColor, descriptor, err)
		}
		return c.Hex(), nil
	}

	named := tcell.GetColor(strings.ToLower(descriptor))
	rgb := named.Hex()
	if named == tcell.ColorDefault || rgb < 0 {
		return "", fmt.Errorf("%w: unknown colour name %q", ErrInvalidColor, descriptor)
	}
	return fmt.Sprintf("#%06x", rgb), nil
}
