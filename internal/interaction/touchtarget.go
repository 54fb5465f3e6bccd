package interaction

import (
	"errors"

	"github.com/go-rod/rod"
)

// ErrElementNotVisible is returned when an element has no renderable
// bounding box (detached, display:none, or off-screen).
var ErrElementNotVisible = errors.New("element not visible or has no bounds")

// TargetSize is an interactive element's rendered dimensions, used by the
// Mobile analyzer's touch-target-sizing check.
type TargetSize struct {
	Width  float64
	Height float64
	CenterX float64
	CenterY float64
}

// Measure returns an element's bounding box in CSS pixels, computed from
// its first rendered quad. WCAG / Material / Apple guidance converges
// around a 44x44 (or 48x48) CSS-pixel minimum for a comfortably tappable
// control; the Mobile analyzer applies that threshold to the result.
func Measure(element *rod.Element) (TargetSize, error) {
	shape, err := element.Shape()
	if err != nil {
		return TargetSize{}, err
	}
	if shape == nil || len(shape.Quads) == 0 {
		return TargetSize{}, ErrElementNotVisible
	}

	quad := shape.Quads[0]
	minX, maxX := quad[0], quad[0]
	minY, maxY := quad[1], quad[1]
	for i := 0; i < 4; i++ {
		x, y := quad[i*2], quad[i*2+1]
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}

	return TargetSize{
		Width:   maxX - minX,
		Height:  maxY - minY,
		CenterX: (minX + maxX) / 2,
		CenterY: (minY + maxY) / 2,
	}, nil
}

// MeetsMinimum reports whether a target size satisfies the minimum
// comfortable tap-target dimension in both axes.
func (t TargetSize) MeetsMinimum(minPx float64) bool {
	return t.Width >= minPx && t.Height >= minPx
}
