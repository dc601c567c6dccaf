package geometry

import (
	"encoding/json"
	"fmt"
)

// Line is a segment between two anchored points, used by LineLength-style
// rules to scan pixel colors from p1 toward p2.
type Line[T Number] struct {
	P1 Point[T] `json:"p1"`
	P2 Point[T] `json:"p2"`
}

// NewLine builds a Line with both endpoints sharing one anchor, the common
// case for a scan line that crosses a fixed-position UI element.
func NewLine[T Number](x1, y1, x2, y2 T, anchor Anchor) Line[T] {
	return Line[T]{P1: NewPoint(x1, y1, anchor), P2: NewPoint(x2, y2, anchor)}
}

// Resolve returns both endpoints in absolute pixel coordinates.
func (l Line[T]) Resolve(b Bounds) (x1, y1, x2, y2 int) {
	x1, y1 = l.P1.Resolve(b)
	x2, y2 = l.P2.Resolve(b)
	return
}

// Axis names a single coordinate axis, used by Line1D to describe a
// one-dimensional scan (e.g. the vertical extent of a scroll track).
type Axis int

const (
	AxisX Axis = iota
	AxisY
)

// MarshalJSON renders the axis as "x" or "y".
func (a Axis) MarshalJSON() ([]byte, error) {
	if a == AxisY {
		return json.Marshal("y")
	}
	return json.Marshal("x")
}

// UnmarshalJSON parses the wire name produced by MarshalJSON.
func (a *Axis) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "x":
		*a = AxisX
	case "y":
		*a = AxisY
	default:
		return fmt.Errorf("geometry: unknown axis %q", s)
	}
	return nil
}

// Line1D is a segment confined to one axis, anchored once, at a fixed
// coordinate on the other axis. Used for scroll-bar track scanning where
// the scan column is fixed and only the vertical extent varies.
type Line1D[T Number] struct {
	Axis   Axis   `json:"axis"`
	Anchor Anchor `json:"anchor"`
	Cross  T      `json:"cross"` // fixed coordinate on the other axis (anchored the same way)
	Start  T      `json:"start"`
	End    T      `json:"end"`
}

// Resolve returns the fixed cross-axis pixel coordinate and the start/end
// pixel coordinates along Axis.
func (l Line1D[T]) Resolve(b Bounds) (cross, start, end int) {
	screenX, interX := b.axisX()
	screenY, interY := b.axisY()

	if l.Axis == AxisY {
		cross = l.Anchor.resolve(float64(l.Cross), screenX, interX)
		start = l.Anchor.resolve(float64(l.Start), screenY, interY)
		end = l.Anchor.resolve(float64(l.End), screenY, interY)
		return
	}
	cross = l.Anchor.resolve(float64(l.Cross), screenY, interY)
	start = l.Anchor.resolve(float64(l.Start), screenX, interX)
	end = l.Anchor.resolve(float64(l.End), screenX, interX)
	return
}
