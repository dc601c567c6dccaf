// Package geometry provides anchor-aware geometric primitives used to
// describe regions of a captured frame independent of letterboxing.
package geometry

import (
	"encoding/json"
	"fmt"
)

// Anchor selects which edge of the frame a coordinate is measured from, and
// whether the measurement is a fraction of the logical design space or a
// literal pixel count. Six tags exist per axis:
//
//   - ScreenStart        fraction of the full frame, measured from its start edge.
//   - ScreenLogicalEnd   fraction of the full frame, measured from its far edge.
//   - ScreenPixelEnd     literal pixel count, measured backward from the full
//     frame's far edge. Used for UI chrome that stays a fixed pixel size
//     regardless of how the design is scaled to the device.
//   - IntersectStart, IntersectLogicalEnd, IntersectPixelEnd
//     the same three measurements, but relative to the intersection
//     rectangle (the sub-rectangle with the design aspect ratio centered in
//     the frame) rather than the full frame. This is what makes layout
//     letterboxing-agnostic.
type Anchor int

const (
	ScreenStart Anchor = iota
	ScreenLogicalEnd
	ScreenPixelEnd
	IntersectStart
	IntersectLogicalEnd
	IntersectPixelEnd
)

func (a Anchor) String() string {
	switch a {
	case ScreenStart:
		return "screen_start"
	case ScreenLogicalEnd:
		return "screen_logical_end"
	case ScreenPixelEnd:
		return "screen_pixel_end"
	case IntersectStart:
		return "intersect_start"
	case IntersectLogicalEnd:
		return "intersect_logical_end"
	case IntersectPixelEnd:
		return "intersect_pixel_end"
	default:
		return fmt.Sprintf("anchor(%d)", int(a))
	}
}

// ParseAnchor parses the wire name produced by Anchor.String().
func ParseAnchor(s string) (Anchor, bool) {
	switch s {
	case "screen_start":
		return ScreenStart, true
	case "screen_logical_end":
		return ScreenLogicalEnd, true
	case "screen_pixel_end":
		return ScreenPixelEnd, true
	case "intersect_start":
		return IntersectStart, true
	case "intersect_logical_end":
		return IntersectLogicalEnd, true
	case "intersect_pixel_end":
		return IntersectPixelEnd, true
	default:
		return 0, false
	}
}

// MarshalJSON renders the anchor as its wire name, so config structs that
// embed Point/Rect/Line read as human-authored JSON rather than bare ints.
func (a Anchor) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON parses the wire name produced by MarshalJSON.
func (a *Anchor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseAnchor(s)
	if !ok {
		return fmt.Errorf("geometry: unknown anchor %q", s)
	}
	*a = parsed
	return nil
}

// isIntersect reports whether the anchor is measured relative to the
// intersection rectangle rather than the full frame.
func (a Anchor) isIntersect() bool {
	return a == IntersectStart || a == IntersectLogicalEnd || a == IntersectPixelEnd
}

// isPixel reports whether value is a literal pixel count rather than a
// fraction of the reference length.
func (a Anchor) isPixel() bool {
	return a == ScreenPixelEnd || a == IntersectPixelEnd
}

// isEnd reports whether the measurement runs backward from the far edge.
func (a Anchor) isEnd() bool {
	return a == ScreenLogicalEnd || a == ScreenPixelEnd ||
		a == IntersectLogicalEnd || a == IntersectPixelEnd
}

// axisRef describes the reference span an anchor resolves against: an
// origin offset and a length, both in absolute pixels of the full frame.
type axisRef struct {
	origin int
	length int
}

// resolve converts an anchored coordinate value into an absolute pixel
// coordinate within the full frame.
func (a Anchor) resolve(value float64, screen, intersect axisRef) int {
	ref := screen
	if a.isIntersect() {
		ref = intersect
	}

	if a.isPixel() {
		if a.isEnd() {
			return ref.origin + ref.length - int(value)
		}
		return ref.origin + int(value)
	}

	frac := value * float64(ref.length)
	if a.isEnd() {
		return ref.origin + ref.length - int(frac)
	}
	return ref.origin + int(frac)
}
