package geometry

// Number is the set of scalar types an anchored coordinate value may hold.
// Fractional anchors (ScreenStart, ScreenLogicalEnd, IntersectStart,
// IntersectLogicalEnd) expect values in [0,1]; pixel anchors (ScreenPixelEnd,
// IntersectPixelEnd) expect literal pixel counts.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Point is a coordinate anchored independently on each axis. Every
// geometric value in the condition tree carries its anchor and is resolved
// against a concrete Bounds only at sampling time.
type Point[T Number] struct {
	X       T      `json:"x"`
	Y       T      `json:"y"`
	AnchorX Anchor `json:"anchor_x"`
	AnchorY Anchor `json:"anchor_y"`
}

// NewPoint builds a Point with the same anchor on both axes, the common case.
func NewPoint[T Number](x, y T, anchor Anchor) Point[T] {
	return Point[T]{X: x, Y: y, AnchorX: anchor, AnchorY: anchor}
}

// Resolve returns the absolute pixel coordinates of p against b.
func (p Point[T]) Resolve(b Bounds) (px, py int) {
	screenX, interX := b.axisX()
	screenY, interY := b.axisY()
	px = p.AnchorX.resolve(float64(p.X), screenX, interX)
	py = p.AnchorY.resolve(float64(p.Y), screenY, interY)
	return px, py
}

// Size is a plain width/height pair; it is not anchor-resolved because it
// describes an extent, not a position.
type Size[T Number] struct {
	W T `json:"w"`
	H T `json:"h"`
}
