package geometry

// Bounds captures everything needed to resolve an anchored coordinate for one
// frame: the full frame size and the intersection rectangle (the maximal
// sub-rectangle with the design aspect ratio, centered in the frame).
type Bounds struct {
	screenW, screenH int
	interX, interY   int
	interW, interH   int
}

// NewBounds builds a Bounds from the frame's pixel size and design aspect
// ratio (designW:designH). The intersection rectangle is centered in the
// frame and as large as possible while preserving that aspect ratio.
func NewBounds(frameW, frameH, designW, designH int) Bounds {
	if designW <= 0 || designH <= 0 || frameW <= 0 || frameH <= 0 {
		return Bounds{screenW: frameW, screenH: frameH, interW: frameW, interH: frameH}
	}

	// Try full width first, see if the implied height fits.
	interW := frameW
	interH := frameW * designH / designW
	if interH > frameH {
		interH = frameH
		interW = frameH * designW / designH
	}

	return Bounds{
		screenW: frameW,
		screenH: frameH,
		interX:  (frameW - interW) / 2,
		interY:  (frameH - interH) / 2,
		interW:  interW,
		interH:  interH,
	}
}

func (b Bounds) axisX() (screen, intersect axisRef) {
	return axisRef{0, b.screenW}, axisRef{b.interX, b.interW}
}

func (b Bounds) axisY() (screen, intersect axisRef) {
	return axisRef{0, b.screenH}, axisRef{b.interY, b.interH}
}

// ScreenSize returns the full frame's pixel dimensions.
func (b Bounds) ScreenSize() (w, h int) { return b.screenW, b.screenH }

// IntersectRect returns the intersection rectangle in absolute pixels.
func (b Bounds) IntersectRect() (x, y, w, h int) {
	return b.interX, b.interY, b.interW, b.interH
}
