package scrape

import (
	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

// ScanParameter is one checkpoint a page's growing scroll-area image must
// pass before the page is considered complete: a contiguous run of pixels
// in Color at column X (a fraction of the page width), of length at least
// RequiredLength (a fraction of the frame height), advances the cursor.
type ScanParameter struct {
	XFraction      float64             `json:"x_fraction"`
	RequiredLength float64             `json:"required_length"`
	Color          geometry.ColorRange `json:"color"`
}

// scanCursor consumes an ordered list of ScanParameter checkpoints
// strictly in order as new pixel rows are appended to a page's
// accumulating scroll-area image.
type scanCursor struct {
	params []ScanParameter
	index  int
	run    int
}

func newScanCursor(params []ScanParameter) *scanCursor {
	return &scanCursor{params: params}
}

// done reports whether every checkpoint has been consumed.
func (c *scanCursor) done() bool {
	return c.index >= len(c.params)
}

// progress reports how many checkpoints have been consumed, as a fraction
// in [0,1].
func (c *scanCursor) progress() float64 {
	if len(c.params) == 0 {
		return 1
	}
	return float64(c.index) / float64(len(c.params))
}

// advance feeds newly appended pixel rows (width equal to the page width,
// BGR8) to the cursor, consuming checkpoints in order as their run-length
// requirement is satisfied. frameHeight is the reference height
// RequiredLength fractions are measured against.
func (c *scanCursor) advance(rows gocv.Mat, frameHeight int) {
	width := rows.Cols()
	height := rows.Rows()

	for y := 0; y < height && !c.done(); y++ {
		param := c.params[c.index]
		x := int(param.XFraction * float64(width))
		if x < 0 {
			x = 0
		}
		if x >= width {
			x = width - 1
		}

		v := rows.GetVecbAt(y, x)
		color := geometry.Color{R: int(v[2]), G: int(v[1]), B: int(v[0])}

		if param.Color.Contains(color) {
			c.run++
		} else {
			c.run = 0
		}

		required := int(param.RequiredLength * float64(frameHeight))
		if required <= 0 {
			required = 1
		}
		if c.run >= required {
			c.index++
			c.run = 0
		}
	}
}

// jumpToEnd consumes every remaining checkpoint unconditionally, used by
// the non-scrollable path where the page is captured whole in one frame.
func (c *scanCursor) jumpToEnd() {
	c.index = len(c.params)
	c.run = 0
}
