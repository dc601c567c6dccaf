package scroll

import (
	"math"

	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

// barReading is one frame's scroll-bar track measurement: how far the
// background color extends in from each end of the scan line before the
// thumb begins, expressed as track-relative fractions in [0,1].
type barReading struct {
	present            bool
	upperPos, lowerPos float64 // thumb top/bottom, track-relative
}

// BarConfig is the fixed geometry a page's scroll-bar estimator scans
// against: a vertical line crossing the scroll track, and the background
// color the track is painted when no thumb covers it.
type BarConfig struct {
	Line       geometry.Line[float64] `json:"line"`
	Background geometry.ColorRange    `json:"background"`
}

func (c BarConfig) read(f *frame.Frame) barReading {
	fromStart, fromEnd := f.ScanBackgroundRatio(c.Line, c.Background)
	if fromStart <= 0 || fromEnd <= 0 {
		return barReading{}
	}
	return barReading{present: true, upperPos: fromStart, lowerPos: 1 - fromEnd}
}

func (c BarConfig) linePixelLength(f *frame.Frame) float64 {
	x1, y1, x2, y2 := c.Line.Resolve(f.Bounds())
	dx, dy := float64(x2-x1), float64(y2-y1)
	return math.Hypot(dx, dy)
}

// BarEstimator tracks the scroll-bar thumb's observed pixel length across
// a session, refining it monotonically: the thumb is only ever fully
// visible once the user has scrolled, so the running maximum is always
// at least as accurate as any single observation.
type BarEstimator struct {
	Config BarConfig

	observedLengthPixels float64
}

// NewBarEstimator builds an estimator over the given fixed scan geometry.
func NewBarEstimator(cfg BarConfig) *BarEstimator {
	return &BarEstimator{Config: cfg}
}

// Present reports whether the frame shows a scroll bar at all (both scan
// ends reach the background color). A page classifies as scrollable iff
// this is true on its very first frame.
func (e *BarEstimator) Present(f *frame.Frame) bool {
	return e.Config.read(f).present
}

// observe reads the bar on f and folds its thumb length into the running
// maximum, returning the reading.
func (e *BarEstimator) observe(f *frame.Frame) barReading {
	r := e.Config.read(f)
	if !r.present {
		return r
	}
	length := (r.lowerPos - r.upperPos) * e.Config.linePixelLength(f)
	if length > e.observedLengthPixels {
		e.observedLengthPixels = length
	}
	return r
}

// Delta estimates the vertical pixel offset of to relative to from using
// only the scroll-bar thumb position. It returns ok=false if the bar is
// absent in either frame or the running thumb-length estimate is not yet
// known (can't convert a track-relative delta to pixels).
func (e *BarEstimator) Delta(from, to *frame.Frame) (offsetPixels float64, ok bool) {
	rFrom := e.observe(from)
	rTo := e.observe(to)
	if !rFrom.present || !rTo.present || e.observedLengthPixels <= 0 {
		return 0, false
	}

	dUpper := rTo.upperPos - rFrom.upperPos
	dLower := rTo.lowerPos - rFrom.lowerPos
	delta := dUpper
	if math.Abs(dLower) > math.Abs(dUpper) {
		delta = dLower
	}

	offsetPixels = float64(to.Height()) * delta / e.observedLengthPixels
	return offsetPixels, true
}
