// Package frame wraps a single captured screen image: an immutable,
// shared-read-only BGR pixel buffer, its timestamp, and anchor-aware
// sampling helpers used by the condition tree and scroll estimators.
package frame

import (
	"fmt"
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

// DesignWidth and DesignHeight are the logical design resolution the capture target was built
// against. All intersection-anchored geometry is computed relative to it.
const (
	DesignWidth  = 1600
	DesignHeight = 900
)

// Frame is an immutable view over one BGR 8-bit row-contiguous pixel buffer
// captured from the host. Frames are shared read-only once constructed: no
// stage mutates Mat contents after New returns. The underlying gocv.Mat is
// reference-counted because several holders (the stationary catchers, the
// scroll descriptor cache, the queued frame handoff between stages) keep
// the same Frame alive across updates: every holder that stores a Frame
// past the call it received it in must Retain it, and every holder calls
// Close exactly once when done. The Mat is released when the last holder
// closes.
type Frame struct {
	mat         gocv.Mat
	width       int
	height      int
	timestampMs int64
	refs        atomic.Int32
}

// New wraps a BGR8 row-contiguous pixel buffer captured at timestampMs
// (host-chosen, monotonic milliseconds). pix must have exactly
// width*height*3 bytes; this is the frame-ingress boundary described by the
// single update_frame(pixels, width, height, timestamp_ms) entry point.
func New(pix []byte, width, height int, timestampMs int64) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame: invalid dimensions %dx%d", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("frame: pixel buffer length %d does not match %dx%dx3", len(pix), width, height)
	}

	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		return nil, fmt.Errorf("frame: wrap pixel buffer: %w", err)
	}

	f := &Frame{mat: mat, width: width, height: height, timestampMs: timestampMs}
	f.refs.Store(1)
	return f, nil
}

// Retain adds a reference and returns f, so holders can write
// `h.frame = f.Retain()` in one step.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Close drops one reference; the underlying Mat is released when the last
// holder closes. Each holder must call Close exactly once.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	if f.refs.Add(-1) == 0 {
		_ = f.mat.Close()
	}
}

// Width returns the frame's pixel width.
func (f *Frame) Width() int { return f.width }

// Height returns the frame's pixel height.
func (f *Frame) Height() int { return f.height }

// TimestampMs returns the host-supplied capture timestamp.
func (f *Frame) TimestampMs() int64 { return f.timestampMs }

// Mat returns the underlying gocv.Mat for stages (AKAZE detection, stitching)
// that need OpenCV operations directly. Callers must not Close it; Frame
// owns its lifetime.
func (f *Frame) Mat() gocv.Mat { return f.mat }

// Bounds resolves this frame's anchor Bounds against the package design size.
func (f *Frame) Bounds() geometry.Bounds {
	return geometry.NewBounds(f.width, f.height, DesignWidth, DesignHeight)
}

// clampPoint keeps a resolved pixel coordinate inside the frame.
func (f *Frame) clampPoint(x, y int) (int, int) {
	if x < 0 {
		x = 0
	}
	if x >= f.width {
		x = f.width - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= f.height {
		y = f.height - 1
	}
	return x, y
}

// at returns the RGB color at absolute pixel (x,y), converting from the
// Mat's native BGR byte order.
func (f *Frame) at(x, y int) geometry.Color {
	x, y = f.clampPoint(x, y)
	v := f.mat.GetVecbAt(y, x)
	return geometry.Color{R: int(v[2]), G: int(v[1]), B: int(v[0])}
}

// ColorAt samples the pixel color at an anchored point.
func (f *Frame) ColorAt(p geometry.Point[float64]) geometry.Color {
	px, py := p.Resolve(f.Bounds())
	return f.at(px, py)
}

// ColorAtPixel samples the pixel color at an absolute pixel coordinate,
// clamped to the frame bounds. Used by the scrape engine's stationary-frame
// and base-frame catchers, which compare two frames pixel-by-pixel over an
// already-resolved rectangle rather than an anchored point.
func (f *Frame) ColorAtPixel(x, y int) geometry.Color {
	return f.at(x, y)
}

// Region crops the frame's Mat to an absolute pixel rectangle (x1/y1
// exclusive) and returns an owned clone; the caller must Close it. Used by
// the scrape engine to snapshot a tab-button or base-frame rectangle, and
// to slice off the bottom rows of newly scrolled content into a fragment.
func (f *Frame) Region(x0, y0, x1, y1 int) gocv.Mat {
	x0, y0 = f.clampPoint(x0, y0)
	x1 = min(max(x1, 0), f.width)
	y1 = min(max(y1, 0), f.height)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	region := f.mat.Region(image.Rect(x0, y0, x1, y1))
	defer region.Close()
	return region.Clone()
}

// ScanPrefixRatio walks pixel-by-pixel from line.P1 toward line.P2 and
// returns the ratio (in [0,1]) of the longest *prefix* run whose color
// stays inside the deviation range (callers that compare against the color
// at P1 build that range from it). An empty line (equal endpoints) has
// length 0 and is reported as ratio 0.
func (f *Frame) ScanPrefixRatio(line geometry.Line[float64], deviation geometry.ColorRange) float64 {
	x1, y1, x2, y2 := line.Resolve(f.Bounds())
	steps := maxAbs(x2-x1, y2-y1)
	if steps == 0 {
		return 0
	}

	hits := 0
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := x1 + int(float64(x2-x1)*t)
		y := y1 + int(float64(y2-y1)*t)
		c := f.at(x, y)
		if !deviation.Contains(c) {
			break
		}
		hits = i + 1
	}
	return float64(hits) / float64(steps+1)
}

// ScanBackgroundRatio measures, starting at each end of line, the prefix
// ratio of samples that stay inside the bg color range. Used by
// the scroll-bar estimator to find how far the background extends in from
// each edge of the track before the thumb begins.
func (f *Frame) ScanBackgroundRatio(line geometry.Line[float64], bg geometry.ColorRange) (fromStart, fromEnd float64) {
	forward := line
	fromStart = f.ScanPrefixRatio(forward, bg)

	reversed := geometry.Line[float64]{P1: line.P2, P2: line.P1}
	fromEnd = f.ScanPrefixRatio(reversed, bg)
	return
}

func maxAbs(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}
