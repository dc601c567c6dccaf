// Package scrape implements the per-tab scroll-capture engine: page
// stationary/scrollable classification, scroll-bar-and-feature-driven
// fragment accumulation, scan-parameter-gated page completion, and the
// base-frame catcher (with snackbar suppression) that gates session
// completion alongside the three pages.
package scrape

import (
	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

// StationaryConfig tunes a StationaryFrameCatcher: the rectangle to watch,
// how much per-channel color change is tolerated, what fraction of pixels
// may exceed that tolerance before the rectangle is considered "moving",
// and how long (in frame-timestamp milliseconds) it must hold still.
type StationaryConfig struct {
	TargetRect           geometry.Rect[float64] `json:"target_rect"`
	StationaryTimeMs     int64                  `json:"stationary_time_ms"`
	MinColorDelta        int                    `json:"min_color_delta"`
	StationaryColorRatio float64                `json:"stationary_color_ratio"`
}

// StationaryFrameCatcher holds the previous frame and reports ready once
// the fraction of changed pixels inside TargetRect has stayed below
// StationaryColorRatio for StationaryTimeMs of frame timestamps.
type StationaryFrameCatcher struct {
	cfg StationaryConfig

	prev           *frame.Frame
	stableSinceMs  int64
	hasStableSince bool

	ready      bool
	readyFrame *frame.Frame
}

// NewStationaryFrameCatcher builds a catcher over the given geometry and
// tuning.
func NewStationaryFrameCatcher(cfg StationaryConfig) *StationaryFrameCatcher {
	return &StationaryFrameCatcher{cfg: cfg}
}

// Update feeds one frame. The first frame ever seen can never be judged
// stationary (there is nothing to compare it to) and simply becomes prev.
func (c *StationaryFrameCatcher) Update(f *frame.Frame) {
	if c.prev == nil {
		c.prev = f.Retain()
		return
	}

	rect := c.cfg.TargetRect.Resolve(f.Bounds())
	total := 0
	changed := 0
	for y := rect.Y0; y < rect.Y1; y++ {
		for x := rect.X0; x < rect.X1; x++ {
			total++
			before := c.prev.ColorAtPixel(x, y)
			after := f.ColorAtPixel(x, y)
			if geometry.MaxChannelDiff(before, after) > c.cfg.MinColorDelta {
				changed++
			}
		}
	}

	ratio := 0.0
	if total > 0 {
		ratio = float64(changed) / float64(total)
	}

	if ratio <= c.cfg.StationaryColorRatio {
		if !c.hasStableSince {
			c.stableSinceMs = f.TimestampMs()
			c.hasStableSince = true
		}
		if f.TimestampMs()-c.stableSinceMs >= c.cfg.StationaryTimeMs {
			c.ready = true
			c.readyFrame.Close()
			c.readyFrame = f.Retain()
		}
	} else {
		c.hasStableSince = false
		c.ready = false
		c.readyFrame.Close()
		c.readyFrame = nil
	}

	c.prev.Close()
	c.prev = f.Retain()
}

// Ready reports whether the target rectangle has been stationary for long
// enough.
func (c *StationaryFrameCatcher) Ready() bool { return c.ready }

// Frame returns the latest frame seen while the target rectangle has
// stayed stationary; it is replaced on every later stable update. Only
// valid once Ready reports true.
func (c *StationaryFrameCatcher) Frame() *frame.Frame { return c.readyFrame }

// Close drops the catcher's references to its held frames. Only safe to
// call once the owning session has ended.
func (c *StationaryFrameCatcher) Close() {
	c.prev.Close()
	c.prev = nil
	c.readyFrame.Close()
	c.readyFrame = nil
}

// SnackbarConfig describes the toast-suppression scan line the base-frame
// catcher watches in addition to its own stationary rectangle.
type SnackbarConfig struct {
	ScanLine        geometry.Line[float64] `json:"scan_line"`
	Background      geometry.ColorRange    `json:"background"`
	TimeThresholdMs int64                  `json:"time_threshold_ms"`
}

// BaseFrameCatcher wraps a StationaryFrameCatcher over the full base
// rectangle with a snackbar suppressor: even once the base rectangle is
// stationary, the catcher withholds readiness until no snackbar has been
// seen on the scan line for TimeThresholdMs.
type BaseFrameCatcher struct {
	stationary *StationaryFrameCatcher
	snackbar   SnackbarConfig

	lastFrameMs  int64
	lastSeenMs   int64
	snackbarSeen bool
}

// NewBaseFrameCatcher builds a catcher over the base rectangle's
// stationary tuning and the snackbar scan-line geometry.
func NewBaseFrameCatcher(base StationaryConfig, snackbar SnackbarConfig) *BaseFrameCatcher {
	return &BaseFrameCatcher{
		stationary: NewStationaryFrameCatcher(base),
		snackbar:   snackbar,
	}
}

// Update feeds one frame to both the stationary detector and the snackbar
// scan line.
func (c *BaseFrameCatcher) Update(f *frame.Frame) {
	c.stationary.Update(f)
	c.lastFrameMs = f.TimestampMs()

	ratio := f.ScanPrefixRatio(c.snackbar.ScanLine, c.snackbar.Background)
	if ratio >= 1.0 {
		c.lastSeenMs = f.TimestampMs()
		c.snackbarSeen = true
	}
}

// Ready reports whether the base rectangle is stationary and no snackbar
// has been observed within the configured suppression window.
func (c *BaseFrameCatcher) Ready() bool {
	if !c.stationary.Ready() {
		return false
	}
	if !c.snackbarSeen {
		return true
	}
	return c.lastFrameMs-c.lastSeenMs >= c.snackbar.TimeThresholdMs
}

// Frame returns the stationary base frame. Only valid once Ready is true.
func (c *BaseFrameCatcher) Frame() *frame.Frame { return c.stationary.Frame() }

// Close releases the catcher's held frame.
func (c *BaseFrameCatcher) Close() {
	c.stationary.Close()
}
