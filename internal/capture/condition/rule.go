// Package condition implements the declarative boolean predicate tree that
// the scene detector evaluates once per incoming frame. A tree is built
// from three node shapes (Plain/Nested/Parallel) over a small closed set of
// rules, and round-trips losslessly to a self-describing JSON form.
package condition

import (
	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

// LeafRule is a pure function of (frame, mutable rule state) sampled
// directly from pixel data. Used by Plain nodes.
type LeafRule interface {
	Evaluate(f *frame.Frame) bool
}

// NestedRule evaluates a single child's met value together with the frame's
// timestamp. Used by Nested nodes (currently only Stable).
type NestedRule interface {
	Evaluate(childMet bool, timestampMs int64) bool
}

// ParallelRule combines the met values of every child. Used by Parallel
// nodes (And, Or).
type ParallelRule interface {
	Evaluate(childrenMet []bool) bool
}

// PointColor samples a single anchored pixel; met iff the sample falls
// inside Range.
type PointColor struct {
	Point geometry.Point[float64]
	Range geometry.ColorRange
}

func (r *PointColor) Evaluate(f *frame.Frame) bool {
	return r.Range.Contains(f.ColorAt(r.Point))
}

// LineLength scans Line from P1 toward P2 and measures the longest prefix
// ratio whose samples lie within Deviation of the color at P1; met iff the
// ratio falls in LengthRange.
type LineLength struct {
	Line        geometry.Line[float64]
	Deviation   int
	LengthRange geometry.Range[float64]
}

func (r *LineLength) measure(f *frame.Frame) float64 {
	ref := f.ColorAt(r.Line.P1)
	dev := geometry.Deviation(ref, r.Deviation)
	return f.ScanPrefixRatio(r.Line, dev)
}

func (r *LineLength) Evaluate(f *frame.Frame) bool {
	return r.LengthRange.Contains(r.measure(f))
}

// StableLineLength performs the same scan as LineLength but is met iff the
// measured ratio is exactly equal (compared literally, no epsilon — see
// the decided Open Question in SPEC_FULL.md) to the ratio measured on the
// previous evaluation. The first evaluation always yields false.
type StableLineLength struct {
	Line      geometry.Line[float64]
	Deviation int

	previous    float64
	hasPrevious bool
}

func (r *StableLineLength) Evaluate(f *frame.Frame) bool {
	ref := f.ColorAt(r.Line.P1)
	dev := geometry.Deviation(ref, r.Deviation)
	ratio := f.ScanPrefixRatio(r.Line, dev)

	met := r.hasPrevious && ratio == r.previous
	r.previous = ratio
	r.hasPrevious = true
	return met
}

// Stable wraps a child; met iff the child has been continuously met for at
// least ThresholdMs of frame (not real wall-clock) time. Any unmet
// evaluation resets the streak.
type Stable struct {
	ThresholdMs int64

	startMs int64
	started bool
}

func (r *Stable) Evaluate(childMet bool, timestampMs int64) bool {
	if !childMet {
		r.started = false
		return false
	}
	if !r.started {
		r.startMs = timestampMs
		r.started = true
	}
	return timestampMs-r.startMs >= r.ThresholdMs
}

// And is met iff every child is met. An empty child set is vacuously met.
type And struct{}

func (And) Evaluate(childrenMet []bool) bool {
	for _, m := range childrenMet {
		if !m {
			return false
		}
	}
	return true
}

// Or is met iff at least one child is met.
type Or struct{}

func (Or) Evaluate(childrenMet []bool) bool {
	for _, m := range childrenMet {
		if m {
			return true
		}
	}
	return false
}
