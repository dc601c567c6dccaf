// Package scroll estimates vertical scroll displacement between
// successive frames of the same page, combining a cheap scroll-bar
// reading with a feature-match refinement.
package scroll

import (
	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/frame"
)

// Descriptor is a cached, lazily-computed bundle of one Frame's AKAZE
// keypoints/descriptors used by the feature estimator. Extraction runs
// once per Frame no matter how many comparisons it's used in. The
// scroll-bar track reading is not cached here: BarEstimator reads it from
// the frame on every call.
type Descriptor struct {
	Frame *frame.Frame

	barComputed bool
	bar         barReading

	featuresComputed bool
	keypoints        []gocv.KeyPoint
	descriptors      gocv.Mat
}

// NewDescriptor wraps f in a cache, retaining it until Close.
func NewDescriptor(f *frame.Frame) *Descriptor {
	return &Descriptor{Frame: f.Retain()}
}

// Close drops the frame reference and releases the descriptor Mat, if one
// was ever computed. Safe to call even if features were never extracted.
func (d *Descriptor) Close() {
	if d.featuresComputed {
		_ = d.descriptors.Close()
	}
	d.Frame.Close()
	d.Frame = nil
}
