package scroll

import (
	"math"
	"math/rand"

	"gocv.io/x/gocv"
)

// FeatureConfig tunes the image-feature refinement estimator.
type FeatureConfig struct {
	TrustRatio            float64 `json:"trust_ratio"`             // Lowe ratio test threshold for kNN matching
	VerticalThreshold     float64 `json:"vertical_threshold"`      // pixels; matches outside guess +/- this are discarded
	MinimumKeyPoints      int     `json:"minimum_key_points"`      // survivors required before fitting a homography
	HorizontalThreshold   float64 `json:"horizontal_threshold"`    // pixels; max tolerated horizontal drift
	NonTranslationEpsilon float64 `json:"non_translation_epsilon"` // max deviation of non-translation entries from identity
	RansacIterations      int     `json:"ransac_iterations"`
	ReprojectionThreshold float64 `json:"reprojection_threshold"` // pixels
}

// DefaultFeatureConfig returns the tuning spec.md's scroll-offset section
// calls for: k=2 kNN matching, a RANSAC homography restricted in practice
// to pure vertical translation.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		TrustRatio:            0.8,
		VerticalThreshold:     40,
		MinimumKeyPoints:      8,
		HorizontalThreshold:   3,
		NonTranslationEpsilon: 0.1,
		RansacIterations:      256,
		ReprojectionThreshold: 3,
	}
}

// FeatureEstimator refines a coarse scroll-offset guess by matching AKAZE
// keypoints between two frames and fitting a homography that is expected
// to come out as a pure vertical translation.
type FeatureEstimator struct {
	Config FeatureConfig
	akaze  gocv.AKAZE
	rng    *rand.Rand
}

// NewFeatureEstimator builds an estimator with its own AKAZE detector.
// Callers should keep one FeatureEstimator per page rather than per
// comparison, to amortize the detector's setup cost.
func NewFeatureEstimator(cfg FeatureConfig) *FeatureEstimator {
	return &FeatureEstimator{
		Config: cfg,
		akaze:  gocv.NewAKAZE(),
		rng:    rand.New(rand.NewSource(1)),
	}
}

// Close releases the underlying AKAZE detector.
func (e *FeatureEstimator) Close() error {
	return e.akaze.Close()
}

func (e *FeatureEstimator) ensureFeatures(d *Descriptor) {
	if d.featuresComputed {
		return
	}
	mask := gocv.NewMat()
	defer mask.Close()

	d.keypoints, d.descriptors = e.akaze.DetectAndCompute(d.Frame.Mat(), mask)
	d.featuresComputed = true
}

// Delta refines guess (a coarse pixel offset, typically from BarEstimator)
// using feature matches between from and to. It returns ok=false if too
// few matches survive the vertical-consistency filter or the fitted
// homography is not close enough to a pure vertical translation —
// "unknown", not an error: the caller waits for a later frame.
func (e *FeatureEstimator) Delta(from, to *Descriptor, guess float64) (offsetPixels float64, ok bool) {
	e.ensureFeatures(from)
	e.ensureFeatures(to)

	if from.descriptors.Empty() || to.descriptors.Empty() {
		return 0, false
	}

	matches := knnMatch(from.descriptors, to.descriptors, e.Config.TrustRatio)

	var pairs []pointPair
	for _, m := range matches {
		kpFrom := from.keypoints[m.queryIdx]
		kpTo := to.keypoints[m.trainIdx]
		dy := kpFrom.Y - kpTo.Y
		if math.Abs(dy-guess) > e.Config.VerticalThreshold {
			continue
		}
		pairs = append(pairs, pointPair{fromX: kpFrom.X, fromY: kpFrom.Y, toX: kpTo.X, toY: kpTo.Y})
	}

	if len(pairs) < e.Config.MinimumKeyPoints {
		return 0, false
	}

	h, _, ok := ransacHomography(pairs, e.rng, e.Config.RansacIterations, e.Config.ReprojectionThreshold)
	if !ok {
		return 0, false
	}
	if !isPureVerticalTranslation(h, e.Config.HorizontalThreshold, e.Config.NonTranslationEpsilon) {
		return 0, false
	}

	// h maps "from" points to "to" points, so content that scrolled down
	// by N pixels (moving up on screen) fits a translation of -N; negate to
	// match the bar estimator's downward-positive convention.
	return -h[5], true
}

func isPureVerticalTranslation(h homography, horizontalThreshold, eps float64) bool {
	if math.Abs(h[2]) > horizontalThreshold {
		return false
	}
	deviations := []float64{h[0] - 1, h[1], h[3], h[4] - 1, h[6], h[7]}
	for _, d := range deviations {
		if math.Abs(d) > eps {
			return false
		}
	}
	return true
}
