package scroll

// Estimator combines the scroll-bar and image-feature estimators: the bar
// supplies a coarse-but-never-wrong guess, and the feature estimator
// refines it. Either layer failing makes the combined result "unknown" —
// not an error — so the caller waits for a later frame.
type Estimator struct {
	Bar     *BarEstimator
	Feature *FeatureEstimator
}

// NewEstimator builds a combined estimator over the given bar geometry
// and feature tuning.
func NewEstimator(barCfg BarConfig, featureCfg FeatureConfig) *Estimator {
	return &Estimator{
		Bar:     NewBarEstimator(barCfg),
		Feature: NewFeatureEstimator(featureCfg),
	}
}

// Close releases the feature estimator's AKAZE detector.
func (e *Estimator) Close() error {
	return e.Feature.Close()
}

// Delta estimates the vertical pixel offset of to relative to from. It
// returns ok=false ("unknown") if the scroll bar is not visible in both
// frames or the feature refinement can't confirm a pure vertical
// translation consistent with the bar's guess.
func (e *Estimator) Delta(from, to *Descriptor) (offsetPixels float64, ok bool) {
	guess, ok := e.Bar.Delta(from.Frame, to.Frame)
	if !ok {
		return 0, false
	}
	return e.Feature.Delta(from, to, guess)
}
