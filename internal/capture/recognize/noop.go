package recognize

import "gocv.io/x/gocv"

// NoopPredictor satisfies Predictor without calling any model, reporting
// every region as unrecognized. ML inference is out of scope per spec.md
// §1; this lets the CLI exercise the full pipeline (scene detection
// through stitching through the recognizer's fan-out/join) without a real
// model directory configured.
type NoopPredictor struct{}

// Predict always succeeds with an empty label, regardless of modulePath
// or the cropped region contents.
func (NoopPredictor) Predict(modulePath string, image gocv.Mat, region Region) (Result, error) {
	return Result{Region: region.Name, Label: "", Confidence: 0}, nil
}
