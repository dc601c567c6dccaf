// Package recognize wraps the external ML predictor collaborator: given
// a session's three stitched tab images and the configured region
// rectangles to crop from them, it dispatches cropping and prediction
// work to a bounded worker pool and reports a structured record back per
// session (spec.md §1 Non-goals: "ML model inference... is out of
// scope"; this package only defines and drives the boundary).
package recognize

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/geometry"
	"github.com/umasagashi/capture-core/internal/capture/layout"
	"github.com/umasagashi/capture-core/internal/eventbus"
	"github.com/umasagashi/capture-core/internal/logging"
	"github.com/umasagashi/capture-core/internal/workerpool"
)

var log = logging.L("recognize")

// Region is one named rectangle a tab's stitched image is cropped to
// before being handed to the predictor.
type Region struct {
	Name string                 `json:"name"`
	Rect geometry.Rect[float64] `json:"rect"`
}

// Result is the predictor's opaque (label, confidence) output for one
// region, per spec.md §1.
type Result struct {
	Region     string
	Label      string
	Confidence float64
}

// Predictor is the external, out-of-scope ML inference collaborator.
// modulePath is the configured model directory (module_dir); image is
// one tab's final stitched picture.
type Predictor interface {
	Predict(modulePath string, image gocv.Mat, region Region) (Result, error)
}

// Config is the fixed per-tab region set (RecognizerConfig) plus the
// model directory the predictor is pointed at.
type Config struct {
	ModuleDir string
	Regions   [3][]Region
}

// TabOutcome is one tab's recognition result, or the error that
// prevented it.
type TabOutcome struct {
	Tab     layout.Tab
	Results []Result
	Err     error
}

// Outcome is delivered once every tab of a session has either produced
// results or failed, mirroring the onCharaDetailFinished(id, success)
// notification (spec.md §6).
type Outcome struct {
	SessionID string
	Success   bool
	Tabs      [3]TabOutcome
}

// Recognizer fans a session's three tabs out across a bounded worker
// pool and joins their results into one Outcome.
type Recognizer struct {
	cfg       Config
	predictor Predictor
	paths     layout.Paths
	pool      *workerpool.Pool

	onRecognizeReady *eventbus.DirectConnection[Outcome]
}

// NewRecognizer builds a Recognizer that reads stitched images from
// paths and runs predictor calls through pool.
func NewRecognizer(cfg Config, predictor Predictor, paths layout.Paths, pool *workerpool.Pool) *Recognizer {
	return &Recognizer{
		cfg:       cfg,
		predictor: predictor,
		paths:     paths,
		pool:      pool,

		onRecognizeReady: eventbus.NewDirect[Outcome](),
	}
}

// OnRecognizeReady fires once a session's recognition work has finished,
// successfully or not. The orchestrator's notify(host,
// "onCharaDetailFinished", uuid, success) handler listens here.
func (r *Recognizer) OnRecognizeReady() eventbus.Listener[Outcome] { return r.onRecognizeReady }

// HandleStitchCompleted reads sessionID's three stitched tab images and
// submits each tab's regions to the worker pool. Wired as the stitcher's
// stitch_completed handler.
func (r *Recognizer) HandleStitchCompleted(sessionID string) {
	pending := &joinState{sessionID: sessionID, remaining: len(layout.Tabs)}

	for _, tab := range layout.Tabs {
		tab := tab
		submitted := r.pool.Submit(func() {
			r.recognizeTab(sessionID, tab, pending)
		})
		if !submitted {
			log.Warn("recognizer pool rejected tab", "session", sessionID, "tab", tab.Dir())
			pending.complete(TabOutcome{Tab: tab, Err: fmt.Errorf("recognize: worker pool saturated")}, r.onRecognizeReady)
		}
	}
}

func (r *Recognizer) recognizeTab(sessionID string, tab layout.Tab, pending *joinState) {
	outcome := TabOutcome{Tab: tab}

	path := r.paths.OutputPNG(sessionID, tab)
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		outcome.Err = fmt.Errorf("recognize: read stitched image %s", path)
		pending.complete(outcome, r.onRecognizeReady)
		return
	}
	defer img.Close()

	bounds := geometry.NewBounds(img.Cols(), img.Rows(), img.Cols(), img.Rows())
	results := make([]Result, 0, len(r.cfg.Regions[tab]))
	for _, region := range r.cfg.Regions[tab] {
		rect := region.Rect.Resolve(bounds)
		crop := img.Region(image.Rect(rect.X0, rect.Y0, rect.X1, rect.Y1))
		result, err := r.predictor.Predict(r.cfg.ModuleDir, crop, region)
		crop.Close()
		if err != nil {
			outcome.Err = fmt.Errorf("recognize: tab %s region %s: %w", tab.Dir(), region.Name, err)
			pending.complete(outcome, r.onRecognizeReady)
			return
		}
		results = append(results, result)
	}

	outcome.Results = results
	pending.complete(outcome, r.onRecognizeReady)
}

// joinState accumulates the per-tab outcomes of one session's
// recognition fan-out and fires onRecognizeReady once every tab has
// reported, whichever worker goroutine happens to be last.
type joinState struct {
	mu        sync.Mutex
	sessionID string
	remaining int
	tabs      [3]TabOutcome
}

func (j *joinState) complete(outcome TabOutcome, sender *eventbus.DirectConnection[Outcome]) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.tabs[outcome.Tab] = outcome
	j.remaining--
	if j.remaining > 0 {
		return
	}

	success := true
	for _, t := range j.tabs {
		if t.Err != nil {
			success = false
			break
		}
	}
	sender.Send(Outcome{SessionID: j.sessionID, Success: success, Tabs: j.tabs})
}
