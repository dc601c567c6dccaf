// Package orchestrator wires the capture pipeline's stages into the
// runner topology described in spec.md §4.8: one SingleThreadRunner per
// logical stage (distributor, scraper, stitcher, recognizer, recorder),
// connected by queued connections, started and stopped as one unit.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/umasagashi/capture-core/internal/capture/condition"
	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/layout"
	"github.com/umasagashi/capture-core/internal/capture/recognize"
	"github.com/umasagashi/capture-core/internal/capture/scene"
	"github.com/umasagashi/capture-core/internal/capture/scrape"
	"github.com/umasagashi/capture-core/internal/capture/stitch"
	"github.com/umasagashi/capture-core/internal/eventbus"
	"github.com/umasagashi/capture-core/internal/logging"
	"github.com/umasagashi/capture-core/internal/workerpool"
)

var log = logging.L("orchestrator")

// queueCapacity bounds every inter-stage queued connection. Frame
// ingestion is the only high-rate traffic; lifecycle and notification
// events are comparatively rare, so one capacity suffices for all of them.
const queueCapacity = 256

// SceneScraperConfig is the <SceneScraperConfig> placeholder from
// spec.md §6: the scene detector's debounce window plus the scrape
// engine's base-frame and per-tab tuning.
type SceneScraperConfig struct {
	EndTimeoutMs int64                   `json:"end_timeout_ms"`
	Base         scrape.StationaryConfig `json:"base"`
	Snackbar     scrape.SnackbarConfig   `json:"snackbar"`
	Pages        [3]scrape.PageConfig    `json:"pages"`
}

// SceneStitcherConfig is the <StitcherConfig> placeholder: one
// stitch.Config per tab.
type SceneStitcherConfig struct {
	Tabs [3]stitch.Config `json:"tabs"`
}

// RecognizerConfig is the <RecognizerConfig> placeholder: the region set
// each tab's stitched image is cropped against before prediction.
type RecognizerConfig struct {
	Regions [3][]recognize.Region `json:"regions"`
}

// CharaDetailConfig groups every setting specific to the character-detail
// capture session, per spec.md §6.
type CharaDetailConfig struct {
	SceneContext  json.RawMessage     `json:"scene_context"`
	SceneScraper  SceneScraperConfig  `json:"scene_scraper"`
	SceneStitcher SceneStitcherConfig `json:"scene_stitcher"`
	Recognizer    RecognizerConfig    `json:"recognizer"`
	ScrapingDir   string              `json:"scraping_dir"`
}

// Config is the session-start JSON config pushed once by the host, per
// spec.md §6.
type Config struct {
	VideoMode   bool                       `json:"video_mode"`
	TrainerID   string                     `json:"trainer_id"`
	ModuleDir   string                     `json:"module_dir"`
	StorageDir  string                     `json:"storage_dir"`
	CharaDetail CharaDetailConfig          `json:"chara_detail"`
	Platform    map[string]json.RawMessage `json:"platform"`
}

// Notification is the wire shape of every event delivered on the notify
// callback, per spec.md §6. Index, Progress and Success are pointers so
// the zero values a host must still see (tab index 0, progress 0.0,
// success false) are not dropped by omitempty.
type Notification struct {
	Type     string   `json:"type"`
	Index    *int     `json:"index,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	ID       string   `json:"id,omitempty"`
	Success  *bool    `json:"success,omitempty"`
	Message  string   `json:"message,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// NotifyFunc delivers one Notification to the host.
type NotifyFunc func(Notification)

// Orchestrator owns the pipeline's runners and inter-stage wiring for one
// configured session. Build with New, bring the pipeline up with Start,
// feed frames with UpdateFrame, and tear down with Stop.
type Orchestrator struct {
	cfg    Config
	notify NotifyFunc

	controller *eventbus.RunnerController

	frameQueue  *eventbus.QueuedConnection[*frame.Frame]
	notifyQueue *eventbus.QueuedConnection[Notification]
	queues      []eventbus.Queued

	distributor *scene.FrameDistributor
	recorder    *recorder
	paths       layout.Paths
}

// New parses cfg's condition tree and constructs every stage, wiring the
// dataflow described in spec.md §4.8. recorderOut, if non-nil, receives a
// JSON-lines audit trail of every notification in addition to notify.
func New(cfg Config, notify NotifyFunc, predictor recognize.Predictor, pool *workerpool.Pool, recorderOut io.Writer) (*Orchestrator, error) {
	tree, err := condition.FromJSON(cfg.CharaDetail.SceneContext)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: parse scene_context: %w", err)
	}

	paths := layout.Paths{ScrapingDir: cfg.CharaDetail.ScrapingDir, StorageDir: cfg.StorageDir}

	detector := scene.New(tree, cfg.CharaDetail.SceneScraper.EndTimeoutMs)
	distributor := scene.NewDistributor(detector)

	engine := scrape.NewEngine(scrape.EngineConfig{
		Paths:    paths,
		Base:     cfg.CharaDetail.SceneScraper.Base,
		Snackbar: cfg.CharaDetail.SceneScraper.Snackbar,
		Pages:    cfg.CharaDetail.SceneScraper.Pages,
	})

	stitcher := stitch.NewStitcher(paths, cfg.CharaDetail.SceneStitcher.Tabs)

	recognizer := recognize.NewRecognizer(recognize.Config{
		ModuleDir: cfg.ModuleDir,
		Regions:   cfg.CharaDetail.Recognizer.Regions,
	}, predictor, paths, pool)

	rec := &recorder{out: recorderOut, notify: notify}

	distributorRunner := eventbus.NewSingleThreadRunner("distributor", nil)
	scraperRunner := eventbus.NewSingleThreadRunner("scraper", nil)
	stitcherRunner := eventbus.NewSingleThreadRunner("stitcher", nil)
	recognizerRunner := eventbus.NewSingleThreadRunner("recognizer", nil)
	recorderRunner := eventbus.NewSingleThreadRunner("recorder", nil)

	policy := eventbus.Discard
	if cfg.VideoMode {
		policy = eventbus.Block
	}

	frameQueue := eventbus.NewQueued[*frame.Frame](queueCapacity, policy)
	openedQueue := eventbus.NewQueued[struct{}](queueCapacity, eventbus.Block)
	updatedQueue := eventbus.NewQueued[scene.Updated](queueCapacity, eventbus.Block)
	closedQueue := eventbus.NewQueued[struct{}](queueCapacity, eventbus.Block)
	sceneCompletedQueue := eventbus.NewQueued[string](queueCapacity, eventbus.Block)
	stitchCompletedQueue := eventbus.NewQueued[string](queueCapacity, eventbus.Block)
	notifyQueue := eventbus.NewQueued[Notification](queueCapacity, eventbus.Block)

	distributorRunner.Host(frameQueue)
	scraperRunner.Host(openedQueue)
	scraperRunner.Host(updatedQueue)
	scraperRunner.Host(closedQueue)
	stitcherRunner.Host(sceneCompletedQueue)
	recognizerRunner.Host(stitchCompletedQueue)
	recorderRunner.Host(notifyQueue)

	// capture -> distributor.on_frame -> scene_detector. The ingress
	// reference is dropped once distribution returns; anything that needs
	// the frame past this point holds its own reference.
	frameQueue.Listen(func(f *frame.Frame) {
		distributor.Update(f)
		f.Close()
	})

	detector.OnBegin().Listen(func(struct{}) {
		openedQueue.Send(struct{}{})
		notifyQueue.Send(Notification{Type: "onCharaDetailStarted"})
	})
	// The updated event crosses from the distributor's thread to the
	// scraper's, so the queue item owns a frame reference for the handoff.
	detector.OnUpdated().Listen(func(u scene.Updated) {
		u.Frame.Retain()
		updatedQueue.Send(u)
	})
	detector.OnEnd().Listen(func(struct{}) { closedQueue.Send(struct{}{}) })

	// scraper.on_opened / on_updated / on_closed
	openedQueue.Listen(func(struct{}) { engine.HandleOpened() })
	updatedQueue.Listen(func(u scene.Updated) {
		engine.HandleUpdated(u)
		u.Frame.Close()
	})
	closedQueue.Listen(func(struct{}) { engine.HandleClosed() })

	engine.OnScrollReady().Listen(func(idx int) {
		notifyQueue.Send(Notification{Type: "onScrollReady", Index: ptr(idx)})
	})
	engine.OnScrollUpdated().Listen(func(u scrape.ScrollUpdated) {
		notifyQueue.Send(Notification{Type: "onScrollUpdated", Index: ptr(u.Index), Progress: ptr(u.Progress)})
	})
	engine.OnPageReady().Listen(func(idx int) {
		notifyQueue.Send(Notification{Type: "onPageReady", Index: ptr(idx)})
	})
	engine.OnClosedBeforeCompleted().Listen(func(id string) {
		log.Info("session abandoned before completion", "session", id)
	})
	engine.OnSceneCompleted().Listen(func(id string) { sceneCompletedQueue.Send(id) })

	// stitcher.on_stitch_ready
	sceneCompletedQueue.Listen(func(id string) { stitcher.HandleSceneCompleted(id) })
	stitcher.OnStitchCompleted().Listen(func(id string) { stitchCompletedQueue.Send(id) })

	// recognizer.on_recognize_ready -> notify(host, "onCharaDetailFinished", uuid, success)
	stitchCompletedQueue.Listen(func(id string) { recognizer.HandleStitchCompleted(id) })
	recognizer.OnRecognizeReady().Listen(func(o recognize.Outcome) {
		for _, t := range o.Tabs {
			if t.Err != nil {
				notifyQueue.Send(Notification{Type: "onError", Message: t.Err.Error()})
			}
		}
		notifyQueue.Send(Notification{Type: "onCharaDetailFinished", ID: o.SessionID, Success: ptr(o.Success)})
	})

	notifyQueue.Listen(func(n Notification) { rec.Handle(n) })

	return &Orchestrator{
		cfg:    cfg,
		notify: notify,

		controller: eventbus.NewController(distributorRunner, scraperRunner, stitcherRunner, recognizerRunner, recorderRunner),

		frameQueue:  frameQueue,
		notifyQueue: notifyQueue,
		queues: []eventbus.Queued{
			frameQueue, openedQueue, updatedQueue, closedQueue,
			sceneCompletedQueue, stitchCompletedQueue, notifyQueue,
		},

		distributor: distributor,
		recorder:    rec,
		paths:       paths,
	}, nil
}

// Start brings every runner up and announces capture start to the host.
func (o *Orchestrator) Start() {
	o.controller.StartAll()
	o.notifyQueue.Send(Notification{Type: "onCaptureStarted"})
}

// Stop signals every runner to stop, waits for all of them to finish
// (each drains its remaining queued items before exiting; the joins
// themselves are concurrent and unordered), and announces capture stop
// to the host. An event emitted during this drain can land on a consumer
// queue that has already drained for the last time — callers that need
// every in-flight event delivered must WaitIdle before stopping.
func (o *Orchestrator) Stop() error {
	o.controller.StopAll()
	err := o.controller.JoinAll()
	o.recorder.Handle(Notification{Type: "onCaptureStopped"})
	return err
}

// UpdateFrame is the single frame-ingress entry point described in
// spec.md §6: pixels are BGR 8-bit row-contiguous, timestampMs is
// monotonic and host-chosen. Under live capture (Discard overflow) a
// frame the queue refuses is released immediately — dropping under load
// is sampling, not an error.
func (o *Orchestrator) UpdateFrame(pixels []byte, width, height int, timestampMs int64) error {
	f, err := frame.New(pixels, width, height, timestampMs)
	if err != nil {
		o.notifyQueue.Send(Notification{Type: "onError", Message: err.Error()})
		return err
	}
	if !o.frameQueue.Offer(f) {
		f.Close()
	}
	return nil
}

// WaitIdle blocks until every inter-stage queue has drained or ctx
// expires, reporting whether the pipeline went idle. It does not stop
// anything; the CLI uses it to let in-flight scrape/stitch work settle
// between the end of the frame source and teardown.
func (o *Orchestrator) WaitIdle(ctx context.Context) bool {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	// A queue can look empty while its item is mid-dispatch and about to
	// enqueue downstream work, so idle only counts once it holds across
	// consecutive observations.
	consecutiveIdle := 0
	for {
		idle := true
		for _, q := range o.queues {
			if q.Len() > 0 {
				idle = false
				break
			}
		}
		if idle {
			consecutiveIdle++
			if consecutiveIdle >= 3 {
				return true
			}
		} else {
			consecutiveIdle = 0
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// recorder writes every notification to an optional JSON-lines audit
// trail before forwarding it to the host's NotifyFunc.
type recorder struct {
	out    io.Writer
	notify NotifyFunc
}

func (r *recorder) Handle(n Notification) {
	if r.out != nil {
		if b, err := json.Marshal(n); err == nil {
			_, _ = r.out.Write(append(b, '\n'))
		} else {
			log.Error("marshal notification for recorder failed", "error", err)
		}
	}
	if r.notify != nil {
		r.notify(n)
	}
}
