package scrape

import (
	"fmt"
	"log/slog"
	"math"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
	"github.com/umasagashi/capture-core/internal/capture/layout"
	"github.com/umasagashi/capture-core/internal/capture/scroll"
	"github.com/umasagashi/capture-core/internal/eventbus"
	"github.com/umasagashi/capture-core/internal/logging"
)

var log = logging.L("scrape")

type pageState int

const (
	pageNull pageState = iota
	pageUpdatable
	pageReady
)

// PageConfig is the fixed per-tab tuning a PageBox is built from: the
// geometry the tab-button and content stationary catchers watch, the
// scroll-bar and feature-matching tuning, the scan checkpoints that gate
// completion, and the thresholds that distinguish "hasn't scrolled yet"
// from "scrolling in progress".
type PageConfig struct {
	Tab       layout.Tab       `json:"tab"`
	TabButton StationaryConfig `json:"tab_button"`

	// ContentRect is the page's scroll-area crop: every fragment this tab
	// writes, whether the single non-scrollable capture or a scrolled
	// slice, is cut from this rectangle so all fragments share one width.
	// Content's own TargetRect is only the narrower sub-rectangle the
	// stationary detector samples pixel differences over.
	ContentRect geometry.Rect[float64] `json:"content_rect"`
	Content     StationaryConfig       `json:"content"`

	Bar        scroll.BarConfig     `json:"bar"`
	Feature    scroll.FeatureConfig `json:"feature"`
	ScanParams []ScanParameter      `json:"scan_params"`

	// InitialScrollThreshold and MinimumScrollThreshold are fractions of
	// the frame height. See spec.md §4.5.
	InitialScrollThreshold float64 `json:"initial_scroll_threshold"`
	MinimumScrollThreshold float64 `json:"minimum_scroll_threshold"`
}

// ScrollUpdated carries a tab's progress (fraction of scan checkpoints
// consumed) each time a new fragment is accepted while scrolling.
type ScrollUpdated struct {
	Index    int
	Progress float64
}

// offsetEstimator is the slice of scroll.Estimator PageBox drives,
// separated so tests can script offsets without synthesizing frames that
// carry matchable image features.
type offsetEstimator interface {
	Delta(from, to *scroll.Descriptor) (offsetPixels float64, ok bool)
	Close() error
}

// PageBox owns one tab's capture: the Null->Updatable->Ready state
// machine, scrollable-vs-fixed classification made on the first frame,
// and the scrollable path's before-scroll/scrolling sub-phases.
type PageBox struct {
	cfg       PageConfig
	paths     layout.Paths
	sessionID string
	log       *slog.Logger

	state      pageState
	scrollable bool
	height     int
	content    geometry.PixelRect

	cursor        *scanCursor
	fragmentCount int

	tabButtonCatcher  *StationaryFrameCatcher
	tabButtonCaptured bool

	contentCatcher *StationaryFrameCatcher

	newEstimator      func(scroll.BarConfig, scroll.FeatureConfig) offsetEstimator
	estimator         offsetEstimator
	initialDescriptor *scroll.Descriptor
	lastAccepted      *scroll.Descriptor
	scrolling         bool

	onScrollReady   *eventbus.DirectConnection[int]
	onScrollUpdated *eventbus.DirectConnection[ScrollUpdated]
	onPageReady     *eventbus.DirectConnection[int]
}

// NewPageBox builds a fresh PageBox for one session's tab. The tab-button
// catcher runs from the very first frame, independent of whether the page
// itself has been classified scrollable yet.
func NewPageBox(cfg PageConfig, paths layout.Paths, sessionID string) *PageBox {
	return &PageBox{
		cfg:              cfg,
		paths:            paths,
		sessionID:        sessionID,
		log:              log.With(slog.String("tab", cfg.Tab.Dir())),
		cursor:           newScanCursor(cfg.ScanParams),
		tabButtonCatcher: NewStationaryFrameCatcher(cfg.TabButton),
		newEstimator: func(bar scroll.BarConfig, feature scroll.FeatureConfig) offsetEstimator {
			return scroll.NewEstimator(bar, feature)
		},
		onScrollReady:   eventbus.NewDirect[int](),
		onScrollUpdated: eventbus.NewDirect[ScrollUpdated](),
		onPageReady:     eventbus.NewDirect[int](),
	}
}

// OnScrollReady fires once the page's content area is first captured
// (either because it never scrolled, or because the user started
// scrolling away from the captured initial frame).
func (p *PageBox) OnScrollReady() eventbus.Listener[int] { return p.onScrollReady }

// OnScrollUpdated fires each time a new fragment is accepted while
// scrolling, carrying the current checkpoint-consumption progress.
func (p *PageBox) OnScrollUpdated() eventbus.Listener[ScrollUpdated] { return p.onScrollUpdated }

// OnPageReady fires once every scan checkpoint has been consumed.
func (p *PageBox) OnPageReady() eventbus.Listener[int] { return p.onPageReady }

// Ready reports whether this page has completed capture.
func (p *PageBox) Ready() bool { return p.state == pageReady }

// Close releases any cached scroll descriptors and held frames. Only
// safe once the owning session has ended.
func (p *PageBox) Close() {
	if p.initialDescriptor != nil {
		p.initialDescriptor.Close()
	}
	if p.lastAccepted != nil {
		p.lastAccepted.Close()
	}
	if p.estimator != nil {
		_ = p.estimator.Close()
	}
	p.tabButtonCatcher.Close()
	if p.contentCatcher != nil {
		p.contentCatcher.Close()
	}
}

// Update feeds one frame known to belong to this tab (the scene detector
// reported it as the uniquely active tab). It is a no-op once the page is
// already Ready.
func (p *PageBox) Update(f *frame.Frame) error {
	if p.state == pageReady {
		return nil
	}

	p.tabButtonCatcher.Update(f)
	if !p.tabButtonCaptured && p.tabButtonCatcher.Ready() {
		if err := p.captureTabButton(); err != nil {
			return err
		}
		p.tabButtonCaptured = true
	}

	if p.state == pageNull {
		p.build(f)
	}

	if p.scrollable {
		return p.updateScrollable(f)
	}
	return p.updateNonScrollable(f)
}

// build classifies the page on its first frame: scrollable iff a scroll
// bar is visible, non-scrollable otherwise. The content rectangle is
// resolved here, once, so every fragment the page writes shares one
// width regardless of which sub-phase produced it.
func (p *PageBox) build(f *frame.Frame) {
	p.height = f.Height()
	p.content = p.cfg.ContentRect.Resolve(f.Bounds())
	p.contentCatcher = NewStationaryFrameCatcher(p.cfg.Content)
	p.scrollable = scroll.NewBarEstimator(p.cfg.Bar).Present(f)

	if p.scrollable {
		p.estimator = p.newEstimator(p.cfg.Bar, p.cfg.Feature)
		p.initialDescriptor = scroll.NewDescriptor(f)
	}

	p.state = pageUpdatable
	p.log.Debug("page classified", "scrollable", p.scrollable)
}

func (p *PageBox) captureTabButton() error {
	f := p.tabButtonCatcher.Frame()
	rect := p.cfg.TabButton.TargetRect.Resolve(f.Bounds())
	mat := f.Region(rect.X0, rect.Y0, rect.X1, rect.Y1)
	defer mat.Close()

	path := p.paths.TabButtonPNG(p.sessionID, p.cfg.Tab)
	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("scrape: write tab button image %s failed", path)
	}
	p.log.Debug("tab button captured")
	return nil
}

func (p *PageBox) writeFragment(mat gocv.Mat) error {
	path := p.paths.FragmentPNG(p.sessionID, p.cfg.Tab, p.fragmentCount)
	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("scrape: write fragment %s failed", path)
	}
	p.fragmentCount++
	return nil
}

// writeWholeFrameFragment crops f to the content rectangle and writes it
// as a fragment, used both for the non-scrollable path's single capture
// and for the scrollable path's first (pre-scroll) fragment. The cropped
// rows feed the scan cursor like any appended rows do: checkpoints that
// sit in the initially visible content are consumed here, not during
// scrolling.
func (p *PageBox) writeWholeFrameFragment(f *frame.Frame) error {
	mat := f.Region(p.content.X0, p.content.Y0, p.content.X1, p.content.Y1)
	defer mat.Close()
	if err := p.writeFragment(mat); err != nil {
		return err
	}
	p.cursor.advance(mat, p.height)
	return nil
}

func (p *PageBox) finish() {
	p.state = pageReady
	p.onPageReady.Send(int(p.cfg.Tab))
	p.log.Info("page ready", "fragments", p.fragmentCount)
}

func (p *PageBox) updateNonScrollable(f *frame.Frame) error {
	p.contentCatcher.Update(f)
	if !p.contentCatcher.Ready() {
		return nil
	}

	if err := p.writeWholeFrameFragment(p.contentCatcher.Frame()); err != nil {
		return err
	}
	p.cursor.jumpToEnd()
	p.onScrollReady.Send(int(p.cfg.Tab))
	p.finish()
	return nil
}

func (p *PageBox) updateScrollable(f *frame.Frame) error {
	if !p.scrolling {
		return p.updateBeforeScroll(f)
	}
	return p.updateScrolling(f)
}

func (p *PageBox) updateBeforeScroll(f *frame.Frame) error {
	p.contentCatcher.Update(f)
	if p.contentCatcher.Ready() {
		stationary := p.contentCatcher.Frame()
		if err := p.writeWholeFrameFragment(stationary); err != nil {
			return err
		}
		p.lastAccepted = scroll.NewDescriptor(stationary)
		p.scrolling = true
		p.onScrollReady.Send(int(p.cfg.Tab))
		if p.cursor.done() {
			p.finish()
		}
		return nil
	}

	current := scroll.NewDescriptor(f)
	offset, ok := p.estimator.Delta(p.initialDescriptor, current)
	current.Close()
	if !ok || offset <= p.cfg.InitialScrollThreshold*float64(p.height) {
		return nil
	}

	if err := p.writeWholeFrameFragment(p.initialDescriptor.Frame); err != nil {
		return err
	}
	p.lastAccepted = scroll.NewDescriptor(f)
	p.scrolling = true
	p.onScrollReady.Send(int(p.cfg.Tab))
	if p.cursor.done() {
		p.finish()
	}
	return nil
}

func (p *PageBox) updateScrolling(f *frame.Frame) error {
	current := scroll.NewDescriptor(f)
	offset, ok := p.estimator.Delta(p.lastAccepted, current)
	if !ok {
		current.Close()
		return nil
	}
	if offset <= p.cfg.MinimumScrollThreshold*float64(p.height) {
		current.Close()
		return nil
	}

	rows := int(math.Round(offset))
	if rows > p.content.Height() {
		rows = p.content.Height()
	}
	if rows < 1 {
		rows = 1
	}

	// Bottom rows of the content rectangle only, so every fragment shares
	// the first one's width and the stitcher can concatenate them.
	mat := f.Region(p.content.X0, p.content.Y1-rows, p.content.X1, p.content.Y1)
	if err := p.writeFragment(mat); err != nil {
		mat.Close()
		current.Close()
		return err
	}
	p.cursor.advance(mat, p.height)
	mat.Close()

	if p.lastAccepted != nil {
		p.lastAccepted.Close()
	}
	p.lastAccepted = current

	p.onScrollUpdated.Send(ScrollUpdated{Index: int(p.cfg.Tab), Progress: p.cursor.progress()})
	if p.cursor.done() {
		p.finish()
	}
	return nil
}
