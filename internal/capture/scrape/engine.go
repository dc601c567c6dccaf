package scrape

import (
	"fmt"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/layout"
	"github.com/umasagashi/capture-core/internal/capture/scene"
	"github.com/umasagashi/capture-core/internal/eventbus"
)

// EngineConfig is the fixed per-session tuning the scrape engine is built
// from: the on-disk layout, the base-frame catcher's geometry and
// snackbar-suppression scan line, and each tab's PageConfig.
type EngineConfig struct {
	Paths    layout.Paths
	Base     StationaryConfig
	Snackbar SnackbarConfig
	Pages    [3]PageConfig
}

// session is the scrape engine's private state for one open scrape
// session (spec.md §3 "Scrape session"): a freshly minted UUIDv4, three
// PageBoxes, and one base-frame catcher.
type session struct {
	id           string
	base         *BaseFrameCatcher
	baseWritten  bool
	pages        [3]*PageBox
	completed    bool
}

// Engine drives one scrape session at a time, fed scene.Updated events by
// the scene detector and emitting per-tab progress events plus
// scene_completed/closed_before_completed session-lifecycle events. It
// assumes mutual exclusion between sessions (only one open at a time, per
// spec.md §1 Non-goals); HandleOpened logs and replaces any still-active
// session defensively rather than enforcing this itself.
type Engine struct {
	cfg EngineConfig

	onScrollReady           *eventbus.DirectConnection[int]
	onScrollUpdated         *eventbus.DirectConnection[ScrollUpdated]
	onPageReady             *eventbus.DirectConnection[int]
	onSceneCompleted        *eventbus.DirectConnection[string]
	onClosedBeforeCompleted *eventbus.DirectConnection[string]

	session *session
}

// NewEngine builds an idle Engine over cfg.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		cfg:                     cfg,
		onScrollReady:           eventbus.NewDirect[int](),
		onScrollUpdated:         eventbus.NewDirect[ScrollUpdated](),
		onPageReady:             eventbus.NewDirect[int](),
		onSceneCompleted:        eventbus.NewDirect[string](),
		onClosedBeforeCompleted: eventbus.NewDirect[string](),
	}
}

// OnScrollReady, OnScrollUpdated, OnPageReady mirror the wire
// onScrollReady/onScrollUpdated/onPageReady notifications (spec.md §6).
func (e *Engine) OnScrollReady() eventbus.Listener[int]             { return e.onScrollReady }
func (e *Engine) OnScrollUpdated() eventbus.Listener[ScrollUpdated] { return e.onScrollUpdated }
func (e *Engine) OnPageReady() eventbus.Listener[int]               { return e.onPageReady }

// OnSceneCompleted fires once the base frame and all three pages are
// ready, carrying the session's UUID. The stitcher stage listens here.
func (e *Engine) OnSceneCompleted() eventbus.Listener[string] { return e.onSceneCompleted }

// OnClosedBeforeCompleted fires if the scene closes before every page
// (and the base frame) reached Ready, carrying the abandoned session's
// UUID. Callers may delete the session's working directory in response.
func (e *Engine) OnClosedBeforeCompleted() eventbus.Listener[string] {
	return e.onClosedBeforeCompleted
}

// HandleOpened starts a new scrape session. Wired as the scene detector's
// begin handler.
func (e *Engine) HandleOpened() {
	if e.session != nil {
		log.Warn("scene opened while a session is still active; replacing", "session", e.session.id)
		e.closeSession(false)
	}
	e.openSession()
}

// HandleUpdated feeds one frame, known to belong to the uniquely active
// tab u.TabIndex, into the open session's base catcher and that tab's
// PageBox. Wired as the scene detector's updated handler.
func (e *Engine) HandleUpdated(u scene.Updated) {
	s := e.session
	if s == nil {
		return
	}

	s.base.Update(u.Frame)
	if !s.baseWritten && s.base.Ready() {
		if err := e.captureBase(s); err != nil {
			log.Error("capture base frame failed", "session", s.id, "error", err)
		} else {
			s.baseWritten = true
			e.checkCompletion(s)
		}
	}

	if u.TabIndex < 0 || u.TabIndex >= len(s.pages) {
		return
	}
	pb := s.pages[u.TabIndex]
	if pb == nil {
		return
	}
	if err := pb.Update(u.Frame); err != nil {
		log.Error("page update failed", "session", s.id, "tab", u.TabIndex, "error", err)
	}
}

// HandleClosed ends the open session. If it had not yet completed,
// emits closed_before_completed. Wired as the scene detector's end handler.
func (e *Engine) HandleClosed() {
	e.closeSession(true)
}

func (e *Engine) closeSession(announceAbandonment bool) {
	s := e.session
	if s == nil {
		return
	}
	if announceAbandonment && !s.completed {
		log.Info("session closed before completion", "session", s.id)
		e.onClosedBeforeCompleted.Send(s.id)
	}
	for _, pb := range s.pages {
		if pb != nil {
			pb.Close()
		}
	}
	s.base.Close()
	e.session = nil
}

func (e *Engine) openSession() {
	id := uuid.NewString()
	s := &session{id: id}
	for _, tab := range layout.Tabs {
		pb := NewPageBox(e.cfg.Pages[tab], e.cfg.Paths, id)
		pb.OnScrollReady().Listen(func(idx int) { e.onScrollReady.Send(idx) })
		pb.OnScrollUpdated().Listen(func(u ScrollUpdated) { e.onScrollUpdated.Send(u) })
		pb.OnPageReady().Listen(func(idx int) {
			e.onPageReady.Send(idx)
			e.checkCompletion(s)
		})
		s.pages[tab] = pb
	}
	s.base = NewBaseFrameCatcher(e.cfg.Base, e.cfg.Snackbar)

	if err := e.cfg.Paths.EnsureSessionDirs(id); err != nil {
		log.Error("create session directories failed", "session", id, "error", err)
	}

	e.session = s
	log.Info("session opened", "session", id)
}

func (e *Engine) captureBase(s *session) error {
	f := s.base.Frame()
	rect := e.cfg.Base.TargetRect.Resolve(f.Bounds())
	mat := f.Region(rect.X0, rect.Y0, rect.X1, rect.Y1)
	defer mat.Close()

	path := e.cfg.Paths.BasePNG(s.id)
	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("scrape: write base frame %s failed", path)
	}
	return nil
}

func (e *Engine) checkCompletion(s *session) {
	if e.session != s || s.completed {
		return
	}
	if !s.baseWritten {
		return
	}
	for _, pb := range s.pages {
		if pb == nil || !pb.Ready() {
			return
		}
	}
	s.completed = true
	log.Info("scene completed", "session", s.id)
	e.onSceneCompleted.Send(s.id)
}
