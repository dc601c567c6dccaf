// Package stitch joins one session's captured fragments with its stable
// base frame into the final per-tab composite image described in
// spec.md §4.6.
package stitch

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"sort"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
	"github.com/umasagashi/capture-core/internal/capture/layout"
	"github.com/umasagashi/capture-core/internal/eventbus"
	"github.com/umasagashi/capture-core/internal/logging"
)

var log = logging.L("stitch")

// Config is the fixed per-tab geometry a Stitcher composites a tab's
// base frame, scroll area, and tab-button capture with. All rectangles
// are anchored the same way the capture-time condition tree and scrape
// engine geometry are: ScrollBarRect and ScrollAreaCroppingRect are
// resolved against the concatenated scroll area's own bounds,
// UpperStainRect and LowerStainRect against the finished canvas's bounds,
// and the rest against the base frame's bounds.
type Config struct {
	ScrollBarRect  geometry.Rect[float64] `json:"scroll_bar_rect"`
	BaseScrollRect geometry.Rect[float64] `json:"base_scroll_rect"`

	// ScrollAreaCroppingRect trims the concatenated scroll area before it
	// is pasted: the same rect crops both the source image and the canvas
	// destination, discarding capture artifacts along the edges. A rect
	// that resolves to nothing means no cropping.
	ScrollAreaCroppingRect geometry.Rect[float64] `json:"scroll_area_cropping_rect"`

	StretchRange   geometry.Line1D[float64] `json:"stretch_range"`
	TabButtonRect  geometry.Rect[float64]   `json:"tab_button_rect"`
	UpperStainRect geometry.Rect[float64]   `json:"upper_stain_rect"`
	LowerStainRect geometry.Rect[float64]   `json:"lower_stain_rect"`
}

// Stitcher joins every tab of a completed scrape session into
// storage_dir/<uuid>/<tab>.png.
type Stitcher struct {
	paths layout.Paths
	tabs  [3]Config

	onStitchCompleted *eventbus.DirectConnection[string]
}

// NewStitcher builds a Stitcher over paths and each tab's Config,
// indexed by layout.Tab.
func NewStitcher(paths layout.Paths, tabs [3]Config) *Stitcher {
	return &Stitcher{
		paths:             paths,
		tabs:              tabs,
		onStitchCompleted: eventbus.NewDirect[string](),
	}
}

// OnStitchCompleted fires once a session's three tabs have all been
// written, carrying the session's UUID. The recognizer stage listens here.
func (s *Stitcher) OnStitchCompleted() eventbus.Listener[string] { return s.onStitchCompleted }

// HandleSceneCompleted stitches sessionID's working directory into its
// final output images. Wired as the scrape engine's scene_completed
// handler.
func (s *Stitcher) HandleSceneCompleted(sessionID string) {
	if err := s.stitchSession(sessionID); err != nil {
		log.Error("stitch session failed", "session", sessionID, "error", err)
		return
	}
	log.Info("stitch completed", "session", sessionID)
	s.onStitchCompleted.Send(sessionID)
}

func (s *Stitcher) stitchSession(sessionID string) error {
	if err := s.paths.EnsureOutputDir(sessionID); err != nil {
		return fmt.Errorf("stitch: %w", err)
	}
	for _, tab := range layout.Tabs {
		if err := s.stitchTab(sessionID, tab); err != nil {
			return fmt.Errorf("stitch: tab %s: %w", tab.Dir(), err)
		}
	}
	return nil
}

func (s *Stitcher) stitchTab(sessionID string, tab layout.Tab) error {
	cfg := s.tabs[tab]

	basePath := s.paths.BasePNG(sessionID)
	base := gocv.IMRead(basePath, gocv.IMReadColor)
	if base.Empty() {
		return fmt.Errorf("read base image %s", basePath)
	}
	defer base.Close()

	tabButtonPath := s.paths.TabButtonPNG(sessionID, tab)
	tabButton := gocv.IMRead(tabButtonPath, gocv.IMReadColor)
	if tabButton.Empty() {
		return fmt.Errorf("read tab button image %s", tabButtonPath)
	}
	defer tabButton.Close()

	scrollArea, err := concatFragments(s.paths.TabDir(sessionID, tab))
	if err != nil {
		return err
	}
	defer scrollArea.Close()

	scrollBounds := geometry.NewBounds(scrollArea.Cols(), scrollArea.Rows(), frame.DesignWidth, frame.DesignHeight)
	background := sampleTopCenterColor(scrollArea)
	fillRect(scrollArea, cfg.ScrollBarRect.Resolve(scrollBounds), background)

	baseBounds := geometry.NewBounds(base.Cols(), base.Rows(), frame.DesignWidth, frame.DesignHeight)
	baseScrollRect := cfg.BaseScrollRect.Resolve(baseBounds)
	_, stretchY0, stretchY1 := cfg.StretchRange.Resolve(baseBounds)

	extraHeight := scrollArea.Rows() - baseScrollRect.Height()
	if extraHeight < 0 {
		extraHeight = 0
	}

	canvas := gocv.NewMatWithSize(base.Rows()+extraHeight, base.Cols(), base.Type())
	defer canvas.Close()

	if err := pasteTopBand(base, canvas, stretchY0); err != nil {
		return err
	}
	if err := pasteStretchedMiddleBand(base, canvas, stretchY0, stretchY1, extraHeight); err != nil {
		return err
	}
	if err := pasteBottomBand(base, canvas, stretchY1, extraHeight); err != nil {
		return err
	}

	// The cropping rect trims source and destination identically, so the
	// pasted region stays aligned with where the uncropped scroll area
	// would have landed.
	cropping := cfg.ScrollAreaCroppingRect.Resolve(scrollBounds)
	cropping = clampToMat(cropping, scrollArea)
	if cropping.Width() == 0 || cropping.Height() == 0 {
		cropping = geometry.PixelRect{X0: 0, Y0: 0, X1: scrollArea.Cols(), Y1: scrollArea.Rows()}
	}

	croppedScroll := scrollArea.Region(image.Rect(cropping.X0, cropping.Y0, cropping.X1, cropping.Y1))
	scrollDest := image.Rect(
		baseScrollRect.X0+cropping.X0, baseScrollRect.Y0+cropping.Y0,
		baseScrollRect.X0+cropping.X1, baseScrollRect.Y0+cropping.Y1,
	)
	err = pasteInto(canvas, croppedScroll, scrollDest)
	croppedScroll.Close()
	if err != nil {
		return fmt.Errorf("paste scroll area: %w", err)
	}

	tabButtonRect := cfg.TabButtonRect.Resolve(baseBounds)
	tabButtonDest := image.Rect(tabButtonRect.X0, tabButtonRect.Y0, tabButtonRect.X1, tabButtonRect.Y1)
	if err := pasteInto(canvas, tabButton, tabButtonDest); err != nil {
		return fmt.Errorf("paste tab button: %w", err)
	}

	canvasBounds := geometry.NewBounds(canvas.Cols(), canvas.Rows(), frame.DesignWidth, frame.DesignHeight)
	fillRect(canvas, cfg.UpperStainRect.Resolve(canvasBounds), background)
	fillRect(canvas, cfg.LowerStainRect.Resolve(canvasBounds), background)

	out := s.paths.OutputPNG(sessionID, tab)
	if !gocv.IMWrite(out, canvas) {
		return fmt.Errorf("write stitched image %s", out)
	}
	return nil
}

// concatFragments vertically concatenates every scroll_area_*.png in dir,
// in filename order, into one image. The caller must Close the result.
func concatFragments(dir string) (gocv.Mat, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "scroll_area_*.png"))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("list fragments in %s: %w", dir, err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return gocv.Mat{}, fmt.Errorf("no fragments in %s", dir)
	}

	result := gocv.IMRead(matches[0], gocv.IMReadColor)
	if result.Empty() {
		return gocv.Mat{}, fmt.Errorf("read fragment %s", matches[0])
	}

	for _, path := range matches[1:] {
		next := gocv.IMRead(path, gocv.IMReadColor)
		if next.Empty() {
			result.Close()
			return gocv.Mat{}, fmt.Errorf("read fragment %s", path)
		}

		concatenated := gocv.NewMat()
		gocv.Vconcat(result, next, concatenated)
		result.Close()
		next.Close()
		result = concatenated
	}
	return result, nil
}

func sampleTopCenterColor(m gocv.Mat) color.RGBA {
	v := m.GetVecbAt(0, m.Cols()/2)
	return color.RGBA{R: v[2], G: v[1], B: v[0], A: 255}
}

// clampToMat restricts r to m's pixel bounds.
func clampToMat(r geometry.PixelRect, m gocv.Mat) geometry.PixelRect {
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	return geometry.PixelRect{
		X0: clamp(r.X0, m.Cols()),
		Y0: clamp(r.Y0, m.Rows()),
		X1: clamp(r.X1, m.Cols()),
		Y1: clamp(r.Y1, m.Rows()),
	}
}

func fillRect(m gocv.Mat, r geometry.PixelRect, c color.RGBA) {
	if r.Width() <= 0 || r.Height() <= 0 {
		return
	}
	gocv.Rectangle(m, image.Rect(r.X0, r.Y0, r.X1, r.Y1), c, -1)
}

// pasteInto copies src into canvas at dest, which must already be sized
// to fit src exactly.
func pasteInto(canvas gocv.Mat, src gocv.Mat, dest image.Rectangle) error {
	if dest.Dx() != src.Cols() || dest.Dy() != src.Rows() {
		return fmt.Errorf("paste rect %v does not match source size %dx%d", dest, src.Cols(), src.Rows())
	}
	if dest.Max.X > canvas.Cols() || dest.Max.Y > canvas.Rows() {
		return fmt.Errorf("paste rect %v exceeds canvas %dx%d", dest, canvas.Cols(), canvas.Rows())
	}
	region := canvas.Region(dest)
	defer region.Close()
	src.CopyTo(region)
	return nil
}

// pasteTopBand copies the unchanged top band of base, rows [0,stretchY0),
// into canvas at the same rows.
func pasteTopBand(base, canvas gocv.Mat, stretchY0 int) error {
	if stretchY0 <= 0 {
		return nil
	}
	src := base.Region(image.Rect(0, 0, base.Cols(), stretchY0))
	defer src.Close()
	return pasteInto(canvas, src, image.Rect(0, 0, base.Cols(), stretchY0))
}

// pasteBottomBand copies the unchanged bottom band of base, rows
// [stretchY1,base.Rows()), pinned to the bottom of canvas.
func pasteBottomBand(base, canvas gocv.Mat, stretchY1, extraHeight int) error {
	if stretchY1 >= base.Rows() {
		return nil
	}
	src := base.Region(image.Rect(0, stretchY1, base.Cols(), base.Rows()))
	defer src.Close()

	destY0 := stretchY1 + extraHeight
	destY1 := destY0 + (base.Rows() - stretchY1)
	return pasteInto(canvas, src, image.Rect(0, destY0, base.Cols(), destY1))
}

// pasteStretchedMiddleBand resizes base's middle band, rows
// [stretchY0,stretchY1), to span the extra height the scroll area added,
// and pastes it into canvas at the same rows.
func pasteStretchedMiddleBand(base, canvas gocv.Mat, stretchY0, stretchY1, extraHeight int) error {
	if stretchY1 <= stretchY0 {
		return nil
	}
	src := base.Region(image.Rect(0, stretchY0, base.Cols(), stretchY1))
	defer src.Close()

	destHeight := (stretchY1 - stretchY0) + extraHeight
	stretched := gocv.NewMat()
	defer stretched.Close()
	gocv.Resize(src, stretched, image.Pt(base.Cols(), destHeight), 0, 0, gocv.InterpolationLinear)

	return pasteInto(canvas, stretched, image.Rect(0, stretchY0, base.Cols(), stretchY0+destHeight))
}
