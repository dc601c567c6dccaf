package scrape

import (
	"os"
	"testing"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
	"github.com/umasagashi/capture-core/internal/capture/layout"
	"github.com/umasagashi/capture-core/internal/capture/scroll"
)

var (
	pageContent = geometry.Color{R: 50, G: 100, B: 150}
	pageTrackBG = geometry.Color{R: 200, G: 200, B: 200}
	pageThumb   = geometry.Color{R: 20, G: 20, B: 20}
)

// pageFrame builds a 40x100 frame filled with the page content color. If
// withBar is set, column 38 carries a scroll track (background, thumb,
// background) so the page classifies as scrollable on its first frame.
func pageFrame(t *testing.T, timestampMs int64, withBar bool) *frame.Frame {
	t.Helper()
	const width, height = 40, 100
	pix := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := pageContent
			if withBar && x == 38 {
				c = pageTrackBG
				if y >= 20 && y < 60 {
					c = pageThumb
				}
			}
			i := (y*width + x) * 3
			pix[i+0] = byte(c.B)
			pix[i+1] = byte(c.G)
			pix[i+2] = byte(c.R)
		}
	}
	f, err := frame.New(pix, width, height, timestampMs)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

// fakeEstimator replays a scripted offset sequence, standing in for the
// bar+feature estimator so the test controls exactly which frames are
// accepted as scrolled.
type fakeEstimator struct {
	offsets []float64
	calls   int
}

func (e *fakeEstimator) Delta(from, to *scroll.Descriptor) (float64, bool) {
	if e.calls >= len(e.offsets) {
		return 0, false
	}
	v := e.offsets[e.calls]
	e.calls++
	return v, true
}

func (e *fakeEstimator) Close() error { return nil }

// testPageConfig narrows the content rect to x [4,36) of the 40px frame,
// so fragment widths expose any path that crops against the wrong rect.
func testPageConfig(scanParams []ScanParameter) PageConfig {
	return PageConfig{
		Tab: layout.TabSkill,
		TabButton: StationaryConfig{
			TargetRect:           geometry.NewRect[float64](0, 0, 0.1, 0.1, geometry.ScreenStart),
			StationaryTimeMs:     30,
			MinColorDelta:        10,
			StationaryColorRatio: 0.1,
		},
		ContentRect: geometry.NewRect[float64](0.1, 0, 0.9, 1, geometry.ScreenStart),
		Content: StationaryConfig{
			TargetRect:           geometry.NewRect[float64](0.2, 0.2, 0.4, 0.4, geometry.ScreenStart),
			StationaryTimeMs:     1 << 30, // never fires; the scroll-start path is under test
			MinColorDelta:        10,
			StationaryColorRatio: 0.1,
		},
		Bar: scroll.BarConfig{
			Line:       geometry.NewLine[float64](0.95, 0, 0.95, 0.99, geometry.ScreenStart),
			Background: geometry.Deviation(pageTrackBG, 10),
		},
		Feature:                scroll.DefaultFeatureConfig(),
		ScanParams:             scanParams,
		InitialScrollThreshold: 0.05,
		MinimumScrollThreshold: 0.04,
	}
}

func fragmentSize(t *testing.T, path string) (width, height int) {
	t.Helper()
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		t.Fatalf("fragment %s missing or unreadable", path)
	}
	defer mat.Close()
	return mat.Cols(), mat.Rows()
}

func TestPageBoxScrollableFragmentsShareContentRectWidth(t *testing.T) {
	paths := layout.Paths{ScrapingDir: t.TempDir(), StorageDir: t.TempDir()}
	const sessionID = "session-under-test"
	if err := paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}

	// One checkpoint whose color never appears keeps the page unfinished,
	// so every scripted offset is exercised.
	never := []ScanParameter{{XFraction: 0.5, RequiredLength: 0.1, Color: geometry.Deviation(geometry.Color{R: 250, G: 0, B: 250}, 1)}}
	pb := NewPageBox(testPageConfig(never), paths, sessionID)
	defer pb.Close()

	fake := &fakeEstimator{offsets: []float64{
		3,    // before scroll: below the 5px initial threshold, ignored
		20,   // before scroll: accepted, first fragment is the whole content rect
		30,   // scrolling: 30 new rows
		3,    // scrolling: below the 4px minimum threshold, ignored
		25.4, // scrolling: rounds to 25 rows
	}}
	pb.newEstimator = func(scroll.BarConfig, scroll.FeatureConfig) offsetEstimator { return fake }

	var scrollReady, pageReady int
	var updates []ScrollUpdated
	pb.OnScrollReady().Listen(func(int) { scrollReady++ })
	pb.OnScrollUpdated().Listen(func(u ScrollUpdated) { updates = append(updates, u) })
	pb.OnPageReady().Listen(func(int) { pageReady++ })

	for i, ts := range []int64{0, 16, 48, 64, 80, 96} {
		if err := pb.Update(pageFrame(t, ts, true)); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}

	if !pb.scrollable {
		t.Fatal("a visible scroll track must classify the page scrollable")
	}
	if scrollReady != 1 {
		t.Fatalf("scrollReady fired %d times, want 1", scrollReady)
	}
	if len(updates) != 2 {
		t.Fatalf("scrollUpdated fired %d times, want 2 accepted scroll offsets", len(updates))
	}
	if pageReady != 0 || pb.Ready() {
		t.Fatal("the unsatisfiable checkpoint must keep the page unfinished")
	}

	// Content rect x [4,36): every fragment must be 32 wide or the
	// stitcher's vconcat cannot join them.
	wantHeights := []int{100, 30, 25}
	for i, wantH := range wantHeights {
		w, h := fragmentSize(t, paths.FragmentPNG(sessionID, layout.TabSkill, i))
		if w != 32 {
			t.Fatalf("fragment %d width = %d, want 32 (the content rect width)", i, w)
		}
		if h != wantH {
			t.Fatalf("fragment %d height = %d, want %d", i, h, wantH)
		}
	}
	if _, err := os.Stat(paths.FragmentPNG(sessionID, layout.TabSkill, 3)); !os.IsNotExist(err) {
		t.Fatal("ignored offsets must not produce fragments")
	}
	if _, err := os.Stat(paths.TabButtonPNG(sessionID, layout.TabSkill)); err != nil {
		t.Fatalf("tab button was not captured: %v", err)
	}
}

func TestPageBoxScrollableCompletesOnceCheckpointsConsumed(t *testing.T) {
	paths := layout.Paths{ScrapingDir: t.TempDir(), StorageDir: t.TempDir()}
	const sessionID = "session-under-test"
	if err := paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}

	// The single checkpoint matches the page content, so the first
	// (whole-content) fragment's rows consume it.
	params := []ScanParameter{{XFraction: 0.5, RequiredLength: 0.2, Color: geometry.Deviation(pageContent, 10)}}
	pb := NewPageBox(testPageConfig(params), paths, sessionID)
	defer pb.Close()

	fake := &fakeEstimator{offsets: []float64{20}}
	pb.newEstimator = func(scroll.BarConfig, scroll.FeatureConfig) offsetEstimator { return fake }

	var pageReady int
	pb.OnPageReady().Listen(func(int) { pageReady++ })

	pb.Update(pageFrame(t, 0, true))
	pb.Update(pageFrame(t, 16, true))

	if pageReady != 1 || !pb.Ready() {
		t.Fatalf("pageReady fired %d times, Ready=%v; the initial fragment's rows must satisfy the checkpoint", pageReady, pb.Ready())
	}

	// Further updates on a Ready page are no-ops.
	pb.Update(pageFrame(t, 32, true))
	if pageReady != 1 {
		t.Fatal("a Ready page must not re-fire pageReady")
	}
}

func TestPageBoxNonScrollableCapturesSingleContentFragment(t *testing.T) {
	paths := layout.Paths{ScrapingDir: t.TempDir(), StorageDir: t.TempDir()}
	const sessionID = "session-under-test"
	if err := paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}

	cfg := testPageConfig(nil)
	cfg.Content.StationaryTimeMs = 30
	pb := NewPageBox(cfg, paths, sessionID)
	defer pb.Close()

	var scrollReady, pageReady int
	pb.OnScrollReady().Listen(func(int) { scrollReady++ })
	pb.OnPageReady().Listen(func(int) { pageReady++ })

	// No scroll track anywhere: classifies non-scrollable, then the
	// stationary catcher fires once the frames hold still long enough.
	pb.Update(pageFrame(t, 0, false))
	pb.Update(pageFrame(t, 16, false))
	pb.Update(pageFrame(t, 48, false))

	if pb.scrollable {
		t.Fatal("no scroll track: the page must classify non-scrollable")
	}
	if scrollReady != 1 || pageReady != 1 || !pb.Ready() {
		t.Fatalf("scrollReady=%d pageReady=%d Ready=%v, want 1/1/true", scrollReady, pageReady, pb.Ready())
	}

	w, h := fragmentSize(t, paths.FragmentPNG(sessionID, layout.TabSkill, 0))
	if w != 32 || h != 100 {
		t.Fatalf("sole fragment is %dx%d, want the 32x100 content rect", w, h)
	}
	if _, err := os.Stat(paths.FragmentPNG(sessionID, layout.TabSkill, 1)); !os.IsNotExist(err) {
		t.Fatal("a non-scrollable page must write exactly one fragment")
	}
}

func TestEngineEmitsClosedBeforeCompletedOnEarlyClose(t *testing.T) {
	paths := layout.Paths{ScrapingDir: t.TempDir(), StorageDir: t.TempDir()}
	cfg := EngineConfig{
		Paths: paths,
		Base: StationaryConfig{
			TargetRect:           geometry.NewRect[float64](0, 0, 1, 1, geometry.ScreenStart),
			StationaryTimeMs:     30,
			MinColorDelta:        10,
			StationaryColorRatio: 0.1,
		},
		Snackbar: SnackbarConfig{
			ScanLine:        geometry.NewLine[float64](0, 0.9, 1, 0.9, geometry.ScreenStart),
			Background:      geometry.Deviation(geometry.Color{R: 200, G: 0, B: 0}, 5),
			TimeThresholdMs: 50,
		},
		Pages: [3]PageConfig{testPageConfig(nil), testPageConfig(nil), testPageConfig(nil)},
	}
	e := NewEngine(cfg)

	var abandoned []string
	var completed int
	e.OnClosedBeforeCompleted().Listen(func(id string) { abandoned = append(abandoned, id) })
	e.OnSceneCompleted().Listen(func(string) { completed++ })

	e.HandleOpened()
	if e.session == nil {
		t.Fatal("expected an open session after HandleOpened")
	}
	sessionID := e.session.id
	if _, err := os.Stat(paths.SessionDir(sessionID)); err != nil {
		t.Fatalf("session directories were not created: %v", err)
	}

	e.HandleClosed()
	if len(abandoned) != 1 || abandoned[0] != sessionID {
		t.Fatalf("abandoned = %v, want exactly one emission for %q", abandoned, sessionID)
	}
	if completed != 0 {
		t.Fatal("an abandoned session must not complete")
	}
	if e.session != nil {
		t.Fatal("expected no session after HandleClosed")
	}

	// Closing again without a session is a no-op.
	e.HandleClosed()
	if len(abandoned) != 1 {
		t.Fatal("a second close must not re-announce abandonment")
	}
}
