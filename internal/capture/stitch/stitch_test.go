package stitch

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/geometry"
	"github.com/umasagashi/capture-core/internal/capture/layout"
)

func writeSolidPNG(t *testing.T, path string, width, height int, c geometry.Color) {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0),
		height, width, gocv.MatTypeCV8UC3,
	)
	defer mat.Close()
	if !gocv.IMWrite(path, mat) {
		t.Fatalf("write %s failed", path)
	}
}

func TestConcatFragmentsPreservesOrderAndHeight(t *testing.T) {
	dir := t.TempDir()
	top := geometry.Color{R: 200, G: 10, B: 10}
	bottom := geometry.Color{R: 10, G: 10, B: 200}
	writeSolidPNG(t, filepath.Join(dir, "scroll_area_00000.png"), 60, 30, top)
	writeSolidPNG(t, filepath.Join(dir, "scroll_area_00001.png"), 60, 50, bottom)

	result, err := concatFragments(dir)
	if err != nil {
		t.Fatalf("concatFragments: %v", err)
	}
	defer result.Close()

	if result.Rows() != 80 {
		t.Fatalf("height = %d, want the 30+50 fragment sum", result.Rows())
	}
	if result.Cols() != 60 {
		t.Fatalf("width = %d, want 60", result.Cols())
	}

	first := result.GetVecbAt(0, 30)
	if int(first[2]) != top.R {
		t.Fatalf("top row R = %d, want %d from the first fragment", first[2], top.R)
	}
	last := result.GetVecbAt(79, 30)
	if int(last[0]) != bottom.B {
		t.Fatalf("bottom row B = %d, want %d from the second fragment", last[0], bottom.B)
	}
}

func TestConcatFragmentsEmptyDirIsAnError(t *testing.T) {
	if _, err := concatFragments(t.TempDir()); err == nil {
		t.Fatal("expected an error for a directory with no fragments")
	}
}

func testTabConfig() Config {
	return Config{
		ScrollBarRect:  geometry.NewRect[float64](0.9, 0, 1, 1, geometry.ScreenStart),
		BaseScrollRect: geometry.NewRect[float64](0.2, 0.2, 0.8, 0.8, geometry.ScreenStart),
		StretchRange: geometry.Line1D[float64]{
			Axis: geometry.AxisY, Anchor: geometry.ScreenStart,
			Cross: 0, Start: 0.85, End: 0.9,
		},
		TabButtonRect:  geometry.NewRect[float64](0, 0, 0.1, 0.1, geometry.ScreenStart),
		UpperStainRect: geometry.NewRect[float64](0.2, 0.15, 0.8, 0.17, geometry.ScreenStart),
		LowerStainRect: geometry.NewRect[float64](0.2, 0.95, 0.8, 0.97, geometry.ScreenStart),
	}
}

// buildSession lays out a complete session working directory: a 100x100
// base, and per tab a 10x10 tab button plus one 60x80 scroll area (20 rows
// taller than the 60x60 base scroll rect, so the canvas stretches).
func buildSession(t *testing.T, paths layout.Paths, sessionID string) {
	t.Helper()
	if err := paths.EnsureSessionDirs(sessionID); err != nil {
		t.Fatalf("EnsureSessionDirs: %v", err)
	}
	writeSolidPNG(t, paths.BasePNG(sessionID), 100, 100, geometry.Color{R: 128, G: 128, B: 128})
	for _, tab := range layout.Tabs {
		writeSolidPNG(t, paths.TabButtonPNG(sessionID, tab), 10, 10, geometry.Color{R: 10, G: 10, B: 200})
		writeSolidPNG(t, paths.FragmentPNG(sessionID, tab, 0), 60, 80, geometry.Color{R: 250, G: 250, B: 250})
	}
}

func TestStitcherProducesOneImagePerTab(t *testing.T) {
	root := t.TempDir()
	paths := layout.Paths{ScrapingDir: filepath.Join(root, "scraping"), StorageDir: filepath.Join(root, "storage")}
	const sessionID = "session-under-test"
	buildSession(t, paths, sessionID)

	s := NewStitcher(paths, [3]Config{testTabConfig(), testTabConfig(), testTabConfig()})

	var completed []string
	s.OnStitchCompleted().Listen(func(id string) { completed = append(completed, id) })
	s.HandleSceneCompleted(sessionID)

	if len(completed) != 1 || completed[0] != sessionID {
		t.Fatalf("completed = %v, want exactly one emission for %q", completed, sessionID)
	}

	for _, tab := range layout.Tabs {
		out := gocv.IMRead(paths.OutputPNG(sessionID, tab), gocv.IMReadColor)
		if out.Empty() {
			t.Fatalf("missing stitched output for tab %s", tab.Dir())
		}
		// 100x100 base plus the 20 extra scroll rows.
		if out.Cols() != 100 || out.Rows() != 120 {
			t.Fatalf("tab %s output is %dx%d, want 100x120", tab.Dir(), out.Cols(), out.Rows())
		}
		out.Close()
	}
}

func TestStitcherCropsScrollAreaByCroppingRect(t *testing.T) {
	root := t.TempDir()
	paths := layout.Paths{ScrapingDir: filepath.Join(root, "scraping"), StorageDir: filepath.Join(root, "storage")}
	const sessionID = "session-under-test"
	buildSession(t, paths, sessionID)

	cfg := testTabConfig()
	// Trim 10% off the top and bottom of the 60x80 scroll area: only rows
	// [8,72) of it are pasted, at the same offset inside the destination.
	cfg.ScrollAreaCroppingRect = geometry.NewRect[float64](0, 0.1, 1, 0.9, geometry.ScreenStart)

	s := NewStitcher(paths, [3]Config{cfg, cfg, cfg})
	s.HandleSceneCompleted(sessionID)

	out := gocv.IMRead(paths.OutputPNG(sessionID, layout.TabSkill), gocv.IMReadColor)
	if out.Empty() {
		t.Fatal("missing stitched output")
	}
	defer out.Close()

	// Above the cropped region (canvas row 20+4) the top band's base gray
	// must survive; inside it (canvas row 20+40) the white fragment shows.
	above := out.GetVecbAt(24, 50)
	if above[0] != 128 {
		t.Fatalf("pixel above the cropped region = %v, want the base gray: cropping must trim the paste", above)
	}
	inside := out.GetVecbAt(60, 50)
	if inside[0] != 250 {
		t.Fatalf("pixel inside the cropped region = %v, want the fragment white", inside)
	}
}

func TestStitcherIsIdempotent(t *testing.T) {
	root := t.TempDir()
	paths := layout.Paths{ScrapingDir: filepath.Join(root, "scraping"), StorageDir: filepath.Join(root, "storage")}
	const sessionID = "session-under-test"
	buildSession(t, paths, sessionID)

	s := NewStitcher(paths, [3]Config{testTabConfig(), testTabConfig(), testTabConfig()})

	s.HandleSceneCompleted(sessionID)
	first, err := os.ReadFile(paths.OutputPNG(sessionID, layout.TabSkill))
	if err != nil {
		t.Fatalf("read first output: %v", err)
	}

	s.HandleSceneCompleted(sessionID)
	second, err := os.ReadFile(paths.OutputPNG(sessionID, layout.TabSkill))
	if err != nil {
		t.Fatalf("read second output: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatal("re-running the stitcher over an unchanged session directory must produce byte-identical output")
	}
}
