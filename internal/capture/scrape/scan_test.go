package scrape

import (
	"testing"

	"gocv.io/x/gocv"

	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

// rowsOfColor builds a width x height BGR8 Mat where every pixel in column
// x is set to c and every other column is left black, matching what
// scanCursor.advance actually samples (one column per ScanParameter).
func rowsOfColor(t *testing.T, width, height, x int, c geometry.Color) gocv.Mat {
	t.Helper()
	pix := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		i := (y*width + x) * 3
		pix[i+0] = byte(c.B)
		pix[i+1] = byte(c.G)
		pix[i+2] = byte(c.R)
	}
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		t.Fatalf("gocv.NewMatFromBytes: %v", err)
	}
	t.Cleanup(func() { mat.Close() })
	return mat
}

func TestScanCursorDoneOnEmptyParams(t *testing.T) {
	c := newScanCursor(nil)
	if !c.done() {
		t.Fatal("a cursor with no checkpoints should start done")
	}
	if c.progress() != 1 {
		t.Fatalf("progress() = %v, want 1", c.progress())
	}
}

func TestScanCursorAdvancesOnSustainedRun(t *testing.T) {
	target := geometry.Color{R: 200, G: 10, B: 10}
	c := newScanCursor([]ScanParameter{
		{XFraction: 0.5, RequiredLength: 0.1, Color: geometry.Deviation(target, 5)},
	})

	// frameHeight=100, required = 0.1*100 = 10 matching rows.
	rows := rowsOfColor(t, 10, 9, 5, target)
	c.advance(rows, 100)
	if c.done() {
		t.Fatal("9 matching rows should not satisfy a 10-row requirement")
	}
	if c.progress() != 0 {
		t.Fatalf("progress() = %v, want 0 before the checkpoint is consumed", c.progress())
	}

	more := rowsOfColor(t, 10, 1, 5, target)
	c.advance(more, 100)
	if !c.done() {
		t.Fatal("expected the checkpoint consumed after the 10th matching row")
	}
	if c.progress() != 1 {
		t.Fatalf("progress() = %v, want 1 once every checkpoint is consumed", c.progress())
	}
}

func TestScanCursorResetsRunOnMismatch(t *testing.T) {
	target := geometry.Color{R: 200, G: 10, B: 10}
	off := geometry.Color{R: 0, G: 0, B: 0}
	c := newScanCursor([]ScanParameter{
		{XFraction: 0, RequiredLength: 0.1, Color: geometry.Deviation(target, 5)},
	})

	pix := make([]byte, 1*19*3)
	// rows 0-8 match, row 9 breaks the run, rows 10-18 match again (9 rows,
	// one short of the 10-row requirement against frameHeight=100).
	for y := 0; y < 19; y++ {
		rowColor := target
		if y == 9 {
			rowColor = off
		}
		i := y * 3
		pix[i+0] = byte(rowColor.B)
		pix[i+1] = byte(rowColor.G)
		pix[i+2] = byte(rowColor.R)
	}
	mat, err := gocv.NewMatFromBytes(19, 1, gocv.MatTypeCV8UC3, pix)
	if err != nil {
		t.Fatalf("gocv.NewMatFromBytes: %v", err)
	}
	defer mat.Close()

	c.advance(mat, 100)
	if c.done() {
		t.Fatal("the interrupted run should not satisfy the requirement")
	}
}

func TestScanCursorConsumesCheckpointsInOrder(t *testing.T) {
	first := geometry.Color{R: 200, G: 10, B: 10}
	second := geometry.Color{R: 10, G: 200, B: 10}
	c := newScanCursor([]ScanParameter{
		{XFraction: 0, RequiredLength: 0.05, Color: geometry.Deviation(first, 5)},
		{XFraction: 0, RequiredLength: 0.05, Color: geometry.Deviation(second, 5)},
	})

	firstRows := rowsOfColor(t, 1, 5, 0, first)
	c.advance(firstRows, 100)
	if c.done() {
		t.Fatal("only the first checkpoint should be consumed so far")
	}
	if c.progress() != 0.5 {
		t.Fatalf("progress() = %v, want 0.5 with one of two checkpoints consumed", c.progress())
	}

	secondRows := rowsOfColor(t, 1, 5, 0, second)
	c.advance(secondRows, 100)
	if !c.done() {
		t.Fatal("expected both checkpoints consumed")
	}
}

func TestScanCursorJumpToEnd(t *testing.T) {
	c := newScanCursor([]ScanParameter{
		{XFraction: 0, RequiredLength: 0.1, Color: geometry.Deviation(geometry.Color{R: 1, G: 1, B: 1}, 1)},
		{XFraction: 1, RequiredLength: 0.1, Color: geometry.Deviation(geometry.Color{R: 2, G: 2, B: 2}, 1)},
	})
	c.jumpToEnd()
	if !c.done() {
		t.Fatal("jumpToEnd should consume every remaining checkpoint")
	}
	if c.progress() != 1 {
		t.Fatalf("progress() = %v, want 1 after jumpToEnd", c.progress())
	}
}
