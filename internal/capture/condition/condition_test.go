package condition

import (
	"testing"

	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

func solidFrame(t *testing.T, r, g, b byte, timestampMs int64) *frame.Frame {
	t.Helper()
	pix := make([]byte, 10*10*3)
	for i := 0; i < 10*10; i++ {
		pix[i*3+0] = b
		pix[i*3+1] = g
		pix[i*3+2] = r
	}
	f, err := frame.New(pix, 10, 10, timestampMs)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func buildSampleTree() Node {
	tabA := NewPlain("tab_a", &PointColor{
		Point: geometry.NewPoint[float64](0.5, 0.5, geometry.ScreenStart),
		Range: geometry.Deviation(geometry.Color{R: 200, G: 0, B: 0}, 10),
	})
	tabB := NewPlain("tab_b", &PointColor{
		Point: geometry.NewPoint[float64](0.5, 0.5, geometry.ScreenStart),
		Range: geometry.Deviation(geometry.Color{R: 0, G: 200, B: 0}, 10),
	})
	tabCond := NewParallel("tab_condition", Or{}, []Node{tabA, tabB})
	stable := NewNested("stable_root", &Stable{ThresholdMs: 100}, tabCond)
	return stable
}

func TestConditionRoundTrip(t *testing.T) {
	tree := buildSampleTree()
	data, err := ToJSON(tree)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	parsed, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	again, err := ToJSON(parsed)
	if err != nil {
		t.Fatalf("ToJSON (roundtrip): %v", err)
	}

	if string(data) != string(again) {
		t.Fatalf("round trip mismatch:\n  first: %s\n second: %s", data, again)
	}
}

func TestFindByTagPreorderFirst(t *testing.T) {
	tree := buildSampleTree()
	found := FindByTag(tree, "tab_b")
	if found == nil {
		t.Fatal("expected to find tab_b")
	}
	if found.Tag() != "tab_b" {
		t.Fatalf("found wrong node: %q", found.Tag())
	}

	if FindByTag(tree, "does_not_exist") != nil {
		t.Fatal("expected nil for absent tag")
	}

	first := NewPlain("dup", &PointColor{})
	second := NewPlain("dup", &PointColor{})
	dupTree := NewParallel("", And{}, []Node{first, second})
	if got := FindByTag(dupTree, "dup"); got != Node(first) {
		t.Fatal("expected the first preorder node among duplicate tags")
	}
}

func TestPointColorMet(t *testing.T) {
	f := solidFrame(t, 200, 0, 0, 0)
	rule := &PointColor{
		Point: geometry.NewPoint[float64](0.5, 0.5, geometry.ScreenStart),
		Range: geometry.Deviation(geometry.Color{R: 200, G: 0, B: 0}, 5),
	}
	n := NewPlain("", rule)
	n.Update(f)
	if !n.Met() {
		t.Fatal("expected point_color to be met")
	}
}

func TestLineLengthEmptyLineNotMet(t *testing.T) {
	f := solidFrame(t, 50, 50, 50, 0)
	rule := &LineLength{
		Line:        geometry.NewLine[float64](0.5, 0.5, 0.5, 0.5, geometry.ScreenStart),
		Deviation:   5,
		LengthRange: geometry.Range[float64]{Min: 0.5, Max: 1},
	}
	n := NewPlain("", rule)
	n.Update(f)
	if n.Met() {
		t.Fatal("empty line should never be met (ratio 0)")
	}
}

func TestStableLineLengthFirstEvalFalse(t *testing.T) {
	f := solidFrame(t, 50, 50, 50, 0)
	rule := &StableLineLength{
		Line:      geometry.NewLine[float64](0, 0.5, 1, 0.5, geometry.ScreenStart),
		Deviation: 5,
	}
	n := NewPlain("", rule)
	n.Update(f)
	if n.Met() {
		t.Fatal("first StableLineLength evaluation must be false")
	}
}

func TestStableLineLengthMetOnRepeatedRatio(t *testing.T) {
	f1 := solidFrame(t, 50, 50, 50, 0)
	f2 := solidFrame(t, 50, 50, 50, 16)
	rule := &StableLineLength{
		Line:      geometry.NewLine[float64](0, 0.5, 1, 0.5, geometry.ScreenStart),
		Deviation: 5,
	}
	n := NewPlain("", rule)
	n.Update(f1)
	n.Update(f2)
	if !n.Met() {
		t.Fatal("expected stable_line_length met when ratio repeats")
	}
}

func TestStableResetsOnUnmetChild(t *testing.T) {
	childMetSeq := []bool{true, true, false, true, true, true}
	var child Node = &fakeLeaf{metSeq: childMetSeq}
	rule := &Stable{ThresholdMs: 30}
	node := NewNested("", rule, child)

	timestamps := []int64{0, 16, 32, 48, 64, 80}
	for i, ts := range timestamps {
		f := solidFrame(t, 0, 0, 0, ts)
		node.Update(f)
		wantMet := false
		// The child goes unmet at i==2, resetting the streak. The streak
		// restarts at i==3 (ts=48); the 30ms threshold is next satisfied
		// at i==5 (ts=80, 80-48=32>=30).
		if i >= 5 {
			wantMet = true
		}
		if node.Met() != wantMet {
			t.Fatalf("step %d: met=%v, want %v", i, node.Met(), wantMet)
		}
	}
}

// fakeLeaf is a test double that replays a fixed Met() sequence.
type fakeLeaf struct {
	metSeq []bool
	idx    int
}

func (f *fakeLeaf) Update(fr *frame.Frame) {
	if f.idx < len(f.metSeq) {
		f.idx++
	}
}
func (f *fakeLeaf) Met() bool {
	if f.idx == 0 || f.idx > len(f.metSeq) {
		return false
	}
	return f.metSeq[f.idx-1]
}
func (f *fakeLeaf) Tag() string { return "" }

func TestAndOr(t *testing.T) {
	and := And{}
	if and.Evaluate([]bool{true, true, false}) {
		t.Fatal("And should require all true")
	}
	if !and.Evaluate([]bool{true, true}) {
		t.Fatal("And of all-true should be true")
	}
	if (And{}).Evaluate(nil) != true {
		t.Fatal("And of no children should be vacuously true")
	}

	or := Or{}
	if !or.Evaluate([]bool{false, true}) {
		t.Fatal("Or should be true if any child is true")
	}
	if or.Evaluate([]bool{false, false}) {
		t.Fatal("Or of all-false should be false")
	}
}

func TestActiveChildIndex(t *testing.T) {
	a := &fakeLeaf{metSeq: []bool{true}}
	a.idx = 1
	b := &fakeLeaf{metSeq: []bool{false}}
	b.idx = 1
	p := NewParallel("tab_condition", Or{}, []Node{a, b})

	idx, ok := p.ActiveChildIndex()
	if !ok || idx != 0 {
		t.Fatalf("expected unique active index 0, got (%d,%v)", idx, ok)
	}

	a.metSeq[0] = true
	b.metSeq[0] = true
	idx, ok = p.ActiveChildIndex()
	if ok {
		t.Fatalf("expected ambiguous active index to report not-ok, got (%d,%v)", idx, ok)
	}
}
