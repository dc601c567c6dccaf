package condition

import (
	"encoding/json"
	"fmt"

	"github.com/umasagashi/capture-core/internal/capture/geometry"
)

// wireNode is the self-describing JSON form every tree round-trips through.
// "type" names the node shape (plain/nested/parallel); "rule" names the
// rule variant; fields irrelevant to a given rule are simply omitted.
type wireNode struct {
	Type     string      `json:"type"`
	Rule     string      `json:"rule"`
	Name     string      `json:"name,omitempty"`
	Child    *wireNode   `json:"child,omitempty"`
	Children []*wireNode `json:"children,omitempty"`

	Point       *wirePoint      `json:"point,omitempty"`
	Range       *wireColorRange `json:"range,omitempty"`
	Line        *wireLine       `json:"line,omitempty"`
	Deviation   int             `json:"deviation,omitempty"`
	LengthRange *wireRange      `json:"length_range,omitempty"`
	ThresholdMs int64           `json:"threshold_ms,omitempty"`
}

type wirePoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	AnchorX string  `json:"anchor_x"`
	AnchorY string  `json:"anchor_y"`
}

type wireLine struct {
	P1 wirePoint `json:"p1"`
	P2 wirePoint `json:"p2"`
}

type wireColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

type wireColorRange struct {
	Min wireColor `json:"min"`
	Max wireColor `json:"max"`
}

type wireRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func toWirePoint(p geometry.Point[float64]) wirePoint {
	return wirePoint{X: p.X, Y: p.Y, AnchorX: p.AnchorX.String(), AnchorY: p.AnchorY.String()}
}

func fromWirePoint(w wirePoint) (geometry.Point[float64], error) {
	ax, ok := geometry.ParseAnchor(w.AnchorX)
	if !ok {
		return geometry.Point[float64]{}, fmt.Errorf("condition: unknown anchor_x %q", w.AnchorX)
	}
	ay, ok := geometry.ParseAnchor(w.AnchorY)
	if !ok {
		return geometry.Point[float64]{}, fmt.Errorf("condition: unknown anchor_y %q", w.AnchorY)
	}
	return geometry.Point[float64]{X: w.X, Y: w.Y, AnchorX: ax, AnchorY: ay}, nil
}

func toWireLine(l geometry.Line[float64]) wireLine {
	return wireLine{P1: toWirePoint(l.P1), P2: toWirePoint(l.P2)}
}

func fromWireLine(w wireLine) (geometry.Line[float64], error) {
	p1, err := fromWirePoint(w.P1)
	if err != nil {
		return geometry.Line[float64]{}, err
	}
	p2, err := fromWirePoint(w.P2)
	if err != nil {
		return geometry.Line[float64]{}, err
	}
	return geometry.Line[float64]{P1: p1, P2: p2}, nil
}

func toWireColorRange(r geometry.ColorRange) *wireColorRange {
	return &wireColorRange{
		Min: wireColor{R: r.Min.R, G: r.Min.G, B: r.Min.B},
		Max: wireColor{R: r.Max.R, G: r.Max.G, B: r.Max.B},
	}
}

func fromWireColorRange(w *wireColorRange) geometry.ColorRange {
	if w == nil {
		return geometry.ColorRange{}
	}
	return geometry.ColorRange{
		Min: geometry.Color{R: w.Min.R, G: w.Min.G, B: w.Min.B},
		Max: geometry.Color{R: w.Max.R, G: w.Max.G, B: w.Max.B},
	}
}

// ToJSON serializes a tree to its self-describing wire form.
func ToJSON(root Node) ([]byte, error) {
	w, err := toWire(root)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func toWire(n Node) (*wireNode, error) {
	switch v := n.(type) {
	case *PlainNode:
		w := &wireNode{Type: "plain", Name: v.tag}
		switch r := v.Rule.(type) {
		case *PointColor:
			w.Rule = "point_color"
			p := toWirePoint(r.Point)
			w.Point = &p
			w.Range = toWireColorRange(r.Range)
		case *LineLength:
			w.Rule = "line_length"
			l := toWireLine(r.Line)
			w.Line = &l
			w.Deviation = r.Deviation
			w.LengthRange = &wireRange{Min: r.LengthRange.Min, Max: r.LengthRange.Max}
		case *StableLineLength:
			w.Rule = "stable_line_length"
			l := toWireLine(r.Line)
			w.Line = &l
			w.Deviation = r.Deviation
		default:
			return nil, fmt.Errorf("condition: unknown leaf rule %T", r)
		}
		return w, nil

	case *NestedNode:
		child, err := toWire(v.Child)
		if err != nil {
			return nil, err
		}
		w := &wireNode{Type: "nested", Name: v.tag, Child: child}
		switch r := v.Rule.(type) {
		case *Stable:
			w.Rule = "stable"
			w.ThresholdMs = r.ThresholdMs
		default:
			return nil, fmt.Errorf("condition: unknown nested rule %T", r)
		}
		return w, nil

	case *ParallelNode:
		children := make([]*wireNode, len(v.Children))
		for i, c := range v.Children {
			wc, err := toWire(c)
			if err != nil {
				return nil, err
			}
			children[i] = wc
		}
		w := &wireNode{Type: "parallel", Name: v.tag, Children: children}
		switch v.Rule.(type) {
		case And:
			w.Rule = "and"
		case Or:
			w.Rule = "or"
		default:
			return nil, fmt.Errorf("condition: unknown parallel rule %T", v.Rule)
		}
		return w, nil

	default:
		return nil, fmt.Errorf("condition: unknown node type %T", n)
	}
}

// FromJSON parses the self-describing wire form produced by ToJSON.
func FromJSON(data []byte) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("condition: parse tree: %w", err)
	}
	return fromWire(&w)
}

func fromWire(w *wireNode) (Node, error) {
	switch w.Type {
	case "plain":
		rule, err := leafRuleFromWire(w)
		if err != nil {
			return nil, err
		}
		return NewPlain(w.Name, rule), nil

	case "nested":
		if w.Child == nil {
			return nil, fmt.Errorf("condition: nested node %q missing child", w.Name)
		}
		child, err := fromWire(w.Child)
		if err != nil {
			return nil, err
		}
		switch w.Rule {
		case "stable":
			return NewNested(w.Name, &Stable{ThresholdMs: w.ThresholdMs}, child), nil
		default:
			return nil, fmt.Errorf("condition: unknown nested rule %q", w.Rule)
		}

	case "parallel":
		children := make([]Node, len(w.Children))
		for i, wc := range w.Children {
			c, err := fromWire(wc)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		switch w.Rule {
		case "and":
			return NewParallel(w.Name, And{}, children), nil
		case "or":
			return NewParallel(w.Name, Or{}, children), nil
		default:
			return nil, fmt.Errorf("condition: unknown parallel rule %q", w.Rule)
		}

	default:
		return nil, fmt.Errorf("condition: unknown node type %q", w.Type)
	}
}

func leafRuleFromWire(w *wireNode) (LeafRule, error) {
	switch w.Rule {
	case "point_color":
		if w.Point == nil {
			return nil, fmt.Errorf("condition: point_color missing point")
		}
		p, err := fromWirePoint(*w.Point)
		if err != nil {
			return nil, err
		}
		return &PointColor{Point: p, Range: fromWireColorRange(w.Range)}, nil

	case "line_length":
		if w.Line == nil {
			return nil, fmt.Errorf("condition: line_length missing line")
		}
		l, err := fromWireLine(*w.Line)
		if err != nil {
			return nil, err
		}
		lr := geometry.Range[float64]{}
		if w.LengthRange != nil {
			lr = geometry.Range[float64]{Min: w.LengthRange.Min, Max: w.LengthRange.Max}
		}
		return &LineLength{Line: l, Deviation: w.Deviation, LengthRange: lr}, nil

	case "stable_line_length":
		if w.Line == nil {
			return nil, fmt.Errorf("condition: stable_line_length missing line")
		}
		l, err := fromWireLine(*w.Line)
		if err != nil {
			return nil, err
		}
		return &StableLineLength{Line: l, Deviation: w.Deviation}, nil

	default:
		return nil, fmt.Errorf("condition: unknown leaf rule %q", w.Rule)
	}
}
