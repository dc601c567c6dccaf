package condition

import "github.com/umasagashi/capture-core/internal/capture/frame"

// Node is a tree node over Frame. Update walks the tree once per frame; Met
// reports the result of the last Update. Every node optionally carries a
// tag that FindByTag can recover from a preorder traversal.
type Node interface {
	Update(f *frame.Frame)
	Met() bool
	Tag() string
}

// PlainNode is a leaf evaluated directly against the frame.
type PlainNode struct {
	tag  string
	Rule LeafRule
	met  bool
}

// NewPlain builds a leaf node. tag may be empty.
func NewPlain(tag string, rule LeafRule) *PlainNode {
	return &PlainNode{tag: tag, Rule: rule}
}

func (n *PlainNode) Update(f *frame.Frame) { n.met = n.Rule.Evaluate(f) }
func (n *PlainNode) Met() bool             { return n.met }
func (n *PlainNode) Tag() string           { return n.tag }

// NestedNode wraps a single child with a rule that also sees the child's
// met value and the frame timestamp (currently only Stable).
type NestedNode struct {
	tag   string
	Rule  NestedRule
	Child Node
	met   bool
}

func NewNested(tag string, rule NestedRule, child Node) *NestedNode {
	return &NestedNode{tag: tag, Rule: rule, Child: child}
}

func (n *NestedNode) Update(f *frame.Frame) {
	n.Child.Update(f)
	n.met = n.Rule.Evaluate(n.Child.Met(), f.TimestampMs())
}
func (n *NestedNode) Met() bool   { return n.met }
func (n *NestedNode) Tag() string { return n.tag }

// ParallelNode combines an ordered set of children (And, Or).
type ParallelNode struct {
	tag      string
	Rule     ParallelRule
	Children []Node
	met      bool
}

func NewParallel(tag string, rule ParallelRule, children []Node) *ParallelNode {
	return &ParallelNode{tag: tag, Rule: rule, Children: children}
}

func (n *ParallelNode) Update(f *frame.Frame) {
	metVals := make([]bool, len(n.Children))
	for i, c := range n.Children {
		c.Update(f)
		metVals[i] = c.Met()
	}
	n.met = n.Rule.Evaluate(metVals)
}
func (n *ParallelNode) Met() bool   { return n.met }
func (n *ParallelNode) Tag() string { return n.tag }

// ActiveChildIndex returns the index of the single child whose Met() is
// true. It returns (-1, false) if zero or more than one child is met — the
// scene detector uses this to require a unique active tab.
func (n *ParallelNode) ActiveChildIndex() (int, bool) {
	found := -1
	for i, c := range n.Children {
		if c.Met() {
			if found != -1 {
				return -1, false
			}
			found = i
		}
	}
	if found == -1 {
		return -1, false
	}
	return found, true
}

// FindByTag returns the first node in a preorder traversal whose tag
// matches, or nil if none does.
func FindByTag(root Node, tag string) Node {
	if root == nil {
		return nil
	}
	if root.Tag() == tag {
		return root
	}
	switch n := root.(type) {
	case *NestedNode:
		return FindByTag(n.Child, tag)
	case *ParallelNode:
		for _, c := range n.Children {
			if found := FindByTag(c, tag); found != nil {
				return found
			}
		}
	}
	return nil
}
