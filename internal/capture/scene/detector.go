// Package scene wraps a condition tree with the Idle/Active/Closing
// lifecycle and debounced end semantics, and fans incoming frames out to a
// set of detectors.
package scene

import (
	"sync"
	"time"

	"github.com/umasagashi/capture-core/internal/capture/condition"
	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/eventbus"
	"github.com/umasagashi/capture-core/internal/logging"
)

var log = logging.L("scene")

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateActive
	stateClosing
)

// Updated carries the frame and the uniquely active tab index at the
// moment of an `updated` emission.
type Updated struct {
	Frame    *frame.Frame
	TabIndex int
}

// Detector evaluates a condition tree once per frame and emits
// begin/updated/end events per the Idle->Active->Closing->Idle lifecycle.
// The tree must expose a child tagged "tab_condition" that is an Or over
// the tab predicates; Detector requires its active child to be unique.
type Detector struct {
	tree         condition.Node
	tabCondition *condition.ParallelNode
	endTimeoutMs int64

	onBegin   *eventbus.DirectConnection[struct{}]
	onUpdated *eventbus.DirectConnection[Updated]
	onEnd     *eventbus.DirectConnection[struct{}]

	mu    sync.Mutex
	state lifecycleState
	timer *eventbus.Timer
}

// New builds a Detector over tree. endTimeoutMs is the Closing debounce
// window in real milliseconds; 0 means close immediately on the falling
// edge with no debounce.
func New(tree condition.Node, endTimeoutMs int64) *Detector {
	tc, _ := condition.FindByTag(tree, "tab_condition").(*condition.ParallelNode)
	return &Detector{
		tree:         tree,
		tabCondition: tc,
		endTimeoutMs: endTimeoutMs,
		onBegin:      eventbus.NewDirect[struct{}](),
		onUpdated:    eventbus.NewDirect[Updated](),
		onEnd:        eventbus.NewDirect[struct{}](),
	}
}

// OnBegin, OnUpdated and OnEnd expose the lifecycle events for
// subscription. Handlers run synchronously on whatever goroutine calls
// Update (or, for a debounced `end`, on the timer's goroutine).
func (d *Detector) OnBegin() eventbus.Listener[struct{}]  { return d.onBegin }
func (d *Detector) OnUpdated() eventbus.Listener[Updated] { return d.onUpdated }
func (d *Detector) OnEnd() eventbus.Listener[struct{}]    { return d.onEnd }

// IsActive reports whether the detector currently owns a session (Active
// or Closing); used by the frame distributor to decide idle-sink forwarding.
func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != stateIdle
}

// Update walks the tree once and applies the lifecycle transition table.
// Any exception a listener raises is expected to propagate (crash-fast);
// the detector itself never fails.
func (d *Detector) Update(f *frame.Frame) {
	d.tree.Update(f)

	tabIndex, unique := -1, false
	if d.tabCondition != nil {
		tabIndex, unique = d.tabCondition.ActiveChildIndex()
	}
	metNow := d.tree.Met() && unique

	d.mu.Lock()
	switch d.state {
	case stateIdle:
		if metNow {
			d.state = stateActive
			d.mu.Unlock()
			d.onBegin.Send(struct{}{})
			d.onUpdated.Send(Updated{Frame: f, TabIndex: tabIndex})
			return
		}

	case stateActive:
		if metNow {
			d.mu.Unlock()
			d.onUpdated.Send(Updated{Frame: f, TabIndex: tabIndex})
			return
		}
		if d.endTimeoutMs <= 0 {
			d.state = stateIdle
			d.mu.Unlock()
			d.onEnd.Send(struct{}{})
			return
		}
		d.state = stateClosing
		d.timer = eventbus.NewTimer(time.Duration(d.endTimeoutMs)*time.Millisecond, d.onTimerExpire, nil)
		d.mu.Unlock()
		return

	case stateClosing:
		if metNow {
			if d.timer != nil {
				d.timer.Cancel()
				d.timer = nil
			}
			d.state = stateActive
			d.mu.Unlock()
			// Do not re-emit begin: the session is still the one opened
			// before Closing.
			d.onUpdated.Send(Updated{Frame: f, TabIndex: tabIndex})
			return
		}
		// Remain Closing; the pending timer will fire on its own thread.
	}
	d.mu.Unlock()
}

func (d *Detector) onTimerExpire() {
	d.mu.Lock()
	if d.state != stateClosing {
		d.mu.Unlock()
		return
	}
	d.state = stateIdle
	d.timer = nil
	d.mu.Unlock()

	log.Info("scene closed after debounce timeout")
	d.onEnd.Send(struct{}{})
}
