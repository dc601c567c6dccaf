package scene

import (
	"github.com/umasagashi/capture-core/internal/capture/frame"
	"github.com/umasagashi/capture-core/internal/eventbus"
)

// FrameDistributor fans each frame out to an ordered set of detectors and,
// when none of them is active, to an optional idle sink. The idle sink
// exists so callers can recycle or drop frames that no scene wants without
// special-casing the no-detector-active case themselves.
type FrameDistributor struct {
	detectors []*Detector
	idleSink  *eventbus.DirectConnection[*frame.Frame]
}

// NewDistributor builds a distributor over detectors, evaluated in order.
func NewDistributor(detectors ...*Detector) *FrameDistributor {
	return &FrameDistributor{
		detectors: detectors,
		idleSink:  eventbus.NewDirect[*frame.Frame](),
	}
}

// OnIdle exposes frames for which no detector is active: a frame only
// reaches the idle sink if every detector reports IsActive() == false once
// its Update returns.
func (f *FrameDistributor) OnIdle() eventbus.Listener[*frame.Frame] { return f.idleSink }

// Update feeds frame to every detector in order, then forwards it to the
// idle sink if no detector is active afterward.
func (f *FrameDistributor) Update(fr *frame.Frame) {
	for _, d := range f.detectors {
		d.Update(fr)
	}

	for _, d := range f.detectors {
		if d.IsActive() {
			return
		}
	}
	f.idleSink.Send(fr)
}
