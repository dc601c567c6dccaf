package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// wakeupInterval bounds how long a stopped runner can take to notice and
// exit: queues are polled at least this often even with no explicit
// wakeup, which is what makes cooperative shutdown responsive.
const wakeupInterval = 8 * time.Millisecond

// SingleThreadRunner owns one worker goroutine that hosts any number of
// queued connections and drains them in round-robin order. Exactly one
// goroutine ever touches a hosted connection's handlers, so stages never
// need locks in their own hot path.
type SingleThreadRunner struct {
	name    string
	detach  func()
	running atomic.Bool

	mu      sync.Mutex
	queues  []Queued

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSingleThreadRunner creates a runner. detach is invoked once, after the
// worker goroutine has drained every hosted queue and is about to exit —
// it unbinds any thread-local resource the stage attached to this thread.
// detach may be nil.
func NewSingleThreadRunner(name string, detach func()) *SingleThreadRunner {
	return &SingleThreadRunner{
		name:   name,
		detach: detach,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name returns the runner's label, used in logs and metrics.
func (r *SingleThreadRunner) Name() string { return r.name }

// Host registers a queued connection to be drained by this runner's
// worker goroutine. Call before Start.
func (r *SingleThreadRunner) Host(q Queued) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = append(r.queues, q)
}

// Start launches the worker goroutine.
func (r *SingleThreadRunner) Start() {
	r.running.Store(true)
	go r.loop()
}

func (r *SingleThreadRunner) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(wakeupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.drainAll()
			if r.detach != nil {
				r.detach()
			}
			return
		case <-ticker.C:
			r.drainAll()
		}
	}
}

func (r *SingleThreadRunner) drainAll() {
	r.mu.Lock()
	queues := make([]Queued, len(r.queues))
	copy(queues, r.queues)
	r.mu.Unlock()

	for _, q := range queues {
		q.ProcessAll()
	}
}

// Stop signals the worker to drain remaining items and exit. It does not
// block; call Join to wait for completion. Idempotent.
func (r *SingleThreadRunner) Stop() {
	if r.running.CompareAndSwap(true, false) {
		r.stopOnce.Do(func() { close(r.stopCh) })
	}
}

// Join blocks until the worker goroutine has exited.
func (r *SingleThreadRunner) Join() {
	<-r.doneCh
}

// RunnerController starts and joins a fixed set of runners atomically, so
// the orchestrator can bring every stage up or down as one unit.
type RunnerController struct {
	runners []*SingleThreadRunner
}

func NewController(runners ...*SingleThreadRunner) *RunnerController {
	return &RunnerController{runners: runners}
}

// StartAll starts every runner.
func (c *RunnerController) StartAll() {
	for _, r := range c.runners {
		r.Start()
	}
}

// StopAll signals every runner to stop, without waiting.
func (c *RunnerController) StopAll() {
	for _, r := range c.runners {
		r.Stop()
	}
}

// JoinAll waits for every runner to finish, joining concurrently so one
// slow drain does not serialize behind the others.
func (c *RunnerController) JoinAll() error {
	var g errgroup.Group
	for _, r := range c.runners {
		r := r
		g.Go(func() error {
			r.Join()
			return nil
		})
	}
	return g.Wait()
}
