package simulation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartcity/intersection-sim/internal/domain"
)

// DefaultFrameInterval matches a 60 Hz display
const DefaultFrameInterval = time.Second / 60

var ErrAlreadyRunning = errors.New("simulation: runner already started")

// Runner schedules World ticks on its own goroutine.
//
// The World is touched only by that goroutine. Signal, spawn rate and injected
// vehicles may be supplied from any goroutine; they are latched and consumed
// at the start of the next tick. After every tick a Snapshot is published for
// readers.
type Runner struct {
	world    *World
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	input   Input
	pending []VehicleSpec

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	snapshot atomic.Pointer[Snapshot]
}

// NewRunner wraps world. interval <= 0 selects DefaultFrameInterval.
func NewRunner(world *World, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	r := &Runner{
		world:    world,
		interval: interval,
		log:      logrus.WithField("module", "runner"),
		input:    Input{Signal: domain.AllRed},
	}
	snap := world.Snapshot()
	r.snapshot.Store(&snap)
	return r
}

// Start begins ticking until ctx is done or Stop is called.
// Vehicles from a previous run are kept.
func (r *Runner) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.aliveLocked() {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.log.Infof("started, frame interval %s", r.interval)
	return nil
}

// Stop revokes the schedule and waits for the in-flight tick to finish.
// No tick and no listener call happens after Stop returns.
func (r *Runner) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if !r.aliveLocked() {
		return
	}
	r.cancel()
	<-r.done
	r.cancel, r.done = nil, nil
	r.log.Infof("stopped at frame %d", r.Snapshot().Frame)
}

// Running reports whether ticks are being scheduled
func (r *Runner) Running() bool {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.aliveLocked()
}

// aliveLocked reports whether the loop goroutine is still running and forgets
// a loop that ended because its parent context was cancelled.
func (r *Runner) aliveLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		r.cancel()
		r.cancel, r.done = nil, nil
		return false
	default:
		return true
	}
}

// SetSignal latches the light state for the next tick
func (r *Runner) SetSignal(signal domain.SignalState) {
	r.mu.Lock()
	r.input.Signal = signal
	r.mu.Unlock()
}

// SetSpawnRate latches the spawn multiplier for the next tick
func (r *Runner) SetSpawnRate(rate float64) {
	r.mu.Lock()
	r.input.SpawnRate = rate
	r.mu.Unlock()
}

// Input returns the currently latched input
func (r *Runner) Input() Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

// Inject queues a vehicle for placement at the start of the next tick
func (r *Runner) Inject(spec VehicleSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.pending = append(r.pending, spec)
	r.mu.Unlock()
	return nil
}

// Snapshot returns the state published after the latest tick
func (r *Runner) Snapshot() Snapshot {
	return *r.snapshot.Load()
}

// Geometry returns the geometry of the underlying world
func (r *Runner) Geometry() Geometry {
	return r.world.Geometry()
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// both cases may be ready at once; cancellation wins
			if ctx.Err() != nil {
				return
			}
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	r.mu.Lock()
	in := r.input
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, spec := range pending {
		if _, err := r.world.Inject(spec); err != nil {
			r.log.Warnf("dropped injected vehicle: %v", err)
		}
	}
	r.world.Step(in)
	snap := r.world.Snapshot()
	r.snapshot.Store(&snap)
}
