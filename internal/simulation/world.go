// Package simulation implements the intersection traffic simulator.
//
// A World advances in discrete ticks. Each tick runs, in this order:
//
//  1. Spawn - on eligible frames, maybe create a vehicle at a lane entry point.
//  2. Update - every vehicle decides and moves against the signal state and the
//     positions its peers had at the start of the tick.
//  3. Demand - vehicles waiting in a demand zone on a non-green axis raise demand.
//  4. Cleanup - vehicles past the bounds plus margin are dropped.
//  5. Statistics - every StatsEvery frames the aggregate is emitted.
//
// Reading peers from a tick-start view makes the result independent of the
// order vehicles are stored in.
package simulation

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/randengine"
)

var (
	ErrInvalidDirection = errors.New("simulation: invalid direction")
	ErrInvalidSpeed     = errors.New("simulation: invalid speed")
)

// palette of body colors picked at spawn
var palette = []string{
	"#e53935",
	"#1e88e5",
	"#43a047",
	"#fdd835",
	"#fafafa",
	"#212121",
	"#8e24aa",
}

// Config holds the tunables of a World
type Config struct {
	Geometry Geometry
	Seed     uint64

	TickSeconds      float64    // simulated seconds per tick
	FramesPerSecond  float64    // frame rate the spawn interval is derived from
	MinSpawnInterval int        // floor on frames between spawn attempts
	SpawnProbability float64    // chance an eligible frame spawns a vehicle
	TruckProbability float64    // chance a spawned vehicle is a truck
	MinInitialSpeed  float64    // spawn speed is drawn from [Min, Max)
	MaxInitialSpeed  float64
	StatsEvery       uint64     // frames between stats emissions
	DirectionWeights [4]float64 // spawn weights for North, South, East, West
}

// DefaultConfig returns the reference-canvas configuration
func DefaultConfig() Config {
	return Config{
		Geometry:         DefaultGeometry(),
		Seed:             1,
		TickSeconds:      1.0 / 60,
		FramesPerSecond:  60,
		MinSpawnInterval: 10,
		SpawnProbability: 0.7,
		TruckProbability: 0.15,
		MinInitialSpeed:  3,
		MaxInitialSpeed:  5,
		StatsEvery:       30,
		DirectionWeights: [4]float64{1, 1, 1, 1},
	}
}

// Input is what the surrounding application supplies each tick
type Input struct {
	Signal    domain.SignalState
	SpawnRate float64
}

// VehicleSpec places a vehicle by hand
type VehicleSpec struct {
	Direction      domain.Direction `json:"direction"`
	Class          VehicleClass     `json:"class"`
	BeforeStopLine float64          `json:"before_stop_line"` // distance before the stop line, lane centered
	Speed          float64          `json:"speed"`
	MaxSpeed       float64          `json:"max_speed"` // zero means Speed plus the usual headroom
}

// Validate checks the spec can be placed
func (s VehicleSpec) Validate() error {
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, s.Direction)
	}
	if s.Speed < 0 || s.MaxSpeed < 0 || math.IsNaN(s.Speed) || math.IsNaN(s.MaxSpeed) {
		return ErrInvalidSpeed
	}
	if s.MaxSpeed != 0 && s.MaxSpeed < s.Speed {
		return fmt.Errorf("%w: max speed below speed", ErrInvalidSpeed)
	}
	return nil
}

// Snapshot is a read-only copy of the world after a tick
type Snapshot struct {
	Frame        uint64             `json:"frame"`
	TotalSpawned uint64             `json:"total_spawned"`
	Signal       domain.SignalState `json:"signal"`
	Vehicles     []Vehicle          `json:"vehicles"`
}

// World owns the whole mutable state of the simulator
type World struct {
	cfg      Config
	geom     Geometry
	rng      *randengine.Engine
	emitter  *emitter
	vehicles []*Vehicle
	signal   domain.SignalState
	frame    uint64
	nextID   uint64
}

// NewWorld builds an empty world. listener may be nil.
func NewWorld(cfg Config, listener Listener) *World {
	if cfg.StatsEvery == 0 {
		cfg.StatsEvery = 30
	}
	if cfg.TickSeconds <= 0 {
		cfg.TickSeconds = 1.0 / 60
	}
	if cfg.FramesPerSecond <= 0 {
		cfg.FramesPerSecond = 60
	}
	if cfg.Geometry.Width <= 0 {
		cfg.Geometry = DefaultGeometry()
	}
	return &World{
		cfg:     cfg,
		geom:    cfg.Geometry,
		rng:     randengine.New(cfg.Seed),
		emitter: newEmitter(listener),
		signal:  domain.AllRed,
	}
}

// Geometry returns the immutable crossing description
func (w *World) Geometry() Geometry {
	return w.geom
}

// Frame returns the number of ticks run so far
func (w *World) Frame() uint64 {
	return w.frame
}

// Step runs one tick
func (w *World) Step(in Input) {
	w.signal = in.Signal
	w.spawn(in.SpawnRate)
	w.updateVehicles()
	w.detectDemand()
	w.cleanup()
	if w.frame%w.cfg.StatsEvery == 0 {
		w.emitter.stats(w.stats())
	}
	w.frame++
}

// Inject places a vehicle described by spec and returns its id
func (w *World) Inject(spec VehicleSpec) (uint64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	maxSpeed := spec.MaxSpeed
	if maxSpeed == 0 {
		maxSpeed = spec.Speed + maxSpeedHeadroom*w.geom.Scale
	}
	x, y := w.geom.BeforeStopLine(spec.Direction, spec.BeforeStopLine)
	v := newVehicle(w.nextID, spec.Direction, spec.Class, x, y, spec.Speed, maxSpeed, w.geom.Scale)
	// colour from the id, not the rng, so injecting never shifts the seeded spawn draws
	v.Color = palette[int(v.ID)%len(palette)]
	w.nextID++
	w.vehicles = append(w.vehicles, v)
	return v.ID, nil
}

// Snapshot copies the current state
func (w *World) Snapshot() Snapshot {
	return Snapshot{
		Frame:        w.frame,
		TotalSpawned: w.nextID,
		Signal:       w.signal,
		Vehicles:     lo.Map(w.vehicles, func(v *Vehicle, _ int) Vehicle { return *v }),
	}
}

// spawnInterval returns frames between spawn attempts, or 0 when spawning is off
func (w *World) spawnInterval(rate float64) uint64 {
	if !(rate > 0) {
		return 0
	}
	frames := math.Floor(w.cfg.FramesPerSecond / rate)
	if frames < float64(w.cfg.MinSpawnInterval) {
		frames = float64(w.cfg.MinSpawnInterval)
	}
	if frames < 1 {
		frames = 1
	}
	if frames > math.MaxUint32 {
		frames = math.MaxUint32
	}
	return uint64(frames)
}

func (w *World) spawn(rate float64) {
	interval := w.spawnInterval(rate)
	if interval == 0 || w.frame%interval != 0 {
		return
	}
	if !w.rng.PTrue(w.cfg.SpawnProbability) {
		return
	}
	dir := domain.Directions[w.rng.DiscreteDistribution(w.cfg.DirectionWeights[:])]
	s := w.geom.Scale
	speed := w.rng.Uniform(w.cfg.MinInitialSpeed, w.cfg.MaxInitialSpeed) * s
	class := ClassCar
	if w.rng.PTrue(w.cfg.TruckProbability) {
		class = ClassTruck
	}
	jitter := (w.rng.Float64() - 0.5) * w.geom.SpawnJitter
	x, y := w.geom.EntryPoint(dir, jitter)
	color := palette[w.rng.Intn(len(palette))]
	if !w.entryClear(dir, class, x, y, speed) {
		return
	}

	v := newVehicle(w.nextID, dir, class, x, y, speed, speed+maxSpeedHeadroom*s, s)
	v.Color = color
	w.nextID++
	w.vehicles = append(w.vehicles, v)
}

// entryClear reports whether a vehicle entering at (x, y) can still stop behind
// the last vehicle of its lane. The draws above happen either way so a skipped
// spawn does not shift the seeded sequence.
func (w *World) entryClear(dir domain.Direction, class VehicleClass, x, y, speed float64) bool {
	entry := Progress(dir, x, y)
	s := w.geom.Scale
	safe := classSpecs[class].safeDistance * s
	braking := speed * speed / (2 * defaultBrakeRate * s)
	for _, other := range w.vehicles {
		if other.Direction != dir {
			continue
		}
		if other.Progress()-entry < math.Max(safe, other.SafeDistance)+braking {
			return false
		}
	}
	return true
}

func (w *World) updateVehicles() {
	// peers only matter within a direction, so bucket before the pairwise scan
	buckets := make(map[domain.Direction][]peerView, len(domain.Directions))
	for _, v := range w.vehicles {
		buckets[v.Direction] = append(buckets[v.Direction], v.view())
	}
	for _, v := range w.vehicles {
		v.update(w.signal, buckets[v.Direction], &w.geom, w.cfg.TickSeconds)
	}
}

func (w *World) detectDemand() {
	for _, v := range w.vehicles {
		v.Demanding = w.geom.Demands(v.Direction, v.X, v.Y, w.signal)
		if v.Demanding {
			w.emitter.demand(v.Direction.Axis())
		}
	}
}

func (w *World) cleanup() {
	w.vehicles = lo.Filter(w.vehicles, func(v *Vehicle, _ int) bool {
		return !w.geom.OutOfBounds(v.X, v.Y)
	})
}

func (w *World) stats() domain.Stats {
	approaching := make(map[domain.Direction]int, len(domain.Directions))
	queued := make(map[domain.Direction]int, len(domain.Directions))
	for _, dir := range domain.Directions {
		approaching[dir], queued[dir] = 0, 0
	}
	for _, v := range w.vehicles {
		if w.geom.InDemandZone(v.Direction, v.X, v.Y) {
			approaching[v.Direction]++
		}
		if v.Stopped {
			queued[v.Direction]++
		}
	}
	return domain.Stats{
		Frame:         w.frame,
		ActiveCount:   len(w.vehicles),
		TotalWaitTime: lo.SumBy(w.vehicles, func(v *Vehicle) float64 { return v.WaitTime }),
		TotalSpawned:  w.nextID,
		Approaching:   approaching,
		Queued:        queued,
	}
}
