package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/smartcity/intersection-sim/internal/service"
	"github.com/smartcity/intersection-sim/internal/simulation"
)

var ErrInvalidScenario = errors.New("config: invalid scenario")

// Canvas is the simulated surface size
type Canvas struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// DirectionWeights biases where vehicles enter
type DirectionWeights struct {
	North float64 `yaml:"north"`
	South float64 `yaml:"south"`
	East  float64 `yaml:"east"`
	West  float64 `yaml:"west"`
}

// Spawn configures vehicle generation
type Spawn struct {
	Rate             float64          `yaml:"rate"`              // multiplier while a phase runs
	Probability      float64          `yaml:"probability"`       // chance an eligible frame spawns
	TruckProbability float64          `yaml:"truck_probability"` // share of trucks
	MinInterval      int              `yaml:"min_interval"`      // frames
	MinSpeed         float64          `yaml:"min_speed"`
	MaxSpeed         float64          `yaml:"max_speed"`
	Weights          DirectionWeights `yaml:"weights"`
}

// Timing configures the simulation clock
type Timing struct {
	FramesPerSecond float64 `yaml:"frames_per_second"`
	StatsEvery      uint64  `yaml:"stats_every"` // frames between stats emissions
}

// Phase configures the signal controller, durations in seconds
type Phase struct {
	IntersectionID int64   `yaml:"intersection_id"`
	Yellow         int     `yaml:"yellow"`
	Emergency      int     `yaml:"emergency"`
	GapOutDensity  int     `yaml:"gap_out_density"`
	GapOutAbove    int     `yaml:"gap_out_above"`
	GapOutTo       int     `yaml:"gap_out_to"`
	Retry          int     `yaml:"retry"`
	RequestTimeout float64 `yaml:"request_timeout"`
}

// Scenario is the root of the YAML scenario file
type Scenario struct {
	Seed   uint64 `yaml:"seed"`
	Canvas Canvas `yaml:"canvas"`
	Spawn  Spawn  `yaml:"spawn"`
	Timing Timing `yaml:"timing"`
	Phase  Phase  `yaml:"phase"`
}

// Default returns the reference scenario
func Default() Scenario {
	sim := simulation.DefaultConfig()
	phase := service.DefaultPhaseConfig()
	w := sim.DirectionWeights
	return Scenario{
		Seed:   sim.Seed,
		Canvas: Canvas{Width: sim.Geometry.Width, Height: sim.Geometry.Height},
		Spawn: Spawn{
			Rate:             phase.SpawnRate,
			Probability:      sim.SpawnProbability,
			TruckProbability: sim.TruckProbability,
			MinInterval:      sim.MinSpawnInterval,
			MinSpeed:         sim.MinInitialSpeed,
			MaxSpeed:         sim.MaxInitialSpeed,
			Weights:          DirectionWeights{North: w[0], South: w[1], East: w[2], West: w[3]},
		},
		Timing: Timing{
			FramesPerSecond: sim.FramesPerSecond,
			StatsEvery:      sim.StatsEvery,
		},
		Phase: Phase{
			IntersectionID: phase.IntersectionID,
			Yellow:         phase.YellowSeconds,
			Emergency:      phase.EmergencySeconds,
			GapOutDensity:  phase.GapOutDensity,
			GapOutAbove:    phase.GapOutAbove,
			GapOutTo:       phase.GapOutTo,
			Retry:          phase.RetrySeconds,
			RequestTimeout: phase.RequestTimeout.Seconds(),
		},
	}
}

// Load reads a scenario file over the defaults. An empty path returns Default().
func Load(path string) (Scenario, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("config: failed to read scenario: %w", err)
	}
	if err := yaml.UnmarshalStrict(file, &s); err != nil {
		return Scenario{}, fmt.Errorf("config: failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// Validate rejects values the simulator cannot run with
func (s Scenario) Validate() error {
	sp := s.Spawn
	w := sp.Weights
	switch {
	case s.Canvas.Width <= 0 || s.Canvas.Height <= 0:
		return fmt.Errorf("%w: canvas must be positive", ErrInvalidScenario)
	case sp.Rate < 0:
		return fmt.Errorf("%w: spawn rate is negative", ErrInvalidScenario)
	case sp.Probability < 0 || sp.Probability > 1 || sp.TruckProbability < 0 || sp.TruckProbability > 1:
		return fmt.Errorf("%w: probabilities must be within [0, 1]", ErrInvalidScenario)
	case sp.MinInterval < 1:
		return fmt.Errorf("%w: spawn min_interval must be at least 1", ErrInvalidScenario)
	case sp.MinSpeed < 0 || sp.MaxSpeed < sp.MinSpeed:
		return fmt.Errorf("%w: spawn speeds must satisfy 0 <= min_speed <= max_speed", ErrInvalidScenario)
	case w.North < 0 || w.South < 0 || w.East < 0 || w.West < 0 || w.North+w.South+w.East+w.West == 0:
		return fmt.Errorf("%w: direction weights must be non-negative with a positive sum", ErrInvalidScenario)
	case s.Timing.FramesPerSecond <= 0 || s.Timing.StatsEvery == 0:
		return fmt.Errorf("%w: frames_per_second and stats_every must be positive", ErrInvalidScenario)
	case s.Phase.Emergency < 1 || s.Phase.GapOutTo < 1 || s.Phase.Retry < 1:
		return fmt.Errorf("%w: emergency, gap_out_to and retry must be at least 1s", ErrInvalidScenario)
	case s.Phase.Yellow < 0 || s.Phase.GapOutAbove < 0 || s.Phase.GapOutDensity < 0 || s.Phase.RequestTimeout <= 0:
		return fmt.Errorf("%w: phase timings must not be negative", ErrInvalidScenario)
	}
	return nil
}

// SimulationConfig maps the scenario onto the World configuration
func (s Scenario) SimulationConfig() simulation.Config {
	cfg := simulation.DefaultConfig()
	cfg.Geometry = simulation.NewGeometry(s.Canvas.Width, s.Canvas.Height)
	cfg.Seed = s.Seed
	cfg.FramesPerSecond = s.Timing.FramesPerSecond
	cfg.TickSeconds = 1 / s.Timing.FramesPerSecond
	cfg.StatsEvery = s.Timing.StatsEvery
	cfg.MinSpawnInterval = s.Spawn.MinInterval
	cfg.SpawnProbability = s.Spawn.Probability
	cfg.TruckProbability = s.Spawn.TruckProbability
	cfg.MinInitialSpeed = s.Spawn.MinSpeed
	cfg.MaxInitialSpeed = s.Spawn.MaxSpeed
	w := s.Spawn.Weights
	cfg.DirectionWeights = [4]float64{w.North, w.South, w.East, w.West}
	return cfg
}

// TickInterval is the wall-clock length of one simulation frame
func (s Scenario) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / s.Timing.FramesPerSecond)
}

// PhaseConfig maps the scenario onto the controller configuration
func (s Scenario) PhaseConfig() service.PhaseConfig {
	cfg := service.DefaultPhaseConfig()
	cfg.IntersectionID = s.Phase.IntersectionID
	cfg.SpawnRate = s.Spawn.Rate
	cfg.YellowSeconds = s.Phase.Yellow
	cfg.EmergencySeconds = s.Phase.Emergency
	cfg.GapOutDensity = s.Phase.GapOutDensity
	cfg.GapOutAbove = s.Phase.GapOutAbove
	cfg.GapOutTo = s.Phase.GapOutTo
	cfg.RetrySeconds = s.Phase.Retry
	cfg.RequestTimeout = time.Duration(s.Phase.RequestTimeout * float64(time.Second))
	return cfg
}
