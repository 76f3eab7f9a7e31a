package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/smartcity/intersection-sim/internal/config"
	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/render"
	"github.com/smartcity/intersection-sim/internal/service"
	"github.com/smartcity/intersection-sim/internal/simulation"
)

var (
	ticks        = flag.Uint64("ticks", 3600, "number of frames to simulate")
	seed         = flag.Int64("seed", -1, "random seed, negative keeps the scenario seed")
	scenarioPath = flag.String("scenario", "", "YAML scenario file")
	pngPath      = flag.String("png", "", "write the last frame to this PNG file")
	optimizerURL = flag.String("optimizer", "", "optimization backend URL, empty uses the local rule")
	logLevel     = flag.String("log.level", "warn", "log level (trace debug info warn error critical off)")

	log = logrus.WithField("module", "headless")
)

// inputLatch is the SignalSink of an unthreaded run
type inputLatch struct {
	in simulation.Input
}

func (l *inputLatch) SetSignal(signal domain.SignalState) { l.in.Signal = signal }
func (l *inputLatch) SetSpawnRate(rate float64)           { l.in.SpawnRate = rate }

func main() {
	flag.Parse()
	if err := config.SetupLogging(*logLevel); err != nil {
		log.Fatal(err)
	}

	scenario, err := config.Load(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}
	if *seed >= 0 {
		scenario.Seed = uint64(*seed)
	}

	var (
		controller *service.PhaseController
		demand     [2]int
	)
	listener := simulation.ListenerFuncs{
		Demand: func(axis domain.Axis) {
			if axis == domain.AxisNS {
				demand[0]++
			} else {
				demand[1]++
			}
		},
		Stats: func(stats domain.Stats) {
			controller.ObserveStats(stats)
			fmt.Printf("frame=%d active=%d spawned=%d wait=%.2fs queued=%v demand_ns=%d demand_ew=%d\n",
				stats.Frame, stats.ActiveCount, stats.TotalSpawned, stats.TotalWaitTime, stats.Queued, demand[0], demand[1])
			demand = [2]int{}
		},
	}

	world := simulation.NewWorld(scenario.SimulationConfig(), listener)
	latch := &inputLatch{}
	controller = service.NewPhaseController(
		scenario.PhaseConfig(),
		service.NewOptimizer(*optimizerURL, ""),
		latch,
		service.NewCongestionMeter(world.Geometry()),
	)

	// one controller step per simulated second
	framesPerStep := uint64(math.Max(1, math.Round(scenario.Timing.FramesPerSecond)))
	ctx := context.Background()
	for i := uint64(0); i < *ticks; i++ {
		if i%framesPerStep == 0 {
			controller.Advance(ctx)
		}
		world.Step(latch.in)
	}

	for _, entry := range controller.Logs() {
		fmt.Printf("%s %-8s %s\n", entry.Time.Format("15:04:05"), entry.Type, entry.Message)
	}

	if *pngPath != "" {
		if err := writeFrame(*pngPath, world); err != nil {
			log.Fatalf("Failed to write frame: %v", err)
		}
		fmt.Printf("wrote frame %d to %s\n", world.Frame(), *pngPath)
	}
}

func writeFrame(path string, world *simulation.World) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("headless: failed to create %s: %w", path, err)
	}
	if err := render.EncodePNG(f, render.Draw(world.Snapshot(), world.Geometry())); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
