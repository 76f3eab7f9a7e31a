package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerStartStop(t *testing.T) {
	var statsCalls atomic.Int64
	w := NewWorld(DefaultConfig(), ListenerFuncs{
		Stats: func(domain.Stats) { statsCalls.Add(1) },
	})
	r := NewRunner(w, time.Millisecond)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Running())
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return r.Snapshot().Frame > 5 }, time.Second, time.Millisecond)
	r.Stop()
	assert.False(t, r.Running())

	frame := r.Snapshot().Frame
	calls := statsCalls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frame, r.Snapshot().Frame, "no tick after Stop returns")
	assert.Equal(t, calls, statsCalls.Load(), "no listener call after Stop returns")

	r.Stop() // idempotent
}

func TestRunnerKeepsVehiclesAcrossRestart(t *testing.T) {
	r := NewRunner(NewWorld(DefaultConfig(), nil), time.Millisecond)
	require.NoError(t, r.Inject(VehicleSpec{Direction: South, BeforeStopLine: 100, Speed: 0}))
	assert.ErrorIs(t, r.Inject(VehicleSpec{Direction: "X"}), ErrInvalidDirection)

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return len(r.Snapshot().Vehicles) == 1 }, time.Second, time.Millisecond)
	r.Stop()
	first := r.Snapshot().Frame

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return r.Snapshot().Frame > first+3 }, time.Second, time.Millisecond)
	r.Stop()

	snap := r.Snapshot()
	require.Len(t, snap.Vehicles, 1)
	assert.True(t, snap.Vehicles[0].Stopped, "the default latched signal is all red")
}

func TestRunnerLatchesInput(t *testing.T) {
	r := NewRunner(NewWorld(DefaultConfig(), nil), time.Millisecond)
	assert.Equal(t, domain.AllRed, r.Input().Signal)

	r.SetSignal(greenNS)
	r.SetSpawnRate(6)
	assert.Equal(t, Input{Signal: greenNS, SpawnRate: 6}, r.Input())

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		return snap.Signal == greenNS && snap.TotalSpawned > 0
	}, 2*time.Second, time.Millisecond)
}

func TestRunnerParentContextCancel(t *testing.T) {
	r := NewRunner(NewWorld(DefaultConfig(), nil), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, time.Millisecond)

	require.NoError(t, r.Start(context.Background()), "a runner whose context ended can start again")
	r.Stop()
}

func TestRunnerGeometry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Geometry = NewGeometry(1600, 1200)
	r := NewRunner(NewWorld(cfg, nil), 0)

	assert.Equal(t, 2.0, r.Geometry().Scale)
	assert.Equal(t, DefaultFrameInterval, r.interval)
	assert.Zero(t, r.Snapshot().Frame)
}
