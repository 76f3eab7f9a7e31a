package simulation

import (
	"testing"

	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStopLines(t *testing.T) {
	g := DefaultGeometry()

	cases := []struct {
		dir  domain.Direction
		want float64
	}{
		{South, 220},
		{North, 380},
		{East, 320},
		{West, 480},
	}
	for _, tc := range cases {
		t.Run(string(tc.dir), func(t *testing.T) {
			assert.InDelta(t, tc.want, g.StopLine(tc.dir), 1e-9)
		})
	}
}

func TestApproachBuffer(t *testing.T) {
	g := DefaultGeometry()

	assert.True(t, g.InApproachBuffer(South, 370, 200))
	assert.False(t, g.InApproachBuffer(South, 370, 60), "farther than the buffer")
	assert.False(t, g.InApproachBuffer(South, 370, 230), "already past the line")
	assert.True(t, g.InApproachBuffer(North, 430, 400))
	assert.True(t, g.InApproachBuffer(East, 300, 330))
	assert.True(t, g.InApproachBuffer(West, 500, 270))
	assert.False(t, g.InApproachBuffer(West, 470, 270))
}

func TestDemandZone(t *testing.T) {
	g := DefaultGeometry()

	assert.True(t, g.InDemandZone(South, 370, 100))
	assert.False(t, g.InDemandZone(South, 370, -30), "beyond the zone depth")
	assert.False(t, g.InDemandZone(South, 370, 240), "inside the crossing")
	assert.True(t, g.InDemandZone(North, 430, 500))
	assert.True(t, g.InDemandZone(East, 100, 330))
	assert.True(t, g.InDemandZone(West, 700, 270))

	red := domain.AllRed
	green := domain.SignalState{NS: domain.ColorGreen, EW: domain.ColorRed}
	assert.True(t, g.Demands(South, 370, 100, red))
	assert.False(t, g.Demands(South, 370, 100, green))
	assert.True(t, g.Demands(East, 100, 330, green))
}

func TestOutOfBounds(t *testing.T) {
	g := DefaultGeometry()

	assert.False(t, g.OutOfBounds(-99, 300))
	assert.True(t, g.OutOfBounds(-101, 300))
	assert.True(t, g.OutOfBounds(400, 701))
	assert.False(t, g.OutOfBounds(899, 699))
	assert.True(t, g.OutOfBounds(900, 300))
}

func TestEntryPoints(t *testing.T) {
	g := DefaultGeometry()

	x, y := g.EntryPoint(North, 0)
	assert.Equal(t, []float64{430, 660}, []float64{x, y})
	x, y = g.EntryPoint(South, 2)
	assert.Equal(t, []float64{372, -60}, []float64{x, y})
	x, y = g.EntryPoint(East, 0)
	assert.Equal(t, []float64{-60, 330}, []float64{x, y})
	x, y = g.EntryPoint(West, 0)
	assert.Equal(t, []float64{860, 270}, []float64{x, y})

	for _, dir := range domain.Directions {
		x, y := g.EntryPoint(dir, 0)
		assert.False(t, g.OutOfBounds(x, y), "entry point of %s must survive cleanup", dir)
	}
}

func TestBeforeStopLine(t *testing.T) {
	g := DefaultGeometry()
	for _, dir := range domain.Directions {
		x, y := g.BeforeStopLine(dir, 75)
		assert.InDelta(t, 75, g.DistanceToStopLine(dir, x, y), 1e-9, string(dir))
	}
}

func TestScaledGeometry(t *testing.T) {
	g := NewGeometry(1600, 1200)

	assert.Equal(t, 2.0, g.Scale)
	assert.InDelta(t, 440, g.StopLine(South), 1e-9)
	assert.InDelta(t, 280, g.ApproachBuffer, 1e-9)
	assert.Equal(t, DefaultGeometry(), NewGeometry(0, -1))
}

func TestMayProceed(t *testing.T) {
	cases := []struct {
		name   string
		signal domain.SignalState
		dir    domain.Direction
		want   bool
	}{
		{"green NS south", domain.SignalState{NS: domain.ColorGreen, EW: domain.ColorRed}, South, true},
		{"green NS east", domain.SignalState{NS: domain.ColorGreen, EW: domain.ColorRed}, East, false},
		{"yellow stops", domain.SignalState{NS: domain.ColorYellow, EW: domain.ColorRed}, North, false},
		{"both green tolerated", domain.SignalState{NS: domain.ColorGreen, EW: domain.ColorGreen}, West, true},
		{"unknown color stops", domain.SignalState{NS: "purple", EW: ""}, South, false},
		{"empty state stops", domain.SignalState{}, East, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MayProceed(tc.signal, tc.dir))
		})
	}
}
