package simulation

import (
	"github.com/smartcity/intersection-sim/internal/domain"
)

// Direction shorthands
const (
	North = domain.North
	South = domain.South
	East  = domain.East
	West  = domain.West
)

// Reference canvas all default constants are expressed on
const (
	CanvasWidth  = 800.0
	CanvasHeight = 600.0
)

// Geometry describes a four-way crossing. It is computed once and never mutated.
type Geometry struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	// Scale relates this surface to the 800x600 reference canvas
	Scale float64 `json:"scale"`

	RoadWidth      float64 `json:"road_width"`
	LaneOffset     float64 `json:"lane_offset"`      // lateral distance from road center to lane center
	StopLineGap    float64 `json:"stop_line_gap"`    // stop line sits this far before the road edge
	ApproachBuffer float64 `json:"approach_buffer"`  // window before the stop line where lights are obeyed
	DemandDepth    float64 `json:"demand_depth"`     // window before the road edge that raises demand
	EntryMargin    float64 `json:"entry_margin"`     // spawn distance outside the visible bounds
	CleanupMargin  float64 `json:"cleanup_margin"`   // removal distance outside the visible bounds
	SpawnJitter    float64 `json:"spawn_jitter"`     // total lateral spread at spawn
	CrosswalkDepth float64 `json:"crosswalk_depth"`
}

// DefaultGeometry returns the geometry of the 800x600 reference canvas
func DefaultGeometry() Geometry {
	return NewGeometry(CanvasWidth, CanvasHeight)
}

// NewGeometry scales the reference constants to a width x height surface
func NewGeometry(width, height float64) Geometry {
	if width <= 0 || height <= 0 {
		width, height = CanvasWidth, CanvasHeight
	}
	s := width / CanvasWidth
	if hs := height / CanvasHeight; hs < s {
		s = hs
	}
	return Geometry{
		Width:          width,
		Height:         height,
		CenterX:        width / 2,
		CenterY:        height / 2,
		Scale:          s,
		RoadWidth:      140 * s,
		LaneOffset:     30 * s,
		StopLineGap:    10 * s,
		ApproachBuffer: 140 * s,
		DemandDepth:    250 * s,
		EntryMargin:    60 * s,
		CleanupMargin:  100 * s,
		SpawnJitter:    10 * s,
		CrosswalkDepth: 40 * s,
	}
}

// roadEdge is the coordinate where a direction's approach meets the crossing box
func (g Geometry) roadEdge(dir domain.Direction) float64 {
	half := g.RoadWidth / 2
	switch dir {
	case South:
		return g.CenterY - half
	case North:
		return g.CenterY + half
	case East:
		return g.CenterX - half
	default:
		return g.CenterX + half
	}
}

// StopLine returns the coordinate on the travel axis at which dir must halt
func (g Geometry) StopLine(dir domain.Direction) float64 {
	switch dir {
	case South, East:
		return g.roadEdge(dir) - g.StopLineGap
	default:
		return g.roadEdge(dir) + g.StopLineGap
	}
}

// Progress is the position of (x, y) measured along the direction of travel
func Progress(dir domain.Direction, x, y float64) float64 {
	dx, dy := dir.Vector()
	return x*dx + y*dy
}

// DistanceToStopLine is positive while the stop line is still ahead
func (g Geometry) DistanceToStopLine(dir domain.Direction, x, y float64) float64 {
	return distanceAhead(dir, g.StopLine(dir), x, y)
}

// InApproachBuffer reports whether (x, y) lies in the window before dir's stop line
func (g Geometry) InApproachBuffer(dir domain.Direction, x, y float64) bool {
	d := g.DistanceToStopLine(dir, x, y)
	return d > 0 && d < g.ApproachBuffer
}

// InDemandZone reports whether (x, y) lies in dir's approach-side detection window
func (g Geometry) InDemandZone(dir domain.Direction, x, y float64) bool {
	d := distanceAhead(dir, g.roadEdge(dir), x, y)
	return d > 0 && d < g.DemandDepth
}

// Demands reports whether a vehicle of dir at (x, y) should request a green under signal
func (g Geometry) Demands(dir domain.Direction, x, y float64, signal domain.SignalState) bool {
	return g.InDemandZone(dir, x, y) && !MayProceed(signal, dir)
}

// OutOfBounds reports whether (x, y) is past the visible surface plus the cleanup margin
func (g Geometry) OutOfBounds(x, y float64) bool {
	m := g.CleanupMargin
	return !(x > -m && x < g.Width+m && y > -m && y < g.Height+m)
}

// LaneCenter returns the fixed lateral coordinate of dir's lane
func (g Geometry) LaneCenter(dir domain.Direction) float64 {
	switch dir {
	case North:
		return g.CenterX + g.LaneOffset
	case South:
		return g.CenterX - g.LaneOffset
	case East:
		return g.CenterY + g.LaneOffset
	default:
		return g.CenterY - g.LaneOffset
	}
}

// EntryPoint returns the spawn position of dir shifted laterally by jitter
func (g Geometry) EntryPoint(dir domain.Direction, jitter float64) (x, y float64) {
	lane := g.LaneCenter(dir) + jitter
	switch dir {
	case North:
		return lane, g.Height + g.EntryMargin
	case South:
		return lane, -g.EntryMargin
	case East:
		return -g.EntryMargin, lane
	default:
		return g.Width + g.EntryMargin, lane
	}
}

// BeforeStopLine returns the lane-center position distance units before dir's stop line
func (g Geometry) BeforeStopLine(dir domain.Direction, distance float64) (x, y float64) {
	lane := g.LaneCenter(dir)
	stop := g.StopLine(dir)
	switch dir {
	case North:
		return lane, stop + distance
	case South:
		return lane, stop - distance
	case East:
		return stop - distance, lane
	default:
		return stop + distance, lane
	}
}

// distanceAhead is how far the travel-axis coordinate line lies ahead of (x, y)
func distanceAhead(dir domain.Direction, line, x, y float64) float64 {
	switch dir {
	case South:
		return line - y
	case North:
		return y - line
	case East:
		return line - x
	default:
		return x - line
	}
}
