package domain

// Color is the lit lamp of one signal axis. Values other than the three
// constants are accepted and treated as stop.
type Color string

const (
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
)

// Axis identifies one of the two traffic streams through the intersection
type Axis string

const (
	AxisNS Axis = "NS"
	AxisEW Axis = "EW"
)

// Other returns the crossing axis
func (a Axis) Other() Axis {
	if a == AxisNS {
		return AxisEW
	}
	return AxisNS
}

// APIDirection is the approach name the optimization backend expects for the axis
func (a Axis) APIDirection() string {
	if a == AxisNS {
		return "NORTH"
	}
	return "EAST"
}

// Valid reports whether a is one of the two known axes
func (a Axis) Valid() bool {
	return a == AxisNS || a == AxisEW
}

// SignalState is the light pair supplied to the simulator.
// The two axes are never both green in normal operation, but nothing here enforces it.
type SignalState struct {
	NS Color `json:"NS"`
	EW Color `json:"EW"`
}

// For returns the color shown to the given axis
func (s SignalState) For(axis Axis) Color {
	if axis == AxisNS {
		return s.NS
	}
	return s.EW
}

// AllRed is the clearance state used while no phase is active
var AllRed = SignalState{NS: ColorRed, EW: ColorRed}

// Direction is the compass direction a vehicle travels in
type Direction string

const (
	North Direction = "N"
	South Direction = "S"
	East  Direction = "E"
	West  Direction = "W"
)

// Directions lists every direction in spawn order
var Directions = []Direction{North, South, East, West}

// Valid reports whether d is one of the four compass directions
func (d Direction) Valid() bool {
	switch d {
	case North, South, East, West:
		return true
	}
	return false
}

// Axis returns the signal axis that governs d
func (d Direction) Axis() Axis {
	if d == East || d == West {
		return AxisEW
	}
	return AxisNS
}

// Vector returns the unit step of travel in canvas coordinates (y grows downward)
func (d Direction) Vector() (dx, dy float64) {
	switch d {
	case North:
		return 0, -1
	case South:
		return 0, 1
	case East:
		return 1, 0
	case West:
		return -1, 0
	}
	return 0, 0
}
