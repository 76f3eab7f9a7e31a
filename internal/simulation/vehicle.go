package simulation

import (
	"fmt"
	"math"

	"github.com/smartcity/intersection-sim/internal/domain"
)

// VehicleClass drives the length and following distance of a vehicle
type VehicleClass int

const (
	ClassCar VehicleClass = iota
	ClassTruck
)

var vehicleClassNames = map[VehicleClass]string{
	ClassCar:   "CAR",
	ClassTruck: "TRUCK",
}

func (c VehicleClass) String() string {
	if name, ok := vehicleClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("VehicleClass(%d)", int(c))
}

func (c VehicleClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *VehicleClass) UnmarshalText(text []byte) error {
	for class, name := range vehicleClassNames {
		if name == string(text) {
			*c = class
			return nil
		}
	}
	return fmt.Errorf("simulation: unknown vehicle class %q", text)
}

// classSpec holds the per-class constants on the reference canvas
type classSpec struct {
	length       float64
	safeDistance float64
}

var classSpecs = map[VehicleClass]classSpec{
	ClassCar:   {length: 44, safeDistance: 60},
	ClassTruck: {length: 70, safeDistance: 80},
}

// Kinematic constants on the reference canvas, per tick
const (
	defaultAcceleration = 0.15
	defaultBrakeRate    = 0.3
	maxSpeedHeadroom    = 1.0
	stoppedThreshold    = 0.1
)

// Vehicle is one simulated agent. Only the World mutates it.
type Vehicle struct {
	ID        uint64           `json:"id"`
	Direction domain.Direction `json:"direction"`
	Class     VehicleClass     `json:"class"`
	Color     string           `json:"color"`

	X float64 `json:"x"`
	Y float64 `json:"y"`

	Speed        float64 `json:"speed"`
	MaxSpeed     float64 `json:"max_speed"`
	Acceleration float64 `json:"acceleration"`
	BrakeRate    float64 `json:"brake_rate"`

	Length       float64 `json:"length"`
	SafeDistance float64 `json:"safe_distance"`

	Stopped   bool    `json:"stopped"`
	WaitTime  float64 `json:"wait_time"`
	Demanding bool    `json:"demanding"`
}

// peerView is a vehicle's tick-start position as seen by its followers
type peerView struct {
	id           uint64
	progress     float64
	safeDistance float64
}

func newVehicle(id uint64, dir domain.Direction, class VehicleClass, x, y, speed, maxSpeed, scale float64) *Vehicle {
	spec, ok := classSpecs[class]
	if !ok {
		class, spec = ClassCar, classSpecs[ClassCar]
	}
	return &Vehicle{
		ID:           id,
		Direction:    dir,
		Class:        class,
		X:            x,
		Y:            y,
		Speed:        speed,
		MaxSpeed:     maxSpeed,
		Acceleration: defaultAcceleration * scale,
		BrakeRate:    defaultBrakeRate * scale,
		Length:       spec.length * scale,
		SafeDistance: spec.safeDistance * scale,
	}
}

// Progress is the vehicle position along its direction of travel
func (v *Vehicle) Progress() float64 {
	return Progress(v.Direction, v.X, v.Y)
}

func (v *Vehicle) view() peerView {
	return peerView{id: v.ID, progress: v.Progress(), safeDistance: v.SafeDistance}
}

// Braking reports whether brake lights are lit
func (v *Vehicle) Braking() bool {
	return v.Stopped || v.Speed < 1
}

// mustStop decides whether the vehicle brakes this tick.
// peers should hold the vehicles sharing its direction; others are ignored.
func (v *Vehicle) mustStop(signal domain.SignalState, peers []peerView, geom *Geometry) bool {
	if geom.InApproachBuffer(v.Direction, v.X, v.Y) && !MayProceed(signal, v.Direction) {
		return true
	}
	own := v.Progress()
	for _, p := range peers {
		if p.id == v.ID {
			continue
		}
		gap := p.progress - own
		if gap <= 0 {
			continue
		}
		// a truck on either end of the pair widens the gap
		if gap < math.Max(v.SafeDistance, p.safeDistance) {
			return true
		}
	}
	return false
}

// update advances the vehicle by one tick of tickSeconds simulated time
func (v *Vehicle) update(signal domain.SignalState, peers []peerView, geom *Geometry, tickSeconds float64) {
	if v.mustStop(signal, peers, geom) {
		v.Speed = math.Max(0, v.Speed-v.BrakeRate)
		v.Stopped = v.Speed < stoppedThreshold
		if v.Stopped {
			v.WaitTime += tickSeconds
		}
	} else {
		v.Speed = math.Min(v.MaxSpeed, v.Speed+v.Acceleration)
		v.Stopped = false
	}

	dx, dy := v.Direction.Vector()
	v.X += dx * v.Speed
	v.Y += dy * v.Speed
}
