package simulation

import "github.com/smartcity/intersection-sim/internal/domain"

// MayProceed reports whether a vehicle travelling dir may pass its stop line.
// Only green proceeds; red, yellow and any unrecognised value stop.
func MayProceed(signal domain.SignalState, dir domain.Direction) bool {
	return signal.For(dir.Axis()) == domain.ColorGreen
}
