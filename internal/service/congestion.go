package service

import (
	"math"

	"github.com/smartcity/intersection-sim/internal/domain"
	"github.com/smartcity/intersection-sim/internal/simulation"
	"github.com/smartcity/intersection-sim/pkg/utils"
)

const freeFlowSpeed = 60.0

// CongestionMeter turns simulator stats into approach densities
type CongestionMeter struct {
	laneCapacity float64 // vehicles that fit in one demand zone
}

// NewCongestionMeter sizes the meter to the demand zones of geom
func NewCongestionMeter(geom simulation.Geometry) *CongestionMeter {
	spacing := 60 * geom.Scale
	capacity := 1.0
	if spacing > 0 {
		capacity = math.Max(1, math.Floor(geom.DemandDepth/spacing))
	}
	return &CongestionMeter{laneCapacity: capacity}
}

// Occupancy returns how full dir's demand zone is, 0 to 100
func (m *CongestionMeter) Occupancy(stats domain.Stats, dir domain.Direction) int {
	return int(math.Round(utils.Clamp(100*float64(stats.Approaching[dir])/m.laneCapacity, 0, 100)))
}

// Densities returns the occupancy of every approach
func (m *CongestionMeter) Densities(stats domain.Stats) map[domain.Direction]int {
	out := make(map[domain.Direction]int, len(domain.Directions))
	for _, dir := range domain.Directions {
		out[dir] = m.Occupancy(stats, dir)
	}
	return out
}

// Peak returns the fuller of the two approaches of axis
func (m *CongestionMeter) Peak(stats domain.Stats, axis domain.Axis) int {
	peak := 0
	for _, dir := range approaches(axis) {
		if o := m.Occupancy(stats, dir); o > peak {
			peak = o
		}
	}
	return peak
}

// Waiting returns the combined occupancy of both approaches of axis, 0 to 200
func (m *CongestionMeter) Waiting(stats domain.Stats, axis domain.Axis) int {
	total := 0
	for _, dir := range approaches(axis) {
		total += m.Occupancy(stats, dir)
	}
	return total
}

// Assess returns a congestion reading of the whole intersection
func (m *CongestionMeter) Assess(stats domain.Stats) domain.Congestion {
	sum := 0
	for _, dir := range domain.Directions {
		sum += m.Occupancy(stats, dir)
	}
	index := float64(sum) / float64(len(domain.Directions))

	return domain.Congestion{
		Index:         utils.RoundTo(index, 1),
		Level:         congestionLevel(index),
		AverageSpeed:  utils.RoundTo(freeFlowSpeed*(1-index/100), 1),
		FreeFlowSpeed: freeFlowSpeed,
	}
}

func approaches(axis domain.Axis) []domain.Direction {
	if axis == domain.AxisNS {
		return []domain.Direction{domain.North, domain.South}
	}
	return []domain.Direction{domain.East, domain.West}
}

// congestionLevel returns human-readable level
func congestionLevel(index float64) string {
	switch {
	case index >= 80:
		return "Severe"
	case index >= 60:
		return "Heavy"
	case index >= 40:
		return "Moderate"
	case index >= 20:
		return "Light"
	default:
		return "Free Flow"
	}
}
