package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stats is the aggregate emitted by the simulator on its throttled schedule
type Stats struct {
	Frame         uint64            `json:"frame"`
	ActiveCount   int               `json:"active_count"`
	TotalWaitTime float64           `json:"total_wait_time"`
	TotalSpawned  uint64            `json:"total_spawned"`
	Approaching   map[Direction]int `json:"approaching"` // vehicles inside their demand zone
	Queued        map[Direction]int `json:"queued"`      // stopped vehicles
}

// StatsSample is a persisted stats record together with the demand seen since the previous sample
type StatsSample struct {
	RunID      uuid.UUID `json:"run_id"`
	Stats      Stats     `json:"stats"`
	DemandNS   int       `json:"demand_ns"`
	DemandEW   int       `json:"demand_ew"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Congestion is a coarse reading of the intersection load
type Congestion struct {
	Index         float64 `json:"congestion_index"`
	Level         string  `json:"congestion_level"`
	AverageSpeed  float64 `json:"average_speed"`
	FreeFlowSpeed float64 `json:"free_flow_speed"`
}

// OptimizationRequest is the body sent to the signal optimization backend
type OptimizationRequest struct {
	IntersectionID int64   `json:"intersectionId"`
	VehicleCount   int     `json:"vehicleCount"`
	AverageSpeed   float64 `json:"averageSpeed"`
	Direction      string  `json:"direction"`
}

// OptimizationResponse is the subset of the backend answer the controller needs
type OptimizationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details *struct {
		PreviousGreenDuration int    `json:"previousGreenDuration"`
		NewGreenDuration      int    `json:"newGreenDuration"`
		Reason                string `json:"reason"`
	} `json:"details"`
}

// OptimizationResult is the green duration chosen for the next phase
type OptimizationResult struct {
	GreenSeconds int    `json:"green_seconds"`
	Reason       string `json:"reason"`
	IsMock       bool   `json:"is_mock"`
}

// PhaseDecision records one green phase handed to the simulator
type PhaseDecision struct {
	RunID        uuid.UUID `json:"run_id"`
	Axis         Axis      `json:"axis"`
	GreenSeconds int       `json:"green_seconds"`
	VehicleCount int       `json:"vehicle_count"`
	IsMock       bool      `json:"is_mock"`
	Reason       string    `json:"reason"`
	DecidedAt    time.Time `json:"decided_at"`
}

// DashboardData aggregates the live view of the intersection
type DashboardData struct {
	RunID      uuid.UUID       `json:"run_id"`
	Controller ControllerState `json:"controller"`
	Stats      *Stats          `json:"stats,omitempty"`
	Congestion *Congestion     `json:"congestion,omitempty"`
	Decisions  []PhaseDecision `json:"recent_decisions"`
	Storage    string          `json:"storage"`
	Timestamp  time.Time       `json:"timestamp"`
}
