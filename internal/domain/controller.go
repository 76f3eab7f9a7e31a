package domain

import "time"

// ControllerStatus is the lifecycle state of the phase controller
type ControllerStatus string

const (
	StatusInitializing   ControllerStatus = "INITIALIZING"
	StatusCounting       ControllerStatus = "COUNTING"
	StatusWaitingBackend ControllerStatus = "WAITING_BACKEND"
	StatusError          ControllerStatus = "ERROR"
)

// PhaseStep is the part of a phase the active axis is in
type PhaseStep string

const (
	StepGreen  PhaseStep = "green"
	StepYellow PhaseStep = "yellow"
)

// FailsafeMode overrides the normal cycle
type FailsafeMode string

const (
	ModeNormal      FailsafeMode = "normal"
	ModeFlashYellow FailsafeMode = "flash-yellow"
	ModeAllRed      FailsafeMode = "all-red"
)

// Valid reports whether m is a known mode
func (m FailsafeMode) Valid() bool {
	switch m {
	case ModeNormal, ModeFlashYellow, ModeAllRed:
		return true
	}
	return false
}

// EmergencyType is a preempting vehicle class
type EmergencyType string

const (
	EmergencyAmbulance EmergencyType = "AMBULANCE"
	EmergencyFire      EmergencyType = "FIRE"
	EmergencyPolice    EmergencyType = "POLICE"
)

// Axis returns the axis an emergency vehicle of this type approaches on
func (e EmergencyType) Axis() (Axis, bool) {
	switch e {
	case EmergencyAmbulance, EmergencyFire:
		return AxisNS, true
	case EmergencyPolice:
		return AxisEW, true
	}
	return "", false
}

// ControllerState is a point-in-time view of the phase controller
type ControllerState struct {
	Status    ControllerStatus `json:"status"`
	Active    Axis             `json:"active_axis"`
	Step      PhaseStep        `json:"step"`
	TimeLeft  int              `json:"time_left"`
	GapOut    bool             `json:"gap_out"`
	Emergency EmergencyType    `json:"emergency,omitempty"`
	Mode      FailsafeMode     `json:"mode"`
	Signal    SignalState      `json:"signal"`
	SpawnRate float64          `json:"spawn_rate"`
	// Density is the occupancy of each approach, 0 to 100
	Density map[Direction]int `json:"density"`
}

// LogEntry is one line of the controller event log
type LogEntry struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
}
