package service

import (
	"github.com/smartcity/intersection-sim/internal/domain"
)

// DataRepository is re-exported from domain for convenience
type DataRepository = domain.SimulationRepository
