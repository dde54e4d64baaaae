package anomaly

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/fleet-telemetry-ingest/internal/db"
)

// Mode selects the fuel-drop heuristic.
type Mode string

const (
	// ModeAbsolute flags any drop above the threshold regardless of elapsed
	// time between readings. Default.
	ModeAbsolute Mode = "absolute"
	// ModeRate additionally requires the drop to exceed a percent-per-hour
	// rate, suppressing slow drains spread over long reporting gaps.
	ModeRate Mode = "rate"
)

// Reading is the subset of a candidate reading the detector needs.
type Reading struct {
	DeviceID         uuid.UUID
	AssetID          uuid.UUID
	Timestamp        time.Time
	FuelLevelPercent float64
	EngineRPM        int
}

// Event is a suspected fuel theft or leak.
type Event struct {
	ID                  uuid.UUID
	DeviceID            uuid.UUID
	AssetID             uuid.UUID
	ReadingTimestamp    time.Time
	PreviousFuelPercent float64
	CurrentFuelPercent  float64
	FuelDropPercent     float64
	Elapsed             time.Duration
	Mode                Mode
	DetectedAt          time.Time
}

// Description returns a human readable summary for logs and notifications.
func (e *Event) Description() string {
	return fmt.Sprintf("fuel dropped %.2f%% (%.2f%% -> %.2f%%) over %s",
		e.FuelDropPercent, e.PreviousFuelPercent, e.CurrentFuelPercent, e.Elapsed)
}

// Result is the classification of one reading.
type Result struct {
	IgnitionOn bool
	Event      *Event
}

// Detector classifies readings with configurable thresholds. It holds no
// state between calls.
type Detector struct {
	mode                Mode
	ignitionRPM         int
	fuelDropThreshold   float64
	fuelDropRatePerHour float64
	now                 func() time.Time
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(mode Mode, ignitionRPM int, fuelDropThreshold, fuelDropRatePerHour float64) *Detector {
	if mode != ModeRate {
		mode = ModeAbsolute
	}
	return &Detector{
		mode:                mode,
		ignitionRPM:         ignitionRPM,
		fuelDropThreshold:   fuelDropThreshold,
		fuelDropRatePerHour: fuelDropRatePerHour,
		now:                 time.Now,
	}
}

// Evaluate derives ignition state for current and compares its fuel level
// against previous. A nil previous is a cold start and never produces an
// event.
func (d *Detector) Evaluate(previous *db.TelemetryReading, current Reading) Result {
	result := Result{IgnitionOn: current.EngineRPM > d.ignitionRPM}

	if previous == nil {
		return result
	}

	drop := previous.FuelLevelPercent - current.FuelLevelPercent
	if drop <= d.fuelDropThreshold {
		return result
	}

	elapsed := current.Timestamp.Sub(previous.Timestamp)
	if d.mode == ModeRate && !d.exceedsRate(drop, elapsed) {
		return result
	}

	result.Event = &Event{
		ID:                  uuid.New(),
		DeviceID:            current.DeviceID,
		AssetID:             current.AssetID,
		ReadingTimestamp:    current.Timestamp,
		PreviousFuelPercent: previous.FuelLevelPercent,
		CurrentFuelPercent:  current.FuelLevelPercent,
		FuelDropPercent:     drop,
		Elapsed:             elapsed,
		Mode:                d.mode,
		DetectedAt:          d.now().UTC(),
	}
	return result
}

// exceedsRate treats a non-positive elapsed time as an unbounded rate, so
// rate mode never flags less than absolute mode on the same drop.
func (d *Detector) exceedsRate(drop float64, elapsed time.Duration) bool {
	if elapsed <= 0 {
		return true
	}
	return drop/elapsed.Hours() > d.fuelDropRatePerHour
}
