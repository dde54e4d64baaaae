package db

import (
	"time"

	"github.com/google/uuid"
)

// Device represents a provisioned tracking unit bound to one fleet asset
type Device struct {
	ID      uuid.UUID
	APIKey  string
	AssetID uuid.UUID
}

// TelemetryReading represents one row of the append-only telemetry log
type TelemetryReading struct {
	ID               int64
	DeviceID         uuid.UUID
	Timestamp        time.Time
	GPSLat           float64
	GPSLng           float64
	FuelLevelPercent float64
	EngineRPM        int
	SpeedKmh         float64
	EngineHoursTotal float64
	IgnitionOn       bool
}

// FuelAlert represents a persisted suspected fuel theft or leak
type FuelAlert struct {
	ID                  uuid.UUID
	DeviceID            uuid.UUID
	AssetID             uuid.UUID
	ReadingTimestamp    time.Time
	PreviousFuelPercent float64
	CurrentFuelPercent  float64
	FuelDropPercent     float64
	ElapsedSeconds      float64
	DetectionMode       string
	DetectedAt          time.Time
}
