package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/fleet-telemetry-ingest/internal/db"
)

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindDeviceByAPIKey returns the device owning apiKey, or nil when none does.
// The comparison is an exact, case-sensitive text match.
func (r *Repository) FindDeviceByAPIKey(ctx context.Context, apiKey string) (*db.Device, error) {
	query := `
		SELECT id, api_key, machine_id
		FROM devices
		WHERE api_key = $1
	`

	var device db.Device
	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&device.ID,
		&device.APIKey,
		&device.AssetID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	return &device, nil
}

// LastReading returns the most recent reading for a device, or nil when the
// device has never reported.
func (r *Repository) LastReading(ctx context.Context, deviceID uuid.UUID) (*db.TelemetryReading, error) {
	query := `
		SELECT id, device_id, timestamp, gps_lat, gps_lng, fuel_level_percent,
			engine_rpm, speed_kmh, engine_hours_total, is_ignition_on
		FROM telemetry
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var reading db.TelemetryReading
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&reading.ID,
		&reading.DeviceID,
		&reading.Timestamp,
		&reading.GPSLat,
		&reading.GPSLng,
		&reading.FuelLevelPercent,
		&reading.EngineRPM,
		&reading.SpeedKmh,
		&reading.EngineHoursTotal,
		&reading.IgnitionOn,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last reading: %w", err)
	}

	return &reading, nil
}

// InsertReading appends a reading and fills in its generated ID. There is no
// deduplication: identical readings produce distinct rows.
func (r *Repository) InsertReading(ctx context.Context, reading *db.TelemetryReading) error {
	query := `
		INSERT INTO telemetry (
			device_id, timestamp, gps_lat, gps_lng, fuel_level_percent,
			engine_rpm, speed_kmh, engine_hours_total, is_ignition_on
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		reading.DeviceID,
		reading.Timestamp,
		reading.GPSLat,
		reading.GPSLng,
		reading.FuelLevelPercent,
		reading.EngineRPM,
		reading.SpeedKmh,
		reading.EngineHoursTotal,
		reading.IgnitionOn,
	).Scan(&reading.ID)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry reading: %w", err)
	}

	return nil
}

// InsertFuelAlert records a detected fuel anomaly
func (r *Repository) InsertFuelAlert(ctx context.Context, alert *db.FuelAlert) error {
	query := `
		INSERT INTO fuel_alerts (
			id, device_id, machine_id, reading_timestamp, previous_fuel_percent,
			current_fuel_percent, fuel_drop_percent, elapsed_seconds, detection_mode, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		alert.ID,
		alert.DeviceID,
		alert.AssetID,
		alert.ReadingTimestamp,
		alert.PreviousFuelPercent,
		alert.CurrentFuelPercent,
		alert.FuelDropPercent,
		alert.ElapsedSeconds,
		alert.DetectionMode,
		alert.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fuel alert: %w", err)
	}

	return nil
}

// Ping checks database reachability for the readiness endpoint
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
