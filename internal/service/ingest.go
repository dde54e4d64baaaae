package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/fleet-telemetry-ingest/internal/alert"
	"github.com/septivank/fleet-telemetry-ingest/internal/anomaly"
	"github.com/septivank/fleet-telemetry-ingest/internal/credential"
	"github.com/septivank/fleet-telemetry-ingest/internal/db"
	"github.com/septivank/fleet-telemetry-ingest/internal/lock"
	"github.com/septivank/fleet-telemetry-ingest/internal/logging"
	"github.com/septivank/fleet-telemetry-ingest/internal/validator"
)

// TelemetryStore is the append-only reading log
type TelemetryStore interface {
	LastReading(ctx context.Context, deviceID uuid.UUID) (*db.TelemetryReading, error)
	InsertReading(ctx context.Context, reading *db.TelemetryReading) error
}

// IngestRequest is one device submission
type IngestRequest struct {
	RequestID string
	APIKey    string
	Body      []byte
}

// Result describes an accepted reading
type Result struct {
	Reading *db.TelemetryReading
	Anomaly *anomaly.Event
}

// IngestService authenticates, validates, classifies and persists readings.
// It keeps no state between calls.
type IngestService struct {
	resolver  *credential.Resolver
	validator *validator.Validator
	detector  *anomaly.Detector
	store     TelemetryStore
	alerts    alert.Sink
	locker    lock.Locker
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestService creates a new ingest service
func NewIngestService(
	resolver *credential.Resolver,
	validator *validator.Validator,
	detector *anomaly.Detector,
	store TelemetryStore,
	alerts alert.Sink,
	locker lock.Locker,
	logger *zap.Logger,
) *IngestService {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &IngestService{
		resolver:  resolver,
		validator: validator,
		detector:  detector,
		store:     store,
		alerts:    alerts,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest runs one submission through the pipeline. Returned errors are
// credential.ErrMissingCredential, credential.ErrInvalidCredential,
// *validator.ValidationError or *StorageError. Alert failures are never
// returned.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*Result, error) {
	reqLogger := logging.WithRequestID(s.logger, req.RequestID)
	receivedAt := s.now().UTC()

	device, err := s.resolver.Resolve(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, credential.ErrMissingCredential) || errors.Is(err, credential.ErrInvalidCredential) {
			reqLogger.Info("device credential rejected", zap.Error(err))
			return nil, err
		}
		reqLogger.Error("device lookup failed", zap.Error(err))
		return nil, newStorageError("resolve device", err)
	}

	reqLogger = reqLogger.With(
		zap.String("device_id", device.ID.String()),
		zap.String("asset_id", device.AssetID.String()),
	)

	candidate, err := s.validator.ValidatePayload(req.Body, receivedAt)
	if err != nil {
		reqLogger.Info("telemetry payload rejected", zap.Error(err))
		return nil, err
	}

	result, err := s.detectAndPersist(ctx, reqLogger, device, candidate)
	if err != nil {
		return nil, err
	}

	if result.Anomaly != nil {
		s.emitAlert(ctx, reqLogger, result.Anomaly)
	}

	reqLogger.Info("telemetry reading accepted",
		zap.Int64("reading_id", result.Reading.ID),
		zap.Bool("ignition_on", result.Reading.IgnitionOn),
		zap.Bool("anomaly", result.Anomaly != nil),
	)

	return result, nil
}

// detectAndPersist holds the per-device lock across the read-compare-write so
// concurrent readings from one device see each other when locking is enabled.
func (s *IngestService) detectAndPersist(ctx context.Context, logger *zap.Logger, device *db.Device, candidate *validator.Candidate) (*Result, error) {
	release, err := s.locker.Acquire(ctx, device.ID.String())
	if err != nil {
		logger.Warn("per-device lock unavailable, proceeding unserialized", zap.Error(err))
		release = func() {}
	}
	defer release()

	previous, err := s.store.LastReading(ctx, device.ID)
	if err != nil {
		logger.Warn("failed to read previous reading, skipping anomaly detection", zap.Error(err))
		previous = nil
	}

	timestamp := s.now().UTC()
	if candidate.Timestamp != nil {
		timestamp = *candidate.Timestamp
	}

	classified := s.detector.Evaluate(previous, anomaly.Reading{
		DeviceID:         device.ID,
		AssetID:          device.AssetID,
		Timestamp:        timestamp,
		FuelLevelPercent: candidate.FuelLevel,
		EngineRPM:        candidate.EngineRPM,
	})

	reading := &db.TelemetryReading{
		DeviceID:         device.ID,
		Timestamp:        timestamp,
		GPSLat:           candidate.GPSLat,
		GPSLng:           candidate.GPSLng,
		FuelLevelPercent: candidate.FuelLevel,
		EngineRPM:        candidate.EngineRPM,
		SpeedKmh:         candidate.Speed,
		EngineHoursTotal: candidate.EngineHours,
		IgnitionOn:       classified.IgnitionOn,
	}

	if err := s.store.InsertReading(ctx, reading); err != nil {
		logger.Error("failed to insert telemetry reading", zap.Error(err))
		return nil, newStorageError("insert reading", err)
	}

	return &Result{Reading: reading, Anomaly: classified.Event}, nil
}

func (s *IngestService) emitAlert(ctx context.Context, logger *zap.Logger, event *anomaly.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("alert sink panicked", zap.Any("panic", r))
		}
	}()

	if s.alerts == nil {
		return
	}
	if err := s.alerts.Emit(ctx, event); err != nil {
		logger.Error("failed to emit fuel alert", zap.Error(&AlertEmissionError{DeviceID: event.DeviceID, Err: err}))
	}
}

// QueuedReading is the envelope gateways publish to the ingest queue
type QueuedReading struct {
	RequestID string          `json:"request_id"`
	APIKey    string          `json:"api_key"`
	Payload   json.RawMessage `json:"payload"`
}

// ProcessMessage runs a queued reading through Ingest. It satisfies
// mq.MessageHandler.
func (s *IngestService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg QueuedReading
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	_, err := s.Ingest(ctx, IngestRequest{
		RequestID: msg.RequestID,
		APIKey:    msg.APIKey,
		Body:      msg.Payload,
	})
	return err
}
