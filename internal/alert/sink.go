package alert

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/septivank/fleet-telemetry-ingest/internal/anomaly"
	"github.com/septivank/fleet-telemetry-ingest/internal/db"
)

// Sink receives detected fuel anomalies
type Sink interface {
	Emit(ctx context.Context, event *anomaly.Event) error
}

// Fanout delivers an event to every sink. A failing sink does not stop the
// others; all failures are joined into the returned error.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a fanout over the non-nil sinks
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Emit sends event to every sink
func (f *Fanout) Emit(ctx context.Context, event *anomaly.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertStore persists fuel alerts
type AlertStore interface {
	InsertFuelAlert(ctx context.Context, alert *db.FuelAlert) error
}

// TableSink records events in the fuel_alerts table
type TableSink struct {
	store AlertStore
}

// NewTableSink creates a sink writing through store
func NewTableSink(store AlertStore) *TableSink {
	return &TableSink{store: store}
}

// Emit persists event
func (s *TableSink) Emit(ctx context.Context, event *anomaly.Event) error {
	err := s.store.InsertFuelAlert(ctx, &db.FuelAlert{
		ID:                  event.ID,
		DeviceID:            event.DeviceID,
		AssetID:             event.AssetID,
		ReadingTimestamp:    event.ReadingTimestamp,
		PreviousFuelPercent: event.PreviousFuelPercent,
		CurrentFuelPercent:  event.CurrentFuelPercent,
		FuelDropPercent:     event.FuelDropPercent,
		ElapsedSeconds:      event.Elapsed.Seconds(),
		DetectionMode:       string(event.Mode),
		DetectedAt:          event.DetectedAt,
	})
	if err != nil {
		return fmt.Errorf("alert table: %w", err)
	}
	return nil
}

// LogSink writes events to the structured log at warn level
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-only sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit logs event
func (s *LogSink) Emit(_ context.Context, event *anomaly.Event) error {
	s.logger.Warn("potential fuel theft detected",
		zap.String("alert_id", event.ID.String()),
		zap.String("device_id", event.DeviceID.String()),
		zap.String("asset_id", event.AssetID.String()),
		zap.Float64("fuel_drop", event.FuelDropPercent),
		zap.Duration("elapsed", event.Elapsed),
		zap.String("mode", string(event.Mode)),
	)
	return nil
}
