package anomaly

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/septivank/fleet-telemetry-ingest/internal/db"
)

const (
	testIgnitionRPM         = 300
	testFuelDropThreshold   = 5.0
	testFuelDropRatePerHour = 10.0
)

var (
	testDeviceID = uuid.MustParse("6f1c2a8e-6b7f-4f7a-9d59-3f3c1f6d2b10")
	testAssetID  = uuid.MustParse("0b3d7c52-2f0f-4c0e-8a2e-9a1b5d7e4c21")
	t0           = time.Date(2025, 12, 29, 10, 0, 0, 0, time.UTC)
)

func absoluteDetector() *Detector {
	return NewDetector(ModeAbsolute, testIgnitionRPM, testFuelDropThreshold, testFuelDropRatePerHour)
}

func previousAt(fuel float64, ts time.Time) *db.TelemetryReading {
	return &db.TelemetryReading{DeviceID: testDeviceID, Timestamp: ts, FuelLevelPercent: fuel}
}

func currentAt(fuel float64, rpm int, ts time.Time) Reading {
	return Reading{DeviceID: testDeviceID, AssetID: testAssetID, Timestamp: ts, FuelLevelPercent: fuel, EngineRPM: rpm}
}

func TestEvaluate_IgnitionBoundary(t *testing.T) {
	d := absoluteDetector()

	assert.True(t, d.Evaluate(nil, currentAt(50, 301, t0)).IgnitionOn)
	assert.False(t, d.Evaluate(nil, currentAt(50, 300, t0)).IgnitionOn)
	assert.False(t, d.Evaluate(nil, currentAt(50, 0, t0)).IgnitionOn)
}

func TestEvaluate_ColdStart(t *testing.T) {
	d := absoluteDetector()

	for _, fuel := range []float64{0, 3, 50, 100} {
		result := d.Evaluate(nil, currentAt(fuel, 0, t0))
		assert.Nil(t, result.Event, "fuel %v", fuel)
	}
}

func TestEvaluate_AbsoluteThreshold(t *testing.T) {
	d := absoluteDetector()

	cases := []struct {
		name     string
		previous float64
		current  float64
		anomaly  bool
	}{
		{"drop of 10 flags", 80, 70, true},
		{"drop of 4 is quiet", 80, 76, false},
		{"drop of exactly 5 is quiet", 80, 75, false},
		{"refuel is quiet", 80, 85, false},
		{"unchanged is quiet", 80, 80, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := d.Evaluate(previousAt(tc.previous, t0), currentAt(tc.current, 0, t0.Add(10*time.Minute)))
			assert.Equal(t, tc.anomaly, result.Event != nil)
		})
	}
}

func TestEvaluate_AbsoluteIgnoresElapsedTime(t *testing.T) {
	d := absoluteDetector()

	result := d.Evaluate(previousAt(80, t0), currentAt(70, 0, t0.Add(7*24*time.Hour)))
	assert.NotNil(t, result.Event)
}

func TestEvaluate_EventFields(t *testing.T) {
	d := absoluteDetector()
	d.now = func() time.Time { return t0.Add(time.Hour) }
	ts := t0.Add(10 * time.Minute)

	result := d.Evaluate(previousAt(90, t0), currentAt(82, 1200, ts))
	require.NotNil(t, result.Event)

	event := result.Event
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, testDeviceID, event.DeviceID)
	assert.Equal(t, testAssetID, event.AssetID)
	assert.Equal(t, ts, event.ReadingTimestamp)
	assert.Equal(t, 90.0, event.PreviousFuelPercent)
	assert.Equal(t, 82.0, event.CurrentFuelPercent)
	assert.Equal(t, 8.0, event.FuelDropPercent)
	assert.Equal(t, 10*time.Minute, event.Elapsed)
	assert.Equal(t, ModeAbsolute, event.Mode)
	assert.Equal(t, t0.Add(time.Hour), event.DetectedAt)
	assert.True(t, result.IgnitionOn)
	assert.Contains(t, event.Description(), "8.00%")
}

func TestEvaluate_RateMode(t *testing.T) {
	d := NewDetector(ModeRate, testIgnitionRPM, testFuelDropThreshold, testFuelDropRatePerHour)

	// 10 points in 10 minutes = 60%/h
	fast := d.Evaluate(previousAt(80, t0), currentAt(70, 0, t0.Add(10*time.Minute)))
	require.NotNil(t, fast.Event)
	assert.Equal(t, ModeRate, fast.Event.Mode)

	// 10 points over a week is a slow drain
	slow := d.Evaluate(previousAt(80, t0), currentAt(70, 0, t0.Add(7*24*time.Hour)))
	assert.Nil(t, slow.Event)

	// below the absolute floor never flags, however fast
	small := d.Evaluate(previousAt(80, t0), currentAt(76, 0, t0.Add(time.Second)))
	assert.Nil(t, small.Event)
}

func TestEvaluate_RateModeNonPositiveElapsed(t *testing.T) {
	d := NewDetector(ModeRate, testIgnitionRPM, testFuelDropThreshold, testFuelDropRatePerHour)

	same := d.Evaluate(previousAt(80, t0), currentAt(70, 0, t0))
	assert.NotNil(t, same.Event)

	skewed := d.Evaluate(previousAt(80, t0), currentAt(70, 0, t0.Add(-time.Minute)))
	assert.NotNil(t, skewed.Event)
}

func TestNewDetector_UnknownModeFallsBackToAbsolute(t *testing.T) {
	d := NewDetector(Mode("ml"), testIgnitionRPM, testFuelDropThreshold, testFuelDropRatePerHour)
	assert.Equal(t, ModeAbsolute, d.mode)
}
