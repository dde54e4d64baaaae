package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/septivank/fleet-telemetry-ingest/tools/timeparser"
)

// Payload field names as sent by devices
const (
	FieldTimestamp   = "timestamp"
	FieldGPSLat      = "gpsLat"
	FieldGPSLng      = "gpsLng"
	FieldFuelLevel   = "fuelLevel"
	FieldEngineRPM   = "engineRpm"
	FieldSpeed       = "speed"
	FieldEngineHours = "engineHours"
)

// ValidationError describes why a payload was rejected. Reason is safe to
// return to the device.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Candidate is a typed reading that passed validation but is not yet annotated
// or persisted. Timestamp is nil when the device did not send one.
type Candidate struct {
	Timestamp   *time.Time
	GPSLat      float64
	GPSLng      float64
	FuelLevel   float64
	EngineRPM   int
	Speed       float64
	EngineHours float64
}

type bounds struct {
	min, max float64
}

// required fields in the order they are checked
var requiredFields = []struct {
	name  string
	check bounds
}{
	{FieldGPSLat, bounds{-90, 90}},
	{FieldGPSLng, bounds{-180, 180}},
	{FieldFuelLevel, bounds{0, 100}},
	{FieldEngineRPM, bounds{0, math.MaxInt32}},
	{FieldSpeed, bounds{0, math.Inf(1)}},
	{FieldEngineHours, bounds{0, math.Inf(1)}},
}

// Validator handles payload validation with configurable parameters
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator. A tolerance of zero disables the
// device-clock check.
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// ValidatePayload decodes a raw JSON body and checks presence, type and range
// of every field. It performs no I/O.
func (v *Validator) ValidatePayload(body []byte, receivedAt time.Time) (*Candidate, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, &ValidationError{Reason: "invalid JSON body"}
	}
	// the body must be exactly one JSON object
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, &ValidationError{Reason: "invalid JSON body"}
	}

	values := make(map[string]float64, len(requiredFields))
	for _, field := range requiredFields {
		value, err := numberField(raw, field.name)
		if err != nil {
			return nil, err
		}
		if err := checkRange(field.name, value, field.check); err != nil {
			return nil, err
		}
		values[field.name] = value
	}

	rpm := values[FieldEngineRPM]
	if rpm != math.Trunc(rpm) {
		return nil, invalid(FieldEngineRPM, "%s must be an integer", FieldEngineRPM)
	}

	candidate := &Candidate{
		GPSLat:      values[FieldGPSLat],
		GPSLng:      values[FieldGPSLng],
		FuelLevel:   values[FieldFuelLevel],
		EngineRPM:   int(rpm),
		Speed:       values[FieldSpeed],
		EngineHours: values[FieldEngineHours],
	}

	ts, err := v.timestamp(raw, receivedAt)
	if err != nil {
		return nil, err
	}
	candidate.Timestamp = ts

	return candidate, nil
}

func (v *Validator) timestamp(raw map[string]interface{}, receivedAt time.Time) (*time.Time, error) {
	value, ok := raw[FieldTimestamp]
	if !ok || value == nil {
		return nil, nil
	}

	str, ok := value.(string)
	if !ok {
		return nil, invalid(FieldTimestamp, "%s must be an ISO-8601 string", FieldTimestamp)
	}
	// devices commonly send "" when the RTC has no fix yet
	if str == "" {
		return nil, nil
	}

	readingTime, err := timeparser.ParseReadingTimestamp(str)
	if err != nil {
		return nil, invalid(FieldTimestamp, "%s must be an ISO-8601 string", FieldTimestamp)
	}

	if v.timestampToleranceMinutes > 0 && !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampToleranceMinutes) {
		return nil, invalid(FieldTimestamp, "timestamp outside tolerance window (±%d minutes)", v.timestampToleranceMinutes)
	}

	return &readingTime, nil
}

func numberField(raw map[string]interface{}, name string) (float64, error) {
	value, ok := raw[name]
	if !ok {
		return 0, invalid(name, "missing required field: %s", name)
	}

	num, ok := value.(json.Number)
	if !ok {
		return 0, invalid(name, "%s must be a number", name)
	}

	f, err := num.Float64()
	if err != nil {
		// valid JSON number literal that overflows float64
		return 0, invalid(name, "%s is out of range", name)
	}
	return f, nil
}

func checkRange(name string, value float64, b bounds) error {
	if value >= b.min && value <= b.max {
		return nil
	}
	if b.max == math.MaxInt32 || math.IsInf(b.max, 1) {
		if value < b.min {
			return invalid(name, "%s must be non-negative", name)
		}
		return invalid(name, "%s is out of range", name)
	}
	return invalid(name, "%s must be between %g and %g", name, b.min, b.max)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
