package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/septivank/fleet-telemetry-ingest/internal/db"
)

var (
	// ErrMissingCredential is returned when no API key was presented
	ErrMissingCredential = errors.New("missing device credential")
	// ErrInvalidCredential is returned when the API key matches no device
	ErrInvalidCredential = errors.New("invalid device credential")
)

// DeviceRegistry looks devices up by API key. Implementations return
// (nil, nil) when no device owns the key.
type DeviceRegistry interface {
	FindDeviceByAPIKey(ctx context.Context, apiKey string) (*db.Device, error)
}

// Resolver maps an opaque API key to the owning device
type Resolver struct {
	registry DeviceRegistry
}

// NewResolver creates a new credential resolver
func NewResolver(registry DeviceRegistry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns the device owning apiKey. The key is matched exactly, with
// no trimming or case folding. Registry failures are returned wrapped and are
// distinct from ErrInvalidCredential.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) (*db.Device, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	device, err := r.registry.FindDeviceByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if device == nil {
		return nil, ErrInvalidCredential
	}

	return device, nil
}
