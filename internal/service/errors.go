package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// StorageError reports a failed call to the device registry or telemetry
// store. Message is the text returned to the caller.
type StorageError struct {
	Op      string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed. Postgres data exceptions
// (class 22) and integrity violations (class 23) are permanent; connection
// and timeout failures are not.
func (e *StorageError) Temporary() bool {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return !strings.HasPrefix(pgErr.Code, "22") && !strings.HasPrefix(pgErr.Code, "23")
	}
	return true
}

func newStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Message: storageMessage(err), Err: err}
}

// storageMessage surfaces the Postgres error text, the same detail a hosted
// store returns to its clients, and hides transport errors behind a generic
// message.
func storageMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}
	return "storage unavailable"
}

// AlertEmissionError reports a failed anomaly notification. It is only
// logged; the reading it belongs to is already persisted.
type AlertEmissionError struct {
	DeviceID uuid.UUID
	Err      error
}

func (e *AlertEmissionError) Error() string {
	return fmt.Sprintf("alert emission for device %s: %v", e.DeviceID, e.Err)
}

func (e *AlertEmissionError) Unwrap() error {
	return e.Err
}
