package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/septivank/fleet-telemetry-ingest/internal/credential"
	"github.com/septivank/fleet-telemetry-ingest/internal/http/middleware"
	"github.com/septivank/fleet-telemetry-ingest/internal/service"
	"github.com/septivank/fleet-telemetry-ingest/internal/validator"
)

// APIKeyHeader carries the device credential
const APIKeyHeader = "x-api-key"

const internalErrorMessage = "Internal Server Error"

// Ingestor runs one submission through the ingestion pipeline
type Ingestor interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.Result, error)
}

// IngestHandler handles device telemetry submissions.
type IngestHandler struct {
	service Ingestor
	logger  *zap.Logger
}

// NewIngestHandler returns handler.
func NewIngestHandler(service Ingestor, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		service: service,
		logger:  logger,
	}
}

// ServeHTTP handles POST /telemetry-ingest.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// A body read failure is reported only after the credential has been
	// checked, so an unknown device still gets 403.
	body, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		body = nil
	}

	_, err := h.service.Ingest(r.Context(), service.IngestRequest{
		RequestID: middleware.RequestIDFromContext(r.Context()),
		APIKey:    r.Header.Get(APIKeyHeader),
		Body:      body,
	})
	if err != nil {
		status, message := errorResponse(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("telemetry ingest failed",
				zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
				zap.Error(err),
			)
		}
		if readErr != nil && status == http.StatusBadRequest {
			message = bodyReadMessage(readErr)
		}
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// errorResponse maps pipeline errors to a status and client-safe message.
func errorResponse(err error) (int, string) {
	var validationErr *validator.ValidationError
	var storageErr *service.StorageError

	switch {
	case errors.Is(err, credential.ErrMissingCredential):
		return http.StatusUnauthorized, "Missing API Key"
	case errors.Is(err, credential.ErrInvalidCredential):
		return http.StatusForbidden, "Invalid Device"
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Reason
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, storageErr.Message
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}

func bodyReadMessage(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "request body too large"
	}
	return "failed to read request body"
}
