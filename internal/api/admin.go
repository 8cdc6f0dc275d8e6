package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/courtside-io/courtside/internal/api/middleware"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/storage"
)

// handleRegisterSchema serves POST /api/v1/admin/schemas.
//
// Registers a new schema version for a dataset. With activate set, the
// previously active schema is deactivated in the same transaction and the
// dual-read window shifts to the new version.
func (s *Server) handleRegisterSchema(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.deps.Schemas == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("schema registry is not configured"))

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Content-Type must be application/json"))

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var req SchemaRegistrationRequest
	if err := decoder.Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON payload: "+err.Error()))

		return
	}

	if !datasetIDPattern.MatchString(req.DatasetID) {
		WriteErrorResponse(w, r, s.logger, BadRequest("dataset ID must be 16 lowercase hex characters"))

		return
	}

	if _, err := schema.ParseVersion(req.SchemaVersion); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid schema version: "+err.Error()))

		return
	}

	stored, err := s.deps.Schemas.Register(r.Context(), &schema.Schema{
		DatasetID:              req.DatasetID,
		SchemaVersion:          req.SchemaVersion,
		RequiredFields:         req.RequiredFields,
		Invariants:             req.Invariants,
		MinimumRenderableCount: req.MinimumRenderableCount,
		SunsetAt:               req.SunsetAt,
	}, req.Activate)
	if err != nil {
		if errors.Is(err, storage.ErrSchemaVersionExists) {
			WriteErrorResponse(w, r, s.logger, Conflict("schema version already registered"))

			return
		}

		s.logger.Error("schema registration failed",
			slog.String("correlation_id", correlationID),
			slog.String("dataset_id", req.DatasetID),
			slog.String("schema_version", req.SchemaVersion),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("schema registration failed"))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, SchemaResponse{
		ID:            stored.ID,
		DatasetID:     stored.DatasetID,
		SchemaVersion: stored.SchemaVersion,
		SchemaHash:    stored.SchemaHash,
		Active:        stored.IsActive,
		CreatedAt:     stored.CreatedAt,
	}, correlationID)
}

// handleReadinessOverride serves POST /api/v1/admin/readiness.
//
// Operator escape hatch for the serving state machine. Reset forces a
// scope back to ready after manual intervention; degraded and unavailable
// take a scope out of normal serving.
func (s *Server) handleReadinessOverride(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.deps.Readiness == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("readiness service is not configured"))

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Content-Type must be application/json"))

		return
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	decoder.DisallowUnknownFields()

	var req ReadinessOverrideRequest
	if err := decoder.Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON payload: "+err.Error()))

		return
	}

	if req.Scope == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("scope is required"))

		return
	}

	var (
		err   error
		state string
	)

	switch req.Action {
	case "reset":
		err = s.deps.Readiness.Reset(r.Context(), req.Scope)
		state = "initializing"
	case "degraded":
		err = s.deps.Readiness.MarkDegraded(r.Context(), req.Scope, req.Reason)
		state = "degraded"
	case "unavailable":
		err = s.deps.Readiness.MarkUnavailable(r.Context(), req.Scope, req.Reason)
		state = "unavailable"
	default:
		WriteErrorResponse(w, r, s.logger, BadRequest("action must be one of: reset, degraded, unavailable"))

		return
	}

	if err != nil {
		if errors.Is(err, readiness.ErrInvalidTransition) {
			WriteErrorResponse(w, r, s.logger, Conflict(err.Error()))

			return
		}

		s.logger.Error("readiness override failed",
			slog.String("correlation_id", correlationID),
			slog.String("scope", req.Scope),
			slog.String("action", req.Action),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("readiness override failed"))

		return
	}

	s.logger.Info("readiness override applied",
		slog.String("correlation_id", correlationID),
		slog.String("scope", req.Scope),
		slog.String("action", req.Action),
	)

	s.writeJSON(w, r, http.StatusOK, ReadinessOverrideResponse{
		Scope:  req.Scope,
		Action: req.Action,
		State:  state,
	}, correlationID)
}
