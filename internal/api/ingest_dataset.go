package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/courtside-io/courtside/internal/api/middleware"
	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/ingestion"
)

// handleIngestDataset serves POST /api/v1/datasets.
//
// The caller pushes a candidate record batch with its identity tuple. The
// dataset ID is derived server-side from the tuple, the batch runs the
// full commit sequence (validate, stage, promote, snapshot), and the
// response reports the commit outcome.
//
// Response codes:
//   - 200/202/204: batch promoted; status mirrors what readers will serve
//   - 400 Bad Request: malformed payload or invalid identity tuple
//   - 422 Unprocessable Entity: schema-rejected batch, prior version preserved
//   - 503 Service Unavailable: commit failed, last known good preserved
func (s *Server) handleIngestDataset(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.deps.Orchestrator == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("ingestion is not configured"))

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, BadRequest("Content-Type must be application/json"))

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var req IngestRequest
	if err := decoder.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, NewProblemDetail(
				http.StatusRequestEntityTooLarge,
				"Request Entity Too Large",
				"request body exceeds the configured size limit",
			))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON payload: "+err.Error()))

		return
	}

	id, err := identity.Normalize(req.Identity.toDomain())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid identity tuple: "+err.Error()))

		return
	}

	datasetID, _, err := identity.ComputeDatasetID(id)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid identity tuple: "+err.Error()))

		return
	}

	// First sight of a dataset installs its type's built-in rule template.
	// Overlay entries already present win.
	if s.deps.Rules != nil {
		s.deps.Rules.RegisterDefaults(datasetID, id.DatasetType)
	}

	fetched := &ingestion.FetchResult{
		Records:           req.Records,
		SourceUnavailable: req.SourceUnavailable,
		SchemaVersion:     req.SchemaVersion,
	}

	fetcher := ingestion.FetcherFunc(
		func(_ context.Context, _ string, _ identity.Identity) (*ingestion.FetchResult, error) {
			return fetched, nil
		},
	)

	result, err := s.deps.Orchestrator.Ingest(r.Context(), datasetID, id, fetcher)
	if err != nil {
		s.logger.Error("ingestion failed",
			slog.String("correlation_id", correlationID),
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("ingestion failed"))

		return
	}

	s.logger.Info("ingestion attempt completed",
		slog.String("correlation_id", correlationID),
		slog.String("dataset_id", datasetID),
		slog.Int("version", result.Version),
		slog.Bool("committed", result.Committed),
		slog.Int("status", result.HTTPStatus),
		slog.String("code", string(result.Code)),
	)

	// The write path always reports the outcome as a body. A promoted
	// empty batch freezes 204 for readers, but the operator triggering the
	// ingest still gets the commit report.
	status := result.HTTPStatus
	if status == http.StatusNoContent {
		status = http.StatusOK
	}

	s.writeJSON(w, r, status, newIngestResponse(result, correlationID, time.Now()), correlationID)
}
