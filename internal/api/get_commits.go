package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/courtside-io/courtside/internal/api/middleware"
	"github.com/courtside-io/courtside/internal/ingestion"
)

const defaultCommitListLimit = 20

// handleListCommits serves GET /api/v1/datasets/{datasetID}/commits.
//
// Returns the commit history newest-first together with the serving
// pointer, so operators can see at a glance which version readers resolve
// and whether the dataset is on its last known good.
func (s *Server) handleListCommits(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	datasetID := r.PathValue("datasetID")
	if !datasetIDPattern.MatchString(datasetID) {
		WriteErrorResponse(w, r, s.logger, BadRequest("dataset ID must be 16 lowercase hex characters"))

		return
	}

	if s.deps.Commits == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("commit log is not configured"))

		return
	}

	limit := defaultCommitListLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			WriteErrorResponse(w, r, s.logger, BadRequest("limit must be a positive integer"))

			return
		}

		limit = parsed
	}

	commits, err := s.deps.Commits.ListCommits(r.Context(), datasetID, limit)
	if err != nil {
		s.logger.Error("commit list failed",
			slog.String("correlation_id", correlationID),
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load commit history"))

		return
	}

	response := CommitListResponse{
		DatasetID: datasetID,
		Commits:   make([]CommitView, 0, len(commits)),
	}

	for _, c := range commits {
		response.Commits = append(response.Commits, CommitView{
			Version:          c.Version,
			Status:           string(c.Status),
			RecordCount:      c.RecordCount,
			ValidationStatus: string(c.ValidationStatus),
			ValidationErrors: c.ValidationErrors,
			IngestedAt:       c.IngestedAt,
			CommittedAt:      c.CommittedAt,
			Source:           c.Source,
			SchemaVersion:    c.SchemaVersion,
			RollbackReason:   c.RollbackReason,
		})
	}

	pointer, err := s.deps.Commits.GetCurrentVersion(r.Context(), datasetID)
	if err != nil && !errors.Is(err, ingestion.ErrNoCurrentVersion) {
		s.logger.Warn("pointer lookup failed during commit list",
			slog.String("correlation_id", correlationID),
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()),
		)
	}

	if pointer != nil {
		response.Current = &CurrentVersionView{
			CurrentVersion:       pointer.CurrentVersion,
			LastCommittedVersion: pointer.LastCommittedVersion,
			LastCommittedAt:      pointer.LastCommittedAt,
			ServingLKG:           pointer.IsServingLKG,
			LKGReason:            pointer.LKGReason,
			SchemaVersion:        pointer.CurrentSchemaVersion,
		}
	}

	s.writeJSON(w, r, http.StatusOK, response, correlationID)
}
