package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/courtside-io/courtside/internal/api/middleware"
	"github.com/courtside-io/courtside/internal/identity"
)

// datasetIDPattern matches a derived dataset ID: 16 lowercase hex characters.
var datasetIDPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// handleGetDataset serves GET /api/v1/datasets/{datasetID}.
//
// The handler resolves the registered identity tuple for the dataset,
// runs the validated read sequence, and translates the read result onto
// the wire: frozen write-time status, cache directive, Retry-After hint,
// and the response envelope body.
//
// Response codes follow the write-time outcome:
//   - 200 OK: live valid data (cacheable) or young snapshot fallback (no-store)
//   - 202 Accepted: dataset still initializing, Retry-After 30
//   - 204 No Content: empty off-season dataset, validated as empty
//   - 404 Not Found: dataset ID is unknown to the identity registry
//   - 503 Service Unavailable: stale, degraded, or unavailable, Retry-After 60
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	datasetID := r.PathValue("datasetID")
	if !datasetIDPattern.MatchString(datasetID) {
		WriteErrorResponse(w, r, s.logger, BadRequest("dataset ID must be 16 lowercase hex characters"))

		return
	}

	if s.deps.Reader == nil || s.deps.Identities == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("read path is not configured"))

		return
	}

	record, err := s.deps.Identities.Resolve(r.Context(), datasetID)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("unknown dataset ID"))

			return
		}

		s.logger.Error("identity resolution failed",
			slog.String("correlation_id", correlationID),
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("identity registry unavailable"))

		return
	}

	result := s.deps.Reader.Read(r.Context(), datasetID, record.Identity)

	w.Header().Set("Cache-Control", result.CacheControl)

	if result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	}

	if result.HTTPStatus == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	response := newDatasetResponse(result)
	response.Meta.Quota = s.quotaMeta(r)

	s.writeJSON(w, r, result.HTTPStatus, response, correlationID)
}

// quotaMeta builds the response quota block from the rate limiter, when it
// can report one.
func (s *Server) quotaMeta(r *http.Request) *QuotaMeta {
	reporter, ok := s.deps.RateLimiter.(middleware.QuotaReporter)
	if !ok {
		return nil
	}

	clientID := ""
	if clientCtx, found := middleware.GetClientContext(r.Context()); found {
		clientID = clientCtx.ClientID
	}

	remaining, resetAt := reporter.Quota(clientID)

	return &QuotaMeta{Remaining: remaining, ResetAt: resetAt}
}
