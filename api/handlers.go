/*
handlers.go - HTTP API handlers for stock conferences

PURPOSE:
  Exposes the conference engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the engine.

ENDPOINTS:
  Conferences:
    POST   /api/conferences                         Open a conference (PENDENTE)
    GET    /api/conferences                         List (?location_id=&status=)
    GET    /api/conferences/{id}                    Detail with items and summary
    DELETE /api/conferences/{id}                    Discard an abandoned conference
    GET    /api/conferences/{id}/export.xlsx        Workbook export

  Lifecycle:
    POST   /api/conferences/{id}/start              PENDENTE → EM_ANDAMENTO
    POST   /api/conferences/{id}/scans              Count one unit
    POST   /api/conferences/{id}/completion         Request completion
    POST   /api/conferences/{id}/completion/confirm Confirm with unscanned SKUs
    POST   /api/conferences/{id}/finalize           Commit differences to stock

TENANCY:
  Every /api route requires the X-Partner-ID header. A conference of another
  partner is reported as not found.

ERROR HANDLING:
  Engine errors are mapped to HTTP status:
  - 400: Validation errors, malformed scan code
  - 404: Conference or location not found
  - 409: Operation not allowed in the current status, open conference exists
  - 422: Scanned SKU has no stock record at the location
  - 503: Concurrent modification, with Retry-After
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/stock-conference/conference"
	"github.com/warp/stock-conference/report"
)

const PartnerHeader = "X-Partner-ID"

type ctxKey int

const partnerKey ctxKey = iota

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *conference.Engine
	Seeder Seeder

	logger   *zap.Logger
	validate *validator.Validate

	mu              sync.RWMutex
	currentScenario string
}

func NewHandler(engine *conference.Engine, seeder Seeder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Seeder:   seeder,
		logger:   logger,
		validate: validator.New(),
	}
}

// requirePartner rejects requests without a partner header and stores the
// partner in the request context.
func requirePartner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		partner := strings.TrimSpace(r.Header.Get(PartnerHeader))
		if partner == "" {
			writeError(w, http.StatusBadRequest, "Missing "+PartnerHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), partnerKey, conference.PartnerID(partner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func partnerFrom(ctx context.Context) conference.PartnerID {
	p, _ := ctx.Value(partnerKey).(conference.PartnerID)
	return p
}

// =============================================================================
// CONFERENCE HANDLERS
// =============================================================================

// CreateConference opens a conference for a location of the partner.
func (h *Handler) CreateConference(w http.ResponseWriter, r *http.Request) {
	var req CreateConferenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.CreateConference(r.Context(),
		partnerFrom(r.Context()),
		conference.LocationID(req.LocationID),
		conference.OperatorID(req.ResponsibleOperatorID),
	)
	if err != nil {
		h.writeEngineError(w, r, "Failed to create conference", err)
		return
	}

	writeJSON(w, http.StatusCreated, toConferenceDTO(rec))
}

// ListConferences returns the partner's conferences, newest first.
func (h *Handler) ListConferences(w http.ResponseWriter, r *http.Request) {
	filter := conference.ListFilter{PartnerID: partnerFrom(r.Context())}

	if v := r.URL.Query().Get("location_id"); v != "" {
		loc, err := strconv.ParseInt(v, 10, 64)
		if err != nil || loc <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid location_id", err)
			return
		}
		filter.LocationID = conference.LocationID(loc)
	}
	if v := r.URL.Query().Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st := conference.Status(strings.ToUpper(strings.TrimSpace(s)))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "Invalid status: "+s, nil)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	recs, err := h.Engine.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list conferences", err)
		return
	}

	dtos := make([]ConferenceDTO, len(recs))
	for i := range recs {
		dtos[i] = toConferenceDTO(&recs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetConference returns the conference with its items and summary.
func (h *Handler) GetConference(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	d, err := h.Engine.Detail(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get conference", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(d))
}

// DiscardConference deletes an abandoned PENDENTE or EM_ANDAMENTO conference.
func (h *Handler) DiscardConference(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.Engine.Discard(r.Context(), id); err != nil {
		h.writeEngineError(w, r, "Failed to discard conference", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportConference streams the conference as an XLSX workbook.
func (h *Handler) ExportConference(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	d, err := h.Engine.Detail(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to export conference", err)
		return
	}

	f, err := report.Build(d)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+report.Filename(id))
	if err := f.Write(w); err != nil {
		h.logger.Error("failed to write workbook", zap.String("conference_id", string(id)), zap.Error(err))
	}
}

// =============================================================================
// LIFECYCLE HANDLERS
// =============================================================================

func (h *Handler) StartConference(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	rec, err := h.Engine.Start(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to start conference", err)
		return
	}
	writeJSON(w, http.StatusOK, toConferenceDTO(rec))
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req ScanRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.Engine.Scan(r.Context(), id, req.Code)
	if err != nil {
		h.writeEngineError(w, r, "Failed to register scan", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// RequestCompletion answers 200 with outcome "completed", or 200 with outcome
// "pending_confirmation" and the unscanned SKUs.
func (h *Handler) RequestCompletion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	c, err := h.Engine.RequestCompletion(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to complete conference", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionDTO(c))
}

func (h *Handler) ConfirmCompletion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	rec, err := h.Engine.ConfirmCompletion(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to confirm completion", err)
		return
	}
	writeJSON(w, http.StatusOK, toConferenceDTO(rec))
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	res, err := h.Engine.Finalize(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to finalize conference", err)
		return
	}
	writeJSON(w, http.StatusOK, toFinalizeDTO(res))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// authorize resolves {id} and checks that it belongs to the request partner.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (conference.ConferenceID, bool) {
	id := conference.ConferenceID(chi.URLParam(r, "id"))

	rec, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to load conference", err)
		return "", false
	}
	if rec.PartnerID != partnerFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "Conference not found", conference.ErrConferenceNotFound)
		return "", false
	}
	return id, true
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, conference.ErrInvalidCodeFormat):
		return http.StatusBadRequest
	case errors.Is(err, conference.ErrSKUNotFoundAtLocation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conference.ErrInvalidState), errors.Is(err, conference.ErrOpenConferenceExists):
		return http.StatusConflict
	case conference.IsNotFound(err):
		return http.StatusNotFound
	case conference.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("path", r.URL.Path),
			zap.String("partner_id", string(partnerFrom(r.Context()))),
			zap.Error(err),
		)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
