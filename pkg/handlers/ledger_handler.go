package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/auth"
	"github.com/ekaya-inc/ledger-engine/pkg/config"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/services"
)

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// RollbackResponse is the response body for a successful rollback.
type RollbackResponse struct {
	EntityType       string `json:"entity_type"`
	EntityID         string `json:"entity_id"`
	RolledBackFromID string `json:"rolled_back_from_id"`
	NewEntryID       string `json:"new_entry_id"`
	NewVersion       int64  `json:"new_version"`
}

// LedgerHandler handles ledger listing and rollback HTTP requests.
type LedgerHandler struct {
	ledgerService   services.LedgerService
	rollbackService services.RollbackService
	cfg             *config.Config
	logger          *zap.Logger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(ledgerService services.LedgerService, rollbackService services.RollbackService, cfg *config.Config, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledgerService:   ledgerService,
		rollbackService: rollbackService,
		cfg:             cfg,
		logger:          logger,
	}
}

// RegisterRoutes registers the ledger handler's routes on the given mux.
func (h *LedgerHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/ledger",
		authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("GET /api/projects/{pid}/ledger/{id}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("POST /api/projects/{pid}/ledger/{id}/rollback",
		authMiddleware.RequireAuth(tenantMiddleware(h.Rollback)))
}

// List handles GET /api/projects/{pid}/ledger
// Returns ledger entries matching the query filters, newest first.
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("pid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
		return
	}

	filter, page, err := parseLedgerQuery(r, h.cfg.Capture.DefaultPerPage)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	entries, err := h.ledgerService.List(r.Context(), projectID, filter, page)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list ledger entries")
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"page":     page.Number,
		"per_page": page.Limit(),
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{pid}/ledger/{id}
func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, entryID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	entry, err := h.ledgerService.Get(r.Context(), projectID, entryID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to get ledger entry")
		return
	}

	if err := WriteJSON(w, http.StatusOK, entry); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Rollback handles POST /api/projects/{pid}/ledger/{id}/rollback
// Reverts the entry's entity to the recorded prior state and returns the
// new ledger entry's coordinates.
func (h *LedgerHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	projectID, entryID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	newEntry, err := h.rollbackService.Rollback(r.Context(), projectID, entryID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to roll back ledger entry")
		return
	}

	if err := WriteJSON(w, http.StatusOK, RollbackResponse{
		EntityType:       newEntry.EntityType,
		EntityID:         newEntry.EntityID,
		RolledBackFromID: entryID.String(),
		NewEntryID:       newEntry.ID.String(),
		NewVersion:       newEntry.Version,
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *LedgerHandler) parseIDs(w http.ResponseWriter, r *http.Request) (projectID, entryID uuid.UUID, ok bool) {
	projectID, err := uuid.Parse(r.PathValue("pid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
		return uuid.Nil, uuid.Nil, false
	}
	entryID, err = uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_entry_id", "Invalid ledger entry ID format")
		return uuid.Nil, uuid.Nil, false
	}
	return projectID, entryID, true
}

// writeServiceError maps service errors onto the HTTP surface. Forbidden is
// distinguished from not-found deliberately: the audience is trusted
// operators and hiding entry existence would only hinder them.
func (h *LedgerHandler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	var drift *apperrors.SchemaDriftError
	var conflict *apperrors.StateConflictError

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Ledger entry not found")
	case errors.Is(err, apperrors.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden", "Actor lacks the required capability")
	case errors.Is(err, apperrors.ErrUnsupportedEntityType):
		h.writeError(w, http.StatusBadRequest, "unsupported_entity_type", "Rollback is not enabled for this entity type")
	case errors.As(err, &drift):
		h.writeError(w, http.StatusConflict, "schema_drift", drift.Error())
	case errors.As(err, &conflict):
		h.writeError(w, http.StatusConflict, "state_conflict", conflict.Error())
	case errors.Is(err, apperrors.ErrEmptyDiff):
		h.writeError(w, http.StatusConflict, "no_change", "Entity already matches the target state")
	case errors.Is(err, apperrors.ErrLockTimeout):
		h.writeError(w, http.StatusServiceUnavailable, "lock_timeout", "Entity is busy; retry the operation")
	default:
		h.logger.Error(logMsg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", logMsg)
	}
}

func (h *LedgerHandler) writeError(w http.ResponseWriter, status int, code, msg string) {
	if err := ErrorResponse(w, status, code, msg); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func parseLedgerQuery(r *http.Request, defaultPerPage int) (models.LedgerFilter, models.Page, error) {
	q := r.URL.Query()
	filter := models.LedgerFilter{
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		Event:      q.Get("event"),
		ActorType:  q.Get("actorType"),
		ActorID:    q.Get("actorId"),
	}

	if v := q.Get("batchId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, models.Page{}, errors.New("batchId must be a UUID")
		}
		filter.BatchID = &id
	}
	if v := q.Get("createdAfter"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, models.Page{}, errors.New("createdAfter must be RFC3339")
		}
		filter.CreatedAfter = &t
	}
	if v := q.Get("createdBefore"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, models.Page{}, errors.New("createdBefore must be RFC3339")
		}
		filter.CreatedBefore = &t
	}

	page := models.Page{Number: 1, PerPage: defaultPerPage}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, page, errors.New("page must be a positive integer")
		}
		page.Number = n
	}
	if v := q.Get("perPage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return filter, page, errors.New("perPage must be between 1 and 500")
		}
		page.PerPage = n
	}

	return filter, page, nil
}
