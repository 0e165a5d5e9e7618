package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ledger-engine/pkg/apperrors"
	"github.com/ekaya-inc/ledger-engine/pkg/auth"
	"github.com/ekaya-inc/ledger-engine/pkg/models"
	"github.com/ekaya-inc/ledger-engine/pkg/services"
)

// entityRequest is the request body for entity writes.
type entityRequest struct {
	Attributes map[string]any   `json:"attributes"`
	Media      models.MediaRefs `json:"media,omitempty"`
}

// entityResponse is the response body for entity writes, including the
// ledger entry the write produced (absent when the save was a no-op).
type entityResponse struct {
	Entity  *models.Entity      `json:"entity,omitempty"`
	Entry   *models.LedgerEntry `json:"ledger_entry,omitempty"`
	Changed bool                `json:"changed"`
}

// EntityHandler handles generic entity CRUD requests. Every write flows
// through the capture pipeline.
type EntityHandler struct {
	entityService services.EntityService
	access        services.AccessChecker
	logger        *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(entityService services.EntityService, access services.AccessChecker, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		entityService: entityService,
		access:        access,
		logger:        logger,
	}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/entities/{type}/{id}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("POST /api/projects/{pid}/entities/{type}/{id}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Create)))
	mux.HandleFunc("PUT /api/projects/{pid}/entities/{type}/{id}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Update)))
	mux.HandleFunc("DELETE /api/projects/{pid}/entities/{type}/{id}",
		authMiddleware.RequireAuth(tenantMiddleware(h.Delete)))
}

// Get handles GET /api/projects/{pid}/entities/{type}/{id}
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, entityType, entityID, ok := h.parsePath(w, r)
	if !ok {
		return
	}
	if !h.access.ActorCan(r.Context(), services.ReadCapability(entityType)) {
		h.writeError(w, http.StatusForbidden, "forbidden", "Actor lacks the required capability")
		return
	}

	entity, err := h.entityService.Get(r.Context(), projectID, entityType, entityID)
	if err != nil {
		h.writeEntityError(w, err, "Failed to get entity")
		return
	}
	if err := WriteJSON(w, http.StatusOK, entity); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/projects/{pid}/entities/{type}/{id}
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, entityType, entityID, ok := h.parsePath(w, r)
	if !ok {
		return
	}
	req, ok := h.parseBody(w, r, entityType)
	if !ok {
		return
	}

	entity, entry, err := h.entityService.Create(r.Context(), projectID, entityType, entityID, req.Attributes, req.Media)
	if err != nil {
		h.writeEntityError(w, err, "Failed to create entity")
		return
	}
	if err := WriteJSON(w, http.StatusCreated, entityResponse{Entity: entity, Entry: entry, Changed: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/projects/{pid}/entities/{type}/{id}
// A save that changes no tracked data succeeds with changed=false and no
// ledger entry.
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	projectID, entityType, entityID, ok := h.parsePath(w, r)
	if !ok {
		return
	}
	req, ok := h.parseBody(w, r, entityType)
	if !ok {
		return
	}

	entity, entry, err := h.entityService.Update(r.Context(), projectID, entityType, entityID, req.Attributes, req.Media)
	if err != nil {
		h.writeEntityError(w, err, "Failed to update entity")
		return
	}
	if err := WriteJSON(w, http.StatusOK, entityResponse{Entity: entity, Entry: entry, Changed: entry != nil}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/projects/{pid}/entities/{type}/{id}
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, entityType, entityID, ok := h.parsePath(w, r)
	if !ok {
		return
	}
	if !h.access.ActorCan(r.Context(), services.UpdateCapability(entityType)) {
		h.writeError(w, http.StatusForbidden, "forbidden", "Actor lacks the required capability")
		return
	}

	entry, err := h.entityService.Delete(r.Context(), projectID, entityType, entityID)
	if err != nil {
		h.writeEntityError(w, err, "Failed to delete entity")
		return
	}
	if err := WriteJSON(w, http.StatusOK, entityResponse{Entry: entry, Changed: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *EntityHandler) parsePath(w http.ResponseWriter, r *http.Request) (projectID uuid.UUID, entityType, entityID string, ok bool) {
	projectID, err := uuid.Parse(r.PathValue("pid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_project_id", "Invalid project ID format")
		return uuid.Nil, "", "", false
	}
	entityType = r.PathValue("type")
	entityID = r.PathValue("id")
	if entityType == "" || entityID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_path", "Entity type and id are required")
		return uuid.Nil, "", "", false
	}
	return projectID, entityType, entityID, true
}

func (h *EntityHandler) parseBody(w http.ResponseWriter, r *http.Request, entityType string) (*entityRequest, bool) {
	if !h.access.ActorCan(r.Context(), services.UpdateCapability(entityType)) {
		h.writeError(w, http.StatusForbidden, "forbidden", "Actor lacks the required capability")
		return nil, false
	}

	var req entityRequest
	dec := json.NewDecoder(r.Body)
	// Numbers decode as json.Number so snapshots stay byte-stable.
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON with an attributes object")
		return nil, false
	}
	if req.Attributes == nil {
		req.Attributes = map[string]any{}
	}
	return &req, true
}

func (h *EntityHandler) writeEntityError(w http.ResponseWriter, err error, logMsg string) {
	var conflict *apperrors.StateConflictError
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Entity not found")
	case errors.As(err, &conflict):
		h.writeError(w, http.StatusConflict, "state_conflict", conflict.Error())
	case errors.Is(err, apperrors.ErrLockTimeout):
		h.writeError(w, http.StatusServiceUnavailable, "lock_timeout", "Entity is busy; retry the operation")
	default:
		h.logger.Error(logMsg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", logMsg)
	}
}

func (h *EntityHandler) writeError(w http.ResponseWriter, status int, code, msg string) {
	if err := ErrorResponse(w, status, code, msg); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
