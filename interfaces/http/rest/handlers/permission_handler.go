package handlers

import (
	"net/http"

	"acs-backend/application/commands"
	"acs-backend/application/commands/bus"
	"acs-backend/domain/core/valueobjects"

	"go.uber.org/zap"
)

// PermissionHandler serves permission attachment and decision checks
type PermissionHandler struct {
	dispatcher *bus.Dispatcher
	logger     *zap.Logger
}

// NewPermissionHandler creates a permission handler
func NewPermissionHandler(dispatcher *bus.Dispatcher, logger *zap.Logger) *PermissionHandler {
	return &PermissionHandler{dispatcher: dispatcher, logger: logger}
}

// AddPermission handles POST /entities/{id}/permissions
func (h *PermissionHandler) AddPermission(w http.ResponseWriter, r *http.Request) {
	entityID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var perm valueobjects.Permission
	if err := ParseJSONBody(w, r, &perm); err != nil {
		RespondError(w, err)
		return
	}

	cmd := commands.AddPermission{EntityID: entityID, Permission: perm}
	result, err := h.dispatcher.Submit(r.Context(), cmd)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}

// RemovePermission handles DELETE /entities/{id}/permissions
func (h *PermissionHandler) RemovePermission(w http.ResponseWriter, r *http.Request) {
	entityID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var body struct {
		URI    string            `json:"uri"`
		Verb   valueobjects.Verb `json:"verb"`
		Scheme string            `json:"scheme"`
	}
	if err := ParseJSONBody(w, r, &body); err != nil {
		RespondError(w, err)
		return
	}

	cmd := commands.RemovePermission{
		EntityID: entityID,
		URI:      body.URI,
		Verb:     body.Verb,
		Scheme:   body.Scheme,
	}
	if _, err := h.dispatcher.Submit(r.Context(), cmd); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nil)
}

// Check handles POST /check
func (h *PermissionHandler) Check(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CheckPermission
	if err := ParseJSONBody(w, r, &cmd); err != nil {
		RespondError(w, err)
		return
	}

	decision, err := h.dispatcher.Submit(r.Context(), cmd)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, decision)
}
