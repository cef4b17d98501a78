package handlers

import (
	"net/http"
	"strconv"
	"time"

	"acs-backend/application/commands"
	"acs-backend/application/commands/bus"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	pkgerrors "acs-backend/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// entityResponse is the client-facing projection of an entity record.
// Credential metadata stays server-side; the persistence layer is the
// only consumer of the full record.
type entityResponse struct {
	ID          int64         `json:"id"`
	Kind        entities.Kind `json:"kind"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Email       string        `json:"email,omitempty"`
	IsActive    bool          `json:"isActive"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// toResponse strips entity records down to their public projection and
// passes every other result through unchanged.
func toResponse(result interface{}) interface{} {
	rec, ok := result.(aggregates.EntityRecord)
	if !ok {
		return result
	}
	return entityResponse{
		ID:          rec.ID,
		Kind:        rec.Kind,
		Name:        rec.Name,
		Description: rec.Description,
		Email:       rec.Email,
		IsActive:    rec.IsActive,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// EntityHandler serves user, group, and role CRUD plus membership edges
type EntityHandler struct {
	dispatcher *bus.Dispatcher
	logger     *zap.Logger
}

// NewEntityHandler creates an entity handler
func NewEntityHandler(dispatcher *bus.Dispatcher, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{dispatcher: dispatcher, logger: logger}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.NewInvalidArgumentError("invalid " + name)
	}
	return id, nil
}

func (h *EntityHandler) submit(w http.ResponseWriter, r *http.Request, cmd commands.Command, status int) {
	result, err := h.dispatcher.Submit(r.Context(), cmd)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, status, toResponse(result))
}

// CreateUser handles POST /users
func (h *EntityHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CreateUser
	if err := ParseJSONBody(w, r, &cmd); err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, cmd, http.StatusCreated)
}

// GetUser handles GET /users/{id}
func (h *EntityHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.GetUser{ID: id}, http.StatusOK)
}

// UpdateUser handles PUT /users/{id}
func (h *EntityHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var cmd commands.UpdateUser
	if err := ParseJSONBody(w, r, &cmd); err != nil {
		RespondError(w, err)
		return
	}
	cmd.ID = id
	h.submit(w, r, cmd, http.StatusOK)
}

// DeleteUser handles DELETE /users/{id}
func (h *EntityHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.DeleteUser{ID: id}, http.StatusOK)
}

// CreateGroup handles POST /groups
func (h *EntityHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CreateGroup
	if err := ParseJSONBody(w, r, &cmd); err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, cmd, http.StatusCreated)
}

// GetGroup handles GET /groups/{id}
func (h *EntityHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.GetGroup{ID: id}, http.StatusOK)
}

// UpdateGroup handles PUT /groups/{id}
func (h *EntityHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var cmd commands.UpdateGroup
	if err := ParseJSONBody(w, r, &cmd); err != nil {
		RespondError(w, err)
		return
	}
	cmd.ID = id
	h.submit(w, r, cmd, http.StatusOK)
}

// DeleteGroup handles DELETE /groups/{id}
func (h *EntityHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.DeleteGroup{ID: id}, http.StatusOK)
}

// CreateRole handles POST /roles
func (h *EntityHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CreateRole
	if err := ParseJSONBody(w, r, &cmd); err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, cmd, http.StatusCreated)
}

// GetRole handles GET /roles/{id}
func (h *EntityHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.GetRole{ID: id}, http.StatusOK)
}

// UpdateRole handles PUT /roles/{id}
func (h *EntityHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var cmd commands.UpdateRole
	if err := ParseJSONBody(w, r, &cmd); err != nil {
		RespondError(w, err)
		return
	}
	cmd.ID = id
	h.submit(w, r, cmd, http.StatusOK)
}

// DeleteRole handles DELETE /roles/{id}
func (h *EntityHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.DeleteRole{ID: id}, http.StatusOK)
}

// AddUserToGroup handles PUT /groups/{id}/users/{userID}
func (h *EntityHandler) AddUserToGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.AddUserToGroup{UserID: userID, GroupID: groupID}, http.StatusOK)
}

// RemoveUserFromGroup handles DELETE /groups/{id}/users/{userID}
func (h *EntityHandler) RemoveUserFromGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.RemoveUserFromGroup{UserID: userID, GroupID: groupID}, http.StatusOK)
}

// AssignUserToRole handles PUT /roles/{id}/users/{userID}
func (h *EntityHandler) AssignUserToRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.AssignUserToRole{UserID: userID, RoleID: roleID}, http.StatusOK)
}

// UnassignUserFromRole handles DELETE /roles/{id}/users/{userID}
func (h *EntityHandler) UnassignUserFromRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.UnassignUserFromRole{UserID: userID, RoleID: roleID}, http.StatusOK)
}

// AddRoleToGroup handles PUT /groups/{id}/roles/{roleID}
func (h *EntityHandler) AddRoleToGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.AddRoleToGroup{RoleID: roleID, GroupID: groupID}, http.StatusOK)
}

// RemoveRoleFromGroup handles DELETE /groups/{id}/roles/{roleID}
func (h *EntityHandler) RemoveRoleFromGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.RemoveRoleFromGroup{RoleID: roleID, GroupID: groupID}, http.StatusOK)
}

// AddGroupToGroup handles PUT /groups/{id}/groups/{childID}
func (h *EntityHandler) AddGroupToGroup(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	childID, err := pathID(r, "childID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.AddGroupToGroup{ParentID: parentID, ChildID: childID}, http.StatusOK)
}

// RemoveGroupFromGroup handles DELETE /groups/{id}/groups/{childID}
func (h *EntityHandler) RemoveGroupFromGroup(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	childID, err := pathID(r, "childID")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.submit(w, r, commands.RemoveGroupFromGroup{ParentID: parentID, ChildID: childID}, http.StatusOK)
}
