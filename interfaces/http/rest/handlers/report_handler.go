package handlers

import (
	"net/http"

	"acs-backend/application/commands/bus"
	"acs-backend/application/queries"
	"acs-backend/application/services"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"

	"go.uber.org/zap"
)

// ReportHandler serves the reporting queries. Reads run through the
// dispatcher's query path so they serialize with mutations.
type ReportHandler struct {
	dispatcher *bus.Dispatcher
	evaluator  *services.Evaluator
	logger     *zap.Logger
}

// NewReportHandler creates a report handler
func NewReportHandler(dispatcher *bus.Dispatcher, evaluator *services.Evaluator, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{dispatcher: dispatcher, evaluator: evaluator, logger: logger}
}

func (h *ReportHandler) query(w http.ResponseWriter, r *http.Request, fn func() (interface{}, error)) {
	result, err := h.dispatcher.Query(r.Context(), fn)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// EffectivePermissions handles GET /entities/{id}/effective-permissions
func (h *ReportHandler) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.query(w, r, func() (interface{}, error) {
		return h.evaluator.EffectivePermissions(entities.ID(id))
	})
}

// Conflicts handles GET /entities/{id}/conflicts
func (h *ReportHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	h.query(w, r, func() (interface{}, error) {
		return h.evaluator.ConflictReport(entities.ID(id))
	})
}

// Trace handles GET /entities/{id}/trace?uri=...&verb=...
func (h *ReportHandler) Trace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	uri := r.URL.Query().Get("uri")
	verb, err := valueobjects.ParseVerb(r.URL.Query().Get("verb"))
	if uri == "" || err != nil {
		RespondError(w, pkgerrors.NewInvalidArgumentError("uri and verb query parameters are required"))
		return
	}
	h.query(w, r, func() (interface{}, error) {
		return h.evaluator.InheritanceTrace(entities.ID(id), uri, verb)
	})
}

// MatrixRequest selects the axes of a permission matrix
type MatrixRequest struct {
	EntityIDs []int64  `json:"entityIds"`
	Resources []string `json:"resources"`
	Verbs     []string `json:"verbs"`
}

// Matrix handles POST /reports/matrix
func (h *ReportHandler) Matrix(w http.ResponseWriter, r *http.Request) {
	var req MatrixRequest
	if err := ParseJSONBody(w, r, &req); err != nil {
		RespondError(w, err)
		return
	}
	ids := make([]entities.ID, 0, len(req.EntityIDs))
	for _, raw := range req.EntityIDs {
		ids = append(ids, entities.ID(raw))
	}
	verbs := make([]valueobjects.Verb, 0, len(req.Verbs))
	for _, raw := range req.Verbs {
		v, err := valueobjects.ParseVerb(raw)
		if err != nil {
			RespondError(w, pkgerrors.NewInvalidArgumentError(err.Error()))
			return
		}
		verbs = append(verbs, v)
	}

	h.query(w, r, func() (interface{}, error) {
		return h.evaluator.PermissionMatrix(ids, req.Resources, verbs)
	})
}

// GapRequest lists the accesses an entity is expected to hold
type GapRequest struct {
	Required []struct {
		URI  string `json:"uri"`
		Verb string `json:"verb"`
	} `json:"required"`
}

// Gaps handles POST /entities/{id}/gaps
func (h *ReportHandler) Gaps(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req GapRequest
	if err := ParseJSONBody(w, r, &req); err != nil {
		RespondError(w, err)
		return
	}
	required := make([]queries.ResourceVerb, 0, len(req.Required))
	for _, rv := range req.Required {
		verb, err := valueobjects.ParseVerb(rv.Verb)
		if err != nil {
			RespondError(w, pkgerrors.NewInvalidArgumentError(err.Error()))
			return
		}
		required = append(required, queries.ResourceVerb{Resource: rv.URI, Verb: verb})
	}

	h.query(w, r, func() (interface{}, error) {
		return h.evaluator.GapReport(entities.ID(id), required)
	})
}
