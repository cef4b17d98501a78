// Package handlers exposes the access-control operations over HTTP.
// Each handler decodes a request into a typed command, submits it to
// the dispatcher, and renders the promise result.
package handlers

import (
	"encoding/json"
	"net/http"

	pkgerrors "acs-backend/pkg/errors"
)

// APIResponse is the standard response envelope
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries error details to the client
type ErrorInfo struct {
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// RespondError maps an error onto the envelope; typed errors carry
// their own HTTP status, anything else is a 500.
func RespondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	info := &ErrorInfo{
		Code:    string(pkgerrors.ErrorTypeInternal),
		Message: err.Error(),
	}
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		status = appErr.HTTPStatus
		info.Code = string(appErr.Type)
		info.Message = appErr.Message
		info.CorrelationID = appErr.CorrelationID
		info.Details = appErr.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: info})
}

// ParseJSONBody parses a JSON request body with a size limit
func ParseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return pkgerrors.NewInvalidArgumentError("invalid request body: " + err.Error())
	}
	return nil
}
