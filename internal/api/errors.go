package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Error is the JSON body of every failed request.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeInvalidDocument = "invalid_document"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeInternal        = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeWorkspaceError answers with the status matching a workspace or
// store failure. Anything unrecognised is a 500 carrying fallback, so
// internal details never reach the client.
func writeWorkspaceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, workspace.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidDocument, err.Error())
	case errors.Is(err, workspace.ErrTabNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "workspace not loaded")
	case errors.Is(err, workspace.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "workspace not found")
	case errors.Is(err, workspace.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "workspace engine is shutting down")
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, fallback)
	}
}
