package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/audience-engine/internal/contacts"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/scoring"
	"github.com/ignite/audience-engine/internal/segment"
)

// maxBodyBytes caps request bodies. Rule trees and contact updates are small;
// anything past this is malformed or hostile.
const maxBodyBytes = 1 << 20

// ErrorResponse is the error envelope for every API error. Code and Details
// are set only for structured failures (rule validation), so simple errors
// stay a one-field body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("response encode failed", "error", err.Error())
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response with the given data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError writes a 500 error. The real error is logged but never sent
// to the client.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err.Error())
	Error(w, http.StatusInternalServerError, "internal server error")
}

// EngineError maps the engine's error taxonomy onto HTTP statuses so every
// handler reports failures identically. Validation failures return the
// complete structured error list so a UI can highlight every problem at once.
func EngineError(w http.ResponseWriter, err error) {
	var invalid *segment.InvalidRulesError
	switch {
	case errors.As(err, &invalid):
		JSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "invalid segment rules",
			Code:    "invalid_rules",
			Details: invalid.Errors,
		})
	case errors.Is(err, segment.ErrInvalidOperatorArity):
		JSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_operator_arity",
		})
	case errors.Is(err, segment.ErrLimitExceeded),
		errors.Is(err, scoring.ErrInvertedRange):
		BadRequest(w, err.Error())
	case errors.Is(err, segment.ErrSegmentNotFound),
		errors.Is(err, contacts.ErrContactNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, scoring.ErrRecomputeInProgress):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, segment.ErrEvaluationTimeout):
		Error(w, http.StatusGatewayTimeout, err.Error())
	default:
		InternalError(w, err)
	}
}

// Decode reads JSON from the request body into dst, enforcing the body size
// cap. Returns false and writes the error response itself when parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	BadRequest(w, "invalid JSON: "+err.Error())
	return false
}
