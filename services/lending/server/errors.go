package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"lendpool/native/lending"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errBadRequest      = errors.New("malformed request")
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps an engine error onto the HTTP status and stable error code
// returned to clients.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "Unauthenticated"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "InvalidParams"
	}
	code := lending.Code(err)
	switch code {
	case "InvalidParams", "InvalidAmount", "InvalidPrice":
		return http.StatusBadRequest, code
	case "Unauthorized":
		return http.StatusForbidden, code
	case "NotFound":
		return http.StatusNotFound, code
	case "AlreadyInitialized":
		return http.StatusConflict, code
	case "InsufficientFunds", "OverLTV", "OverRepay", "NotUndercollateralized",
		"ArithmeticOverflow", "ArithmeticUnderflow":
		return http.StatusUnprocessableEntity, code
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
