package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	errorsx "github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusCode maps a domain error to its HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, errorsx.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errorsx.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errorsx.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
