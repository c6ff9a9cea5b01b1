package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nilefi/backend/internal/services"
)

const maxBodyBytes = 2 << 20

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// pathUUID parses the named path segment as a UUID and writes a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to HTTP statuses:
// validation 422, not found 404, state conflicts 409, external failures 502.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var extErr *services.ExternalServiceError
	var relErr *services.ReleaseFailedError
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrOverfunding),
		errors.Is(err, services.ErrRequestHalted),
		errors.Is(err, services.ErrReconciliation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &extErr), errors.As(err, &relErr):
		log.Error("external service failure", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
