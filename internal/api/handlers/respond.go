package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR [handlers.writeJSON] encoding response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Unknown errors become an
// opaque 500; the cause is already logged where it happened.
func writeError(w http.ResponseWriter, err error) {
	if rle, ok := domain.IsRateLimited(err); ok {
		seconds := int(rle.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
		message = err.Error()
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrTokenRevoked),
		errors.Is(err, domain.ErrSessionRevoked),
		errors.Is(err, domain.ErrInvalidAPIKey):
		status = http.StatusUnauthorized
		message = err.Error()
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrInsufficientScope):
		status = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, domain.ErrUserExists),
		errors.Is(err, domain.ErrEmailExists):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrKeyNotFound):
		status = http.StatusNotFound
		message = err.Error()
	}

	writeJSON(w, status, errorResponse{Error: message})
}
