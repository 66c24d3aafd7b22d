package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/service"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		nf *appErrors.ErrCampaignNotFound
		ve *service.ValidationError
	)
	switch {
	case errors.As(err, &nf), errors.Is(err, appErrors.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, appErrors.ErrAlreadyRunning),
		errors.Is(err, appErrors.ErrConnectInFlight),
		errors.Is(err, appErrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrNoTargets),
		errors.Is(err, appErrors.ErrNoNumbersAvailable):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}
