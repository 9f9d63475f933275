package api

import (
	"errors"
	"net/http"

	"explorer/internal/explore"
	"explorer/internal/selector"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, explore.ErrSessionNotFound),
		errors.Is(err, explore.ErrUnknownSampler),
		errors.Is(err, explore.ErrNoPredictMap),
		errors.Is(err, selector.ErrUnknownCategory):
		return http.StatusNotFound
	case errors.Is(err, explore.ErrSliderRange),
		errors.Is(err, explore.ErrUnknownColumn),
		errors.Is(err, explore.ErrUnknownPlot),
		errors.Is(err, explore.ErrNoTraining),
		errors.Is(err, selector.ErrInvalidWindow):
		return http.StatusBadRequest
	default:
		// Includes key set mismatches: the loaded data itself is inconsistent.
		return http.StatusInternalServerError
	}
}
