// Package httperr maps domain errors to HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"wallora-server/core"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidArgument), errors.Is(err, core.ErrMalformedSession):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Render writes err as a JSON error body. Client errors carry the error text;
// server errors are logged and answered with fallback.
func Render(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", r.URL.Path).Error(fallback)
		msg = fallback
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// Write renders a plain message with status.
func Write(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
