package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/lib/api/response"
)

// statusFor maps domain error kinds onto HTTP statuses. Upstream camera
// failures surface as gateway errors, not server errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAlreadyExists), errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrUnreachable), errors.Is(err, errs.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RenderError writes a domain error as a JSON error response with the
// matching status.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, statusFor(err))
	render.JSON(w, r, response.Error(err.Error(), middleware.GetReqID(r.Context())))
}
