package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aktnk/camerad/internal/domain/errs"
)

// IDParam reads a positive integer URL parameter.
func IDParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)

	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad %s %q: %w", name, raw, errs.ErrInvalidInput)
	}

	return id, nil
}
