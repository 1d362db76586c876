package encodershandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/http-server/handlers"
	"github.com/aktnk/camerad/internal/lib/api/response"
	"github.com/aktnk/camerad/internal/lib/sl"
)

type EncoderHandler struct {
	log      *slog.Logger
	settings Settings
	detector Detector
}

type Settings interface {
	Settings() (models.EncoderSettings, error)
	Update(upd models.UpdateEncoderSettings) (models.EncoderSettings, error)
}

// Detector exposes the cached GPU capabilities and a forced re-detect.
type Detector interface {
	Capabilities(ctx context.Context) models.GPUCapabilities
	Invalidate()
}

func New(log *slog.Logger, settings Settings, detector Detector) *EncoderHandler {
	return &EncoderHandler{
		log:      log,
		settings: settings,
		detector: detector,
	}
}

func (h *EncoderHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.encoders.Get"

	settings, err := h.settings.Settings()
	if err != nil {
		h.log.Error("failed to read encoder settings", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, settings)
}

func (h *EncoderHandler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.encoders.Update"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.UpdateEncoderSettings
	err := render.DecodeJSON(r.Body, &req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Error("request body is empty")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("empty request", ""))

			return
		}

		log.Error("failed to decode request body", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request", middleware.GetReqID(r.Context())))

		return
	}

	if err := validator.New().Struct(req); err != nil {
		validateErr := err.(validator.ValidationErrors)

		log.Error("invalid request", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(validateErr))

		return
	}

	settings, err := h.settings.Update(req)
	if err != nil {
		log.Error("failed to update encoder settings", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, settings)
}

func (h *EncoderHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.detector.Capabilities(r.Context()))
}

// Detect drops the cached capabilities and re-runs detection, for when
// the operator swapped hardware or drivers without restarting.
func (h *EncoderHandler) Detect(w http.ResponseWriter, r *http.Request) {
	h.detector.Invalidate()

	render.JSON(w, r, h.detector.Capabilities(r.Context()))
}
