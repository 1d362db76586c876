package recordingshandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/http-server/handlers"
	"github.com/aktnk/camerad/internal/lib/api/response"
	"github.com/aktnk/camerad/internal/lib/sl"
	"github.com/aktnk/camerad/internal/services/recordings"
)

type RecordingHandler struct {
	log     *slog.Logger
	manager Manager
}

type Manager interface {
	Start(ctx context.Context, cameraID int, opts models.RecordingOptions) (recordings.Job, error)
	Stop(cameraID int) error
	Jobs() []recordings.Job
	Recordings() ([]models.Recording, error)
	Recording(id int) (models.Recording, error)
	Delete(id int) error
}

func New(log *slog.Logger, manager Manager) *RecordingHandler {
	return &RecordingHandler{
		log:     log,
		manager: manager,
	}
}

func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Start"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	// options body is optional; an empty body means defaults
	var opts models.RecordingOptions
	if err := render.DecodeJSON(r.Body, &opts); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request body", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request", middleware.GetReqID(r.Context())))

		return
	}

	job, err := h.manager.Start(r.Context(), id, opts)
	if err != nil {
		log.Error("failed to start recording", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, job)
}

func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Stop"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	if err := h.manager.Stop(id); err != nil {
		log.Error("failed to stop recording", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.NoContent(w, r)
}

func (h *RecordingHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.manager.Jobs())
}

func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.List"

	recs, err := h.manager.Recordings()
	if err != nil {
		h.log.Error("failed to list recordings", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, recs)
}

func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	rec, err := h.manager.Recording(id)
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, rec)
}

func (h *RecordingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.recordings.Delete"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	if err := h.manager.Delete(id); err != nil {
		log.Error("failed to delete recording", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.NoContent(w, r)
}
