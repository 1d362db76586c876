package streamshandler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/aktnk/camerad/internal/http-server/handlers"
	"github.com/aktnk/camerad/internal/lib/sl"
	"github.com/aktnk/camerad/internal/services/streams"
)

type StreamHandler struct {
	log        *slog.Logger
	supervisor Supervisor
}

type Supervisor interface {
	Start(ctx context.Context, cameraID int) (streams.Session, error)
	Stop(cameraID int) error
	Sessions() []streams.Session
	Session(cameraID int) (streams.Session, error)
}

func New(log *slog.Logger, supervisor Supervisor) *StreamHandler {
	return &StreamHandler{
		log:        log,
		supervisor: supervisor,
	}
}

func (h *StreamHandler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.streams.Start"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	sess, err := h.supervisor.Start(r.Context(), id)
	if err != nil {
		log.Error("failed to start stream", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, sess)
}

func (h *StreamHandler) Stop(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.streams.Stop"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	if err := h.supervisor.Stop(id); err != nil {
		log.Error("failed to stop stream", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.NoContent(w, r)
}

func (h *StreamHandler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.supervisor.Sessions())
}

func (h *StreamHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	sess, err := h.supervisor.Session(id)
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, sess)
}
