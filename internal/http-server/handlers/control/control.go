package controlhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/aktnk/camerad/internal/http-server/handlers"
	"github.com/aktnk/camerad/internal/lib/api/response"
	"github.com/aktnk/camerad/internal/lib/sl"
	"github.com/aktnk/camerad/internal/services/control"
)

type ControlHandler struct {
	log     *slog.Logger
	control Control
}

type Control interface {
	PTZ(ctx context.Context, cameraID int) (control.PTZCapabilities, error)
	Move(ctx context.Context, cameraID int, x, y, zoom float64) error
	StopMove(ctx context.Context, cameraID int) error
	Time(ctx context.Context, cameraID int) (control.TimeStatus, error)
	SyncTime(ctx context.Context, cameraID int) (control.TimeSyncResult, error)
}

func New(log *slog.Logger, ctrl Control) *ControlHandler {
	return &ControlHandler{
		log:     log,
		control: ctrl,
	}
}

type moveRequest struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

func (h *ControlHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.control.Capabilities"

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	caps, err := h.control.PTZ(r.Context(), id)
	if err != nil {
		h.log.Error("ptz capability check failed", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, caps)
}

func (h *ControlHandler) Move(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.control.Move"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	var req moveRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Error("failed to decode request body", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request", middleware.GetReqID(r.Context())))

		return
	}

	if err := h.control.Move(r.Context(), id, req.X, req.Y, req.Zoom); err != nil {
		log.Error("ptz move failed", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.NoContent(w, r)
}

func (h *ControlHandler) StopMove(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.control.StopMove"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	if err := h.control.StopMove(r.Context(), id); err != nil {
		log.Error("ptz stop failed", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.NoContent(w, r)
}

func (h *ControlHandler) Time(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.control.Time"

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	status, err := h.control.Time(r.Context(), id)
	if err != nil {
		h.log.Error("camera time read failed", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, status)
}

func (h *ControlHandler) SyncTime(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.control.SyncTime"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	result, err := h.control.SyncTime(r.Context(), id)
	if err != nil {
		log.Error("time sync failed", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, result)
}
