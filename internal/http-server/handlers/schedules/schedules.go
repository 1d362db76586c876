package scheduleshandler

import (
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

type ScheduleHandler struct {
	log    *slog.Logger
	engine Engine
}

type Engine interface {
	Create(sch models.NewSchedule) (models.Schedule, error)
	Update(id int, upd models.UpdateSchedule) (models.Schedule, error)
	Delete(id int) error
	Schedule(id int) (models.Schedule, error)
	Schedules() ([]models.Schedule, error)
}

func New(log *slog.Logger, engine Engine) *ScheduleHandler {
	return &ScheduleHandler{
		log:    log,
		engine: engine,
	}
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.schedules.Create"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.NewSchedule
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

	sch, err := h.engine.Create(req)
	if err != nil {
		log.Error("failed to create schedule", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, sch)
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.schedules.Update"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	var req models.UpdateSchedule
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request", middleware.GetReqID(r.Context())))

		return
	}

	sch, err := h.engine.Update(id, req)
	if err != nil {
		log.Error("failed to update schedule", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, sch)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.schedules.Delete"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	if err := h.engine.Delete(id); err != nil {
		log.Error("failed to delete schedule", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.NoContent(w, r)
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.schedules.List"

	schs, err := h.engine.Schedules()
	if err != nil {
		h.log.Error("failed to list schedules", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, schs)
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := handlers.IDParam(r, "id")
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	sch, err := h.engine.Schedule(id)
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, sch)
}
