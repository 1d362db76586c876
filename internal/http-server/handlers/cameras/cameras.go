package camerashandler

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

type CameraHandler struct {
	log     *slog.Logger
	cameras Cameras
}

type Cameras interface {
	Add(cam models.NewCamera) (models.Camera, error)
	Camera(id int) (models.Camera, error)
	Cameras() ([]models.Camera, error)
	Delete(id int) error
	Discover(ctx context.Context) ([]models.DiscoveredDevice, error)
	ProbeUVC(ctx context.Context) ([]models.UVCDevice, error)
}

func New(log *slog.Logger, cameras Cameras) *CameraHandler {
	return &CameraHandler{
		log:     log,
		cameras: cameras,
	}
}

func (h *CameraHandler) Add(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Add"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.NewCamera
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

	cam, err := h.cameras.Add(req)
	if err != nil {
		log.Error("failed to add camera", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, cam)
}

func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.List"

	cams, err := h.cameras.Cameras()
	if err != nil {
		h.log.Error("failed to list cameras", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, cams)
}

func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Get"

	id, err := cameraID(r)
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	cam, err := h.cameras.Camera(id)
	if err != nil {
		h.log.Error("failed to get camera", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, cam)
}

func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Delete"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id, err := cameraID(r)
	if err != nil {
		handlers.RenderError(w, r, err)

		return
	}

	if err := h.cameras.Delete(id); err != nil {
		log.Error("failed to delete camera", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.NoContent(w, r)
}

func (h *CameraHandler) Discover(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.Discover"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	devices, err := h.cameras.Discover(r.Context())
	if err != nil {
		log.Error("discovery failed", sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, devices)
}

func (h *CameraHandler) ProbeUVC(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cameras.ProbeUVC"

	devices, err := h.cameras.ProbeUVC(r.Context())
	if err != nil {
		h.log.Error("uvc probe failed", slog.String("op", op), sl.Err(err))

		handlers.RenderError(w, r, err)

		return
	}

	render.JSON(w, r, devices)
}

func cameraID(r *http.Request) (int, error) {
	return handlers.IDParam(r, "id")
}
