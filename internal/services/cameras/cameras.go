package cameras

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
)

const teardownWait = 5 * time.Second

type CameraStore interface {
	Save(cam models.NewCamera) (models.Camera, error)
	Camera(id int) (models.Camera, error)
	Cameras() ([]models.Camera, error)
	Delete(id int) error
}

// MediaPlane is the part of the supervisor/recorder surface the camera
// service needs for teardown.
type MediaPlane interface {
	Stop(cameraID int) error
	InUse(cameraID int) bool
}

type ScheduleRegistry interface {
	UnregisterCamera(cameraID int)
}

type DeviceDiscoverer interface {
	Discover(ctx context.Context) ([]models.DiscoveredDevice, error)
}

type UVCProber interface {
	Probe(ctx context.Context) ([]models.UVCDevice, error)
}

// Service owns the camera registry: rows, discovery, and the teardown
// ordering on delete.
type Service struct {
	log       *slog.Logger
	store     CameraStore
	streams   MediaPlane
	recorder  MediaPlane
	schedules ScheduleRegistry
	disco     DeviceDiscoverer
	uvc       UVCProber
}

func New(
	log *slog.Logger,
	store CameraStore,
	streams MediaPlane,
	recorder MediaPlane,
	schedules ScheduleRegistry,
	disco DeviceDiscoverer,
	uvcProber UVCProber,
) *Service {
	return &Service{
		log:       log,
		store:     store,
		streams:   streams,
		recorder:  recorder,
		schedules: schedules,
		disco:     disco,
		uvc:       uvcProber,
	}
}

// Add validates the kind-specific fields and persists the camera.
func (s *Service) Add(cam models.NewCamera) (models.Camera, error) {
	const op = "cameras.Add"

	if err := validateKindFields(cam); err != nil {
		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	saved, err := s.store.Save(cam)
	if err != nil {
		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("camera added",
		slog.Int("camera_id", saved.ID),
		slog.String("name", saved.Name),
		slog.String("kind", saved.Kind),
	)

	return saved, nil
}

// validateKindFields checks the columns each kind requires beyond the
// struct tags.
func validateKindFields(cam models.NewCamera) error {
	switch cam.Kind {
	case models.KindONVIF, models.KindRTSP:
		if cam.Host == "" {
			return fmt.Errorf("%s camera requires a host: %w", cam.Kind, errs.ErrInvalidInput)
		}
	case models.KindUVC:
		if cam.DeviceNode == nil || *cam.DeviceNode == "" {
			return fmt.Errorf("uvc camera requires a device node: %w", errs.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unknown camera kind %q: %w", cam.Kind, errs.ErrInvalidInput)
	}

	return nil
}

func (s *Service) Camera(id int) (models.Camera, error) {
	return s.store.Camera(id)
}

func (s *Service) Cameras() ([]models.Camera, error) {
	return s.store.Cameras()
}

// Delete tears the camera down in order: live stream, capture, schedule
// registrations, then the row. Recording teardown finalizes
// asynchronously, so the row delete waits for the job to clear.
func (s *Service) Delete(id int) error {
	const op = "cameras.Delete"

	if _, err := s.store.Camera(id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.streams.Stop(id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.recorder.Stop(id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.schedules.UnregisterCamera(id)

	if err := s.waitMediaClear(id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.Delete(id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("camera deleted", slog.Int("camera_id", id))

	return nil
}

func (s *Service) waitMediaClear(id int) error {
	deadline := time.Now().Add(teardownWait)

	for s.streams.InUse(id) || s.recorder.InUse(id) {
		if time.Now().After(deadline) {
			return fmt.Errorf("media plane still busy: %w", errs.ErrConflict)
		}

		time.Sleep(50 * time.Millisecond)
	}

	return nil
}

// Discover sweeps the local network for ONVIF devices.
func (s *Service) Discover(ctx context.Context) ([]models.DiscoveredDevice, error) {
	const op = "cameras.Discover"

	devices, err := s.disco.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return devices, nil
}

// ProbeUVC lists local capture devices.
func (s *Service) ProbeUVC(ctx context.Context) ([]models.UVCDevice, error) {
	const op = "cameras.ProbeUVC"

	devices, err := s.uvc.Probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return devices, nil
}
