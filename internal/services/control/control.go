package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/lib/sl"
	"github.com/aktnk/camerad/internal/onvif"
	"github.com/aktnk/camerad/internal/services/streams"
)

type CameraProvider interface {
	Camera(id int) (models.Camera, error)
}

type PTZClient interface {
	PTZServiceURL(ctx context.Context, cam models.Camera) (string, error)
	ContinuousMove(ctx context.Context, cam models.Camera, x, y, zoom float64) error
	StopMove(ctx context.Context, cam models.Camera) error
	SystemDateTime(ctx context.Context, cam models.Camera) (onvif.DateTime, error)
	SetSystemDateTime(ctx context.Context, cam models.Camera, dt onvif.DateTime) error
}

// StreamRestarter cycles the camera's live session after a clock change;
// RTSP sessions do not survive one on most firmwares.
type StreamRestarter interface {
	InUse(cameraID int) bool
	Stop(cameraID int) error
	Start(ctx context.Context, cameraID int) (streams.Session, error)
}

// Service is the ONVIF control plane: PTZ motion and clock management.
type Service struct {
	log     *slog.Logger
	cameras CameraProvider
	client  PTZClient
	streams StreamRestarter
}

func New(log *slog.Logger, cameras CameraProvider, client PTZClient, streams StreamRestarter) *Service {
	return &Service{
		log:     log,
		cameras: cameras,
		client:  client,
		streams: streams,
	}
}

// Move starts a continuous PTZ move. Velocities run [-1, 1] per axis and
// are rejected, not clamped, outside that range.
func (s *Service) Move(ctx context.Context, cameraID int, x, y, zoom float64) error {
	const op = "control.Move"

	for _, v := range []float64{x, y, zoom} {
		if math.IsNaN(v) || v < -1 || v > 1 {
			return fmt.Errorf("%s: velocity %g outside [-1, 1]: %w", op, v, errs.ErrInvalidInput)
		}
	}

	cam, err := s.onvifCamera(cameraID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.client.ContinuousMove(ctx, cam, x, y, zoom); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// PTZCapabilities reports whether the camera exposes a PTZ service.
type PTZCapabilities struct {
	Supported  bool `json:"supported"`
	HasPanTilt bool `json:"has_pan_tilt"`
	HasZoom    bool `json:"has_zoom"`
}

// PTZ checks the camera for a PTZ service address. Non-ONVIF cameras and
// cameras without the service report unsupported rather than an error.
func (s *Service) PTZ(ctx context.Context, cameraID int) (PTZCapabilities, error) {
	const op = "control.PTZ"

	cam, err := s.cameras.Camera(cameraID)
	if err != nil {
		return PTZCapabilities{}, fmt.Errorf("%s: %w", op, err)
	}

	if cam.Kind != models.KindONVIF {
		return PTZCapabilities{}, nil
	}

	_, err = s.client.PTZServiceURL(ctx, cam)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return PTZCapabilities{}, nil
		}

		return PTZCapabilities{}, fmt.Errorf("%s: %w", op, err)
	}

	return PTZCapabilities{Supported: true, HasPanTilt: true, HasZoom: true}, nil
}

// StopMove halts PTZ motion.
func (s *Service) StopMove(ctx context.Context, cameraID int) error {
	const op = "control.StopMove"

	cam, err := s.onvifCamera(cameraID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.client.StopMove(ctx, cam); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// TimeStatus is a camera clock reading against the host clock.
type TimeStatus struct {
	CameraTime time.Time `json:"camera_time"`
	HostTime   time.Time `json:"host_time"`
	DriftSec   float64   `json:"drift_seconds"`
}

// TimeSyncResult reports the drift before and after a sync.
type TimeSyncResult struct {
	Before          TimeStatus `json:"before"`
	After           TimeStatus `json:"after"`
	StreamRestarted bool       `json:"stream_restarted"`
}

// Time reads the camera clock and computes its drift against the host.
func (s *Service) Time(ctx context.Context, cameraID int) (TimeStatus, error) {
	const op = "control.Time"

	cam, err := s.onvifCamera(cameraID)
	if err != nil {
		return TimeStatus{}, fmt.Errorf("%s: %w", op, err)
	}

	status, err := s.readClock(ctx, cam)
	if err != nil {
		return TimeStatus{}, fmt.Errorf("%s: %w", op, err)
	}

	return status, nil
}

// SyncTime sets the camera clock to the host clock, verifies the result
// by reading it back, and restarts a live session if the camera had one.
func (s *Service) SyncTime(ctx context.Context, cameraID int) (TimeSyncResult, error) {
	const op = "control.SyncTime"

	cam, err := s.onvifCamera(cameraID)
	if err != nil {
		return TimeSyncResult{}, fmt.Errorf("%s: %w", op, err)
	}

	before, err := s.readClock(ctx, cam)
	if err != nil {
		return TimeSyncResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.client.SetSystemDateTime(ctx, cam, onvif.DateTimeFrom(time.Now())); err != nil {
		return TimeSyncResult{}, fmt.Errorf("%s: %w", op, err)
	}

	after, err := s.readClock(ctx, cam)
	if err != nil {
		return TimeSyncResult{}, fmt.Errorf("%s: verification read: %w", op, err)
	}

	result := TimeSyncResult{Before: before, After: after}

	if s.streams != nil && s.streams.InUse(cameraID) {
		if err := s.streams.Stop(cameraID); err != nil {
			s.log.Warn("stream stop after time sync failed", slog.Int("camera_id", cameraID), sl.Err(err))
		} else if _, err := s.streams.Start(ctx, cameraID); err != nil {
			s.log.Warn("stream restart after time sync failed", slog.Int("camera_id", cameraID), sl.Err(err))
		} else {
			result.StreamRestarted = true
		}
	}

	s.log.Info("camera clock synced",
		slog.Int("camera_id", cameraID),
		slog.Float64("drift_before_sec", before.DriftSec),
		slog.Float64("drift_after_sec", after.DriftSec),
	)

	return result, nil
}

func (s *Service) readClock(ctx context.Context, cam models.Camera) (TimeStatus, error) {
	dt, err := s.client.SystemDateTime(ctx, cam)
	if err != nil {
		return TimeStatus{}, err
	}

	now := time.Now().UTC()
	camTime := dt.Time()

	return TimeStatus{
		CameraTime: camTime,
		HostTime:   now,
		DriftSec:   camTime.Sub(now).Seconds(),
	}, nil
}

func (s *Service) onvifCamera(cameraID int) (models.Camera, error) {
	cam, err := s.cameras.Camera(cameraID)
	if err != nil {
		return models.Camera{}, err
	}

	if cam.Kind != models.KindONVIF {
		return models.Camera{}, fmt.Errorf("%s camera has no control plane: %w", cam.Kind, errs.ErrInvalidInput)
	}

	return cam, nil
}
