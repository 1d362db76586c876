package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
)

// SettingsProvider yields the operator's encoder settings row.
type SettingsProvider interface {
	Settings() (models.EncoderSettings, error)
}

// Capabilities detection is expensive (spawns ffmpeg several times), so
// the Selector caches the result for the process lifetime. Invalidate
// drops the cache after an operator-driven re-detect.
type Selector struct {
	log      *slog.Logger
	detector *Detector
	settings SettingsProvider

	mu     sync.Mutex
	cached *models.GPUCapabilities
}

func NewSelector(log *slog.Logger, detector *Detector, settings SettingsProvider) *Selector {
	return &Selector{
		log:      log,
		detector: detector,
		settings: settings,
	}
}

// Selection is a ready-to-splice ffmpeg encoder choice.
type Selection struct {
	Encoder   string
	InputArgs []string
	VideoArgs []string
}

// Capabilities returns the cached detection result, running detection on
// first use.
func (s *Selector) Capabilities(ctx context.Context) models.GPUCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		caps := s.detector.Detect(ctx)
		s.cached = &caps
	}

	return *s.cached
}

// Invalidate drops the cached detection result.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Select resolves the encoder to use under the operator's policy and
// returns its ffmpeg flags for the given output frame rate.
func (s *Selector) Select(ctx context.Context, fps int) (Selection, error) {
	const op = "encoder.Select"

	settings, err := s.settings.Settings()
	if err != nil {
		return Selection{}, fmt.Errorf("%s: %w", op, err)
	}

	enc, err := s.resolve(ctx, settings)
	if err != nil {
		return Selection{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Debug("encoder selected", slog.String("encoder", enc), slog.String("mode", settings.Mode))

	return Selection{
		Encoder:   enc,
		InputArgs: InputArgs(enc),
		VideoArgs: Args(enc, settings.Preset, settings.Quality, fps),
	}, nil
}

func (s *Selector) resolve(ctx context.Context, settings models.EncoderSettings) (string, error) {
	switch settings.Mode {
	case models.EncoderCpuOnly:
		return settings.CPUEncoder, nil

	case models.EncoderGpuOnly:
		if enc := s.gpuEncoder(ctx, settings); enc != "" {
			return enc, nil
		}

		return "", fmt.Errorf("no working gpu encoder: %w", errs.ErrNotFound)

	default: // Auto
		if enc := s.gpuEncoder(ctx, settings); enc != "" {
			return enc, nil
		}

		return settings.CPUEncoder, nil
	}
}

// gpuEncoder honours an explicit operator choice when detection confirms
// it works, otherwise falls back to the detected preference.
func (s *Selector) gpuEncoder(ctx context.Context, settings models.EncoderSettings) string {
	caps := s.Capabilities(ctx)

	if settings.GPUEncoder != nil {
		for _, enc := range caps.AvailableEncoders {
			if enc == *settings.GPUEncoder {
				return enc
			}
		}
	}

	if caps.PreferredEncoder != nil {
		return *caps.PreferredEncoder
	}

	return ""
}
