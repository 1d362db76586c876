package encoderstorage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/storage/sqlite"
)

func openStore(t *testing.T) *EncoderStorage {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db)
}

func TestSeededDefaults(t *testing.T) {
	store := openStore(t)

	settings, err := store.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	if settings.Mode != models.EncoderAuto {
		t.Errorf("mode = %q, want Auto", settings.Mode)
	}
	if settings.CPUEncoder != "libx264" {
		t.Errorf("cpu_encoder = %q", settings.CPUEncoder)
	}
	if settings.Preset != "ultrafast" {
		t.Errorf("preset = %q", settings.Preset)
	}
	if settings.Quality != 23 {
		t.Errorf("quality = %d", settings.Quality)
	}
	if settings.GPUEncoder != nil {
		t.Errorf("gpu_encoder = %v, want nil", settings.GPUEncoder)
	}
}

func TestUpdatePartial(t *testing.T) {
	store := openStore(t)

	mode := models.EncoderGpuOnly
	gpu := "h264_nvenc"

	got, err := store.Update(models.UpdateEncoderSettings{Mode: &mode, GPUEncoder: &gpu})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got.Mode != models.EncoderGpuOnly {
		t.Errorf("mode = %q", got.Mode)
	}
	if got.GPUEncoder == nil || *got.GPUEncoder != "h264_nvenc" {
		t.Errorf("gpu_encoder = %v", got.GPUEncoder)
	}
	if got.CPUEncoder != "libx264" || got.Quality != 23 {
		t.Errorf("untouched fields changed: %+v", got)
	}
}

func TestUpdateNoFields(t *testing.T) {
	store := openStore(t)

	if _, err := store.Update(models.UpdateEncoderSettings{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
