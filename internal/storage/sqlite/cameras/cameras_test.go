package camerastorage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/storage/sqlite"
	recordingstorage "github.com/aktnk/camerad/internal/storage/sqlite/recordings"
	schedulestorage "github.com/aktnk/camerad/internal/storage/sqlite/schedules"
)

type liveFunc func(int) bool

func (f liveFunc) InUse(id int) bool { return f(id) }

func openDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func strPtr(s string) *string { return &s }

func TestSaveAndGet(t *testing.T) {
	store := New(openDB(t), nil)

	saved, err := store.Save(models.NewCamera{
		Name: "front door",
		Kind: models.KindONVIF,
		Host: "192.168.1.20",
		Port: 80,
		User: strPtr("admin"),
		Pass: strPtr("secret"),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if saved.ID == 0 {
		t.Error("saved camera has no id")
	}
	if saved.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	got, err := store.Camera(saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Name != "front door" || got.Kind != models.KindONVIF || got.Host != "192.168.1.20" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.User == nil || *got.User != "admin" {
		t.Errorf("user = %v", got.User)
	}
}

func TestGetMissing(t *testing.T) {
	store := New(openDB(t), nil)

	_, err := store.Camera(42)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCamerasOrdered(t *testing.T) {
	store := New(openDB(t), nil)

	for _, name := range []string{"a", "b", "c"} {
		if _, err := store.Save(models.NewCamera{Name: name, Kind: models.KindRTSP, Host: "h", Port: 554}); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}

	cams, err := store.Cameras()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(cams) != 3 || cams[0].Name != "a" || cams[2].Name != "c" {
		t.Errorf("list = %+v", cams)
	}
}

func TestDeleteRefusedWhileInUse(t *testing.T) {
	store := New(openDB(t), liveFunc(func(int) bool { return true }))

	saved, err := store.Save(models.NewCamera{Name: "cam", Kind: models.KindRTSP, Host: "h", Port: 554})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Delete(saved.ID); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	if _, err := store.Camera(saved.ID); err != nil {
		t.Errorf("row should survive a refused delete: %v", err)
	}
}

func TestDeleteMissing(t *testing.T) {
	store := New(openDB(t), nil)

	if err := store.Delete(7); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	db := openDB(t)

	store := New(db, nil)
	schedStore := schedulestorage.New(db)
	recStore := recordingstorage.New(db)

	cam, err := store.Save(models.NewCamera{Name: "cam", Kind: models.KindRTSP, Host: "h", Port: 554})
	if err != nil {
		t.Fatalf("save camera: %v", err)
	}

	sched, err := schedStore.Save(models.NewSchedule{
		CameraID:   cam.ID,
		Name:       "nightly",
		CronExpr:   "0 2 * * *",
		DurationMn: 30,
		IsEnabled:  true,
	})
	if err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	now := time.Now().UTC()
	recID, err := recStore.Save(models.Recording{
		CameraID:  cam.ID,
		Filename:  "cam_20260101_000000.mp4",
		StartTime: now.Add(-time.Minute),
		EndTime:   now,
	})
	if err != nil {
		t.Fatalf("save recording: %v", err)
	}

	if err := store.Delete(cam.ID); err != nil {
		t.Fatalf("delete camera: %v", err)
	}

	if _, err := schedStore.Schedule(sched.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("schedule survived cascade: %v", err)
	}
	if _, err := recStore.Recording(recID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("recording survived cascade: %v", err)
	}
}
