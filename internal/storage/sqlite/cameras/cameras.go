package camerastorage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/storage/sqlite"
)

// LiveChecker certifies that no live session or job still references a
// camera. The supervisor and the recording manager implement it; Delete
// refuses to remove a row the media plane still uses.
type LiveChecker interface {
	InUse(cameraID int) bool
}

type CameraStorage struct {
	db   *sqlx.DB
	live LiveChecker
}

func New(db *sqlx.DB, live LiveChecker) *CameraStorage {
	return &CameraStorage{
		db:   db,
		live: live,
	}
}

func (s *CameraStorage) Save(cam models.NewCamera) (models.Camera, error) {
	const op = "storage.sqlite.cameras.Save"

	now := time.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %s
		(name, kind, host, port, user, pass, xaddr, stream_path, device_node, pixel_format, width, height, fps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, sqlite.CamerasTable)

	res, err := s.db.Exec(query,
		cam.Name, cam.Kind, cam.Host, cam.Port,
		cam.User, cam.Pass, cam.XAddr, cam.StreamPath,
		cam.DeviceNode, cam.PixelFmt, cam.Width, cam.Height, cam.FPS,
		now, now,
	)
	if err != nil {
		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.Camera(int(id))
}

func (s *CameraStorage) Camera(id int) (models.Camera, error) {
	const op = "storage.sqlite.cameras.Camera"

	var cam models.Camera

	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = ?`, sqlite.CamerasTable)

	if err := s.db.Get(&cam, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Camera{}, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
		}

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	return cam, nil
}

func (s *CameraStorage) Cameras() ([]models.Camera, error) {
	const op = "storage.sqlite.cameras.Cameras"

	var cams []models.Camera

	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY id`, sqlite.CamerasTable)

	if err := s.db.Select(&cams, query); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cams, nil
}

// Delete removes a camera row. Schedules and recording rows cascade via
// foreign keys; callers must tear down the camera's media plane first.
func (s *CameraStorage) Delete(id int) error {
	const op = "storage.sqlite.cameras.Delete"

	if s.live != nil && s.live.InUse(id) {
		return fmt.Errorf("%s: %w", op, errs.ErrConflict)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, sqlite.CamerasTable)

	result, err := s.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}

	return nil
}
