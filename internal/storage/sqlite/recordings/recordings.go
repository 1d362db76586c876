package recordingstorage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/storage/sqlite"
)

type RecordingStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *RecordingStorage {
	return &RecordingStorage{
		db: db,
	}
}

// Save inserts a finalized recording and returns its id. Only the
// finalization step calls this; captures in flight have no row.
func (s *RecordingStorage) Save(rec models.Recording) (int, error) {
	const op = "storage.sqlite.recordings.Save"

	query := fmt.Sprintf(`INSERT INTO %s (camera_id, filename, thumbnail, start_time, end_time)
		VALUES (?, ?, ?, ?, ?)`, sqlite.RecordingsTable)

	res, err := s.db.Exec(query, rec.CameraID, rec.Filename, rec.Thumbnail, rec.StartTime, rec.EndTime)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return int(id), nil
}

func (s *RecordingStorage) Recording(id int) (models.Recording, error) {
	const op = "storage.sqlite.recordings.Recording"

	var rec models.Recording

	query := fmt.Sprintf(`
		SELECT r.id, r.camera_id, r.filename, r.thumbnail, r.start_time, r.end_time, c.name AS camera_name
		FROM %s r
		LEFT JOIN %s c ON r.camera_id = c.id
		WHERE r.id = ?`, sqlite.RecordingsTable, sqlite.CamerasTable)

	if err := s.db.Get(&rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Recording{}, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
		}

		return models.Recording{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (s *RecordingStorage) Recordings() ([]models.Recording, error) {
	const op = "storage.sqlite.recordings.Recordings"

	var recs []models.Recording

	query := fmt.Sprintf(`
		SELECT r.id, r.camera_id, r.filename, r.thumbnail, r.start_time, r.end_time, c.name AS camera_name
		FROM %s r
		LEFT JOIN %s c ON r.camera_id = c.id
		ORDER BY r.start_time DESC`, sqlite.RecordingsTable, sqlite.CamerasTable)

	if err := s.db.Select(&recs, query); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}

func (s *RecordingStorage) Delete(id int) error {
	const op = "storage.sqlite.recordings.Delete"

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, sqlite.RecordingsTable)

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
