package schedulestorage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/storage/sqlite"
)

type ScheduleStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *ScheduleStorage {
	return &ScheduleStorage{
		db: db,
	}
}

const selectSchedule = `
	SELECT s.id, s.camera_id, s.name, s.cron_expression, s.duration_minutes, s.fps,
	       s.is_enabled, s.next_run, s.created_at, s.updated_at, c.name AS camera_name
	FROM %s s
	LEFT JOIN %s c ON s.camera_id = c.id`

func (s *ScheduleStorage) Save(sch models.NewSchedule) (models.Schedule, error) {
	const op = "storage.sqlite.schedules.Save"

	now := time.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %s
		(camera_id, name, cron_expression, duration_minutes, fps, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, sqlite.SchedulesTable)

	res, err := s.db.Exec(query, sch.CameraID, sch.Name, sch.CronExpr, sch.DurationMn, sch.FPS, sch.IsEnabled, now, now)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.Schedule(int(id))
}

func (s *ScheduleStorage) Schedule(id int) (models.Schedule, error) {
	const op = "storage.sqlite.schedules.Schedule"

	var sch models.Schedule

	query := fmt.Sprintf(selectSchedule+` WHERE s.id = ?`, sqlite.SchedulesTable, sqlite.CamerasTable)

	if err := s.db.Get(&sch, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Schedule{}, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
		}

		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	return sch, nil
}

func (s *ScheduleStorage) Schedules() ([]models.Schedule, error) {
	const op = "storage.sqlite.schedules.Schedules"

	var schs []models.Schedule

	query := fmt.Sprintf(selectSchedule+` ORDER BY s.created_at DESC`, sqlite.SchedulesTable, sqlite.CamerasTable)

	if err := s.db.Select(&schs, query); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return schs, nil
}

func (s *ScheduleStorage) Update(id int, upd models.UpdateSchedule) (models.Schedule, error) {
	const op = "storage.sqlite.schedules.Update"

	var setClauses []string
	var args []any

	if upd.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.CronExpr != nil {
		setClauses = append(setClauses, "cron_expression = ?")
		args = append(args, *upd.CronExpr)
	}
	if upd.DurationMn != nil {
		setClauses = append(setClauses, "duration_minutes = ?")
		args = append(args, *upd.DurationMn)
	}
	if upd.FPS != nil {
		setClauses = append(setClauses, "fps = ?")
		args = append(args, *upd.FPS)
	}
	if upd.IsEnabled != nil {
		setClauses = append(setClauses, "is_enabled = ?")
		args = append(args, *upd.IsEnabled)
	}

	if len(setClauses) == 0 {
		return models.Schedule{}, fmt.Errorf("%s: no fields to update: %w", op, errs.ErrInvalidInput)
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", sqlite.SchedulesTable, strings.Join(setClauses, ", "))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}

	return s.Schedule(id)
}

// SetNextRun records the engine-derived next fire instant for display.
func (s *ScheduleStorage) SetNextRun(id int, next *time.Time) error {
	const op = "storage.sqlite.schedules.SetNextRun"

	query := fmt.Sprintf(`UPDATE %s SET next_run = ? WHERE id = ?`, sqlite.SchedulesTable)

	if _, err := s.db.Exec(query, next, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *ScheduleStorage) Delete(id int) error {
	const op = "storage.sqlite.schedules.Delete"

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, sqlite.SchedulesTable)

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
