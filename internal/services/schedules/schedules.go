package schedules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/lib/sl"
	"github.com/aktnk/camerad/internal/services/recordings"
)

// Schedules are evaluated in Asia/Tokyo regardless of the host zone, so
// a fleet spanning machines in different zones fires in lockstep.
const scheduleZone = "Asia/Tokyo"

// cronParser accepts the classic 5-field form only.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

type ScheduleStore interface {
	Save(sch models.NewSchedule) (models.Schedule, error)
	Schedule(id int) (models.Schedule, error)
	Schedules() ([]models.Schedule, error)
	Update(id int, upd models.UpdateSchedule) (models.Schedule, error)
	SetNextRun(id int, next *time.Time) error
	Delete(id int) error
}

type Recorder interface {
	Start(ctx context.Context, cameraID int, opts models.RecordingOptions) (recordings.Job, error)
}

// Engine registers enabled schedules with an embedded cron runner and
// turns each fire into a fixed-duration recording.
type Engine struct {
	log      *slog.Logger
	store    ScheduleStore
	recorder Recorder
	cron     *cron.Cron
	loc      *time.Location

	mu      sync.Mutex
	entries map[int]cron.EntryID
}

func New(log *slog.Logger, store ScheduleStore, recorder Recorder) (*Engine, error) {
	const op = "schedules.New"

	loc, err := time.LoadLocation(scheduleZone)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Engine{
		log:      log,
		store:    store,
		recorder: recorder,
		cron:     cron.New(cron.WithLocation(loc), cron.WithParser(cronParser)),
		loc:      loc,
		entries:  make(map[int]cron.EntryID),
	}, nil
}

// ValidateExpr rejects anything but a parseable 5-field expression.
func ValidateExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("bad cron expression %q: %w: %v", expr, errs.ErrInvalidInput, err)
	}

	return nil
}

// Start launches the runner and registers everything enabled in the
// store. Called once at boot.
func (e *Engine) Start() error {
	const op = "schedules.Start"

	e.cron.Start()

	if err := e.reconcileAll(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stop halts the runner without waiting for in-flight callbacks.
func (e *Engine) Stop() {
	e.cron.Stop()
}

func (e *Engine) reconcileAll() error {
	schs, err := e.store.Schedules()
	if err != nil {
		return err
	}

	for _, sch := range schs {
		if err := e.reconcile(sch); err != nil {
			e.log.Error("schedule registration failed", slog.Int("schedule_id", sch.ID), sl.Err(err))
		}
	}

	return nil
}

// reconcile brings the runner in line with one schedule row: enabled
// rows get an entry, disabled ones lose theirs, and next_run is written
// back for display.
func (e *Engine) reconcile(sch models.Schedule) error {
	e.mu.Lock()
	if entryID, ok := e.entries[sch.ID]; ok {
		e.cron.Remove(entryID)
		delete(e.entries, sch.ID)
	}
	e.mu.Unlock()

	if !sch.IsEnabled {
		return e.store.SetNextRun(sch.ID, nil)
	}

	scheduleID, cameraID := sch.ID, sch.CameraID
	opts := models.RecordingOptions{FPS: sch.FPS, Duration: &sch.DurationMn}

	entryID, err := e.cron.AddFunc(sch.CronExpr, func() {
		e.fire(scheduleID, cameraID, opts)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	e.mu.Lock()
	e.entries[sch.ID] = entryID
	e.mu.Unlock()

	return e.writeNextRun(sch.ID, sch.CronExpr)
}

// writeNextRun derives the next fire instant from the expression itself;
// runner entries only expose it once the runner is started.
func (e *Engine) writeNextRun(scheduleID int, expr string) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	next := sched.Next(time.Now().In(e.loc)).UTC()

	return e.store.SetNextRun(scheduleID, &next)
}

// fire starts the scheduled recording. A camera already capturing makes
// this tick a no-op rather than a queued retry.
func (e *Engine) fire(scheduleID, cameraID int, opts models.RecordingOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := e.recorder.Start(ctx, cameraID, opts)
	switch {
	case err == nil:
		e.log.Info("scheduled recording started",
			slog.Int("schedule_id", scheduleID), slog.Int("camera_id", cameraID))
	case errors.Is(err, errs.ErrConflict):
		e.log.Warn("schedule tick skipped, camera busy",
			slog.Int("schedule_id", scheduleID), slog.Int("camera_id", cameraID))
	case errors.Is(err, errs.ErrNotFound):
		// camera deleted between registration and the tick
		e.log.Warn("schedule tick dropped, camera gone",
			slog.Int("schedule_id", scheduleID), slog.Int("camera_id", cameraID))
	default:
		e.log.Error("scheduled recording failed",
			slog.Int("schedule_id", scheduleID), slog.Int("camera_id", cameraID), sl.Err(err))
	}

	sch, err := e.store.Schedule(scheduleID)
	if err != nil {
		return
	}

	if err := e.writeNextRun(scheduleID, sch.CronExpr); err != nil {
		e.log.Warn("next_run writeback failed", slog.Int("schedule_id", scheduleID), sl.Err(err))
	}
}

// Create validates, persists, and registers a schedule.
func (e *Engine) Create(sch models.NewSchedule) (models.Schedule, error) {
	const op = "schedules.Create"

	if err := ValidateExpr(sch.CronExpr); err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	saved, err := e.store.Save(sch)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := e.reconcile(saved); err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	return e.store.Schedule(saved.ID)
}

// Update persists changes and re-registers the schedule.
func (e *Engine) Update(id int, upd models.UpdateSchedule) (models.Schedule, error) {
	const op = "schedules.Update"

	if upd.CronExpr != nil {
		if err := ValidateExpr(*upd.CronExpr); err != nil {
			return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	saved, err := e.store.Update(id, upd)
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := e.reconcile(saved); err != nil {
		return models.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}

	return e.store.Schedule(id)
}

// Delete unregisters and removes a schedule.
func (e *Engine) Delete(id int) error {
	const op = "schedules.Delete"

	e.mu.Lock()
	if entryID, ok := e.entries[id]; ok {
		e.cron.Remove(entryID)
		delete(e.entries, id)
	}
	e.mu.Unlock()

	if err := e.store.Delete(id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UnregisterCamera drops the runner entries of every schedule bound to a
// camera. The rows themselves cascade with the camera delete.
func (e *Engine) UnregisterCamera(cameraID int) {
	schs, err := e.store.Schedules()
	if err != nil {
		e.log.Warn("schedule listing failed during camera teardown", sl.Err(err))

		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sch := range schs {
		if sch.CameraID != cameraID {
			continue
		}

		if entryID, ok := e.entries[sch.ID]; ok {
			e.cron.Remove(entryID)
			delete(e.entries, sch.ID)
		}
	}
}

// Schedule returns one schedule row.
func (e *Engine) Schedule(id int) (models.Schedule, error) {
	return e.store.Schedule(id)
}

// Schedules lists all schedule rows.
func (e *Engine) Schedules() ([]models.Schedule, error) {
	return e.store.Schedules()
}

// NextFire computes the next fire instant of an expression in the
// schedule zone, for previewing an expression before saving it.
func (e *Engine) NextFire(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	return sched.Next(after.In(e.loc)), nil
}
