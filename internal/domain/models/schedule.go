package models

import "time"

// Schedule is a cron-driven recording. Expressions are 5-field POSIX and
// evaluated in Asia/Tokyo. NextRun is derived on (re-)registration and kept
// only for display.
type Schedule struct {
	ID         int        `db:"id" json:"id"`
	CameraID   int        `db:"camera_id" json:"camera_id"`
	Name       string     `db:"name" json:"name"`
	CronExpr   string     `db:"cron_expression" json:"cron_expression"`
	DurationMn int        `db:"duration_minutes" json:"duration_minutes"`
	FPS        *int       `db:"fps" json:"fps,omitempty"`
	IsEnabled  bool       `db:"is_enabled" json:"is_enabled"`
	NextRun    *time.Time `db:"next_run" json:"next_run,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	CameraName *string    `db:"camera_name" json:"camera_name,omitempty"`
}

type NewSchedule struct {
	CameraID   int    `json:"camera_id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	CronExpr   string `json:"cron_expression" validate:"required"`
	DurationMn int    `json:"duration_minutes" validate:"required,gt=0"`
	FPS        *int   `json:"fps,omitempty"`
	IsEnabled  bool   `json:"is_enabled"`
}

type UpdateSchedule struct {
	Name       *string `json:"name,omitempty"`
	CronExpr   *string `json:"cron_expression,omitempty"`
	DurationMn *int    `json:"duration_minutes,omitempty"`
	FPS        *int    `json:"fps,omitempty"`
	IsEnabled  *bool   `json:"is_enabled,omitempty"`
}
