package models

import "time"

// Recording is a finalized recording. Rows exist only after remux and
// thumbnail generation succeed; a capture that is still running has no row.
type Recording struct {
	ID         int       `db:"id" json:"id"`
	CameraID   int       `db:"camera_id" json:"camera_id"`
	Filename   string    `db:"filename" json:"filename"`
	Thumbnail  *string   `db:"thumbnail" json:"thumbnail,omitempty"`
	StartTime  time.Time `db:"start_time" json:"start_time"`
	EndTime    time.Time `db:"end_time" json:"end_time"`
	CameraName *string   `db:"camera_name" json:"camera_name,omitempty"`
}

// RecordingOptions adjust a single capture.
type RecordingOptions struct {
	FPS      *int `json:"fps,omitempty"`
	Duration *int `json:"duration,omitempty"` // minutes
}
