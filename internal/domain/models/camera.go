package models

import "time"

// Camera kinds. Kind-specific columns are nullable in the store and
// validated by the camera service on insert.
const (
	KindONVIF = "onvif"
	KindRTSP  = "rtsp"
	KindUVC   = "uvc"
)

type Camera struct {
	ID         int       `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Kind       string    `db:"kind" json:"kind"`
	Host       string    `db:"host" json:"host"`
	Port       int       `db:"port" json:"port"`
	User       *string   `db:"user" json:"user,omitempty"`
	Pass       *string   `db:"pass" json:"pass,omitempty"`
	XAddr      *string   `db:"xaddr" json:"xaddr,omitempty"`
	StreamPath *string   `db:"stream_path" json:"stream_path,omitempty"`
	DeviceNode *string   `db:"device_node" json:"device_node,omitempty"`
	PixelFmt   *string   `db:"pixel_format" json:"pixel_format,omitempty"`
	Width      *int      `db:"width" json:"width,omitempty"`
	Height     *int      `db:"height" json:"height,omitempty"`
	FPS        *int      `db:"fps" json:"fps,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type NewCamera struct {
	Name       string  `json:"name" validate:"required"`
	Kind       string  `json:"kind" validate:"required,oneof=onvif rtsp uvc"`
	Host       string  `json:"host"`
	Port       int     `json:"port"`
	User       *string `json:"user,omitempty"`
	Pass       *string `json:"pass,omitempty"`
	XAddr      *string `json:"xaddr,omitempty"`
	StreamPath *string `json:"stream_path,omitempty"`
	DeviceNode *string `json:"device_node,omitempty"`
	PixelFmt   *string `json:"pixel_format,omitempty"`
	Width      *int    `json:"width,omitempty"`
	Height     *int    `json:"height,omitempty"`
	FPS        *int    `json:"fps,omitempty"`
}

// DiscoveredDevice is one WS-Discovery probe match.
type DiscoveredDevice struct {
	Address      string  `json:"address"`
	Port         int     `json:"port"`
	Hostname     string  `json:"hostname"`
	Name         string  `json:"name"`
	Manufacturer string  `json:"manufacturer"`
	XAddr        *string `json:"xaddr,omitempty"`
}

// UVCDevice is a local capture device together with the capture tuple the
// probe selected for it.
type UVCDevice struct {
	Name       string `json:"name"`
	DeviceNode string `json:"device_node"`
	PixelFmt   string `json:"pixel_format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FPS        int    `json:"fps"`
}
