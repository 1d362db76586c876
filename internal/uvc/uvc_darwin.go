//go:build darwin

package uvc

import (
	"context"
	"regexp"
	"strings"

	"os/exec"

	"github.com/aktnk/camerad/internal/domain/models"
)

var reAVFoundationVideo = regexp.MustCompile(`\[(\d+)\]\s+(.+)$`)

// listDevices enumerates AVFoundation capture devices. ffmpeg prints the
// device list on stderr and exits non-zero, so the error is ignored when
// output was produced. Only the video section is read; a safe default
// capture tuple is reported.
func (p *Prober) listDevices(ctx context.Context) ([]models.UVCDevice, error) {
	out, _ := exec.CommandContext(ctx,
		"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "",
	).CombinedOutput()

	var (
		devices []models.UVCDevice
		inVideo bool
	)

	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.Contains(line, "AVFoundation video devices"):
			inVideo = true
			continue
		case strings.Contains(line, "AVFoundation audio devices"):
			inVideo = false
			continue
		}

		if !inVideo {
			continue
		}

		m := reAVFoundationVideo.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		devices = append(devices, models.UVCDevice{
			Name:       strings.TrimSpace(m[2]),
			DeviceNode: m[1],
			PixelFmt:   "MJPG",
			Width:      1280,
			Height:     720,
			FPS:        30,
		})
	}

	return devices, nil
}
