//go:build windows

package uvc

import (
	"context"
	"regexp"
	"strings"

	"os/exec"

	"github.com/aktnk/camerad/internal/domain/models"
)

var reDshowVideo = regexp.MustCompile(`"([^"]+)"\s+\(video\)`)

// listDevices enumerates DirectShow capture devices. ffmpeg prints the
// device list on stderr and exits non-zero, so the error is ignored when
// output was produced. Format negotiation is left to capture time; a safe
// default tuple is reported.
func (p *Prober) listDevices(ctx context.Context) ([]models.UVCDevice, error) {
	out, _ := exec.CommandContext(ctx,
		"ffmpeg", "-hide_banner", "-list_devices", "true", "-f", "dshow", "-i", "dummy",
	).CombinedOutput()

	var devices []models.UVCDevice

	for _, line := range strings.Split(string(out), "\n") {
		m := reDshowVideo.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		devices = append(devices, models.UVCDevice{
			Name:       m[1],
			DeviceNode: "video=" + m[1],
			PixelFmt:   "MJPG",
			Width:      1280,
			Height:     720,
			FPS:        30,
		})
	}

	return devices, nil
}
