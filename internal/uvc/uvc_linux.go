//go:build linux

package uvc

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/lib/sl"
)

var (
	reFormatLine   = regexp.MustCompile(`\[\d+\]: '(\w{4})'`)
	reSizeLine     = regexp.MustCompile(`Size: Discrete (\d+)x(\d+)`)
	reIntervalLine = regexp.MustCompile(`\((\d+(?:\.\d+)?) fps\)`)
)

func (p *Prober) listDevices(ctx context.Context) ([]models.UVCDevice, error) {
	const op = "uvc.listDevices"

	out, err := exec.CommandContext(ctx, "v4l2-ctl", "--list-devices").CombinedOutput()
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("%s: v4l2-ctl: %w: %v", op, errs.ErrProcessFailed, err)
	}

	var devices []models.UVCDevice

	for name, nodes := range parseDeviceList(string(out)) {
		dev, ok := p.probeNodes(ctx, name, nodes)
		if !ok {
			continue
		}

		devices = append(devices, dev)
	}

	return devices, nil
}

// probeNodes picks the first node of a physical device that advertises
// capture formats. Extra nodes are usually metadata-only and list none.
func (p *Prober) probeNodes(ctx context.Context, name string, nodes []string) (models.UVCDevice, bool) {
	for _, node := range nodes {
		out, err := exec.CommandContext(ctx, "v4l2-ctl", "-d", node, "--list-formats-ext").CombinedOutput()
		if err != nil {
			p.log.Debug("format probe failed", slog.String("node", node), sl.Err(err))
			continue
		}

		best, ok := bestCapability(parseFormats(string(out)))
		if !ok {
			continue
		}

		return models.UVCDevice{
			Name:       name,
			DeviceNode: node,
			PixelFmt:   best.PixelFmt,
			Width:      best.Width,
			Height:     best.Height,
			FPS:        best.FPS,
		}, true
	}

	return models.UVCDevice{}, false
}

// parseDeviceList maps device names to their /dev/video* nodes from
// `v4l2-ctl --list-devices` output.
func parseDeviceList(out string) map[string][]string {
	devices := make(map[string][]string)

	var current string
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " ") {
			current = strings.TrimSuffix(trimmed, ":")
			if idx := strings.Index(current, " ("); idx > 0 {
				current = current[:idx]
			}
			continue
		}

		if current != "" && strings.HasPrefix(trimmed, "/dev/video") {
			devices[current] = append(devices[current], trimmed)
		}
	}

	return devices
}

// parseFormats extracts capture tuples from `v4l2-ctl --list-formats-ext`.
func parseFormats(out string) []capability {
	var (
		caps   []capability
		format string
		width  int
		height int
	)

	for _, line := range strings.Split(out, "\n") {
		if m := reFormatLine.FindStringSubmatch(line); m != nil {
			format = m[1]
			continue
		}

		if m := reSizeLine.FindStringSubmatch(line); m != nil {
			width, _ = strconv.Atoi(m[1])
			height, _ = strconv.Atoi(m[2])
			continue
		}

		if m := reIntervalLine.FindStringSubmatch(line); m != nil && format != "" && width > 0 {
			fps, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}

			caps = append(caps, capability{
				PixelFmt: format,
				Width:    width,
				Height:   height,
				FPS:      int(fps),
			})
		}
	}

	return caps
}
