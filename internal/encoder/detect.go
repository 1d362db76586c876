package encoder

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/lib/sl"
)

// GPU vendor classes.
const (
	GPUNone   = "none"
	GPUNvidia = "nvidia"
	GPUIntel  = "intel"
	GPUAmd    = "amd"
	GPUApple  = "apple"
)

// hwEncoders maps a vendor class to its h264 ffmpeg encoder.
var hwEncoders = map[string]string{
	GPUNvidia: "h264_nvenc",
	GPUIntel:  "h264_qsv",
	GPUAmd:    "h264_amf",
	GPUApple:  "h264_videotoolbox",
}

const selfTestTimeout = 15 * time.Second

// commandRunner lets tests substitute the external probes.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Detector inspects the host for hardware encoders usable by ffmpeg.
type Detector struct {
	log *slog.Logger
	run commandRunner
}

func NewDetector(log *slog.Logger) *Detector {
	return &Detector{
		log: log,
		run: execRunner,
	}
}

// Detect reports the GPU class, its name when known, and the h264
// encoders the local ffmpeg both lists and can actually encode with.
// The self-test weeds out builds compiled with an encoder whose driver
// stack is absent.
func (d *Detector) Detect(ctx context.Context) models.GPUCapabilities {
	caps := models.GPUCapabilities{
		GPUType:           GPUNone,
		AvailableEncoders: []string{},
	}

	listed := d.listedEncoders(ctx)

	caps.GPUType, caps.GPUName = d.gpuType(ctx)

	for _, enc := range []string{"h264_nvenc", "h264_qsv", "h264_amf", "h264_vaapi", "h264_videotoolbox", "libx264"} {
		if !listed[enc] {
			continue
		}

		if enc != "libx264" && !d.selfTest(ctx, enc) {
			d.log.Debug("encoder listed but self-test failed", slog.String("encoder", enc))
			continue
		}

		caps.AvailableEncoders = append(caps.AvailableEncoders, enc)
	}

	if hw, ok := hwEncoders[caps.GPUType]; ok {
		for _, enc := range caps.AvailableEncoders {
			if enc == hw {
				preferred := hw
				caps.PreferredEncoder = &preferred
				break
			}
		}
	}

	// vaapi can serve intel and amd when the vendor encoder is absent
	if caps.PreferredEncoder == nil && (caps.GPUType == GPUIntel || caps.GPUType == GPUAmd) {
		for _, enc := range caps.AvailableEncoders {
			if enc == "h264_vaapi" {
				preferred := enc
				caps.PreferredEncoder = &preferred
				break
			}
		}
	}

	d.log.Info("gpu detection finished",
		slog.String("gpu_type", caps.GPUType),
		slog.Any("encoders", caps.AvailableEncoders),
	)

	return caps
}

// listedEncoders scrapes `ffmpeg -encoders` for h264 entries.
func (d *Detector) listedEncoders(ctx context.Context) map[string]bool {
	out, err := d.run(ctx, "ffmpeg", "-hide_banner", "-encoders")
	if err != nil {
		d.log.Warn("ffmpeg encoder listing failed", sl.Err(err))
		return map[string]bool{}
	}

	listed := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		for _, enc := range []string{"h264_nvenc", "h264_qsv", "h264_amf", "h264_vaapi", "h264_videotoolbox", "libx264"} {
			if strings.Contains(line, " "+enc+" ") {
				listed[enc] = true
			}
		}
	}

	return listed
}

// selfTest encodes half a second of synthetic video to verify the encoder
// works end to end on this host.
func (d *Detector) selfTest(ctx context.Context, enc string) bool {
	ctx, cancel := context.WithTimeout(ctx, selfTestTimeout)
	defer cancel()

	args := []string{"-hide_banner", "-f", "lavfi", "-i", "testsrc2=duration=0.5:size=320x240:rate=30"}
	if enc == "h264_vaapi" {
		args = append(args, "-vaapi_device", "/dev/dri/renderD128", "-vf", "format=nv12,hwupload")
	}
	args = append(args, "-c:v", enc, "-f", "null", "-")

	_, err := d.run(ctx, "ffmpeg", args...)

	return err == nil
}

func (d *Detector) gpuType(ctx context.Context) (string, *string) {
	if runtime.GOOS == "darwin" {
		return GPUApple, nil
	}

	if out, err := d.run(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader"); err == nil {
		if name := strings.TrimSpace(strings.Split(string(out), "\n")[0]); name != "" {
			return GPUNvidia, &name
		}

		return GPUNvidia, nil
	}

	if runtime.GOOS == "windows" {
		out, err := d.run(ctx, "wmic", "path", "win32_VideoController", "get", "name")
		if err == nil {
			return classifyGPUName(string(out))
		}

		return GPUNone, nil
	}

	if out, err := d.run(ctx, "lspci"); err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			if !strings.Contains(line, "VGA") && !strings.Contains(line, "3D controller") && !strings.Contains(line, "Display controller") {
				continue
			}

			if typ, name := classifyGPUName(line); typ != GPUNone {
				return typ, name
			}
		}
	}

	// a render node alone still allows vaapi
	if _, err := os.Stat("/dev/dri/renderD128"); err == nil {
		return GPUIntel, nil
	}

	return GPUNone, nil
}

func classifyGPUName(s string) (string, *string) {
	lower := strings.ToLower(s)

	var typ string
	switch {
	case strings.Contains(lower, "nvidia"):
		typ = GPUNvidia
	case strings.Contains(lower, "amd"), strings.Contains(lower, "radeon"), strings.Contains(lower, "ati "):
		typ = GPUAmd
	case strings.Contains(lower, "intel"):
		typ = GPUIntel
	default:
		return GPUNone, nil
	}

	name := strings.TrimSpace(s)
	if idx := strings.Index(name, ": "); idx >= 0 {
		name = strings.TrimSpace(name[idx+2:])
	}
	if name == "" {
		return typ, nil
	}

	return typ, &name
}
