package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/aler9/gortsplib"
	rtspurl "github.com/aler9/gortsplib/pkg/url"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/onvif"
)

const preflightTimeout = 5 * time.Second

// Resolver turns a camera row into ffmpeg input arguments. Network
// cameras resolve to an RTSP URL, local devices to a capture input.
type Resolver struct {
	log   *slog.Logger
	onvif *onvif.Client
}

func New(log *slog.Logger, onvifClient *onvif.Client) *Resolver {
	return &Resolver{
		log:   log,
		onvif: onvifClient,
	}
}

// Input is a resolved media source. Every source is transcoded with the
// selected encoder; the distinction that matters downstream is network
// versus local device (audio handling, preflight).
type Input struct {
	// Args are the ffmpeg flags up to and including -i.
	Args []string
	// RTSPURL is set for network sources and empty for local devices.
	RTSPURL string
}

// Resolve builds the input for a camera.
func (r *Resolver) Resolve(ctx context.Context, cam models.Camera) (Input, error) {
	const op = "source.Resolve"

	switch cam.Kind {
	case models.KindONVIF:
		u, err := r.onvif.StreamURL(ctx, cam)
		if err != nil {
			return Input{}, fmt.Errorf("%s: %w", op, err)
		}

		return rtspInput(u), nil

	case models.KindRTSP:
		return rtspInput(directRTSPURL(cam)), nil

	case models.KindUVC:
		in, err := deviceInput(cam)
		if err != nil {
			return Input{}, fmt.Errorf("%s: %w", op, err)
		}

		return in, nil

	default:
		return Input{}, fmt.Errorf("%s: unknown camera kind %q: %w", op, cam.Kind, errs.ErrInvalidInput)
	}
}

// Preflight verifies an RTSP source answers OPTIONS before ffmpeg is
// spawned against it. Local devices have empty RTSPURL and skip this.
func (r *Resolver) Preflight(in Input) error {
	const op = "source.Preflight"

	if in.RTSPURL == "" {
		return nil
	}

	u, err := rtspurl.Parse(in.RTSPURL)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, errs.ErrInvalidInput, err)
	}

	c := gortsplib.Client{
		ReadTimeout:  preflightTimeout,
		WriteTimeout: preflightTimeout,
	}

	if err := c.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("%s: %w: %v", op, errs.ErrUnreachable, err)
	}
	defer c.Close()

	if _, err := c.Options(u); err != nil {
		return fmt.Errorf("%s: %w: %v", op, errs.ErrUnreachable, err)
	}

	return nil
}

func rtspInput(u string) Input {
	return Input{
		Args:    []string{"-rtsp_transport", "tcp", "-i", u},
		RTSPURL: u,
	}
}

// directRTSPURL assembles the URL for a plain RTSP camera from its row.
func directRTSPURL(cam models.Camera) string {
	var userinfo string
	if cam.User != nil && *cam.User != "" {
		userinfo = *cam.User
		if cam.Pass != nil {
			userinfo += ":" + url.QueryEscape(*cam.Pass)
		}
		userinfo += "@"
	}

	path := "/"
	if cam.StreamPath != nil {
		path = *cam.StreamPath
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	}

	port := cam.Port
	if port == 0 {
		port = 554
	}

	return fmt.Sprintf("rtsp://%s%s:%d%s", userinfo, cam.Host, port, path)
}

// deviceInput builds the capture input for a local device on the running
// platform.
func deviceInput(cam models.Camera) (Input, error) {
	if cam.DeviceNode == nil || *cam.DeviceNode == "" {
		return Input{}, fmt.Errorf("uvc camera without device node: %w", errs.ErrInvalidInput)
	}

	width, height, fps := 1280, 720, 30
	if cam.Width != nil && *cam.Width > 0 {
		width = *cam.Width
	}
	if cam.Height != nil && *cam.Height > 0 {
		height = *cam.Height
	}
	if cam.FPS != nil && *cam.FPS > 0 {
		fps = *cam.FPS
	}

	size := strconv.Itoa(width) + "x" + strconv.Itoa(height)
	rate := strconv.Itoa(fps)

	var args []string
	switch runtime.GOOS {
	case "windows":
		args = []string{"-f", "dshow", "-video_size", size, "-framerate", rate, "-i", *cam.DeviceNode}
	case "darwin":
		args = []string{"-f", "avfoundation", "-video_size", size, "-framerate", rate, "-i", *cam.DeviceNode}
	default:
		args = []string{"-f", "v4l2"}
		if cam.PixelFmt != nil && *cam.PixelFmt != "" {
			args = append(args, "-input_format", ffmpegPixelFmt(*cam.PixelFmt))
		}
		args = append(args, "-video_size", size, "-framerate", rate, "-i", *cam.DeviceNode)
	}

	return Input{Args: args}, nil
}

// ffmpegPixelFmt maps fourcc codes to ffmpeg input format names.
func ffmpegPixelFmt(fourcc string) string {
	switch strings.ToUpper(fourcc) {
	case "MJPG":
		return "mjpeg"
	case "YUYV":
		return "yuyv422"
	case "H264":
		return "h264"
	default:
		return strings.ToLower(fourcc)
	}
}
