package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aktnk/camerad/internal/config"
	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/encoder"
	"github.com/aktnk/camerad/internal/events"
	"github.com/aktnk/camerad/internal/lib/sl"
	"github.com/aktnk/camerad/internal/runner"
	"github.com/aktnk/camerad/internal/source"
)

// Session states.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

const (
	startConfirmWait = 250 * time.Millisecond
	stopGrace        = 2 * time.Second

	connectAttempts = 3
	connectBackoff  = 500 * time.Millisecond

	launchSettleWait   = 10 * time.Second
	launchPollInterval = 25 * time.Millisecond
)

type CameraProvider interface {
	Camera(id int) (models.Camera, error)
}

type SourceResolver interface {
	Resolve(ctx context.Context, cam models.Camera) (source.Input, error)
	Preflight(in source.Input) error
}

type EncoderSelector interface {
	Select(ctx context.Context, fps int) (encoder.Selection, error)
}

type Publisher interface {
	Publish(event string, data any)
}

// Session is the externally visible state of one live stream.
type Session struct {
	CameraID  int       `json:"camera_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Playlist  string    `json:"playlist"`
}

type session struct {
	Session
	proc     runner.Proc
	stopping bool
}

// Supervisor owns the live HLS sessions, one ffmpeg child per camera.
type Supervisor struct {
	log      *slog.Logger
	cfg      *config.Config
	cameras  CameraProvider
	resolver SourceResolver
	selector EncoderSelector
	launcher runner.Launcher
	events   Publisher

	// deviceBusy reports a local device held by the recording manager;
	// set after construction to break the dependency cycle
	deviceBusy func(cameraID int) bool

	mu       sync.Mutex
	sessions map[int]*session
}

// SetDeviceBusyCheck wires in the recording manager's device ownership
// check. Local devices cannot be streamed and captured at once.
func (s *Supervisor) SetDeviceBusyCheck(check func(cameraID int) bool) {
	s.deviceBusy = check
}

func New(
	log *slog.Logger,
	cfg *config.Config,
	cameras CameraProvider,
	resolver SourceResolver,
	selector EncoderSelector,
	launcher runner.Launcher,
	publisher Publisher,
) *Supervisor {
	return &Supervisor{
		log:      log,
		cfg:      cfg,
		cameras:  cameras,
		resolver: resolver,
		selector: selector,
		launcher: launcher,
		events:   publisher,
		sessions: make(map[int]*session),
	}
}

// playlistURL is the loopback manifest address handed back to callers.
// The manifest may not exist yet when Start returns; players poll it.
func (s *Supervisor) playlistURL(cameraID int) string {
	return fmt.Sprintf("http://%s:%d/hls/%d/stream.m3u8", s.cfg.HTTP.Host, s.cfg.HTTP.Port, cameraID)
}

// WipeHLS clears leftover segment files from a previous run. Called once
// at boot before the media routes go live.
func (s *Supervisor) WipeHLS() error {
	const op = "streams.WipeHLS"

	if err := os.RemoveAll(s.cfg.HLSDir()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(s.cfg.HLSDir(), 0o755); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Start brings up a live session for the camera. Starting an already live
// camera returns the existing session unchanged.
func (s *Supervisor) Start(ctx context.Context, cameraID int) (Session, error) {
	const op = "streams.Start"

	cam, err := s.cameras.Camera(cameraID)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	if cam.Kind == models.KindUVC && s.deviceBusy != nil && s.deviceBusy(cameraID) {
		return Session{}, fmt.Errorf("%s: device held by recording: %w", op, errs.ErrConflict)
	}

	s.mu.Lock()
	if existing, ok := s.sessions[cameraID]; ok {
		info := existing.Session
		s.mu.Unlock()

		return info, nil
	}

	// placeholder blocks concurrent starts of the same camera while the
	// source is being resolved
	sess := &session{
		Session: Session{
			CameraID:  cameraID,
			State:     StateStarting,
			StartedAt: time.Now().UTC(),
			Playlist:  s.playlistURL(cameraID),
		},
	}
	s.sessions[cameraID] = sess
	s.mu.Unlock()

	info, err := s.launch(ctx, cam, sess)
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, cameraID)
		s.mu.Unlock()

		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return info, nil
}

func (s *Supervisor) launch(ctx context.Context, cam models.Camera, sess *session) (Session, error) {
	in, err := s.connectSource(ctx, cam)
	if err != nil {
		return Session{}, err
	}

	args, err := s.buildArgs(ctx, cam, in)
	if err != nil {
		return Session{}, err
	}

	outDir := filepath.Join(s.cfg.HLSDir(), strconv.Itoa(cam.ID))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	proc, err := s.launcher.Start("ffmpeg", args...)
	if err != nil {
		return Session{}, err
	}

	// ffmpeg exits within milliseconds on a bad input; catch that here
	// instead of reporting a session that is already dead
	time.Sleep(startConfirmWait)

	if !proc.Alive() {
		exitErr := <-proc.Done()

		return Session{}, fmt.Errorf("stream process died on startup: %w", coalesceProcessErr(exitErr))
	}

	s.mu.Lock()
	if sess.stopping {
		s.mu.Unlock()
		proc.Stop(stopGrace)

		return Session{}, fmt.Errorf("stream stopped during startup: %w", errs.ErrConflict)
	}
	sess.proc = proc
	sess.State = StateRunning
	info := sess.Session
	s.mu.Unlock()

	go s.watch(cam.ID, proc)

	s.log.Info("stream started", slog.Int("camera_id", cam.ID), slog.String("camera", cam.Name))

	return info, nil
}

// connectSource resolves and preflights the input, retrying a few times
// when the camera is merely slow to answer.
func (s *Supervisor) connectSource(ctx context.Context, cam models.Camera) (source.Input, error) {
	var lastErr error

	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return source.Input{}, fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
			case <-time.After(connectBackoff):
			}
		}

		in, err := s.resolver.Resolve(ctx, cam)
		if err != nil {
			lastErr = err
			if !errors.Is(err, errs.ErrUnreachable) {
				return source.Input{}, err
			}
			continue
		}

		if err := s.resolver.Preflight(in); err != nil {
			lastErr = err
			if !errors.Is(err, errs.ErrUnreachable) {
				return source.Input{}, err
			}
			continue
		}

		return in, nil
	}

	return source.Input{}, lastErr
}

func (s *Supervisor) buildArgs(ctx context.Context, cam models.Camera, in source.Input) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "warning", "-fflags", "nobuffer", "-flags", "low_delay"}

	fps := 30
	if cam.FPS != nil && *cam.FPS > 0 {
		fps = *cam.FPS
	}

	sel, err := s.selector.Select(ctx, fps)
	if err != nil {
		return nil, err
	}

	args = append(args, sel.InputArgs...)
	args = append(args, in.Args...)
	args = append(args, sel.VideoArgs...)

	if in.RTSPURL == "" {
		// capture devices carry no audio stream
		args = append(args, "-an")
	} else {
		args = append(args, "-c:a", "aac", "-ar", "48000", "-ac", "2")
	}

	outDir := filepath.Join(s.cfg.HLSDir(), strconv.Itoa(cam.ID))
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.cfg.Stream.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(s.cfg.Stream.PlaylistSize),
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", filepath.Join(outDir, "segment_%05d.ts"),
		filepath.Join(outDir, "stream.m3u8"),
	)

	return args, nil
}

// watch turns an unexpected ffmpeg exit into session teardown and a
// stream-dead event. Operator-requested stops are silent.
func (s *Supervisor) watch(cameraID int, proc runner.Proc) {
	exitErr := <-proc.Done()

	s.mu.Lock()
	sess, ok := s.sessions[cameraID]
	if !ok || sess.proc != proc || sess.stopping {
		s.mu.Unlock()

		return
	}
	delete(s.sessions, cameraID)
	s.mu.Unlock()

	s.log.Warn("stream died", slog.Int("camera_id", cameraID), sl.Err(exitErr))

	reason := "process exited"
	if exitErr != nil {
		reason = exitErr.Error()
	}

	s.events.Publish(events.StreamDead, map[string]any{
		"camera_id": cameraID,
		"reason":    reason,
	})
}

// Stop tears down a camera's live session. Stopping a camera without one
// is a no-op. A stop that lands while the session is still launching
// waits for the launch to settle before tearing down.
func (s *Supervisor) Stop(cameraID int) error {
	const op = "streams.Stop"

	s.mu.Lock()
	sess, ok := s.sessions[cameraID]
	if !ok {
		s.mu.Unlock()

		return nil
	}

	sess.stopping = true
	sess.State = StateStopping
	proc := sess.proc
	s.mu.Unlock()

	if proc == nil {
		proc = s.awaitLaunch(cameraID)
	}

	if proc != nil {
		proc.Stop(stopGrace)
	}

	s.mu.Lock()
	delete(s.sessions, cameraID)
	s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.cfg.HLSDir(), strconv.Itoa(cameraID))); err != nil {
		s.log.Warn("hls cleanup failed", slog.Int("camera_id", cameraID), sl.Err(err))
	}

	s.log.Info("stream stopped", slog.Int("camera_id", cameraID))

	return nil
}

// awaitLaunch waits for a session caught mid-launch to either hand over
// its process or disappear. The launch path checks the stopping flag
// before adopting the process, so this normally returns nil once the
// failed launch removes the session.
func (s *Supervisor) awaitLaunch(cameraID int) runner.Proc {
	deadline := time.Now().Add(launchSettleWait)

	for time.Now().Before(deadline) {
		time.Sleep(launchPollInterval)

		s.mu.Lock()
		sess, ok := s.sessions[cameraID]
		if !ok {
			s.mu.Unlock()

			return nil
		}
		if sess.proc != nil {
			proc := sess.proc
			s.mu.Unlock()

			return proc
		}
		s.mu.Unlock()
	}

	return nil
}

// StopAll tears down every session, for shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Stop(id)
	}
}

// Sessions lists the live sessions.
func (s *Supervisor) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Session)
	}

	return out
}

// Session returns the live session for one camera.
func (s *Supervisor) Session(cameraID int) (Session, error) {
	const op = "streams.Session"

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[cameraID]
	if !ok {
		return Session{}, fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}

	return sess.Session, nil
}

// InUse reports whether the camera has a live session. Part of the
// store's delete gate.
func (s *Supervisor) InUse(cameraID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[cameraID]

	return ok
}

func coalesceProcessErr(err error) error {
	if err == nil {
		return errs.ErrProcessFailed
	}

	return err
}
