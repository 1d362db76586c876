package recordings

import (
	"context"
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

const (
	stopGrace        = 2 * time.Second
	startConfirmWait = 250 * time.Millisecond
	finalizeTimeout  = 2 * time.Minute

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

type RecordingStore interface {
	Save(rec models.Recording) (int, error)
	Recording(id int) (models.Recording, error)
	Recordings() ([]models.Recording, error)
	Delete(id int) error
}

type Publisher interface {
	Publish(event string, data any)
}

// StreamPlane is the live supervisor's view. A local capture device has
// one owner; recording takes precedence, so starting a capture on a uvc
// camera stops its live stream first.
type StreamPlane interface {
	InUse(cameraID int) bool
	Stop(cameraID int) error
}

// Job is the externally visible state of one running capture.
type Job struct {
	CameraID  int       `json:"camera_id"`
	Filename  string    `json:"filename"`
	StartedAt time.Time `json:"started_at"`
}

type job struct {
	Job
	proc     runner.Proc
	timer    *time.Timer
	stopping bool
}

// Manager owns the capture jobs, one ffmpeg child per recording camera.
// A finished capture is remuxed to mp4, gets a thumbnail, and only then
// becomes a recording row.
type Manager struct {
	log      *slog.Logger
	cfg      *config.Config
	cameras  CameraProvider
	resolver SourceResolver
	selector EncoderSelector
	launcher runner.Launcher
	store    RecordingStore
	events   Publisher
	streams  StreamPlane

	mu   sync.Mutex
	jobs map[int]*job
}

func New(
	log *slog.Logger,
	cfg *config.Config,
	cameras CameraProvider,
	resolver SourceResolver,
	selector EncoderSelector,
	launcher runner.Launcher,
	store RecordingStore,
	publisher Publisher,
	streams StreamPlane,
) *Manager {
	return &Manager{
		log:      log,
		cfg:      cfg,
		cameras:  cameras,
		resolver: resolver,
		selector: selector,
		launcher: launcher,
		store:    store,
		events:   publisher,
		streams:  streams,
		jobs:     make(map[int]*job),
	}
}

// Start begins capturing the camera. One capture per camera; a second
// start while one runs is a conflict. A uvc camera with a live stream on
// the same device node gets that stream stopped first.
func (m *Manager) Start(ctx context.Context, cameraID int, opts models.RecordingOptions) (Job, error) {
	const op = "recordings.Start"

	cam, err := m.cameras.Camera(cameraID)
	if err != nil {
		return Job{}, fmt.Errorf("%s: %w", op, err)
	}

	if cam.Kind == models.KindUVC && m.streams != nil && m.streams.InUse(cameraID) {
		m.log.Info("stopping live stream before capture", slog.Int("camera_id", cameraID))

		if err := m.streams.Stop(cameraID); err != nil {
			return Job{}, fmt.Errorf("%s: stop live stream: %w", op, err)
		}
	}

	startedAt := time.Now().UTC()
	base := strconv.Itoa(cameraID) + "_" + startedAt.Format("20060102_150405")

	m.mu.Lock()
	if _, ok := m.jobs[cameraID]; ok {
		m.mu.Unlock()

		return Job{}, fmt.Errorf("%s: recording already running: %w", op, errs.ErrConflict)
	}

	j := &job{Job: Job{
		CameraID:  cameraID,
		Filename:  base + ".mp4",
		StartedAt: startedAt,
	}}
	m.jobs[cameraID] = j
	m.mu.Unlock()

	if err := m.launch(ctx, cam, j, base, opts); err != nil {
		m.mu.Lock()
		delete(m.jobs, cameraID)
		m.mu.Unlock()

		return Job{}, fmt.Errorf("%s: %w", op, err)
	}

	return j.Job, nil
}

func (m *Manager) launch(ctx context.Context, cam models.Camera, j *job, base string, opts models.RecordingOptions) error {
	in, err := m.resolver.Resolve(ctx, cam)
	if err != nil {
		return err
	}

	if err := m.resolver.Preflight(in); err != nil {
		return err
	}

	if err := os.MkdirAll(m.cfg.RecordingTmpDir(), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}
	if err := os.MkdirAll(m.cfg.ThumbnailsDir(), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	args, err := m.buildArgs(ctx, cam, in, opts, filepath.Join(m.cfg.RecordingTmpDir(), base+".ts"))
	if err != nil {
		return err
	}

	proc, err := m.launcher.Start("ffmpeg", args...)
	if err != nil {
		return err
	}

	time.Sleep(startConfirmWait)

	if !proc.Alive() {
		exitErr := <-proc.Done()
		if exitErr == nil {
			exitErr = errs.ErrProcessFailed
		}

		return fmt.Errorf("capture process died on startup: %w", exitErr)
	}

	m.mu.Lock()
	if j.stopping {
		m.mu.Unlock()
		proc.Stop(stopGrace)
		go m.finalize(cam.ID, base, j.StartedAt)

		return fmt.Errorf("capture stopped during startup: %w", errs.ErrConflict)
	}
	j.proc = proc
	if opts.Duration != nil && *opts.Duration > 0 {
		d := time.Duration(*opts.Duration) * time.Minute
		j.timer = time.AfterFunc(d, func() { _ = m.Stop(cam.ID) })
	}
	m.mu.Unlock()

	go m.watch(cam.ID, base, proc)

	m.log.Info("recording started",
		slog.Int("camera_id", cam.ID),
		slog.String("camera", cam.Name),
		slog.String("file", base+".ts"),
	)

	return nil
}

func (m *Manager) buildArgs(ctx context.Context, cam models.Camera, in source.Input, opts models.RecordingOptions, tmpPath string) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	fps := 30
	if opts.FPS != nil && *opts.FPS > 0 {
		fps = *opts.FPS
	} else if cam.FPS != nil && *cam.FPS > 0 {
		fps = *cam.FPS
	}

	sel, err := m.selector.Select(ctx, fps)
	if err != nil {
		return nil, err
	}

	video := sel.VideoArgs
	if opts.FPS != nil {
		video = append([]string{"-r", strconv.Itoa(fps)}, video...)
	}

	args = append(args, sel.InputArgs...)
	args = append(args, in.Args...)
	args = append(args, video...)

	if in.RTSPURL == "" {
		// capture devices carry no audio stream
		args = append(args, "-an")
	} else {
		args = append(args, "-c:a", "aac", "-ar", "48000", "-ac", "2")
	}

	// mpegts survives a killed writer; the remux to mp4 happens after
	return append(args, "-f", "mpegts", tmpPath), nil
}

// watch waits for the capture process to exit, then finalizes whatever
// was written. Crashes finalize too, keeping the partial footage.
func (m *Manager) watch(cameraID int, base string, proc runner.Proc) {
	exitErr := <-proc.Done()

	m.mu.Lock()
	j, ok := m.jobs[cameraID]
	if !ok || j.proc != proc {
		m.mu.Unlock()

		return
	}
	if j.timer != nil {
		j.timer.Stop()
	}
	stopping := j.stopping
	startedAt := j.StartedAt
	delete(m.jobs, cameraID)
	m.mu.Unlock()

	if exitErr != nil && !stopping {
		m.log.Warn("capture process died", slog.Int("camera_id", cameraID), sl.Err(exitErr))
	}

	m.finalize(cameraID, base, startedAt)
}

// finalize remuxes the capture to a faststart mp4, renders a thumbnail,
// inserts the recording row, and drops the transport-stream temp file.
func (m *Manager) finalize(cameraID int, base string, startedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	tmpPath := filepath.Join(m.cfg.RecordingTmpDir(), base+".ts")
	finalPath := filepath.Join(m.cfg.RecordingsDir(), base+".mp4")
	thumbPath := filepath.Join(m.cfg.ThumbnailsDir(), base+".jpg")

	endedAt := time.Now().UTC()

	if err := os.MkdirAll(m.cfg.RecordingsDir(), 0o755); err != nil {
		m.log.Error("recordings dir unavailable", sl.Err(err))

		return
	}

	if err := m.launcher.Run(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", tmpPath,
		"-c", "copy", "-movflags", "+faststart",
		"-y", finalPath,
	); err != nil {
		m.log.Error("recording remux failed; keeping temp file",
			slog.Int("camera_id", cameraID), slog.String("file", base+".ts"), sl.Err(err))

		return
	}

	var thumbnail *string
	if err := m.launcher.Run(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-ss", "1", "-i", finalPath,
		"-frames:v", "1", "-vf", "scale=320:180:force_original_aspect_ratio=decrease",
		"-y", thumbPath,
	); err != nil {
		// a recording without a thumbnail is still a recording
		m.log.Warn("thumbnail generation failed", slog.Int("camera_id", cameraID), sl.Err(err))
	} else {
		name := base + ".jpg"
		thumbnail = &name
	}

	recordingID, err := m.store.Save(models.Recording{
		CameraID:  cameraID,
		Filename:  base + ".mp4",
		Thumbnail: thumbnail,
		StartTime: startedAt,
		EndTime:   endedAt,
	})
	if err != nil {
		m.log.Error("recording row insert failed", slog.Int("camera_id", cameraID), sl.Err(err))

		return
	}

	if err := os.Remove(tmpPath); err != nil {
		m.log.Warn("temp file cleanup failed", slog.String("file", tmpPath), sl.Err(err))
	}

	m.log.Info("recording finalized",
		slog.Int("camera_id", cameraID),
		slog.Int("recording_id", recordingID),
		slog.String("file", base+".mp4"),
	)

	m.events.Publish(events.RecordingFinalized, map[string]int{
		"camera_id":    cameraID,
		"recording_id": recordingID,
	})
}

// Stop ends the camera's capture and waits for the process to exit.
// Finalization runs asynchronously. Stopping a camera without a capture
// is a no-op. A stop that lands while the capture is still launching
// waits for the launch to settle before tearing down.
func (m *Manager) Stop(cameraID int) error {
	m.mu.Lock()
	j, ok := m.jobs[cameraID]
	if !ok {
		m.mu.Unlock()

		return nil
	}

	j.stopping = true
	proc := j.proc
	m.mu.Unlock()

	if proc == nil {
		proc = m.awaitLaunch(cameraID)
	}

	if proc != nil {
		proc.Stop(stopGrace)
	}

	return nil
}

// awaitLaunch waits for a job caught mid-launch to either hand over its
// process or disappear. The launch path checks the stopping flag before
// adopting the process, so this normally returns nil once the aborted
// launch removes the job.
func (m *Manager) awaitLaunch(cameraID int) runner.Proc {
	deadline := time.Now().Add(launchSettleWait)

	for time.Now().Before(deadline) {
		time.Sleep(launchPollInterval)

		m.mu.Lock()
		j, ok := m.jobs[cameraID]
		if !ok {
			m.mu.Unlock()

			return nil
		}
		if j.proc != nil {
			proc := j.proc
			m.mu.Unlock()

			return proc
		}
		m.mu.Unlock()
	}

	return nil
}

// StopAll ends every capture, for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// Jobs lists the captures in flight.
func (m *Manager) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Job)
	}

	return out
}

// InUse reports whether the camera has a capture in flight. Part of the
// store's delete gate.
func (m *Manager) InUse(cameraID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.jobs[cameraID]

	return ok
}

// Recordings lists finalized recordings.
func (m *Manager) Recordings() ([]models.Recording, error) {
	return m.store.Recordings()
}

// Recording returns one finalized recording.
func (m *Manager) Recording(id int) (models.Recording, error) {
	return m.store.Recording(id)
}

// Delete removes a recording's media file, thumbnail, and row. Missing
// files are tolerated so a half-deleted recording can be retried.
func (m *Manager) Delete(id int) error {
	const op = "recordings.Delete"

	rec, err := m.store.Recording(id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := removeIfExists(filepath.Join(m.cfg.RecordingsDir(), rec.Filename)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rec.Thumbnail != nil {
		if err := removeIfExists(filepath.Join(m.cfg.ThumbnailsDir(), *rec.Thumbnail)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := m.store.Delete(id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.log.Info("recording deleted", slog.Int("recording_id", id), slog.String("file", rec.Filename))

	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
