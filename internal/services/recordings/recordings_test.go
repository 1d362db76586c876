package recordings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aktnk/camerad/internal/config"
	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/encoder"
	"github.com/aktnk/camerad/internal/runner"
	"github.com/aktnk/camerad/internal/source"
)

type fakeCameras struct {
	cams map[int]models.Camera
}

func (f fakeCameras) Camera(id int) (models.Camera, error) {
	cam, ok := f.cams[id]
	if !ok {
		return models.Camera{}, errs.ErrNotFound
	}

	return cam, nil
}

type fakeResolver struct {
	in source.Input
}

func (f *fakeResolver) Resolve(context.Context, models.Camera) (source.Input, error) {
	return f.in, nil
}

func (f *fakeResolver) Preflight(source.Input) error { return nil }

type fakeSelector struct{}

func (fakeSelector) Select(context.Context, int) (encoder.Selection, error) {
	return encoder.Selection{
		Encoder:   "libx264",
		VideoArgs: []string{"-c:v", "libx264", "-preset", "ultrafast", "-crf", "23", "-g", "60"},
	}, nil
}

type fakeProc struct {
	mu    sync.Mutex
	done  chan error
	alive bool
}

func newFakeProc() *fakeProc {
	return &fakeProc{done: make(chan error, 1), alive: true}
}

func (p *fakeProc) Done() <-chan error { return p.done }

func (p *fakeProc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.alive
}

func (p *fakeProc) Stop(time.Duration) { p.exit(nil) }

func (p *fakeProc) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.alive {
		return
	}
	p.alive = false
	p.done <- err
	close(p.done)
}

// fakeLauncher records Start args and Run invocations; Run succeeds and
// creates the output file so the finalize chain holds together.
type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProc
	startArg [][]string
	runs     [][]string
	runErr   error
}

func (l *fakeLauncher) Start(_ string, args ...string) (runner.Proc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := newFakeProc()
	l.procs = append(l.procs, p)
	l.startArg = append(l.startArg, args)

	// the capture writes its temp file
	_ = os.WriteFile(args[len(args)-1], []byte("ts"), 0o644)

	return p, nil
}

func (l *fakeLauncher) Run(_ context.Context, _ string, args ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.runs = append(l.runs, args)

	if l.runErr != nil {
		return l.runErr
	}

	_ = os.WriteFile(args[len(args)-1], []byte("out"), 0o644)

	return nil
}

func (l *fakeLauncher) runCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.runs)
}

type fakeStore struct {
	mu    sync.Mutex
	next  int
	rows  map[int]models.Recording
	saved []models.Recording
}

func newFakeStore() *fakeStore {
	return &fakeStore{next: 1, rows: make(map[int]models.Recording)}
}

func (s *fakeStore) Save(rec models.Recording) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.next
	s.next++
	s.rows[rec.ID] = rec
	s.saved = append(s.saved, rec)

	return rec.ID, nil
}

func (s *fakeStore) Recording(id int) (models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[id]
	if !ok {
		return models.Recording{}, errs.ErrNotFound
	}

	return rec, nil
}

func (s *fakeStore) Recordings() ([]models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Recording, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, rec)
	}

	return out, nil
}

func (s *fakeStore) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return errs.ErrNotFound
	}
	delete(s.rows, id)

	return nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.saved)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(event string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
}

func (p *fakePublisher) published(event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.events {
		if e == event {
			return true
		}
	}

	return false
}

type fakeStreamPlane struct {
	mu      sync.Mutex
	live    map[int]bool
	stopped []int
}

func (p *fakeStreamPlane) InUse(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.live[id]
}

func (p *fakeStreamPlane) Stop(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.live, id)
	p.stopped = append(p.stopped, id)

	return nil
}

func newTestManager(t *testing.T, launcher *fakeLauncher, store *fakeStore, pub *fakePublisher, streams StreamPlane) *Manager {
	t.Helper()

	cfg := &config.Config{DataDir: t.TempDir()}

	cams := fakeCameras{cams: map[int]models.Camera{
		1: {ID: 1, Name: "front", Kind: models.KindRTSP, Host: "cam.local", Port: 554},
		2: {ID: 2, Name: "desk", Kind: models.KindUVC, DeviceNode: strPtr("/dev/video0")},
	}}

	resolver := &fakeResolver{in: source.Input{
		Args:    []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam.local:554/"},
		RTSPURL: "rtsp://cam.local:554/",
	}}

	return New(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg, cams, resolver, fakeSelector{}, launcher, store, pub, streams,
	)
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never held")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartStopFinalize(t *testing.T) {
	launcher := &fakeLauncher{}
	store := newFakeStore()
	pub := &fakePublisher{}
	m := newTestManager(t, launcher, store, pub, &fakeStreamPlane{})

	j, err := m.Start(context.Background(), 1, models.RecordingOptions{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !strings.HasSuffix(j.Filename, ".mp4") {
		t.Errorf("filename = %q", j.Filename)
	}
	if !m.InUse(1) {
		t.Error("camera must be in use while capturing")
	}

	capture := strings.Join(launcher.startArg[0], " ")
	if strings.Contains(capture, "-c:v copy") {
		t.Errorf("captures must go through the selected encoder, not copy: %s", capture)
	}
	for _, want := range []string{"-c:v libx264", "-g 60", "-c:a aac", "-f mpegts"} {
		if !strings.Contains(capture, want) {
			t.Errorf("capture args missing %q: %s", want, capture)
		}
	}

	if err := m.Stop(1); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	waitFor(t, func() bool { return store.savedCount() == 1 })
	waitFor(t, func() bool { return pub.published("recording-finalized") })

	if m.InUse(1) {
		t.Error("camera must be free after stop")
	}

	// remux then thumbnail
	if launcher.runCount() != 2 {
		t.Fatalf("ran %d post-processing commands, want 2", launcher.runCount())
	}
	remux := strings.Join(launcher.runs[0], " ")
	if !strings.Contains(remux, "-movflags +faststart") {
		t.Errorf("remux args = %s", remux)
	}
	thumb := strings.Join(launcher.runs[1], " ")
	if !strings.Contains(thumb, "scale=320:180") {
		t.Errorf("thumbnail args = %s", thumb)
	}

	rec := store.saved[0]
	if rec.Thumbnail == nil || !strings.HasSuffix(*rec.Thumbnail, ".jpg") {
		t.Errorf("thumbnail = %v", rec.Thumbnail)
	}
	if rec.EndTime.Before(rec.StartTime) {
		t.Error("end time before start time")
	}

	// temp file dropped after finalize
	tmpName := strings.TrimSuffix(rec.Filename, ".mp4") + ".ts"
	if _, err := os.Stat(filepath.Join(m.cfg.RecordingTmpDir(), tmpName)); !os.IsNotExist(err) {
		t.Error("temp file must be removed after finalize")
	}
}

func TestSecondStartConflicts(t *testing.T) {
	m := newTestManager(t, &fakeLauncher{}, newFakeStore(), &fakePublisher{}, &fakeStreamPlane{})

	if _, err := m.Start(context.Background(), 1, models.RecordingOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err := m.Start(context.Background(), 1, models.RecordingOptions{})
	if !errors.Is(err, errs.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestUVCDeviceExclusivity(t *testing.T) {
	streams := &fakeStreamPlane{live: map[int]bool{1: true, 2: true}}
	m := newTestManager(t, &fakeLauncher{}, newFakeStore(), &fakePublisher{}, streams)

	if _, err := m.Start(context.Background(), 2, models.RecordingOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(streams.stopped) != 1 || streams.stopped[0] != 2 {
		t.Errorf("live stream not stopped before capture: %v", streams.stopped)
	}

	// network cameras can stream and record at once
	if _, err := m.Start(context.Background(), 1, models.RecordingOptions{}); err != nil {
		t.Errorf("rtsp camera must record while streaming: %v", err)
	}
	if len(streams.stopped) != 1 {
		t.Errorf("rtsp stream must keep running: %v", streams.stopped)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := newTestManager(t, &fakeLauncher{}, newFakeStore(), &fakePublisher{}, &fakeStreamPlane{})

	if err := m.Stop(1); err != nil {
		t.Errorf("Stop without capture error = %v", err)
	}
}

func TestExplicitFPSSetsOutputRate(t *testing.T) {
	launcher := &fakeLauncher{}
	m := newTestManager(t, launcher, newFakeStore(), &fakePublisher{}, &fakeStreamPlane{})

	if _, err := m.Start(context.Background(), 1, models.RecordingOptions{FPS: intPtr(15)}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	capture := strings.Join(launcher.startArg[0], " ")
	if !strings.Contains(capture, "-r 15") {
		t.Errorf("capture args missing rate: %s", capture)
	}
}

func TestStopDuringStartKillsProcess(t *testing.T) {
	launcher := &fakeLauncher{}
	store := newFakeStore()
	m := newTestManager(t, launcher, store, &fakePublisher{}, &fakeStreamPlane{})

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Start(context.Background(), 1, models.RecordingOptions{})
		errCh <- err
	}()

	// wait for the process to spawn so the stop lands inside the startup
	// confirmation window, before the job adopts it
	waitFor(t, func() bool {
		launcher.mu.Lock()
		defer launcher.mu.Unlock()

		return len(launcher.procs) > 0
	})

	if err := m.Stop(1); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := <-errCh; !errors.Is(err, errs.ErrConflict) {
		t.Errorf("start interrupted by stop expected ErrConflict, got %v", err)
	}

	launcher.mu.Lock()
	proc := launcher.procs[0]
	launcher.mu.Unlock()

	if proc.Alive() {
		t.Error("stop during startup must kill the spawned process")
	}
	if m.InUse(1) {
		t.Error("no job may survive a stop during startup")
	}

	// whatever was captured still finalizes
	waitFor(t, func() bool { return store.savedCount() == 1 })
}

func TestRemuxFailureKeepsTempAndSkipsRow(t *testing.T) {
	launcher := &fakeLauncher{runErr: errs.ErrProcessFailed}
	store := newFakeStore()
	pub := &fakePublisher{}
	m := newTestManager(t, launcher, store, pub, &fakeStreamPlane{})

	if _, err := m.Start(context.Background(), 1, models.RecordingOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Stop(1); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	waitFor(t, func() bool { return launcher.runCount() >= 1 })
	time.Sleep(100 * time.Millisecond)

	if store.savedCount() != 0 {
		t.Error("failed remux must not insert a row")
	}
	if pub.published("recording-finalized") {
		t.Error("failed remux must not publish recording-finalized")
	}

	entries, err := os.ReadDir(m.cfg.RecordingTmpDir())
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("temp file must survive a failed remux, found %d entries", len(entries))
	}
}

func TestDeleteRemovesFilesAndRow(t *testing.T) {
	launcher := &fakeLauncher{}
	store := newFakeStore()
	m := newTestManager(t, launcher, store, &fakePublisher{}, &fakeStreamPlane{})

	thumb := "old.jpg"
	_ = os.MkdirAll(m.cfg.RecordingsDir(), 0o755)
	_ = os.MkdirAll(m.cfg.ThumbnailsDir(), 0o755)
	_ = os.WriteFile(filepath.Join(m.cfg.RecordingsDir(), "old.mp4"), []byte("v"), 0o644)
	_ = os.WriteFile(filepath.Join(m.cfg.ThumbnailsDir(), thumb), []byte("t"), 0o644)

	id, err := store.Save(models.Recording{CameraID: 1, Filename: "old.mp4", Thumbnail: &thumb})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := m.Delete(id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(m.cfg.RecordingsDir(), "old.mp4")); !os.IsNotExist(err) {
		t.Error("media file must be removed")
	}
	if _, err := store.Recording(id); !errors.Is(err, errs.ErrNotFound) {
		t.Error("row must be removed")
	}

	// deleting again reports not found
	if err := m.Delete(id); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("second delete expected ErrNotFound, got %v", err)
	}
}

func TestDeleteToleratesMissingFiles(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, &fakeLauncher{}, store, &fakePublisher{}, &fakeStreamPlane{})

	id, err := store.Save(models.Recording{CameraID: 1, Filename: "ghost.mp4"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := m.Delete(id); err != nil {
		t.Errorf("Delete() with missing media error = %v", err)
	}
}
