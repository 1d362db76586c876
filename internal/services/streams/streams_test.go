package streams

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
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
	in         source.Input
	resolveErr error
	calls      int
}

func (f *fakeResolver) Resolve(context.Context, models.Camera) (source.Input, error) {
	f.calls++

	return f.in, f.resolveErr
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

func (p *fakeProc) Stop(time.Duration) {
	p.exit(nil)
}

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

type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProc
	args     [][]string
	startErr error
	dieFast  bool
}

func (l *fakeLauncher) Start(name string, args ...string) (runner.Proc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.startErr != nil {
		return nil, l.startErr
	}

	p := newFakeProc()
	if l.dieFast {
		p.exit(fmt.Errorf("bad input: %w", errs.ErrProcessFailed))
	}

	l.procs = append(l.procs, p)
	l.args = append(l.args, args)

	return p, nil
}

func (l *fakeLauncher) Run(context.Context, string, ...string) error { return nil }

func (l *fakeLauncher) last() *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.procs[len(l.procs)-1]
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

func newTestSupervisor(t *testing.T, launcher *fakeLauncher, pub *fakePublisher) *Supervisor {
	t.Helper()

	cfg := &config.Config{
		DataDir: t.TempDir(),
		HTTP:    config.HTTP{Host: "127.0.0.1", Port: 3333},
		Stream:  config.Stream{SegmentSeconds: 2, PlaylistSize: 6},
	}

	cams := fakeCameras{cams: map[int]models.Camera{
		1: {ID: 1, Name: "front", Kind: models.KindRTSP, Host: "cam.local", Port: 554},
	}}

	resolver := &fakeResolver{in: source.Input{
		Args:    []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam.local:554/"},
		RTSPURL: "rtsp://cam.local:554/",
	}}

	return New(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg, cams, resolver, fakeSelector{}, launcher, pub,
	)
}

func TestStartAndStop(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(t, launcher, &fakePublisher{})

	sess, err := sup.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if sess.State != StateRunning {
		t.Errorf("state = %q, want running", sess.State)
	}
	if sess.Playlist != "http://127.0.0.1:3333/hls/1/stream.m3u8" {
		t.Errorf("playlist = %q", sess.Playlist)
	}
	if !sup.InUse(1) {
		t.Error("camera must be in use while streaming")
	}

	joined := strings.Join(launcher.args[0], " ")
	for _, want := range []string{"-c:v libx264", "-hls_time 2", "-hls_list_size 6", "delete_segments", "-c:a aac"} {
		if !strings.Contains(joined, want) {
			t.Errorf("ffmpeg args missing %q: %s", want, joined)
		}
	}

	if err := sup.Stop(1); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sup.InUse(1) {
		t.Error("camera must be free after stop")
	}

	// idempotent
	if err := sup.Stop(1); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestNetworkStreamUsesSelectedEncoder(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(t, launcher, &fakePublisher{})

	if _, err := sup.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	joined := strings.Join(launcher.args[0], " ")
	if strings.Contains(joined, "-c:v copy") {
		t.Errorf("network streams must go through the selected encoder, not copy: %s", joined)
	}
	for _, want := range []string{"-c:v libx264", "-preset ultrafast", "-crf 23", "-g 60"} {
		if !strings.Contains(joined, want) {
			t.Errorf("ffmpeg args missing %q: %s", want, joined)
		}
	}
}

func TestStopDuringStartKillsProcess(t *testing.T) {
	launcher := &fakeLauncher{}
	pub := &fakePublisher{}
	sup := newTestSupervisor(t, launcher, pub)

	errCh := make(chan error, 1)
	go func() {
		_, err := sup.Start(context.Background(), 1)
		errCh <- err
	}()

	// wait for the process to spawn so the stop lands inside the startup
	// confirmation window, before the session adopts it
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		launcher.mu.Lock()
		spawned := len(launcher.procs) > 0
		launcher.mu.Unlock()
		if spawned {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := sup.Stop(1); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := <-errCh; !errors.Is(err, errs.ErrConflict) {
		t.Errorf("start interrupted by stop expected ErrConflict, got %v", err)
	}
	if launcher.last().Alive() {
		t.Error("stop during startup must kill the spawned process")
	}
	if sup.InUse(1) {
		t.Error("no session may survive a stop during startup")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(t, launcher, &fakePublisher{})

	first, err := sup.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	second, err := sup.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if first.StartedAt != second.StartedAt {
		t.Error("second start must return the existing session")
	}
	if len(launcher.procs) != 1 {
		t.Errorf("spawned %d processes, want 1", len(launcher.procs))
	}
}

func TestStartUnknownCamera(t *testing.T) {
	sup := newTestSupervisor(t, &fakeLauncher{}, &fakePublisher{})

	_, err := sup.Start(context.Background(), 99)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStartupDeathCleansSession(t *testing.T) {
	launcher := &fakeLauncher{dieFast: true}
	sup := newTestSupervisor(t, launcher, &fakePublisher{})

	_, err := sup.Start(context.Background(), 1)
	if !errors.Is(err, errs.ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed, got %v", err)
	}

	if sup.InUse(1) {
		t.Error("failed start must not leave a session behind")
	}

	// the camera can be started again afterwards
	launcher.dieFast = false
	if _, err := sup.Start(context.Background(), 1); err != nil {
		t.Errorf("restart after failure error = %v", err)
	}
}

func TestCrashPublishesStreamDead(t *testing.T) {
	launcher := &fakeLauncher{}
	pub := &fakePublisher{}
	sup := newTestSupervisor(t, launcher, pub)

	if _, err := sup.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	launcher.last().exit(fmt.Errorf("network gone: %w", errs.ErrProcessFailed))

	deadline := time.Now().Add(2 * time.Second)
	for sup.InUse(1) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if sup.InUse(1) {
		t.Fatal("crashed session must be removed")
	}
	if !pub.published("stream-dead") {
		t.Error("crash must publish stream-dead")
	}
}

func TestStopDoesNotPublishStreamDead(t *testing.T) {
	launcher := &fakeLauncher{}
	pub := &fakePublisher{}
	sup := newTestSupervisor(t, launcher, pub)

	if _, err := sup.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sup.Stop(1); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if pub.published("stream-dead") {
		t.Error("operator stop must not publish stream-dead")
	}
}

func TestSessions(t *testing.T) {
	sup := newTestSupervisor(t, &fakeLauncher{}, &fakePublisher{})

	if got := sup.Sessions(); len(got) != 0 {
		t.Errorf("expected no sessions, got %v", got)
	}

	if _, err := sup.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := sup.Sessions()
	if len(got) != 1 || got[0].CameraID != 1 {
		t.Errorf("sessions = %v", got)
	}

	if _, err := sup.Session(1); err != nil {
		t.Errorf("Session(1) error = %v", err)
	}
	if _, err := sup.Session(2); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Session(2) expected ErrNotFound, got %v", err)
	}
}
