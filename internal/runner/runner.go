package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/aktnk/camerad/internal/domain/errs"
)

// Proc is a supervised child process.
type Proc interface {
	// Done closes when the process exits; it yields the exit error, nil
	// on a clean exit.
	Done() <-chan error
	// Alive reports whether the process has not exited yet.
	Alive() bool
	// Stop asks the process to terminate and kills it after the grace
	// period. Calling Stop on a dead process is a no-op.
	Stop(grace time.Duration)
}

// Launcher spawns children. Services depend on the interface so tests can
// substitute fakes for ffmpeg.
type Launcher interface {
	// Start spawns a long-lived process and returns immediately.
	Start(name string, args ...string) (Proc, error)
	// Run executes a short-lived process to completion, honouring ctx.
	Run(ctx context.Context, name string, args ...string) error
}

// ExecLauncher runs real processes via os/exec.
type ExecLauncher struct {
	log *slog.Logger
}

func NewLauncher(log *slog.Logger) *ExecLauncher {
	return &ExecLauncher{
		log: log,
	}
}

func (l *ExecLauncher) Start(name string, args ...string) (Proc, error) {
	const op = "runner.Start"

	cmd := exec.Command(name, args...)

	// keep the last chunk of stderr for the exit log line
	tail := newTailBuffer(4 << 10)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %s: %w: %v", op, name, errs.ErrProcessFailed, err)
	}

	p := &proc{
		cmd:  cmd,
		done: make(chan error, 1),
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			if line := lastLine(tail.String()); line != "" {
				err = fmt.Errorf("%s: %w: %v: %s", name, errs.ErrProcessFailed, err, line)
			} else {
				err = fmt.Errorf("%s: %w: %v", name, errs.ErrProcessFailed, err)
			}
		}

		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()

		p.done <- err
		close(p.done)
	}()

	l.log.Debug("process started", slog.String("cmd", name), slog.Int("pid", cmd.Process.Pid))

	return p, nil
}

func (l *ExecLauncher) Run(ctx context.Context, name string, args ...string) error {
	const op = "runner.Run"

	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %s: %w: %v", op, name, errs.ErrTimeout, ctx.Err())
		}

		return fmt.Errorf("%s: %s: %w: %v: %s", op, name, errs.ErrProcessFailed, err, lastLine(stderr.String()))
	}

	return nil
}

type proc struct {
	cmd  *exec.Cmd
	done chan error

	mu     sync.Mutex
	exited bool
}

func (p *proc) Done() <-chan error { return p.done }

func (p *proc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return !p.exited
}

func (p *proc) Stop(grace time.Duration) {
	if !p.Alive() {
		return
	}

	// SIGTERM lets ffmpeg flush its muxer; Signal fails on platforms
	// without it and the kill below covers that.
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}

	return string(bytes.TrimSpace(lines[len(lines)-1]))
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return string(t.buf)
}
