package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fmueller/voxnote/internal/files"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultStopTimeout = 5 * time.Second

type ExecConfig struct {
	CaptureBackend  string
	PlaybackBackend string
	RecordingDir    string
	// StopTimeout bounds how long a recorder may take to exit after the
	// interrupt before it is killed.
	StopTimeout time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

// ExecEngine drives command line recorders and players.
type ExecEngine struct {
	capture         []CaptureBackend
	playback        []PlaybackBackend
	captureBackend  string
	playbackBackend string
	recordingDir    string
	stopTimeout     time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

func NewExecEngine(cfg ExecConfig) *ExecEngine {
	e := &ExecEngine{
		capture:         DefaultCaptureBackends(runtime.GOOS),
		playback:        DefaultPlaybackBackends(runtime.GOOS),
		captureBackend:  cfg.CaptureBackend,
		playbackBackend: cfg.PlaybackBackend,
		recordingDir:    cfg.RecordingDir,
		stopTimeout:     cfg.StopTimeout,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
	if e.stopTimeout <= 0 {
		e.stopTimeout = defaultStopTimeout
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *ExecEngine) CaptureBackends() []CaptureBackend {
	return e.capture
}

func (e *ExecEngine) PlaybackBackends() []PlaybackBackend {
	return e.playback
}

// RequestPermission grants microphone access when a recorder is installed
// and the recording directory accepts new files.
func (e *ExecEngine) RequestPermission(_ context.Context) (bool, error) {
	backend, err := SelectBackend(e.capture, e.captureBackend)
	if err != nil {
		e.logger.Warn("no usable recording backend", zap.String("backend", e.captureBackend), zap.Error(err))
		return false, nil
	}

	if err := os.MkdirAll(e.recordingDir, 0o755); err != nil {
		e.logger.Warn("recording directory unavailable", zap.String("dir", e.recordingDir), zap.Error(err))
		return false, nil
	}
	probe, err := os.CreateTemp(e.recordingDir, ".probe-*")
	if err != nil {
		e.logger.Warn("recording directory is not writable", zap.String("dir", e.recordingDir), zap.Error(err))
		return false, nil
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	e.logger.Debug("microphone permission granted", zap.String("backend", backend.Name()))
	return true, nil
}

func (e *ExecEngine) StartCapture(_ context.Context, opts CaptureOptions) (CaptureHandle, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	backend, err := SelectBackend(e.capture, e.captureBackend)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(e.recordingDir) == "" {
		return nil, errors.New("recording directory is required")
	}
	if err := os.MkdirAll(e.recordingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	outPath := filepath.Join(e.recordingDir, fmt.Sprintf("recording-%s-%s%s", e.now().Format("20060102-150405"), uuid.NewString()[:8], opts.Extension))
	spec, err := backend.captureCommand(opts, outPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.name, spec.args...)
	stderr := &bytes.Buffer{}
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	e.logger.Debug("starting recorder", zap.String("backend", backend.Name()), zap.Strings("args", spec.args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", backend.Name(), err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	return &execCapture{
		backend:     backend.Name(),
		cmd:         cmd,
		path:        outPath,
		stderr:      stderr,
		done:        done,
		stopTimeout: e.stopTimeout,
		logger:      e.logger,
	}, nil
}

func (e *ExecEngine) CreatePlayback(_ context.Context, uri string) (PlaybackHandle, error) {
	path, err := files.ResolvePath(uri)
	if err != nil {
		return nil, err
	}

	backend, err := SelectBackend(e.playback, e.playbackBackend)
	if err != nil {
		return nil, err
	}

	return &execPlayback{
		backend: backend.Name(),
		spec:    backend.playbackCommand(path),
		logger:  e.logger,
	}, nil
}

type execCapture struct {
	backend     string
	cmd         *exec.Cmd
	path        string
	stderr      *bytes.Buffer
	done        chan error
	stopTimeout time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	finalized bool
}

func (c *execCapture) StopAndFinalize(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return "", ErrHandleReleased
	}
	c.finalized = true
	c.mu.Unlock()

	var exitErr error
	stopSignalSent := false

	select {
	case exitErr = <-c.done:
	default:
		stopSignalSent = c.cmd.Process.Signal(os.Interrupt) == nil

		timer := time.NewTimer(c.stopTimeout)
		defer timer.Stop()

		select {
		case exitErr = <-c.done:
		case <-timer.C:
			c.logger.Warn("recorder ignored stop signal; killing", zap.String("backend", c.backend))
			_ = c.cmd.Process.Kill()
			exitErr = <-c.done
		case <-ctx.Done():
			_ = c.cmd.Process.Kill()
			<-c.done
			_ = os.Remove(c.path)
			return "", ctx.Err()
		}
	}

	if exitErr != nil && !stopSignalSent && !stoppedBySignal(exitErr) {
		_ = os.Remove(c.path)
		if detail := strings.TrimSpace(c.stderr.String()); detail != "" {
			return "", fmt.Errorf("%s exited early: %w (%s)", c.backend, exitErr, detail)
		}
		return "", fmt.Errorf("%s exited early: %w", c.backend, exitErr)
	}
	if exitErr != nil {
		c.logger.Debug("recorder exited after stop signal", zap.String("backend", c.backend), zap.Error(exitErr))
	}

	info, err := os.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat recording: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(c.path)
		return "", nil
	}

	return c.path, nil
}

func stoppedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled()
}

type execPlayback struct {
	backend string
	spec    command
	logger  *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	listeners []func(Status)
	started   bool
	released  bool
}

func (p *execPlayback) Play(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return ErrHandleReleased
	}
	if p.started {
		return errors.New("playback already started")
	}

	cmd := exec.Command(p.spec.name, p.spec.args...)
	stderr := &bytes.Buffer{}
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	p.logger.Debug("starting player", zap.String("backend", p.backend), zap.Strings("args", p.spec.args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.backend, err)
	}
	p.cmd = cmd
	p.started = true

	go p.wait(cmd, stderr)
	return nil
}

func (p *execPlayback) wait(cmd *exec.Cmd, stderr *bytes.Buffer) {
	err := cmd.Wait()

	p.mu.Lock()
	status := StatusFinished
	switch {
	case p.released:
		status = StatusStopped
	case err != nil:
		status = StatusFailed
		p.logger.Warn("player failed", zap.String("backend", p.backend), zap.Error(err), zap.String("stderr", strings.TrimSpace(stderr.String())))
	}
	listeners := append([]func(Status){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

func (p *execPlayback) OnStatus(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *execPlayback) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil
	}
	p.released = true

	if !p.started {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop %s: %w", p.backend, err)
	}
	return nil
}
