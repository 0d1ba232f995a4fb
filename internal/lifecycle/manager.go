// Package lifecycle coordinates capture, playback, deletion and transcription
// of recordings for one interactive session.
//
// Two sub-machines share the session: capture runs
// Idle → Recording → Stopping → Transcribing → Idle and playback runs
// Idle → Playing → Idle. The manager holds at most one capture handle and at
// most one playback handle at any time.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fmueller/voxnote/internal/audio"
	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/fmueller/voxnote/internal/files"
	"github.com/fmueller/voxnote/internal/transcribe"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlankTranscript is the transcript of a capture the silence gate rejected.
const BlankTranscript = "[BLANK_AUDIO]"

const (
	defaultSilenceThresholdDBFS = -65.0
	closeStopTimeout            = 5 * time.Second
)

type Catalog interface {
	Append(ctx context.Context, rec catalog.Record) error
	List(ctx context.Context) ([]catalog.Record, error)
	Latest(ctx context.Context) (catalog.Record, bool, error)
	Get(ctx context.Context, id string) (catalog.Record, bool, error)
	Remove(ctx context.Context, id string) error
	SetTranscript(ctx context.Context, id, text string) error
}

// Assets checks and frees audio files addressed by uri.
type Assets interface {
	PathExists(uri string) (bool, error)
	DeletePath(uri string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, uri string) transcribe.Result
}

type Options struct {
	Engine  audio.Engine
	Catalog Catalog
	// Assets defaults to the local filesystem.
	Assets Assets
	// Transcriber is optional; without one captures end in Idle directly.
	Transcriber Transcriber
	Capture     audio.CaptureOptions

	PruneMissing         bool
	PersistTranscripts   bool
	SilenceGate          bool
	SilenceThresholdDBFS float64

	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

type Manager struct {
	engine       audio.Engine
	catalog      Catalog
	assets       Assets
	transcriber  Transcriber
	capture      audio.CaptureOptions
	pruneMissing bool
	persist      bool
	silenceGate  bool
	threshold    float64
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string

	// captureMu serializes StartCapture and StopCapture, playMu serializes
	// Play and Delete. mu guards sess and is never held across engine calls.
	captureMu sync.Mutex
	playMu    sync.Mutex
	mu        sync.Mutex
	sess      session
	wg        sync.WaitGroup
}

type localAssets struct{}

func (localAssets) PathExists(uri string) (bool, error) { return files.PathExists(uri) }
func (localAssets) DeletePath(uri string) error         { return files.DeletePath(uri) }

func NewManager(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, errors.New("audio engine is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("catalog is required")
	}

	capture := opts.Capture.WithDefaults()
	if err := capture.Validate(); err != nil {
		return nil, fmt.Errorf("capture options: %w", err)
	}

	m := &Manager{
		engine:       opts.Engine,
		catalog:      opts.Catalog,
		assets:       opts.Assets,
		transcriber:  opts.Transcriber,
		capture:      capture,
		pruneMissing: opts.PruneMissing,
		persist:      opts.PersistTranscripts,
		silenceGate:  opts.SilenceGate,
		threshold:    opts.SilenceThresholdDBFS,
		logger:       opts.Logger,
		now:          opts.Now,
		newID:        opts.NewID,
	}
	if m.assets == nil {
		m.assets = localAssets{}
	}
	if m.threshold == 0 {
		m.threshold = defaultSilenceThresholdDBFS
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m, nil
}

// TranscriptionEnabled reports whether captures are transcribed.
func (m *Manager) TranscriptionEnabled() bool {
	return m.transcriber != nil
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.snapshot()
}

// StartCapture acquires the microphone. A capture may start while the previous
// recording is still being transcribed; that result is then dropped.
func (m *Manager) StartCapture(ctx context.Context) error {
	m.captureMu.Lock()
	defer m.captureMu.Unlock()

	m.mu.Lock()
	if m.sess.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.sess.captureState == CaptureRecording || m.sess.captureState == CaptureStopping {
		m.mu.Unlock()
		return ErrBusy
	}
	m.mu.Unlock()

	granted, err := m.engine.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	handle, err := m.engine.StartCapture(ctx, m.capture)
	if err != nil {
		return fmt.Errorf("%w: start: %w", ErrCapture, err)
	}

	m.mu.Lock()
	if m.sess.closed {
		m.mu.Unlock()
		m.discardCapture(ctx, handle)
		return ErrClosed
	}
	m.sess.generation++
	m.sess.capture = handle
	m.sess.captureState = CaptureRecording
	m.sess.transcript = ""
	m.sess.transcriptState = TranscriptNone
	m.sess.pending = nil
	m.mu.Unlock()

	m.logger.Debug("capture started", zap.Int("sample_rate", m.capture.SampleRate), zap.Int("channels", m.capture.Channels))
	return nil
}

// StopCapture finalizes the capture and appends a new record to the catalog.
// The append completes before transcription is started. When the append
// fails the record is still returned and exposed as the session's latest
// recording, together with an ErrPersistence error.
func (m *Manager) StopCapture(ctx context.Context) (catalog.Record, error) {
	m.captureMu.Lock()
	defer m.captureMu.Unlock()

	m.mu.Lock()
	if m.sess.captureState != CaptureRecording || m.sess.capture == nil {
		m.mu.Unlock()
		return catalog.Record{}, ErrNotRecording
	}
	handle := m.sess.capture
	gen := m.sess.generation
	m.sess.captureState = CaptureStopping
	m.mu.Unlock()

	uri, err := handle.StopAndFinalize(ctx)

	m.mu.Lock()
	if m.sess.capture == handle {
		m.sess.capture = nil
	}
	if err != nil || uri == "" {
		if m.sess.generation == gen {
			m.sess.captureState = CaptureIdle
		}
		m.mu.Unlock()
		if err != nil {
			captureErr := fmt.Errorf("%w: %w", ErrCapture, err)
			if uri != "" {
				// A failed capture never reaches the catalog, so its file would be orphaned.
				if delErr := m.assets.DeletePath(uri); delErr != nil {
					m.logger.Warn("failed to remove partial recording", zap.String("uri", uri), zap.Error(delErr))
					captureErr = errors.Join(captureErr, delErr)
				}
			}
			return catalog.Record{}, captureErr
		}
		return catalog.Record{}, ErrCapture
	}
	m.mu.Unlock()

	rec := catalog.NewRecord(m.newID(), uri, m.now())
	appendErr := m.catalog.Append(ctx, rec)
	if appendErr != nil {
		m.logger.Warn("recording not saved to catalog", zap.String("id", rec.ID), zap.Error(appendErr))
		if !errors.Is(appendErr, ErrPersistence) {
			appendErr = fmt.Errorf("%w: %w", ErrPersistence, appendErr)
		}
	}

	m.mu.Lock()
	current := m.sess.generation == gen
	if current {
		latest := rec
		m.sess.latest = &latest
	}
	if m.transcriber == nil || !current {
		if current {
			m.sess.captureState = CaptureIdle
		}
		m.mu.Unlock()
		return rec, appendErr
	}
	done := make(chan struct{})
	m.sess.captureState = CaptureTranscribing
	m.sess.transcriptState = TranscriptPending
	m.sess.transcript = ""
	m.sess.pending = done
	m.mu.Unlock()

	m.wg.Add(1)
	go m.transcribeCapture(context.WithoutCancel(ctx), gen, rec, appendErr == nil, done)

	return rec, appendErr
}

// transcribeCapture always runs to completion. Its result only reaches the
// session when the generation is unchanged.
func (m *Manager) transcribeCapture(ctx context.Context, gen uint64, rec catalog.Record, saved bool, done chan struct{}) {
	defer m.wg.Done()
	defer close(done)

	result := m.runTranscription(ctx, rec.URI)
	if saved {
		m.persistTranscript(ctx, rec.ID, result)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.generation != gen {
		m.logger.Debug("dropping stale transcription", zap.String("id", rec.ID))
		return
	}
	m.sess.transcript = result.Text
	if result.Failed {
		m.sess.transcriptState = TranscriptFailed
	} else {
		m.sess.transcriptState = TranscriptDone
	}
	if m.sess.latest != nil && m.sess.latest.ID == rec.ID && !result.Failed && m.persist && saved {
		m.sess.latest.Transcript = result.Text
	}
	if m.sess.captureState == CaptureTranscribing {
		m.sess.captureState = CaptureIdle
	}
}

func (m *Manager) runTranscription(ctx context.Context, uri string) transcribe.Result {
	if m.silenceGate {
		if path, err := files.ResolvePath(uri); err == nil && strings.EqualFold(filepath.Ext(path), ".wav") {
			silent, metrics, err := audio.IsSilentWAV(path, m.threshold)
			switch {
			case err != nil:
				m.logger.Debug("silence check skipped", zap.String("path", path), zap.Error(err))
			case silent:
				m.logger.Info("recording is silent; skipping transcription",
					zap.Float64("rms_dbfs", metrics.RMSdBFS),
					zap.Float64("peak_dbfs", metrics.PeakdBFS),
				)
				return transcribe.Result{Text: BlankTranscript}
			}
		}
	}
	return m.transcriber.Transcribe(ctx, uri)
}

func (m *Manager) persistTranscript(ctx context.Context, id string, result transcribe.Result) {
	if !m.persist || result.Failed || result.Text == "" || result.Text == BlankTranscript {
		return
	}
	if err := m.catalog.SetTranscript(ctx, id, result.Text); err != nil {
		m.logger.Warn("transcript not saved to catalog", zap.String("id", id), zap.Error(err))
	}
}

// Transcript returns the session transcript of the latest capture.
func (m *Manager) Transcript() (string, TranscriptState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.transcript, m.sess.transcriptState
}

// WaitTranscription blocks until the pending transcription of the latest
// capture finished or ctx is done.
func (m *Manager) WaitTranscription(ctx context.Context) (string, TranscriptState, error) {
	m.mu.Lock()
	pending := m.sess.pending
	m.mu.Unlock()

	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			return "", TranscriptPending, ctx.Err()
		}
	}
	text, state := m.Transcript()
	return text, state, nil
}

// TranscribeRecord transcribes a stored recording synchronously. The failure
// sentinel is returned as a result, not as an error.
func (m *Manager) TranscribeRecord(ctx context.Context, id string) (transcribe.Result, error) {
	if m.transcriber == nil {
		return transcribe.Result{}, ErrNoTranscriber
	}
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return transcribe.Result{}, err
	}
	exists, err := m.assets.PathExists(rec.URI)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("check asset %s: %w", rec.URI, err)
	}
	if !exists {
		return transcribe.Result{}, fmt.Errorf("%w: %s", ErrAssetMissing, rec.URI)
	}

	result := m.runTranscription(ctx, rec.URI)
	m.persistTranscript(ctx, rec.ID, result)
	return result, nil
}

// Play releases any previous playback before acquiring a new handle. A
// missing asset leaves playback Idle and, when pruning is enabled, removes
// the stale record from the catalog.
func (m *Manager) Play(ctx context.Context, rec catalog.Record) error {
	m.playMu.Lock()
	defer m.playMu.Unlock()

	m.mu.Lock()
	if m.sess.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	prev := m.detachPlaybackLocked(nil)
	m.mu.Unlock()
	m.release(prev)

	exists, err := m.assets.PathExists(rec.URI)
	if err != nil {
		return fmt.Errorf("%w: check asset %s: %w", ErrPlayback, rec.URI, err)
	}
	if !exists {
		return m.assetMissing(ctx, rec)
	}

	handle, err := m.engine.CreatePlayback(ctx, rec.URI)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}

	active := &activePlayback{handle: handle, id: rec.ID, done: make(chan struct{})}
	m.mu.Lock()
	m.sess.playback = active
	m.mu.Unlock()

	handle.OnStatus(func(status audio.Status) {
		m.onPlaybackStatus(active, status)
	})

	if err := handle.Play(ctx); err != nil {
		m.mu.Lock()
		if m.sess.playback == active {
			m.detachPlaybackLocked(err)
		}
		m.mu.Unlock()
		m.release(active)
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}

	m.logger.Debug("playback started", zap.String("id", rec.ID))
	return nil
}

// PlayID looks the record up in the catalog and plays it.
func (m *Manager) PlayID(ctx context.Context, id string) error {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	return m.Play(ctx, rec)
}

func (m *Manager) assetMissing(ctx context.Context, rec catalog.Record) error {
	m.logger.Warn("recording asset is missing", zap.String("id", rec.ID), zap.String("uri", rec.URI))
	if !m.pruneMissing {
		return fmt.Errorf("%w: %s", ErrAssetMissing, rec.URI)
	}

	if err := m.catalog.Remove(ctx, rec.ID); err != nil {
		return fmt.Errorf("%w: %s (prune failed: %w)", ErrAssetMissing, rec.URI, err)
	}
	m.forgetLatest(rec.ID)
	m.logger.Info("removed stale recording", zap.String("id", rec.ID))
	return fmt.Errorf("%w: %s: %w", ErrAssetMissing, rec.URI, ErrPruned)
}

// onPlaybackStatus is the only transition not triggered by a caller. Status
// from a handle that is no longer current is ignored.
func (m *Manager) onPlaybackStatus(active *activePlayback, status audio.Status) {
	if !status.Terminal() {
		return
	}

	m.mu.Lock()
	if m.sess.playback != active {
		m.mu.Unlock()
		return
	}
	var err error
	if status == audio.StatusFailed {
		err = ErrPlayback
	}
	m.detachPlaybackLocked(err)
	m.mu.Unlock()

	m.logger.Debug("playback ended", zap.String("id", active.id), zap.Stringer("status", status))
	m.release(active)
}

// detachPlaybackLocked clears the session's playback and wakes waiters.
func (m *Manager) detachPlaybackLocked(err error) *activePlayback {
	active := m.sess.playback
	if active == nil {
		return nil
	}
	m.sess.playback = nil
	active.err = err
	close(active.done)
	return active
}

func (m *Manager) release(active *activePlayback) {
	if active == nil {
		return
	}
	if err := active.handle.Release(); err != nil {
		m.logger.Debug("release playback", zap.String("id", active.id), zap.Error(err))
	}
}

func (m *Manager) StopPlayback() {
	m.mu.Lock()
	active := m.detachPlaybackLocked(nil)
	m.mu.Unlock()
	m.release(active)
}

// WaitPlayback blocks until the current playback ended or ctx is done.
func (m *Manager) WaitPlayback(ctx context.Context) error {
	m.mu.Lock()
	active := m.sess.playback
	m.mu.Unlock()
	if active == nil {
		return nil
	}

	select {
	case <-active.done:
		return active.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delete removes the record from the catalog and frees its asset. Both halves
// are always attempted; when either fails the error wraps
// ErrDeleteInconsistency and callers should list the catalog again.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.playMu.Lock()
	defer m.playMu.Unlock()

	rec, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	var active *activePlayback
	if m.sess.playback != nil && m.sess.playback.id == id {
		active = m.detachPlaybackLocked(nil)
	}
	m.mu.Unlock()
	m.release(active)

	removeErr := m.catalog.Remove(ctx, id)
	if removeErr == nil {
		m.forgetLatest(id)
	}
	assetErr := m.assets.DeletePath(rec.URI)

	if removeErr != nil || assetErr != nil {
		if removeErr != nil {
			removeErr = fmt.Errorf("catalog: %w", removeErr)
		}
		if assetErr != nil {
			assetErr = fmt.Errorf("asset: %w", assetErr)
		}
		return fmt.Errorf("delete recording %s: %w: %w", id, ErrDeleteInconsistency, errors.Join(removeErr, assetErr))
	}

	m.logger.Debug("recording deleted", zap.String("id", id))
	return nil
}

// Latest prefers the session's latest capture, which may exist even when the
// catalog append failed.
func (m *Manager) Latest(ctx context.Context) (catalog.Record, bool, error) {
	m.mu.Lock()
	if m.sess.latest != nil {
		rec := *m.sess.latest
		m.mu.Unlock()
		return rec, true, nil
	}
	m.mu.Unlock()
	return m.catalog.Latest(ctx)
}

func (m *Manager) List(ctx context.Context) ([]catalog.Record, error) {
	return m.catalog.List(ctx)
}

// Close ends the session: a live capture is stopped and its file removed, the
// playback handle is released and pending transcription results are dropped.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.sess.closed {
		m.mu.Unlock()
		return nil
	}
	m.sess.closed = true
	m.sess.generation++

	var capture audio.CaptureHandle
	if m.sess.captureState == CaptureRecording {
		capture = m.sess.capture
	}
	m.sess.capture = nil
	m.sess.captureState = CaptureIdle
	m.sess.transcript = ""
	m.sess.transcriptState = TranscriptNone
	active := m.detachPlaybackLocked(nil)
	m.mu.Unlock()

	m.release(active)
	if capture != nil {
		m.discardCapture(ctx, capture)
	}
	return nil
}

// Drain waits for transcription goroutines that are still running.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) discardCapture(ctx context.Context, handle audio.CaptureHandle) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeStopTimeout)
	defer cancel()

	uri, err := handle.StopAndFinalize(stopCtx)
	if err != nil {
		m.logger.Debug("discard capture", zap.Error(err))
	}
	if uri == "" {
		return
	}
	if err := m.assets.DeletePath(uri); err != nil {
		m.logger.Warn("remove discarded capture", zap.String("uri", uri), zap.Error(err))
	}
}

func (m *Manager) lookup(ctx context.Context, id string) (catalog.Record, error) {
	rec, ok, err := m.catalog.Get(ctx, id)
	if err != nil {
		return catalog.Record{}, err
	}
	if !ok {
		return catalog.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

func (m *Manager) forgetLatest(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.latest != nil && m.sess.latest.ID == id {
		m.sess.latest = nil
	}
}
