package lifecycle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fmueller/voxnote/internal/audio"
	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/fmueller/voxnote/internal/kvstore"
	"github.com/fmueller/voxnote/internal/transcribe"
	"github.com/stretchr/testify/require"
)

// fakeEngine counts handle acquisition and release.
type fakeEngine struct {
	mu sync.Mutex

	denied    bool
	permErr   error
	startErr  error
	uri       string
	stopErr   error
	createErr error
	playErr   error

	captures  int
	acquired  int
	released  int
	playbacks []*fakePlayback
	// releasedAtAcquire records the release count seen by each CreatePlayback.
	releasedAtAcquire []int
}

func (e *fakeEngine) RequestPermission(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.denied, e.permErr
}

func (e *fakeEngine) StartCapture(context.Context, audio.CaptureOptions) (audio.CaptureHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.captures++
	return &fakeCapture{uri: e.uri, err: e.stopErr}, nil
}

func (e *fakeEngine) CreatePlayback(_ context.Context, uri string) (audio.PlaybackHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return nil, e.createErr
	}
	e.releasedAtAcquire = append(e.releasedAtAcquire, e.released)
	e.acquired++
	p := &fakePlayback{engine: e, uri: uri, playErr: e.playErr}
	e.playbacks = append(e.playbacks, p)
	return p, nil
}

func (e *fakeEngine) counts() (acquired, released int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquired, e.released
}

func (e *fakeEngine) playback(i int) *fakePlayback {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playbacks[i]
}

type fakeCapture struct {
	uri     string
	err     error
	stopped int
}

func (c *fakeCapture) StopAndFinalize(context.Context) (string, error) {
	c.stopped++
	return c.uri, c.err
}

type fakePlayback struct {
	engine  *fakeEngine
	uri     string
	playErr error

	mu        sync.Mutex
	listeners []func(audio.Status)
	released  bool
}

func (p *fakePlayback) Play(context.Context) error {
	return p.playErr
}

func (p *fakePlayback) OnStatus(fn func(audio.Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *fakePlayback) Release() error {
	p.mu.Lock()
	already := p.released
	p.released = true
	p.mu.Unlock()
	if already {
		return nil
	}
	p.engine.mu.Lock()
	p.engine.released++
	p.engine.mu.Unlock()
	return nil
}

// emit delivers a status the way an engine goroutine would.
func (p *fakePlayback) emit(status audio.Status) {
	p.mu.Lock()
	listeners := append([]func(audio.Status){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

type fakeTranscriber struct {
	mu     sync.Mutex
	calls  []string
	result transcribe.Result
	gate   chan struct{}
}

func (f *fakeTranscriber) Transcribe(_ context.Context, uri string) transcribe.Result {
	f.mu.Lock()
	f.calls = append(f.calls, uri)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.result
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingAppendCatalog struct {
	*catalog.Catalog
}

func (failingAppendCatalog) Append(context.Context, catalog.Record) error {
	return errors.New("disk full")
}

type failingRemoveCatalog struct {
	*catalog.Catalog
}

func (failingRemoveCatalog) Remove(context.Context, string) error {
	return fmt.Errorf("%w: disk full", catalog.ErrPersistence)
}

type fakeAssets struct {
	exists    bool
	deleteErr error
	deleted   []string
}

func (a *fakeAssets) PathExists(string) (bool, error) { return a.exists, nil }

func (a *fakeAssets) DeletePath(uri string) error {
	a.deleted = append(a.deleted, uri)
	return a.deleteErr
}

func newCatalog() *catalog.Catalog {
	return catalog.New(kvstore.NewMemoryStore(), catalog.DefaultKey)
}

func newManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Catalog == nil {
		opts.Catalog = newCatalog()
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func writeAsset(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

// writeSilentWAV writes one second of 16-bit mono digital silence.
func writeSilentWAV(t *testing.T) string {
	t.Helper()
	const rate = 16000
	data := make([]byte, rate*2)

	path := filepath.Join(t.TempDir(), "silent.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	header := struct {
		RIFF       [4]byte
		Size       uint32
		WAVE       [4]byte
		FmtID      [4]byte
		FmtSize    uint32
		Format     uint16
		Channels   uint16
		Rate       uint32
		ByteRate   uint32
		BlockAlign uint16
		Bits       uint16
		DataID     [4]byte
		DataSize   uint32
	}{
		RIFF: [4]byte{'R', 'I', 'F', 'F'}, Size: uint32(36 + len(data)), WAVE: [4]byte{'W', 'A', 'V', 'E'},
		FmtID: [4]byte{'f', 'm', 't', ' '}, FmtSize: 16, Format: 1, Channels: 1,
		Rate: rate, ByteRate: rate * 2, BlockAlign: 2, Bits: 16,
		DataID: [4]byte{'d', 'a', 't', 'a'}, DataSize: uint32(len(data)),
	}
	require.NoError(t, binary.Write(f, binary.LittleEndian, header))
	_, err = f.Write(data)
	require.NoError(t, err)
	return path
}
