package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fmueller/voxnote/internal/audio"
	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/fmueller/voxnote/internal/transcribe"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Options{Catalog: newCatalog()})
	require.Error(t, err)

	_, err = NewManager(Options{Engine: &fakeEngine{}})
	require.Error(t, err)

	_, err = NewManager(Options{Engine: &fakeEngine{}, Catalog: newCatalog(), Capture: audio.CaptureOptions{Channels: 8}})
	require.Error(t, err)
}

func TestCaptureCreatesLatestRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	m := newManager(t, Options{Engine: &fakeEngine{uri: "file:///a.wav"}, Catalog: cat})

	require.NoError(t, m.StartCapture(ctx))
	require.Equal(t, CaptureRecording, m.Snapshot().Capture)

	rec, err := m.StopCapture(ctx)
	require.NoError(t, err)
	require.Equal(t, "file:///a.wav", rec.URI)
	require.Equal(t, CaptureIdle, m.Snapshot().Capture)

	records, err := cat.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "file:///a.wav", records[0].URI)

	latest, ok, err := m.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, latest)
}

func TestStartCapturePermissionDenied(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{denied: true}
	m := newManager(t, Options{Engine: engine})

	err := m.StartCapture(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, CaptureIdle, m.Snapshot().Capture)
	require.Zero(t, engine.captures)
}

func TestStartCaptureRejectsSecondCapture(t *testing.T) {
	t.Parallel()

	m := newManager(t, Options{Engine: &fakeEngine{uri: "/tmp/a.wav"}})
	require.NoError(t, m.StartCapture(context.Background()))
	require.ErrorIs(t, m.StartCapture(context.Background()), ErrBusy)
}

func TestStopCaptureWithoutCapture(t *testing.T) {
	t.Parallel()

	m := newManager(t, Options{Engine: &fakeEngine{}})
	_, err := m.StopCapture(context.Background())
	require.ErrorIs(t, err, ErrNotRecording)
}

func TestStopCaptureWithoutURI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	m := newManager(t, Options{Engine: &fakeEngine{}, Catalog: cat})

	require.NoError(t, m.StartCapture(ctx))
	_, err := m.StopCapture(ctx)
	require.ErrorIs(t, err, ErrCapture)
	require.Equal(t, CaptureIdle, m.Snapshot().Capture)

	records, err := cat.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestStopCaptureEngineError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	assets := &fakeAssets{}
	m := newManager(t, Options{
		Engine:  &fakeEngine{uri: "/tmp/a.wav", stopErr: errors.New("device lost")},
		Catalog: cat,
		Assets:  assets,
	})

	require.NoError(t, m.StartCapture(ctx))
	_, err := m.StopCapture(ctx)
	require.ErrorIs(t, err, ErrCapture)
	require.ErrorContains(t, err, "device lost")
	require.Equal(t, []string{"/tmp/a.wav"}, assets.deleted)

	records, err := cat.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, CaptureIdle, m.Snapshot().Capture)
}

func TestStopCaptureEngineErrorReportsCleanupFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assets := &fakeAssets{deleteErr: errors.New("read-only fs")}
	m := newManager(t, Options{
		Engine:  &fakeEngine{uri: "/tmp/a.wav", stopErr: errors.New("device lost")},
		Catalog: newCatalog(),
		Assets:  assets,
	})

	require.NoError(t, m.StartCapture(ctx))
	_, err := m.StopCapture(ctx)
	require.ErrorIs(t, err, ErrCapture)
	require.ErrorContains(t, err, "read-only fs")
}

func TestStopCaptureAppendFailureKeepsLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := &fakeTranscriber{result: transcribe.Result{Text: "hello"}}
	m := newManager(t, Options{
		Engine:      &fakeEngine{uri: "/tmp/a.wav"},
		Catalog:     failingAppendCatalog{newCatalog()},
		Transcriber: tr,
	})

	require.NoError(t, m.StartCapture(ctx))
	rec, err := m.StopCapture(ctx)
	require.ErrorIs(t, err, ErrPersistence)
	require.NotEmpty(t, rec.ID)

	latest, ok, err := m.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.ID, latest.ID)

	text, state, err := m.WaitTranscription(ctx)
	require.NoError(t, err)
	require.Equal(t, TranscriptDone, state)
	require.Equal(t, "hello", text)
}

func TestTranscriptionFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := transcribe.NewClient(transcribe.Config{BaseURL: srv.URL + "/v1/", APIKey: "test-key"})
	require.NoError(t, err)

	ctx := context.Background()
	cat := newCatalog()
	path := writeAsset(t, "note.wav")
	m := newManager(t, Options{
		Engine:             &fakeEngine{uri: path},
		Catalog:            cat,
		Transcriber:        client,
		PersistTranscripts: true,
	})

	require.NoError(t, m.StartCapture(ctx))
	rec, err := m.StopCapture(ctx)
	require.NoError(t, err)

	text, state, err := m.WaitTranscription(ctx)
	require.NoError(t, err)
	require.Equal(t, TranscriptFailed, state)
	require.Equal(t, transcribe.FailureText, text)
	require.EqualValues(t, 1, calls.Load())

	snap := m.Snapshot()
	require.Equal(t, CaptureIdle, snap.Capture)

	records, err := cat.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rec.ID, records[0].ID)
	require.Empty(t, records[0].Transcript)
}

func TestTranscriptPersistence(t *testing.T) {
	t.Parallel()

	for _, persist := range []bool{true, false} {
		ctx := context.Background()
		cat := newCatalog()
		m := newManager(t, Options{
			Engine:             &fakeEngine{uri: "/tmp/a.wav"},
			Catalog:            cat,
			Transcriber:        &fakeTranscriber{result: transcribe.Result{Text: "buy milk"}},
			PersistTranscripts: persist,
		})

		require.NoError(t, m.StartCapture(ctx))
		rec, err := m.StopCapture(ctx)
		require.NoError(t, err)

		text, state, err := m.WaitTranscription(ctx)
		require.NoError(t, err)
		require.Equal(t, TranscriptDone, state)
		require.Equal(t, "buy milk", text)

		stored, ok, err := cat.Get(ctx, rec.ID)
		require.NoError(t, err)
		require.True(t, ok)
		if persist {
			require.Equal(t, "buy milk", stored.Transcript)
		} else {
			require.Empty(t, stored.Transcript)
		}
	}
}

func TestSilenceGateSkipsUpload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	tr := &fakeTranscriber{result: transcribe.Result{Text: "should not be used"}}
	m := newManager(t, Options{
		Engine:             &fakeEngine{uri: writeSilentWAV(t)},
		Catalog:            cat,
		Transcriber:        tr,
		PersistTranscripts: true,
		SilenceGate:        true,
	})

	require.NoError(t, m.StartCapture(ctx))
	rec, err := m.StopCapture(ctx)
	require.NoError(t, err)

	text, state, err := m.WaitTranscription(ctx)
	require.NoError(t, err)
	require.Equal(t, TranscriptDone, state)
	require.Equal(t, BlankTranscript, text)
	require.Zero(t, tr.callCount())

	stored, _, err := cat.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Transcript)
}

func TestNewCaptureDropsStaleTranscription(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	tr := &fakeTranscriber{result: transcribe.Result{Text: "first"}, gate: make(chan struct{})}
	m := newManager(t, Options{
		Engine:             &fakeEngine{uri: "/tmp/a.wav"},
		Catalog:            cat,
		Transcriber:        tr,
		PersistTranscripts: true,
		NewID:              sequentialIDs(),
	})

	require.NoError(t, m.StartCapture(ctx))
	first, err := m.StopCapture(ctx)
	require.NoError(t, err)
	require.Equal(t, CaptureTranscribing, m.Snapshot().Capture)

	require.NoError(t, m.StartCapture(ctx))
	close(tr.gate)
	require.NoError(t, m.Drain(ctx))

	snap := m.Snapshot()
	require.Equal(t, CaptureRecording, snap.Capture)
	require.Equal(t, TranscriptNone, snap.TranscriptState)
	require.Empty(t, snap.Transcript)

	// The transcript still belongs to its record.
	stored, ok, err := cat.Get(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "first", stored.Transcript)
}

func TestCloseDropsPendingTranscription(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := &fakeTranscriber{result: transcribe.Result{Text: "late"}, gate: make(chan struct{})}
	m := newManager(t, Options{Engine: &fakeEngine{uri: "/tmp/a.wav"}, Transcriber: tr})

	require.NoError(t, m.StartCapture(ctx))
	_, err := m.StopCapture(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))
	close(tr.gate)
	require.NoError(t, m.Drain(ctx))

	text, state := m.Transcript()
	require.Empty(t, text)
	require.Equal(t, TranscriptNone, state)
	require.ErrorIs(t, m.StartCapture(ctx), ErrClosed)
}

func TestWaitTranscriptionHonoursContext(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{gate: make(chan struct{})}
	m := newManager(t, Options{Engine: &fakeEngine{uri: "/tmp/a.wav"}, Transcriber: tr})
	defer close(tr.gate)

	require.NoError(t, m.StartCapture(context.Background()))
	_, err := m.StopCapture(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, state, err := m.WaitTranscription(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, TranscriptPending, state)
}

func TestPlayMissingAsset(t *testing.T) {
	t.Parallel()

	for _, prune := range []bool{true, false} {
		ctx := context.Background()
		cat := newCatalog()
		engine := &fakeEngine{}
		m := newManager(t, Options{Engine: engine, Catalog: cat, PruneMissing: prune})

		rec := catalog.Record{ID: "gone", URI: "/nonexistent/gone.wav", CreatedAt: time.Now().UTC()}
		require.NoError(t, cat.Append(ctx, rec))

		err := m.Play(ctx, rec)
		require.ErrorIs(t, err, ErrAssetMissing)
		require.Equal(t, PlaybackIdle, m.Snapshot().Playback)

		acquired, _ := engine.counts()
		require.Zero(t, acquired)

		require.Equal(t, prune, errors.Is(err, ErrPruned))

		_, ok, err := cat.Get(ctx, "gone")
		require.NoError(t, err)
		require.Equal(t, !prune, ok)
	}
}

func TestPlayMissingAssetPruneFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := failingRemoveCatalog{newCatalog()}
	m := newManager(t, Options{Engine: &fakeEngine{}, Catalog: cat, PruneMissing: true})

	rec := catalog.Record{ID: "gone", URI: "/nonexistent/gone.wav", CreatedAt: time.Now().UTC()}
	require.NoError(t, cat.Append(ctx, rec))

	err := m.Play(ctx, rec)
	require.ErrorIs(t, err, ErrAssetMissing)
	require.NotErrorIs(t, err, ErrPruned)
	require.ErrorContains(t, err, "prune failed")

	_, ok, err := cat.Get(ctx, "gone")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPlayReleasesPreviousHandle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := &fakeEngine{}
	m := newManager(t, Options{Engine: engine})

	first := catalog.Record{ID: "1", URI: writeAsset(t, "1.wav")}
	second := catalog.Record{ID: "2", URI: writeAsset(t, "2.wav")}

	require.NoError(t, m.Play(ctx, first))
	require.NoError(t, m.Play(ctx, second))

	require.Equal(t, []int{0, 1}, engine.releasedAtAcquire)
	snap := m.Snapshot()
	require.Equal(t, PlaybackPlaying, snap.Playback)
	require.Equal(t, "2", snap.PlayingID)

	require.NoError(t, m.Close(ctx))
	acquired, released := engine.counts()
	require.Equal(t, 2, acquired)
	require.Equal(t, acquired, released)
}

func TestPlaybackFinishReturnsToIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := &fakeEngine{}
	m := newManager(t, Options{Engine: engine})

	require.NoError(t, m.Play(ctx, catalog.Record{ID: "1", URI: writeAsset(t, "1.wav")}))

	waitErr := make(chan error, 1)
	go func() { waitErr <- m.WaitPlayback(ctx) }()

	engine.playback(0).emit(audio.StatusPlaying)
	require.Equal(t, PlaybackPlaying, m.Snapshot().Playback)

	engine.playback(0).emit(audio.StatusFinished)
	require.NoError(t, <-waitErr)
	require.Equal(t, PlaybackIdle, m.Snapshot().Playback)

	_, released := engine.counts()
	require.Equal(t, 1, released)
}

func TestPlaybackFailureIsReported(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := &fakeEngine{}
	m := newManager(t, Options{Engine: engine})

	require.NoError(t, m.Play(ctx, catalog.Record{ID: "1", URI: writeAsset(t, "1.wav")}))
	active := m.sess.playback

	engine.playback(0).emit(audio.StatusFailed)
	<-active.done
	require.ErrorIs(t, active.err, ErrPlayback)
	require.NoError(t, m.WaitPlayback(ctx))
}

func TestStaleStatusIsIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := &fakeEngine{}
	m := newManager(t, Options{Engine: engine})

	require.NoError(t, m.Play(ctx, catalog.Record{ID: "1", URI: writeAsset(t, "1.wav")}))
	require.NoError(t, m.Play(ctx, catalog.Record{ID: "2", URI: writeAsset(t, "2.wav")}))

	engine.playback(0).emit(audio.StatusStopped)

	snap := m.Snapshot()
	require.Equal(t, PlaybackPlaying, snap.Playback)
	require.Equal(t, "2", snap.PlayingID)
}

func TestPlayStartFailureReleasesHandle(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{playErr: errors.New("no sink")}
	m := newManager(t, Options{Engine: engine})

	err := m.Play(context.Background(), catalog.Record{ID: "1", URI: writeAsset(t, "1.wav")})
	require.ErrorIs(t, err, ErrPlayback)
	require.Equal(t, PlaybackIdle, m.Snapshot().Playback)

	acquired, released := engine.counts()
	require.Equal(t, 1, acquired)
	require.Equal(t, 1, released)
}

func TestPlayIDUnknownRecord(t *testing.T) {
	t.Parallel()

	m := newManager(t, Options{Engine: &fakeEngine{}})
	require.ErrorIs(t, m.PlayID(context.Background(), "missing"), ErrNotFound)
}

func TestDeleteRemovesRecordAndAsset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	m := newManager(t, Options{Engine: &fakeEngine{}, Catalog: cat})

	path1 := writeAsset(t, "1.wav")
	path2 := writeAsset(t, "2.wav")
	require.NoError(t, cat.Append(ctx, catalog.Record{ID: "1", URI: path1}))
	require.NoError(t, cat.Append(ctx, catalog.Record{ID: "2", URI: path2}))

	require.NoError(t, m.Delete(ctx, "1"))

	records, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "2", records[0].ID)

	_, err = os.Stat(path1)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(path2)
	require.NoError(t, err)
}

func TestDeleteStopsPlaybackOfRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	engine := &fakeEngine{}
	m := newManager(t, Options{Engine: engine, Catalog: cat})

	rec := catalog.Record{ID: "1", URI: writeAsset(t, "1.wav")}
	require.NoError(t, cat.Append(ctx, rec))
	require.NoError(t, m.Play(ctx, rec))

	require.NoError(t, m.Delete(ctx, "1"))
	require.Equal(t, PlaybackIdle, m.Snapshot().Playback)
	_, released := engine.counts()
	require.Equal(t, 1, released)
}

func TestDeleteReportsInconsistency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	assets := &fakeAssets{exists: true, deleteErr: errors.New("permission denied")}
	m := newManager(t, Options{Engine: &fakeEngine{}, Catalog: cat, Assets: assets})

	require.NoError(t, cat.Append(ctx, catalog.Record{ID: "1", URI: "/data/1.wav"}))

	err := m.Delete(ctx, "1")
	require.ErrorIs(t, err, ErrDeleteInconsistency)
	require.ErrorContains(t, err, "permission denied")
	require.Equal(t, []string{"/data/1.wav"}, assets.deleted)

	records, err := cat.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestDeleteUnknownRecord(t *testing.T) {
	t.Parallel()

	m := newManager(t, Options{Engine: &fakeEngine{}})
	require.ErrorIs(t, m.Delete(context.Background(), "missing"), ErrNotFound)
}

func TestDeleteForgetsSessionLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t, Options{Engine: &fakeEngine{uri: writeAsset(t, "a.wav")}})

	require.NoError(t, m.StartCapture(ctx))
	rec, err := m.StopCapture(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, rec.ID))
	_, ok, err := m.Latest(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTranscribeRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	tr := &fakeTranscriber{result: transcribe.Result{Text: "call mom"}}
	m := newManager(t, Options{Engine: &fakeEngine{}, Catalog: cat, Transcriber: tr, PersistTranscripts: true})

	path := writeAsset(t, "1.wav")
	require.NoError(t, cat.Append(ctx, catalog.Record{ID: "1", URI: path}))
	require.NoError(t, cat.Append(ctx, catalog.Record{ID: "2", URI: "/nonexistent/2.wav"}))

	result, err := m.TranscribeRecord(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "call mom", result.Text)

	stored, _, err := cat.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "call mom", stored.Transcript)

	_, err = m.TranscribeRecord(ctx, "2")
	require.ErrorIs(t, err, ErrAssetMissing)
	_, err = m.TranscribeRecord(ctx, "3")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, tr.callCount())
}

func TestTranscribeRecordWithoutTranscriber(t *testing.T) {
	t.Parallel()

	m := newManager(t, Options{Engine: &fakeEngine{}})
	_, err := m.TranscribeRecord(context.Background(), "1")
	require.ErrorIs(t, err, ErrNoTranscriber)
}

func TestCloseDiscardsLiveCapture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := newCatalog()
	path := writeAsset(t, "live.wav")
	m := newManager(t, Options{Engine: &fakeEngine{uri: path}, Catalog: cat})

	require.NoError(t, m.StartCapture(ctx))
	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	records, err := cat.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, CaptureIdle, m.Snapshot().Capture)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t, Options{Engine: &fakeEngine{uri: "/tmp/a.wav"}})
	require.NoError(t, m.StartCapture(ctx))
	_, err := m.StopCapture(ctx)
	require.NoError(t, err)

	snap := m.Snapshot()
	require.NotNil(t, snap.Latest)
	snap.Latest.URI = "changed"

	latest, _, err := m.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "/tmp/a.wav", latest.URI)
}

func TestStatesHaveNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "transcribing", CaptureTranscribing.String())
	require.Equal(t, "playing", PlaybackPlaying.String())
	require.Equal(t, "failed", TranscriptFailed.String())
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string {
		return string(rune('a' + n.Add(1) - 1))
	}
}
