package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fmueller/voxnote/internal/audio"
	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/fmueller/voxnote/internal/files"
	"github.com/fmueller/voxnote/internal/kvstore"
	"github.com/fmueller/voxnote/internal/lifecycle"
	"github.com/fmueller/voxnote/internal/platform"
	"github.com/fmueller/voxnote/internal/transcribe"
	"go.uber.org/zap"
)

// manager is the part of the lifecycle manager the commands drive.
type manager interface {
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) (catalog.Record, error)
	TranscriptionEnabled() bool
	WaitTranscription(ctx context.Context) (string, lifecycle.TranscriptState, error)
	TranscribeRecord(ctx context.Context, id string) (transcribe.Result, error)
	PlayID(ctx context.Context, id string) error
	WaitPlayback(ctx context.Context) error
	StopPlayback()
	Delete(ctx context.Context, id string) error
	Latest(ctx context.Context) (catalog.Record, bool, error)
	List(ctx context.Context) ([]catalog.Record, error)
}

type openOptions struct {
	// transcribe requests a transcription client; a missing credential is
	// then a startup error.
	transcribe bool
}

type services struct {
	manager    manager
	recordings *files.Dir
	reset      func(ctx context.Context) error
	close      func(ctx context.Context) error
}

func (a *appState) open(ctx context.Context, opts openOptions) (*services, error) {
	if a.openFn == nil {
		return a.openServices(ctx, opts)
	}
	return a.openFn(ctx, opts)
}

func (a *appState) openServices(ctx context.Context, opts openOptions) (*services, error) {
	cfg := a.config()
	layout := a.layout
	if layout.DataDir == "" || layout.DataDir == "." {
		dataDir, err := platform.ResolveDataDir(a.dataDir)
		if err != nil {
			return nil, err
		}
		layout = platform.LayoutFor(dataDir)
	}
	if err := platform.EnsureLayout(layout); err != nil {
		return nil, err
	}

	recordings, err := files.NewDir(layout.RecordingDir)
	if err != nil {
		return nil, err
	}

	var transcriber lifecycle.Transcriber
	if opts.transcribe && cfg.Transcription.Enabled && !a.noTranscribe {
		client, err := transcribe.NewClient(transcribe.Config{
			BaseURL: cfg.Transcription.BaseURL,
			APIKey:  cfg.APIKey(a.getenv),
			Model:   cfg.Transcription.Model,
			Timeout: cfg.Transcription.Timeout,
			Logger:  a.log(),
		})
		if errors.Is(err, transcribe.ErrMissingCredential) {
			return nil, fmt.Errorf("%w; set transcription.api_key in %s, export VOXNOTE_API_KEY, or pass --no-transcribe", err, layout.ConfigPath)
		}
		if err != nil {
			return nil, err
		}
		transcriber = client
	}

	store, closeStore, err := a.openStore(ctx, layout)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(store, cfg.Catalog.Key)
	engine := audio.NewExecEngine(audio.ExecConfig{
		CaptureBackend:  cfg.Audio.Backend,
		PlaybackBackend: cfg.Playback.Backend,
		RecordingDir:    recordings.Root(),
		StopTimeout:     cfg.Audio.StopTimeout,
		Logger:          a.log(),
		Now:             a.now,
	})

	m, err := lifecycle.NewManager(lifecycle.Options{
		Engine:               engine,
		Catalog:              cat,
		Assets:               recordings,
		Transcriber:          transcriber,
		Capture:              cfg.CaptureOptions(),
		PruneMissing:         cfg.Catalog.PruneMissing,
		PersistTranscripts:   cfg.Transcription.Persist,
		SilenceGate:          cfg.Transcription.SilenceGate,
		SilenceThresholdDBFS: cfg.Transcription.SilenceThresholdDBFS,
		Logger:               a.log(),
		Now:                  a.now,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	a.log().Debug("catalog opened",
		zap.String("data_dir", layout.DataDir),
		zap.String("key", cat.Key()),
		zap.Bool("ephemeral", a.ephemeral),
		zap.Bool("transcription", transcriber != nil),
	)

	return &services{
		manager:    m,
		recordings: recordings,
		reset:      cat.Reset,
		close: func(ctx context.Context) error {
			closeErr := m.Close(ctx)
			// Late transcripts are still written to the catalog before the
			// store goes away.
			timeout := cfg.Transcription.Timeout
			if timeout <= 0 {
				timeout = transcribe.DefaultTimeout
			}
			drainCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := m.Drain(drainCtx); err != nil {
				a.log().Warn("transcription still running at exit", zap.Error(err))
			}
			return errors.Join(closeErr, closeStore())
		},
	}, nil
}

func (a *appState) openStore(ctx context.Context, layout platform.Layout) (kvstore.Store, func() error, error) {
	if a.ephemeral {
		store := kvstore.NewMemoryStore()
		return store, store.Close, nil
	}
	store, err := kvstore.OpenSQLite(ctx, layout.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	return store, store.Close, nil
}

// withServices opens the services, runs fn and always closes them.
func (a *appState) withServices(ctx context.Context, opts openOptions, fn func(*services) error) (err error) {
	svc, err := a.open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if svc.close == nil {
			return
		}
		if closeErr := svc.close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(svc)
}
