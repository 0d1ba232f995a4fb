package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/fmueller/voxnote/internal/lifecycle"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type recordOptions struct {
	duration  time.Duration
	immediate bool
	copy      bool
}

func newRecordCmd(app *appState) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice note and transcribe it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runRecord(cmd, *opts)
		},
	}

	bindRecordingFlags(cmd, app, opts)
	return cmd
}

func (a *appState) runRecord(cmd *cobra.Command, opts recordOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return a.withServices(ctx, openOptions{transcribe: true}, func(svc *services) error {
		rec, err := a.capture(ctx, svc.manager, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatRecord(rec))

		if !svc.manager.TranscriptionEnabled() {
			return nil
		}
		return a.awaitTranscript(ctx, cmd.OutOrStdout(), svc.manager, rec, opts.copy)
	})
}

// capture runs one start/stop cycle. Interrupting ctx stops the recording
// instead of discarding it.
func (a *appState) capture(ctx context.Context, m manager, opts recordOptions) (catalog.Record, error) {
	interactive := opts.duration <= 0
	if interactive && !opts.immediate {
		if err := a.prompt(ctx, "Press Enter to start recording."); err != nil {
			return catalog.Record{}, err
		}
	}

	if err := m.StartCapture(ctx); err != nil {
		if errors.Is(err, lifecycle.ErrPermissionDenied) {
			return catalog.Record{}, fmt.Errorf("%w; check that a recorder is installed (run \"voxnote devices\") and the data directory is writable", err)
		}
		return catalog.Record{}, err
	}
	a.log().Info("recording started")

	var stopProgress stopFunc
	if interactive {
		stopProgress = startSpinner(a.progressEnabled(), "Recording")
	} else {
		stopProgress = startDurationProgress(a.progressEnabled(), "Recording", opts.duration)
	}

	waitErr := a.waitForStop(ctx, opts)
	stopProgress()

	rec, err := m.StopCapture(context.WithoutCancel(ctx))
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		// The user never got to stop the recording; do not keep it.
		if rec.ID != "" {
			if delErr := m.Delete(context.WithoutCancel(ctx), rec.ID); delErr != nil {
				a.log().Warn("discard aborted recording", zap.String("id", rec.ID), zap.Error(delErr))
			}
		}
		return catalog.Record{}, waitErr
	}
	switch {
	case errors.Is(err, lifecycle.ErrPersistence):
		// The recording exists on disk and stays visible for this run.
		a.log().Warn("recording could not be saved to the catalog", zap.String("uri", rec.URI), zap.Error(err))
	case err != nil:
		return catalog.Record{}, err
	}

	a.log().Info("recording finished", zap.String("id", rec.ID), zap.String("uri", rec.URI))
	return rec, nil
}

func (a *appState) waitForStop(ctx context.Context, opts recordOptions) error {
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.prompt(ctx, "Recording... press Enter to stop.")
}

func (a *appState) awaitTranscript(ctx context.Context, out io.Writer, m manager, rec catalog.Record, copyText bool) error {
	a.log().Info("transcribing...", zap.String("id", rec.ID))
	stopSpinner := startSpinner(a.progressEnabled(), "Transcribing")
	started := time.Now()

	text, state, err := m.WaitTranscription(ctx)
	stopSpinner()
	if err != nil {
		// The transcript is still saved when it arrives before exit.
		a.log().Warn("stopped waiting for transcript", zap.Error(err))
		return nil
	}

	switch {
	case state == lifecycle.TranscriptFailed:
		a.log().Warn("transcription failed; the recording was kept", zap.String("id", rec.ID), zap.Duration("elapsed", time.Since(started)))
	case isBlankTranscript(text):
		a.log().Warn(noSpeechHint())
	default:
		a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))
		fmt.Fprintln(out, text)
		if copyText {
			a.copyTranscript(ctx, text)
		}
	}
	return nil
}
