package cli

import (
	"fmt"
	"time"

	"github.com/fmueller/voxnote/internal/transcribe"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var copyText bool

	cmd := &cobra.Command{
		Use:   "transcribe <id>",
		Short: "Transcribe a stored recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return app.withServices(ctx, openOptions{transcribe: true}, func(svc *services) error {
				id := args[0]
				app.log().Info("transcribing...", zap.String("id", id))
				stopSpinner := startSpinner(app.progressEnabled(), "Transcribing")
				started := time.Now()

				result, err := svc.manager.TranscribeRecord(ctx, id)
				stopSpinner()
				if err != nil {
					return err
				}
				if result.Failed {
					return fmt.Errorf("%s for recording %s", transcribe.FailureText, id)
				}

				app.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))
				if isBlankTranscript(result.Text) {
					app.log().Warn(noSpeechHint())
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Text)
				if copyText {
					app.copyTranscript(ctx, result.Text)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&copyText, "copy", false, "Copy the transcript to the clipboard")
	return cmd
}
