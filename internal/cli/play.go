package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fmueller/voxnote/internal/lifecycle"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPlayCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "play <id>",
		Short: "Play a recording until it ends or Ctrl+C",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return app.withServices(ctx, openOptions{}, func(svc *services) error {
				return app.play(ctx, svc.manager, args[0])
			})
		},
	}
}

func (a *appState) play(ctx context.Context, m manager, id string) error {
	if err := m.PlayID(ctx, id); err != nil {
		if errors.Is(err, lifecycle.ErrAssetMissing) && !errors.Is(err, lifecycle.ErrPruned) {
			return fmt.Errorf("%w; run \"voxnote doctor --fix\" to remove the stale entry", err)
		}
		return err
	}

	a.log().Info("playing", zap.String("id", id))
	stopSpinner := startSpinner(a.progressEnabled(), "Playing")
	defer stopSpinner()

	err := m.WaitPlayback(ctx)
	if errors.Is(err, context.Canceled) {
		m.StopPlayback()
		return nil
	}
	return err
}
