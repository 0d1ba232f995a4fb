package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fmueller/voxnote/internal/lifecycle"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDeleteCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a recording and its audio file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return app.withServices(ctx, openOptions{}, func(svc *services) error {
				if err := app.deleteRecording(ctx, svc.manager, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

// deleteRecording reports what the catalog holds after a partial delete
// instead of trusting either half.
func (a *appState) deleteRecording(ctx context.Context, m manager, id string) error {
	err := m.Delete(ctx, id)
	if err == nil || !errors.Is(err, lifecycle.ErrDeleteInconsistency) {
		return err
	}

	records, listErr := m.List(ctx)
	if listErr != nil {
		return errors.Join(err, listErr)
	}
	listed := false
	for _, rec := range records {
		if rec.ID == id {
			listed = true
			break
		}
	}
	a.log().Warn("recording only partially deleted", zap.String("id", id), zap.Bool("still_listed", listed))
	return err
}
