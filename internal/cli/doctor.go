package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fmueller/voxnote/internal/files"
	"github.com/spf13/cobra"
)

type doctorReport struct {
	orphanFiles  []string
	staleRecords []string
}

func newDoctorCmd(app *appState) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Find audio files without a record and records without audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return app.withServices(ctx, openOptions{}, func(svc *services) error {
				report, err := inspectCatalog(ctx, svc)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				if !fix {
					return nil
				}
				return app.repair(ctx, cmd.OutOrStdout(), svc, report)
			})
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Delete orphaned audio files and drop records whose audio is gone")
	return cmd
}

func inspectCatalog(ctx context.Context, svc *services) (doctorReport, error) {
	var report doctorReport

	records, err := svc.manager.List(ctx)
	if err != nil {
		return report, err
	}

	referenced := make(map[string]bool, len(records))
	for _, rec := range records {
		if path, err := files.ResolvePath(rec.URI); err == nil {
			referenced[path] = true
		}
		exists, err := svc.recordings.PathExists(rec.URI)
		if err != nil && !errors.Is(err, files.ErrInvalidURI) {
			return report, err
		}
		if !exists {
			report.staleRecords = append(report.staleRecords, rec.ID)
		}
	}

	names, err := svc.recordings.List()
	if err != nil {
		return report, err
	}
	for _, name := range names {
		path, err := svc.recordings.Path(name)
		if err != nil {
			continue
		}
		if !referenced[path] {
			report.orphanFiles = append(report.orphanFiles, name)
		}
	}
	return report, nil
}

func printReport(w io.Writer, report doctorReport) {
	if len(report.orphanFiles) == 0 && len(report.staleRecords) == 0 {
		fmt.Fprintln(w, "catalog and recordings are consistent")
		return
	}
	for _, id := range report.staleRecords {
		fmt.Fprintf(w, "missing audio: %s\n", id)
	}
	for _, name := range report.orphanFiles {
		fmt.Fprintf(w, "orphaned file: %s\n", name)
	}
}

func (a *appState) repair(ctx context.Context, w io.Writer, svc *services, report doctorReport) error {
	var errs []error
	for _, id := range report.staleRecords {
		if err := a.deleteRecording(ctx, svc.manager, id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "removed record %s\n", id)
	}
	for _, name := range report.orphanFiles {
		if err := svc.recordings.Delete(name); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "removed file %s\n", name)
	}
	return errors.Join(errs...)
}
