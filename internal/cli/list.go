package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/spf13/cobra"
)

var errNoRecordings = errors.New("no recordings yet")

const transcriptPreview = 48

func newListCmd(app *appState) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (valid: text, json)", format)
			}
			return app.withServices(cmd.Context(), openOptions{}, func(svc *services) error {
				records, err := svc.manager.List(cmd.Context())
				if err != nil {
					return err
				}
				if records == nil {
					records = []catalog.Record{}
				}
				if format == "json" {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				if len(records) == 0 {
					app.log().Info(errNoRecordings.Error())
					return nil
				}
				return writeTable(cmd.OutOrStdout(), records)
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|json")
	return cmd
}

func newLatestCmd(app *appState) *cobra.Command {
	var withTranscript, copyText bool

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withServices(cmd.Context(), openOptions{}, func(svc *services) error {
				rec, ok, err := svc.manager.Latest(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					return errNoRecordings
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatRecord(rec))
				if withTranscript && rec.Transcript != "" {
					fmt.Fprintln(cmd.OutOrStdout(), rec.Transcript)
				}
				if copyText {
					app.copyTranscript(cmd.Context(), rec.Transcript)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withTranscript, "transcript", true, "Print the stored transcript below the record")
	cmd.Flags().BoolVar(&copyText, "copy", false, "Copy the stored transcript to the clipboard")
	return cmd
}

func formatRecord(rec catalog.Record) string {
	return fmt.Sprintf("%s\t%s\t%s", rec.ID, rec.CreatedAt.UTC().Format(time.RFC3339), rec.URI)
}

func writeTable(w io.Writer, records []catalog.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFILE\tTRANSCRIPT")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.CreatedAt.UTC().Format(time.RFC3339), rec.URI, preview(rec.Transcript))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, records []catalog.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func preview(transcript string) string {
	transcript = strings.Join(strings.Fields(transcript), " ")
	if transcript == "" {
		return "-"
	}
	runes := []rune(transcript)
	if len(runes) <= transcriptPreview {
		return transcript
	}
	return string(runes[:transcriptPreview-1]) + "…"
}
