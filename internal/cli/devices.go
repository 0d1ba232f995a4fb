package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/fmueller/voxnote/internal/audio"
	"github.com/spf13/cobra"
)

func newDevicesCmd(_ *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List recording devices and audio backend diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			capture := audio.DefaultCaptureBackends(runtime.GOOS)
			if len(capture) == 0 {
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}

			out := cmd.OutOrStdout()
			for _, backend := range capture {
				fmt.Fprintf(out, "== %s (capture) ==\n", backend.Name())
				if !backend.Available() {
					fmt.Fprintln(out, "not available on PATH")
					fmt.Fprintln(out)
					continue
				}

				listing, err := backend.ListDevices(cmd.Context())
				switch {
				case err != nil:
					fmt.Fprintf(out, "failed to list devices: %v\n", err)
				case listing == "":
					fmt.Fprintln(out, "no output")
				default:
					fmt.Fprintln(out, listing)
				}
				fmt.Fprintln(out)
			}

			printPlayers(out, audio.DefaultPlaybackBackends(runtime.GOOS))
			return nil
		},
	}
}

func printPlayers(out io.Writer, players []audio.PlaybackBackend) {
	fmt.Fprintln(out, "== playback ==")
	for _, player := range players {
		status := "available"
		if !player.Available() {
			status = "not available on PATH"
		}
		fmt.Fprintf(out, "%s: %s\n", player.Name(), status)
	}
}
