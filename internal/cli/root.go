package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fmueller/voxnote/internal/clipboard"
	"github.com/fmueller/voxnote/internal/config"
	"github.com/fmueller/voxnote/internal/logging"
	"github.com/fmueller/voxnote/internal/platform"
	"github.com/fmueller/voxnote/internal/version"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

type appState struct {
	configPath   string
	dataDir      string
	verbose      bool
	jsonLogs     bool
	noProgress   bool
	ephemeral    bool
	backend      string
	input        string
	inputFormat  string
	noTranscribe bool

	cfg    *config.Config
	layout platform.Layout
	logger *zap.Logger
	now    func() time.Time
	getenv func(string) string

	openFn func(ctx context.Context, opts openOptions) (*services, error)
	copyFn func(ctx context.Context, text string) error
	// promptFn blocks until the user confirms; it returns the prompt error
	// when stdin is unusable.
	promptFn func(ctx context.Context, message string) error
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		now:    time.Now,
		getenv: os.Getenv,
	}
	app.openFn = app.openServices
	app.promptFn = app.waitForEnter
	app.copyFn = clipboard.Copy
	return newRootCmd(app)
}

func newRootCmd(app *appState) *cobra.Command {
	rec := &recordOptions{}

	cmd := &cobra.Command{
		Use:           "voxnote",
		Short:         "Record, list, play and transcribe voice notes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.initialize(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runRecord(cmd, *rec)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindGlobalFlags(cmd, app)
	bindRecordingFlags(cmd, app, rec)

	cmd.AddCommand(newRecordCmd(app))
	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newLatestCmd(app))
	cmd.AddCommand(newPlayCmd(app))
	cmd.AddCommand(newDeleteCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newResetCmd(app))
	cmd.AddCommand(newDoctorCmd(app))
	cmd.AddCommand(newDevicesCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindGlobalFlags(cmd *cobra.Command, app *appState) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", app.configPath, "Config file (default <data-dir>/config.yaml)")
	flags.StringVar(&app.dataDir, "data-dir", app.dataDir, "Directory holding recordings and the catalog")
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
	flags.BoolVar(&app.ephemeral, "ephemeral", app.ephemeral, "Keep the catalog in memory for this run only")
}

func bindRecordingFlags(cmd *cobra.Command, app *appState, opts *recordOptions) {
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Record duration, e.g. 10s; 0 means interactive start/stop")
	cmd.Flags().BoolVar(&opts.immediate, "immediate", false, "Start recording immediately without waiting for Enter")
	cmd.Flags().StringVar(&app.backend, "backend", app.backend, "Recording backend: auto|pw-record|arecord|ffmpeg (overrides audio.backend)")
	cmd.Flags().StringVar(&app.input, "input", app.input, "Input device (run \"voxnote devices\" to list); e.g. node-ID (pw-record), hw:1,0 (arecord), :1 (ffmpeg)")
	cmd.Flags().StringVar(&app.inputFormat, "input-format", app.inputFormat, "Input format for ffmpeg backend (pulse|alsa)")
	cmd.Flags().BoolVar(&app.noTranscribe, "no-transcribe", app.noTranscribe, "Keep the recording without transcribing it")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the transcript to the clipboard")
}

// initialize loads the configuration and builds the logger.
func (a *appState) initialize(cmd *cobra.Command) error {
	cfg, layout, err := a.loadConfig(cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Audio.Backend = a.backend
	}
	if a.input != "" {
		cfg.Audio.Input = a.input
	}
	if a.inputFormat != "" {
		cfg.Audio.InputFormat = a.inputFormat
	}

	logger, err := logging.New(logging.Options{
		Verbose: a.verbose,
		JSON:    a.jsonLogs || cfg.Log.JSON,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	a.cfg = cfg
	a.layout = layout
	a.logger = logger
	return nil
}

func (a *appState) loadConfig(explicit bool) (*config.Config, platform.Layout, error) {
	dataDir, err := platform.ResolveDataDir(a.dataDir)
	if err != nil {
		return nil, platform.Layout{}, err
	}

	path := a.configPath
	if path == "" {
		path = platform.LayoutFor(dataDir).ConfigPath
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, platform.Layout{}, err
	}

	// The configured data dir only applies when the flag is not set.
	if a.dataDir == "" && cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	return cfg, platform.LayoutFor(dataDir), nil
}

func (a *appState) config() *config.Config {
	if a.cfg == nil {
		a.cfg = config.Default()
	}
	return a.cfg
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) prompt(ctx context.Context, message string) error {
	if a.promptFn == nil {
		return a.waitForEnter(ctx, message)
	}
	return a.promptFn(ctx, message)
}

// copyTranscript copies non-blank text; clipboard problems only warn because
// the transcript is already on stdout.
func (a *appState) copyTranscript(ctx context.Context, text string) {
	if isBlankTranscript(text) {
		return
	}
	copyFn := a.copyFn
	if copyFn == nil {
		copyFn = clipboard.Copy
	}
	if err := copyFn(ctx, text); err != nil {
		if errors.Is(err, clipboard.ErrUnavailable) {
			a.log().Warn("clipboard tool unavailable; transcript left on stdout")
			return
		}
		a.log().Warn("failed to copy transcript to clipboard", zap.Error(err))
		return
	}
	a.log().Info("transcript copied to clipboard")
}
