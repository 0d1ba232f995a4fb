package cli

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fmueller/voxnote/internal/catalog"
	"github.com/fmueller/voxnote/internal/files"
	"github.com/fmueller/voxnote/internal/lifecycle"
	"github.com/fmueller/voxnote/internal/transcribe"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// runCommand runs the real root command against a throwaway data directory.
func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return execute(NewRootCmd(), append([]string{"--data-dir", t.TempDir(), "--no-progress"}, args...))
}

func execute(cmd *cobra.Command, args []string) (string, string, error) {
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// testApp wires a root command to a fake manager.
type testApp struct {
	app     *appState
	manager *fakeManager
	dir     *files.Dir
	opened  []openOptions
	resets  int
	prompts []string
	copied  []string
	copyErr error
	// promptErr is returned by every prompt.
	promptErr error
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	dir, err := files.NewDir(t.TempDir())
	require.NoError(t, err)

	ta := &testApp{manager: &fakeManager{transcriptionEnabled: true}, dir: dir}
	ta.app = &appState{
		dataDir:    t.TempDir(),
		noProgress: true,
		now:        func() time.Time { return time.Date(2026, 10, 14, 9, 5, 0, 0, time.UTC) },
		getenv:     func(string) string { return "" },
		openFn: func(_ context.Context, opts openOptions) (*services, error) {
			ta.opened = append(ta.opened, opts)
			return &services{
				manager:    ta.manager,
				recordings: ta.dir,
				reset: func(context.Context) error {
					ta.resets++
					return nil
				},
				close: func(context.Context) error { return nil },
			}, nil
		},
		copyFn: func(_ context.Context, text string) error {
			ta.copied = append(ta.copied, text)
			return ta.copyErr
		},
		promptFn: func(_ context.Context, message string) error {
			ta.prompts = append(ta.prompts, message)
			return ta.promptErr
		},
	}
	return ta
}

func (ta *testApp) run(args ...string) (string, string, error) {
	return execute(newRootCmd(ta.app), args)
}

type fakeManager struct {
	mu    sync.Mutex
	calls []string

	records              []catalog.Record
	startErr             error
	stopRecord           catalog.Record
	stopErr              error
	transcriptionEnabled bool
	transcript           string
	transcriptState      lifecycle.TranscriptState
	result               transcribe.Result
	resultErr            error
	playErr              error
	waitPlaybackErr      error
	deleteErr            error
}

func (f *fakeManager) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeManager) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.calls, call)
}

func (f *fakeManager) StartCapture(context.Context) error {
	f.record("StartCapture")
	return f.startErr
}

func (f *fakeManager) StopCapture(context.Context) (catalog.Record, error) {
	f.record("StopCapture")
	return f.stopRecord, f.stopErr
}

func (f *fakeManager) TranscriptionEnabled() bool { return f.transcriptionEnabled }

func (f *fakeManager) WaitTranscription(context.Context) (string, lifecycle.TranscriptState, error) {
	f.record("WaitTranscription")
	return f.transcript, f.transcriptState, nil
}

func (f *fakeManager) TranscribeRecord(_ context.Context, id string) (transcribe.Result, error) {
	f.record("TranscribeRecord " + id)
	return f.result, f.resultErr
}

func (f *fakeManager) PlayID(_ context.Context, id string) error {
	f.record("PlayID " + id)
	return f.playErr
}

func (f *fakeManager) WaitPlayback(context.Context) error {
	f.record("WaitPlayback")
	return f.waitPlaybackErr
}

func (f *fakeManager) StopPlayback() { f.record("StopPlayback") }

func (f *fakeManager) Delete(_ context.Context, id string) error {
	f.record("Delete " + id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.records = slices.DeleteFunc(f.records, func(rec catalog.Record) bool { return rec.ID == id })
	return nil
}

func (f *fakeManager) Latest(context.Context) (catalog.Record, bool, error) {
	f.record("Latest")
	if len(f.records) == 0 {
		return catalog.Record{}, false, nil
	}
	return f.records[len(f.records)-1], true, nil
}

func (f *fakeManager) List(context.Context) ([]catalog.Record, error) {
	f.record("List")
	return slices.Clone(f.records), nil
}
