// Package clipboard copies transcripts to the desktop clipboard through
// whichever command line tool is installed.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("no clipboard command available")

const copyTimeout = 4 * time.Second

type tool struct {
	name string
	args []string
	// detach leaves the process running; xclip and xsel keep serving the
	// selection until another client takes it.
	detach bool
}

func toolsFor(goos string) []tool {
	if goos == "darwin" {
		return []tool{{name: "pbcopy"}}
	}
	return []tool{
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard", "-in", "-silent"}, detach: true},
		{name: "xsel", args: []string{"--clipboard", "--input"}, detach: true},
	}
}

// Copy puts text on the clipboard. It returns ErrUnavailable when no tool is
// installed.
func Copy(ctx context.Context, text string) error {
	return copyWith(ctx, toolsFor(runtime.GOOS), text)
}

func copyWith(ctx context.Context, tools []tool, text string) error {
	t, err := detect(tools)
	if err != nil {
		return err
	}
	if t.detach {
		return copyDetached(t, text)
	}

	copyCtx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()

	cmd := exec.CommandContext(copyCtx, t.name, t.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		if errors.Is(copyCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out: %w", t.name, copyCtx.Err())
		}
		return fmt.Errorf("%s: %w", t.name, err)
	}
	return nil
}

func detect(tools []tool) (tool, error) {
	for _, t := range tools {
		if _, err := exec.LookPath(t.name); err == nil {
			return t, nil
		}
	}
	return tool{}, ErrUnavailable
}

func copyDetached(t tool, text string) error {
	cmd := exec.Command(t.name, t.args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%s stdin: %w", t.name, err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start %s: %w", t.name, err)
	}

	_, writeErr := io.WriteString(stdin, text)
	closeErr := stdin.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("write to %s: %w", t.name, err)
	}

	return cmd.Process.Release()
}
