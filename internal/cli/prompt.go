package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

var errInteractiveRequiresTTY = errors.New("interactive recording requires a TTY; use --duration or --immediate")

// waitForEnter returns when a line was read from stdin or ctx is done.
func (a *appState) waitForEnter(ctx context.Context, message string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errInteractiveRequiresTTY
	}
	if message != "" {
		if _, err := fmt.Fprintln(os.Stderr, message); err != nil {
			return err
		}
	}

	read := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(os.Stdin).ReadString('\n')
		read <- err
	}()

	select {
	case err := <-read:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
