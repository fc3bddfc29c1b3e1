package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wesm/inboxsweep/cmd/inboxsweep/cmd"
)

// signalError is the cancellation cause recorded when a signal stops the
// program. A second signal is not caught and terminates the process.
type signalError struct{ sig os.Signal }

func (e signalError) Error() string { return fmt.Sprintf("received %v", e.sig) }

// exitCode follows the shell convention of 128 + signal number.
func (e signalError) exitCode() int {
	if s, ok := e.sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 130
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigs
		if !ok {
			return
		}
		signal.Stop(sigs)
		cancel(signalError{sig})
	}()
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()

	if err := cmd.ExecuteContext(ctx); err != nil {
		var se signalError
		if errors.Is(err, context.Canceled) && errors.As(context.Cause(ctx), &se) {
			return se.exitCode()
		}
		return 1
	}
	return 0
}
