package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// signalContext returns a context that is cancelled on the first SIGINT or
// SIGTERM. Running reconciliations finish before the process exits. A second
// signal exits immediately.
func signalContext(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		s := <-sig
		fmt.Fprintf(os.Stderr, "\nReceived %s, finishing running reconciliations..\n", s)
		cancel()

		<-sig
		fmt.Fprintln(os.Stderr, "Terminated")
		os.Exit(130)
	}()

	return ctx
}
