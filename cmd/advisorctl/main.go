// Advisorctl is the command-line client for the financial advisor backend.
// Configuration comes from the environment and an optional .env file (see internal/config).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"financial-advisor/client/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
