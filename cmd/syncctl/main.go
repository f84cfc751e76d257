// Command syncctl runs sync cycles and schedules from the command line and
// prints their results as JSON.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Apurer/mfgsync/internal/app/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout, os.Stderr, config.Load).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
