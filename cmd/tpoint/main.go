// Package main is the entrypoint for the tpoint CLI, which plans and applies
// the schema migrations of the training-point tracker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tpoint-labs/tpoint/internal/cli"
)

var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	cli.SetVersionInfo(version, commit, date)

	// An interrupted run rolls back the migration in flight.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.New().Execute(ctx)
	stop()
	os.Exit(code)
}
