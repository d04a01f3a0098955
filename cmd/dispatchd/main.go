// dispatchd is the session and token authentication service.
//
// It serves the REST API for registration, login, token refresh and
// logout, and carries the maintenance commands for the same database:
//
//	dispatchd serve              run the API server
//	dispatchd migrate up|down|status
//	dispatchd sessions purge     delete expired sessions now
//	dispatchd version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/dispatch-auth/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Cancelled on Ctrl+C or SIGTERM; serve treats it as the shutdown signal.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
