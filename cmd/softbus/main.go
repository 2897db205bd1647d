// softbus - in-process software message bus
//
// This is the main entry point for the softbus daemon and demo CLI.
// softbus routes prioritised messages between named devices:
//   - Per-device priority queues drained by explicit pumping
//   - Synchronous request/response over the same queues
//   - Group fan-out, locally or through a multicast or MQTT transport
//
// Run "softbus --help" for the available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C or SIGTERM so serve can shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd := NewRootCommand()
	err := cmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitCode(err))
	}
}
