// Command gsequencer runs the proposal orchestrator against a block builder.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordian-engine/gsequencer/cmd/gsequencer/internal/gseqcmd"
)

func main() {
	if err := mainE(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return gseqcmd.NewRootCommand().ExecuteContext(ctx)
}
