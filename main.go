package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/safetynet-go/cmd"
	"github.com/tphakala/safetynet-go/internal/buildinfo"
)

// buildDate and version are set at build time with -ldflags.
var (
	buildDate string
	version   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(buildinfo.NewContext(version, buildDate))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
