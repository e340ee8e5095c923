// Command complyhub runs the guidance core: the REST API, schema
// migrations, catalog seeding and one-off recommendation and progress reports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "complyhub",
		Short:         "ComplyHub guidance core: recommendations, progress and achievements",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	load := func() (*runtime, error) { return loadRuntime(logLevel) }

	root.AddCommand(serveCmd(load))
	root.AddCommand(migrateCmd(load))
	root.AddCommand(seedCmd(load))
	root.AddCommand(recommendCmd(load))
	root.AddCommand(progressCmd(load))

	return root
}
