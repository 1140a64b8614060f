// Command minirest runs the httpx engine with a small set of demo routes,
// Prometheus metrics and an admin listener.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "minirest: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "minirest",
		Short: "A minimal HTTP/1.x server",
		Long: `minirest serves exact-match routes over HTTP/1.1 keep-alive
connections, with request size limits, per-phase timeouts and graceful
shutdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		serveCmd(),
		routesCmd(),
		versionCmd(),
	)
	return rootCmd
}
