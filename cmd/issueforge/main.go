// Issueforge turns labeled GitHub issues into reviewed pull requests.
//
// A session walks an issue through planning, research, development
// planning, development, verification and reporting. Every artifact is
// committed to a per-issue branch and progress is posted back on the issue.
//
// Usage:
//
//	# Serve the GitHub webhook
//	issueforge serve --config issueforge.yaml
//
//	# Run one session in the foreground against a local repository
//	issueforge run --owner octo --repo widgets --issue 42 \
//	    --requirements-file req.md --local ./widgets
//
//	# Execute delegated units on a Temporal task queue
//	issueforge worker
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "issueforge",
	Short: "Drive GitHub issues through a gated multi-agent delivery pipeline",
	Long: `issueforge watches for issues carrying its trigger label and runs each one
through planning, research, development and verification, with a quality gate
between phases, until a pull request is ready for review.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, runCmd, workerCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "issueforge by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
