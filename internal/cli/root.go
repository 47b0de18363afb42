// Package cli implements the mosaic command line.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the mosaic command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "mosaic",
		Short: "Build photo mosaics with a remote processing service",
		Long: `Mosaic uploads a set of tile images and a main image to an image-processing
service, analyzes the tiles' colors in size-bounded batches, and previews or
generates the mosaic.

Configuration is read from the environment (and a .env file if present):
SERVICE_URL, SERVICE_TIMEOUT, UPLOAD_BATCH_BYTES, LOG_LEVEL, and others.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.serviceURL, "service-url", "", "processing service base URL (overrides SERVICE_URL)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flags.BoolVar(&opts.metrics, "metrics", false, "print collected metrics when the command finishes")

	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newPreviewCmd(opts))
	cmd.AddCommand(newGenerateCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))

	return cmd
}
