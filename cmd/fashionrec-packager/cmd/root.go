package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/service/packager"
	"github.com/fashionrec/fashionrec-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd represents the base command for building a release archive.
	rootCmd = &cobra.Command{
		Use:   "fashionrec-packager [root-dir] [output-archive]",
		Short: "Package the pipeline source tree into a release archive",
		Long: `Builds a compressed release archive of the fashion recommendation
pipeline source tree, together with a manifest of per-file checksums.

The source tree is first copied into a temporary staging directory so that
files changing mid-packaging cannot corrupt the archive. Development clutter
(VCS metadata, caches, virtualenvs, editor files, secrets) is excluded;
extra patterns can be added through the configuration file.

Root directory defaults to the current working directory, the archive path
to the configured output filename.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &packager.Options{
				ConfigPath: configPath,
			}

			if len(args) > 0 {
				options.RootDir = args[0]
			}

			if len(args) > 1 {
				options.OutputPath = args[1]
			}

			return packager.Run(ctx, options)
		},
	}
)

// Execute runs the fashionrec-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
}
