// Package cli wires the bridge's components into an end-to-end command
// line tool exercising inspect/to-zarr/to-tiff.
package cli

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var verbose bool

// Execute runs the root command.
func Execute(version string) error {
	rootCmd := NewRootCmd(version)
	return rootCmd.Execute()
}

// NewRootCmd builds the ome2zarr root command and registers every
// subcommand.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ome2zarr",
		Short:   "Bridge OME-TIFF pyramids and OME-Zarr stores",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	rootCmd.AddCommand(NewInspectCmd())
	rootCmd.AddCommand(NewToZarrCmd())
	rootCmd.AddCommand(NewToTiffCmd())

	return rootCmd
}
