// Package cli implements the sedmap command-line interface: commands for
// running the orientation-mapping pipeline on raw detector dumps and for
// managing configuration files. The CLI is built with cobra and logs
// through charmbracelet/log; all heavy lifting lives in the pkg packages.
package cli

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Execute runs the sedmap CLI and returns an error if any command fails.
func Execute() error {
	var verbose bool

	root := &cobra.Command{
		Use:          "sedmap",
		Short:        "sedmap computes crystallographic orientation maps from SED scans",
		Long: `sedmap converts a stack of scanning-electron-diffraction detector frames
into a per-scan-point orientation map: it recovers the 2D scan geometry
from the beam-center trajectory, centers and crops every frame, reduces
frames to azimuthal crown profiles, and estimates the dominant
orientation angle per scan point.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	logger := func() *charmlog.Logger {
		level := charmlog.InfoLevel
		if verbose {
			level = charmlog.DebugLevel
		}
		return newLogger(os.Stderr, level)
	}

	root.AddCommand(newMapCmd(logger))
	root.AddCommand(newInitConfigCmd(logger))

	return root.Execute()
}

// newLogger creates a logger with timestamp formatting that writes to w
// and filters messages at the given level.
func newLogger(w io.Writer, level charmlog.Level) *charmlog.Logger {
	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}
