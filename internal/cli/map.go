package cli

import (
	"fmt"
	"path/filepath"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"sedmap/internal/rawio"
	"sedmap/pkg/config"
	"sedmap/pkg/pipeline"
	"sedmap/pkg/visualization"
)

// newMapCmd builds the map command: run the full orientation-mapping
// pipeline on a raw detector dump and write the resulting map as PNG, CSV,
// and raw float64 datasets.
func newMapCmd(logger func() *charmlog.Logger) *cobra.Command {
	var (
		configPath string
		input      string
		nFrames    int
		height     int
		width      int
		first      int
		last       int
		method     string
		outputDir  string
	)

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Compute an orientation map from a raw detector frame stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("first") {
				cfg.Scan.First = first
			}
			if cmd.Flags().Changed("last") {
				cfg.Scan.Last = last
			}
			if method != "" {
				cfg.Orientation.Method = method
			}

			log.Info("loading acquisition", "path", input, "frames", nFrames, "height", height, "width", width)
			frames, err := rawio.LoadInt16Stack(input, nFrames, height, width)
			if err != nil {
				return err
			}

			result, err := pipeline.New(cfg, log).MapOrientation(frames)
			if err != nil {
				return err
			}
			for _, fe := range result.FrameErrors {
				log.Warn("frame failed", "frame", fe.Index, "err", fe.Err)
			}

			img, err := visualization.OrientationImage(result.OrientationMap)
			if err != nil {
				return err
			}
			pngPath := filepath.Join(outputDir, "orientation.png")
			if err := visualization.SavePNG(img, pngPath); err != nil {
				return err
			}
			if err := rawio.SaveCSV(filepath.Join(outputDir, "orientation.csv"), result.OrientationMap); err != nil {
				return err
			}
			if result.Profiles != nil {
				if err := rawio.SaveFloat64(filepath.Join(outputDir, "profiles.f64"), result.Profiles); err != nil {
					return err
				}
			}
			if result.Parameters != nil {
				if err := rawio.SaveFloat64(filepath.Join(outputDir, "parameters.f64"), result.Parameters); err != nil {
					return err
				}
			}

			rows, cols := result.Geometry.Shape()
			log.Info("done", "rows", rows, "cols", cols, "output", outputDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sedmap.yaml", "configuration file")
	cmd.Flags().StringVarP(&input, "input", "i", "", "raw little-endian int16 frame stack")
	cmd.Flags().IntVar(&nFrames, "frames", 0, "number of frames in the stack")
	cmd.Flags().IntVar(&height, "height", 512, "detector height in pixels")
	cmd.Flags().IntVar(&width, "width", 512, "detector width in pixels")
	cmd.Flags().IntVar(&first, "first", 0, "index of the first scan frame (overrides config)")
	cmd.Flags().IntVar(&last, "last", 0, "one past the index of the last scan frame (overrides config)")
	cmd.Flags().StringVarP(&method, "method", "m", "", "orientation method (overrides config)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "sedmap_output", "output directory")

	for _, flag := range []string{"input", "frames"} {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			panic(fmt.Sprintf("marking %s required: %v", flag, err))
		}
	}

	return cmd
}

// newInitConfigCmd builds the init-config command: write the default
// configuration to a file as a starting point for editing.
func newInitConfigCmd(logger func() *charmlog.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(configPath); err != nil {
				return err
			}
			logger().Info("configuration written", "path", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sedmap.yaml", "configuration file to create")
	return cmd
}
