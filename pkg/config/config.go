// Package config provides configuration loading and management for sedmap.
// It handles loading configuration from YAML files and provides default
// values. Configuration is plain data passed at call time: components
// receive the values they need as function parameters, never through a
// dynamic lookup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Preprocessing parameters
	Preprocess struct {
		// DirectBeamThreshold is the minimum pixel intensity considered
		// when locating the direct beam.
		DirectBeamThreshold float64 `yaml:"directBeamThreshold"`

		// TrimRadius is the half-edge of the centered window; frames are
		// cropped to (2*trimRadius+1)² pixels around their beam center.
		TrimRadius int `yaml:"trimRadius"`

		// GradientThreshold is the fast-scan gradient above which a frame
		// counts as a flyback artifact.
		GradientThreshold float64 `yaml:"gradientThreshold"`
	} `yaml:"preprocess"`

	// Scan extent within the acquisition, half open [first, last).
	Scan struct {
		// First is the index of the first frame belonging to the scan.
		First int `yaml:"first"`

		// Last is one past the index of the last frame belonging to the
		// scan. Zero means the range was never set.
		Last int `yaml:"last"`
	} `yaml:"scan"`

	// Detector masking parameters
	Masking struct {
		// ApplyDetectorMask enables the built-in quad-chip cross mask.
		ApplyDetectorMask bool `yaml:"applyDetectorMask"`

		// MaskValue is the intensity written into masked pixels.
		MaskValue float64 `yaml:"maskValue"`
	} `yaml:"masking"`

	// Crown integration parameters
	Integration struct {
		// NPhiBins is the angular resolution of the crown; more bins mean
		// finer resolution but slower estimation.
		NPhiBins int `yaml:"nPhiBins"`

		// QMin and QMax delimit the radial range of the studied Bragg
		// reflection, in physical units.
		QMin float64 `yaml:"qMin"`
		QMax float64 `yaml:"qMax"`

		// QCalibration converts pixels to physical units (nm⁻¹/px).
		QCalibration float64 `yaml:"qCalibration"`
	} `yaml:"integration"`

	// Orientation estimation parameters
	Orientation struct {
		// Method selects the estimator: "harmonic_analysis",
		// "model_fitting", "argmax", or "principal_axis".
		Method string `yaml:"method"`

		// WeightExponent sets the model-fit sample weights to
		// intensity^weightExponent.
		WeightExponent float64 `yaml:"weightExponent"`

		// EtaMin and EtaMax bound the fitted degree of alignment.
		EtaMin float64 `yaml:"etaMin"`
		EtaMax float64 `yaml:"etaMax"`
	} `yaml:"orientation"`

	// Postprocessing parameters
	Postprocess struct {
		// FillFailedPoints enables kriging interpolation of scan points
		// whose orientation estimation failed.
		FillFailedPoints bool `yaml:"fillFailedPoints"`

		// KrigingRange is the variogram range in scan-grid units.
		KrigingRange float64 `yaml:"krigingRange"`

		// KrigingNeighbors is the number of valid scan points entering
		// each failed point's kriging system.
		KrigingNeighbors int `yaml:"krigingNeighbors"`
	} `yaml:"postprocess"`

	// Processing parameters
	Processing struct {
		// NumWorkers is the number of concurrent frame workers used by
		// the per-frame estimators.
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Preprocess.DirectBeamThreshold = 100
	cfg.Preprocess.TrimRadius = 100
	cfg.Preprocess.GradientThreshold = 2

	cfg.Masking.ApplyDetectorMask = true
	cfg.Masking.MaskValue = -1

	cfg.Integration.NPhiBins = 120
	cfg.Integration.QMin = 1.2
	cfg.Integration.QMax = 2.7
	cfg.Integration.QCalibration = 2.55 / 70 // nm⁻¹/px

	cfg.Orientation.Method = "harmonic_analysis"
	cfg.Orientation.WeightExponent = 1.0
	cfg.Orientation.EtaMin = 0.005
	cfg.Orientation.EtaMax = 0.95

	cfg.Postprocess.FillFailedPoints = false
	cfg.Postprocess.KrigingRange = 4
	cfg.Postprocess.KrigingNeighbors = 16

	cfg.Processing.NumWorkers = runtime.NumCPU()

	return cfg
}

// LoadConfig loads configuration from a YAML file, merged over the
// defaults. If the file doesn't exist, it returns the default
// configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
