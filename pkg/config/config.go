// Package config provides configuration loading and management for lungprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lungprep/internal/models"
	"lungprep/pkg/interpolation"
)

// ErrInvalidConfig is returned when a loaded configuration cannot drive a run
var ErrInvalidConfig = errors.New("invalid configuration")

// Variant names for the two preprocessing presets
const (
	// VariantPrimary resamples to 1.6 x 0.7 x 0.7 mm with linear interpolation
	VariantPrimary = "primary"

	// VariantIsotropic resamples to 1 mm isotropic, linear for scans and nearest-neighbour for masks
	VariantIsotropic = "isotropic"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Paths of the input and output directory trees
	Paths struct {
		// ImageRoot contains the subset0..subsetN directories of scans
		ImageRoot string `yaml:"imageRoot"`

		// MaskRoot contains the lung masks, flat, named like the scans
		MaskRoot string `yaml:"maskRoot"`

		// ImageOutRoot receives processed scans, partitioned by subset
		ImageOutRoot string `yaml:"imageOutRoot"`

		// MaskOutRoot receives processed masks, flat
		MaskOutRoot string `yaml:"maskOutRoot"`

		// Report is the append-only text report of a batch run
		Report string `yaml:"report"`

		// MetricsFile, when set, receives run metrics in Prometheus text format
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"paths"`

	// Processing parameters
	Processing struct {
		// Variant names the preset the spacing and methods were taken from
		Variant string `yaml:"variant"`

		// TargetSpacing is the (depth, row, column) spacing in mm every output is resampled to
		TargetSpacing [3]float64 `yaml:"targetSpacing"`

		// TargetSize is the row and column extent of every output
		TargetSize int `yaml:"targetSize"`

		// ImageMethod interpolates intensity volumes
		ImageMethod interpolation.Method `yaml:"imageMethod"`

		// MaskMethod interpolates binarized masks
		MaskMethod interpolation.Method `yaml:"maskMethod"`
	} `yaml:"processing"`

	// Batch traversal parameters
	Batch struct {
		// NumSubsets is how many subsetN directories are visited
		NumSubsets int `yaml:"numSubsets"`

		// SubsetPrefix is the directory name prefix of a subset
		SubsetPrefix string `yaml:"subsetPrefix"`

		// ImagePattern selects scan headers inside a subset directory
		ImagePattern string `yaml:"imagePattern"`

		// ProgressEvery logs progress after this many files
		ProgressEvery int `yaml:"progressEvery"`

		// FileTimeout bounds the processing of one scan/mask pair, zero disables it
		FileTimeout time.Duration `yaml:"fileTimeout"`

		// FailFast aborts the run on the first unreadable volume
		FailFast bool `yaml:"failFast"`
	} `yaml:"batch"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// JSONLogs switches the console logger to JSON
		JSONLogs bool `yaml:"jsonLogs"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default paths below ~/LUNA
	cfg.Paths.ImageRoot = filepath.Join("~", "LUNA")
	cfg.Paths.MaskRoot = filepath.Join("~", "LUNA", "seg-lungs-LUNA16")
	cfg.Paths.ImageOutRoot = filepath.Join("~", "LUNA", "preprocessed")
	cfg.Paths.MaskOutRoot = filepath.Join("~", "LUNA", "preprocessed", "seg-lungs-LUNA16")
	cfg.Paths.Report = filepath.Join("~", "preprocess.txt")

	// Set default processing parameters
	cfg.Processing.TargetSize = 512
	_ = cfg.ApplyVariant(VariantPrimary)

	// Set default batch parameters
	cfg.Batch.NumSubsets = 10
	cfg.Batch.SubsetPrefix = "subset"
	cfg.Batch.ImagePattern = "*.mhd"
	cfg.Batch.ProgressEvery = 10

	cfg.Output.Verbose = true

	return cfg
}

// ApplyVariant sets target spacing and interpolation methods from a named preset
func (c *Config) ApplyVariant(name string) error {
	switch name {
	case VariantPrimary:
		c.Processing.TargetSpacing = [3]float64{1.6, 0.7, 0.7}
		c.Processing.ImageMethod = interpolation.Linear
		c.Processing.MaskMethod = interpolation.Linear
	case VariantIsotropic:
		c.Processing.TargetSpacing = [3]float64{1, 1, 1}
		c.Processing.ImageMethod = interpolation.Linear
		c.Processing.MaskMethod = interpolation.Nearest
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, name)
	}
	c.Processing.Variant = name
	return nil
}

// TargetSpacing returns the configured spacing as a models.Spacing
func (c *Config) TargetSpacing() models.Spacing {
	return models.Spacing(c.Processing.TargetSpacing)
}

// Validate checks the values a run depends on and expands "~" in paths
func (c *Config) Validate() error {
	for i, s := range c.Processing.TargetSpacing {
		if s <= 0 {
			return fmt.Errorf("%w: targetSpacing[%d] = %v", ErrInvalidConfig, i, s)
		}
	}
	if c.Processing.TargetSize <= 0 {
		return fmt.Errorf("%w: targetSize = %d", ErrInvalidConfig, c.Processing.TargetSize)
	}
	if !c.Processing.ImageMethod.Valid() || !c.Processing.MaskMethod.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, interpolation.ErrUnsupportedMethod)
	}
	if c.Batch.NumSubsets < 0 {
		return fmt.Errorf("%w: numSubsets = %d", ErrInvalidConfig, c.Batch.NumSubsets)
	}
	if c.Batch.ImagePattern == "" {
		return fmt.Errorf("%w: imagePattern is empty", ErrInvalidConfig)
	}
	if c.Batch.FileTimeout < 0 {
		return fmt.Errorf("%w: fileTimeout = %s", ErrInvalidConfig, c.Batch.FileTimeout)
	}

	paths := []*string{
		&c.Paths.ImageRoot, &c.Paths.MaskRoot, &c.Paths.ImageOutRoot,
		&c.Paths.MaskOutRoot, &c.Paths.Report, &c.Paths.MetricsFile,
	}
	for _, p := range paths {
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A variant given in the file is the baseline that explicit keys override
	var probe struct {
		Processing struct {
			Variant string `yaml:"variant"`
		} `yaml:"processing"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if v := probe.Processing.Variant; v != "" {
		if err := cfg.ApplyVariant(v); err != nil {
			return nil, err
		}
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file for the named
// variant at the specified path
func CreateDefaultConfigFile(configPath, variant string) error {
	cfg := DefaultConfig()
	if err := cfg.ApplyVariant(variant); err != nil {
		return err
	}
	return SaveConfig(cfg, configPath)
}
