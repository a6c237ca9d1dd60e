// Package config provides configuration loading and management for
// fmriconfounds. It handles loading configuration from YAML files and
// provides default values matching the reference confound-estimation
// parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// CompCor parameters
	CompCor struct {
		// Variant selects the CompCor flavor: compcor, acompcor, or tcompcor
		Variant string `yaml:"variant"`

		// NumComponents is the number of noise components to extract per mask
		NumComponents int `yaml:"numComponents"`

		// VarianceThreshold, when non-zero, keeps the fewest components
		// whose cumulative explained variance reaches this fraction,
		// overriding NumComponents
		VarianceThreshold float64 `yaml:"varianceThreshold"`

		// PreFilter selects the detrending applied before decomposition:
		// polynomial, cosine, or none
		PreFilter string `yaml:"preFilter"`

		// Degree is the Legendre polynomial order for the polynomial pre-filter
		Degree int `yaml:"degree"`

		// PeriodCut is the high-pass period cutoff in seconds for the
		// cosine pre-filter
		PeriodCut float64 `yaml:"periodCut"`

		// RepetitionTime overrides the volume sampling interval in seconds;
		// zero derives it from the image header
		RepetitionTime float64 `yaml:"repetitionTime"`

		// IgnoreInitialVolumes excludes this many leading volumes from the
		// decomposition; negative values auto-detect non-steady-state volumes
		IgnoreInitialVolumes int `yaml:"ignoreInitialVolumes"`

		// PercentileThreshold sets the high-variance voxel fraction for tCompCor
		PercentileThreshold float64 `yaml:"percentileThreshold"`

		// HeaderPrefix overrides the output column prefix
		HeaderPrefix string `yaml:"headerPrefix"`

		// MergeMethod combines multiple masks: union, intersect, or none
		MergeMethod string `yaml:"mergeMethod"`

		// MaskIndex selects a single mask by position instead of merging;
		// negative means unset
		MaskIndex int `yaml:"maskIndex"`
	} `yaml:"compcor"`

	// DVARS parameters
	DVARS struct {
		// RemoveZeroVariance drops voxels with zero robust variance
		RemoveZeroVariance bool `yaml:"removeZeroVariance"`

		// IntensityNormalization rescales the data to this median value;
		// zero disables normalization
		IntensityNormalization float64 `yaml:"intensityNormalization"`
	} `yaml:"dvars"`

	// Output parameters
	Output struct {
		// ComponentsFile is the components TSV filename
		ComponentsFile string `yaml:"componentsFile"`

		// PreFilterFile is the pre-filter basis TSV filename
		PreFilterFile string `yaml:"preFilterFile"`

		// MetadataFile is the per-component variance-explained TSV filename
		MetadataFile string `yaml:"metadataFile"`

		// SavePreFilter controls whether the basis file is written
		SavePreFilter bool `yaml:"savePreFilter"`

		// MaskDir receives derived high-variance masks for tCompCor
		MaskDir string `yaml:"maskDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default CompCor parameters
	cfg.CompCor.Variant = "compcor"
	cfg.CompCor.NumComponents = 6
	cfg.CompCor.PreFilter = "polynomial"
	cfg.CompCor.Degree = 1
	cfg.CompCor.PeriodCut = 128
	cfg.CompCor.PercentileThreshold = 0.98
	cfg.CompCor.MaskIndex = -1

	// Set default DVARS parameters
	cfg.DVARS.RemoveZeroVariance = false
	cfg.DVARS.IntensityNormalization = 1000

	// Set default output parameters
	cfg.Output.ComponentsFile = "components_file.txt"
	cfg.Output.PreFilterFile = "pre_filter.tsv"
	cfg.Output.MetadataFile = "components_metadata.tsv"
	cfg.Output.SavePreFilter = false
	cfg.Output.MaskDir = "derived_masks"
	cfg.Output.Verbose = true

	return cfg
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
