package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.CompCor.Variant != "compcor" {
		t.Errorf("default variant = %q, want compcor", cfg.CompCor.Variant)
	}
	if cfg.CompCor.NumComponents != 6 {
		t.Errorf("default numComponents = %d, want 6", cfg.CompCor.NumComponents)
	}
	if cfg.CompCor.PreFilter != "polynomial" {
		t.Errorf("default preFilter = %q, want polynomial", cfg.CompCor.PreFilter)
	}
	if cfg.CompCor.PercentileThreshold != 0.98 {
		t.Errorf("default percentileThreshold = %g, want 0.98", cfg.CompCor.PercentileThreshold)
	}
	if cfg.CompCor.VarianceThreshold != 0 {
		t.Errorf("default varianceThreshold = %g, want 0 (disabled)", cfg.CompCor.VarianceThreshold)
	}
	if cfg.Output.MetadataFile != "components_metadata.tsv" {
		t.Errorf("default metadataFile = %q, want components_metadata.tsv", cfg.Output.MetadataFile)
	}
	if cfg.DVARS.IntensityNormalization != 1000 {
		t.Errorf("default intensityNormalization = %g, want 1000", cfg.DVARS.IntensityNormalization)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("missing config should fall back to defaults, got error: %v", err)
	}
	if cfg.CompCor.NumComponents != 6 {
		t.Errorf("fallback numComponents = %d, want 6", cfg.CompCor.NumComponents)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	dir, err := os.MkdirTemp("", "fmriconfounds-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()
	cfg.CompCor.Variant = "tcompcor"
	cfg.CompCor.NumComponents = 4
	cfg.Output.SavePreFilter = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.CompCor.Variant != "tcompcor" {
		t.Errorf("variant = %q, want tcompcor", loaded.CompCor.Variant)
	}
	if loaded.CompCor.NumComponents != 4 {
		t.Errorf("numComponents = %d, want 4", loaded.CompCor.NumComponents)
	}
	if !loaded.Output.SavePreFilter {
		t.Error("savePreFilter did not round-trip")
	}

	t.Run("PartialFileKeepsDefaults", func(t *testing.T) {
		partial := filepath.Join(dir, "partial.yaml")
		data := []byte("compcor:\n  numComponents: 3\n")
		if err := os.WriteFile(partial, data, 0644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		cfg, err := LoadConfig(partial)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.CompCor.NumComponents != 3 {
			t.Errorf("numComponents = %d, want 3", cfg.CompCor.NumComponents)
		}
		if cfg.CompCor.PreFilter != "polynomial" {
			t.Errorf("preFilter = %q, want the polynomial default", cfg.CompCor.PreFilter)
		}
	})
}
