package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefaultConversionConfig(t *testing.T) {
	cfg := DefaultConversionConfig()

	if cfg.Width == nil || *cfg.Width != 672 {
		t.Errorf("Expected Width 672, got %v", cfg.Width)
	}
	if cfg.Range == nil || *cfg.Range != 70 {
		t.Errorf("Expected Range 70, got %v", cfg.Range)
	}
	if cfg.UseIntensityFeature == nil || *cfg.UseIntensityFeature != true {
		t.Errorf("Expected UseIntensityFeature true, got %v", cfg.UseIntensityFeature)
	}
	if cfg.MinPointsInBox == nil || *cfg.MinPointsInBox != 4 {
		t.Errorf("Expected MinPointsInBox 4, got %v", cfg.MinPointsInBox)
	}
	if cfg.EndID != nil {
		t.Errorf("Expected EndID nil, got %v", *cfg.EndID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConversionConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "width": 512,
  "height": 512,
  "range": 60,
  "use_constant_feature": true,
  "augmentation_num": 2,
  "end_id": 100
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConversionConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetWidth() != 512 || cfg.GetHeight() != 512 {
		t.Errorf("Expected 512x512, got %dx%d", cfg.GetWidth(), cfg.GetHeight())
	}
	if cfg.GetRange() != 60 {
		t.Errorf("Expected range 60, got %f", cfg.GetRange())
	}
	if !cfg.GetUseConstantFeature() {
		t.Error("Expected use_constant_feature true")
	}
	if !cfg.GetUseIntensityFeature() {
		t.Error("Expected use_intensity_feature to keep its default (true)")
	}
	if cfg.GetAugmentationNum() != 2 {
		t.Errorf("Expected augmentation_num 2, got %d", cfg.GetAugmentationNum())
	}
	if n, ok := cfg.GetEndID(); !ok || n != 100 {
		t.Errorf("Expected end_id 100, got %d (set=%v)", n, ok)
	}
}

func TestLoadConversionConfigMissing(t *testing.T) {
	if _, err := LoadConversionConfig("/nonexistent/path/config.json"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadConversionConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(configPath, []byte(`{"width": "wide"}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadConversionConfig(configPath); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestLoadConversionConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadConversionConfig("config.yaml")
	if err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("Expected extension error, got %v", err)
	}
}

func TestLoadConversionConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")
	data := make([]byte, 1024*1024+1)
	for i := range data {
		data[i] = ' '
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	_, err := LoadConversionConfig(configPath)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected size error, got %v", err)
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetWidth() != 672 || cfg.GetHeight() != 672 {
		t.Errorf("defaults file should describe a 672x672 grid, got %dx%d", cfg.GetWidth(), cfg.GetHeight())
	}
	if cfg.Hash() != DefaultConversionConfig().Hash() {
		t.Error("defaults file and DefaultConversionConfig disagree")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *ConversionConfig
		wantErr string
	}{
		{"empty", &ConversionConfig{}, ""},
		{"zero width", &ConversionConfig{Width: ptrInt(0)}, "width"},
		{"negative height", &ConversionConfig{Height: ptrInt(-1)}, "height"},
		{"zero range", &ConversionConfig{Range: ptrFloat64(0)}, "range"},
		{"inverted heights", &ConversionConfig{MinHeight: ptrFloat64(3), MaxHeight: ptrFloat64(1)}, "min_height"},
		{"negative close radius", &ConversionConfig{RemoveCloseRadius: ptrFloat64(-1)}, "remove_close_radius"},
		{"zero intensity scale", &ConversionConfig{IntensityScale: ptrFloat64(0)}, "intensity_scale"},
		{"negative min points", &ConversionConfig{MinPointsInBox: ptrInt(-1)}, "min_points_in_box"},
		{"negative augmentation", &ConversionConfig{AugmentationNum: ptrInt(-2)}, "augmentation_num"},
		{"noise rate above one", &ConversionConfig{NoiseRate: ptrFloat64(1.5)}, "noise_rate"},
		{"zero noise samples", &ConversionConfig{NoiseSamples: ptrInt(0)}, "noise_samples"},
		{"zero noise sigma", &ConversionConfig{NoiseSigma: ptrFloat64(0)}, "noise_sigma"},
		{"negative workers", &ConversionConfig{Workers: ptrInt(-4)}, "workers"},
		{"zero end id", &ConversionConfig{EndID: ptrInt(0)}, "end_id"},
		{"negative retries", &ConversionConfig{WriteRetries: ptrInt(-1)}, "write_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetWorkers(t *testing.T) {
	if got := (&ConversionConfig{}).GetWorkers(); got != runtime.NumCPU() {
		t.Errorf("GetWorkers() unset = %d, want %d", got, runtime.NumCPU())
	}
	if got := (&ConversionConfig{Workers: ptrInt(0)}).GetWorkers(); got != runtime.NumCPU() {
		t.Errorf("GetWorkers() zero = %d, want %d", got, runtime.NumCPU())
	}
	if got := (&ConversionConfig{Workers: ptrInt(3)}).GetWorkers(); got != 3 {
		t.Errorf("GetWorkers() = %d, want 3", got)
	}
}

func TestHash(t *testing.T) {
	base := EmptyConversionConfig()
	if base.Hash() != DefaultConversionConfig().Hash() {
		t.Error("empty and default configs resolve to the same values and must hash equally")
	}

	workers := &ConversionConfig{Workers: ptrInt(16), EndID: ptrInt(10)}
	if workers.Hash() != base.Hash() {
		t.Error("workers and end_id must not change the hash")
	}

	seeded := &ConversionConfig{Seed: ptrInt64(42)}
	if seeded.Hash() == base.Hash() {
		t.Error("seed must change the hash")
	}
}
