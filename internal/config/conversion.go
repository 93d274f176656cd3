package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath is the path to the canonical conversion defaults file.
// This is the single source of truth for all default conversion values.
const DefaultConfigPath = "config/conversion.defaults.json"

// ConversionConfig represents the root configuration for dataset conversion.
// Every field is optional; the Get* methods supply the defaults used by the
// original Apollo feature generator so that an empty file produces the
// standard 672x672, 70 m training set.
type ConversionConfig struct {
	// Grid geometry
	Width  *int     `json:"width,omitempty"`
	Height *int     `json:"height,omitempty"`
	Range  *float64 `json:"range,omitempty"` // metres from the sensor to the grid edge

	// Region of interest
	MinHeight         *float64 `json:"min_height,omitempty"`
	MaxHeight         *float64 `json:"max_height,omitempty"`
	RemoveCloseRadius *float64 `json:"remove_close_radius,omitempty"`

	// Feature channels
	UseConstantFeature  *bool    `json:"use_constant_feature,omitempty"`
	UseIntensityFeature *bool    `json:"use_intensity_feature,omitempty"`
	IntensityScale      *float64 `json:"intensity_scale,omitempty"`

	// Labels
	MinPointsInBox *int `json:"min_points_in_box,omitempty"`

	// Augmentation
	AugmentationNum   *int     `json:"augmentation_num,omitempty"`
	ZTranslationRange *float64 `json:"z_translation_range,omitempty"`
	AddNoise          *bool    `json:"add_noise,omitempty"`
	NoiseRate         *float64 `json:"noise_rate,omitempty"`
	NoiseSamples      *int     `json:"noise_samples,omitempty"`
	NoiseMinDistance  *float64 `json:"noise_min_distance,omitempty"`
	NoiseSigma        *float64 `json:"noise_sigma,omitempty"`

	// Batch
	Workers      *int   `json:"workers,omitempty"`
	Seed         *int64 `json:"seed,omitempty"`
	EndID        *int   `json:"end_id,omitempty"` // nil converts every sample
	WriteRetries *int   `json:"write_retries,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyConversionConfig returns a ConversionConfig with all fields set to nil.
func EmptyConversionConfig() *ConversionConfig {
	return &ConversionConfig{}
}

// DefaultConversionConfig returns a config with every field populated with
// its default value.
func DefaultConversionConfig() *ConversionConfig {
	c := EmptyConversionConfig()
	return &ConversionConfig{
		Width:               ptrInt(c.GetWidth()),
		Height:              ptrInt(c.GetHeight()),
		Range:               ptrFloat64(c.GetRange()),
		MinHeight:           ptrFloat64(c.GetMinHeight()),
		MaxHeight:           ptrFloat64(c.GetMaxHeight()),
		RemoveCloseRadius:   ptrFloat64(c.GetRemoveCloseRadius()),
		UseConstantFeature:  ptrBool(c.GetUseConstantFeature()),
		UseIntensityFeature: ptrBool(c.GetUseIntensityFeature()),
		IntensityScale:      ptrFloat64(c.GetIntensityScale()),
		MinPointsInBox:      ptrInt(c.GetMinPointsInBox()),
		AugmentationNum:     ptrInt(c.GetAugmentationNum()),
		ZTranslationRange:   ptrFloat64(c.GetZTranslationRange()),
		AddNoise:            ptrBool(c.GetAddNoise()),
		NoiseRate:           ptrFloat64(c.GetNoiseRate()),
		NoiseSamples:        ptrInt(c.GetNoiseSamples()),
		NoiseMinDistance:    ptrFloat64(c.GetNoiseMinDistance()),
		NoiseSigma:          ptrFloat64(c.GetNoiseSigma()),
		Workers:             ptrInt(0),
		Seed:                ptrInt64(c.GetSeed()),
		WriteRetries:        ptrInt(c.GetWriteRetries()),
	}
}

// LoadConversionConfig loads a ConversionConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadConversionConfig(path string) (*ConversionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConversionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ConversionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/lidar/storage/dataset/
	}
	for _, path := range candidates {
		if cfg, err := LoadConversionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ConversionConfig) Validate() error {
	if c.Width != nil && *c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", *c.Height)
	}
	if c.Range != nil && *c.Range <= 0 {
		return fmt.Errorf("range must be positive, got %f", *c.Range)
	}
	if c.GetMinHeight() >= c.GetMaxHeight() {
		return fmt.Errorf("min_height (%f) must be below max_height (%f)", c.GetMinHeight(), c.GetMaxHeight())
	}
	if c.RemoveCloseRadius != nil && *c.RemoveCloseRadius < 0 {
		return fmt.Errorf("remove_close_radius must be non-negative, got %f", *c.RemoveCloseRadius)
	}
	if c.IntensityScale != nil && *c.IntensityScale <= 0 {
		return fmt.Errorf("intensity_scale must be positive, got %f", *c.IntensityScale)
	}
	if c.MinPointsInBox != nil && *c.MinPointsInBox < 0 {
		return fmt.Errorf("min_points_in_box must be non-negative, got %d", *c.MinPointsInBox)
	}
	if c.AugmentationNum != nil && *c.AugmentationNum < 0 {
		return fmt.Errorf("augmentation_num must be non-negative, got %d", *c.AugmentationNum)
	}
	if c.ZTranslationRange != nil && *c.ZTranslationRange < 0 {
		return fmt.Errorf("z_translation_range must be non-negative, got %f", *c.ZTranslationRange)
	}
	if c.NoiseRate != nil && (*c.NoiseRate < 0 || *c.NoiseRate > 1) {
		return fmt.Errorf("noise_rate must be between 0 and 1, got %f", *c.NoiseRate)
	}
	if c.NoiseSamples != nil && *c.NoiseSamples <= 0 {
		return fmt.Errorf("noise_samples must be positive, got %d", *c.NoiseSamples)
	}
	if c.NoiseSigma != nil && *c.NoiseSigma <= 0 {
		return fmt.Errorf("noise_sigma must be positive, got %f", *c.NoiseSigma)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.EndID != nil && *c.EndID <= 0 {
		return fmt.Errorf("end_id must be positive, got %d", *c.EndID)
	}
	if c.WriteRetries != nil && *c.WriteRetries < 0 {
		return fmt.Errorf("write_retries must be non-negative, got %d", *c.WriteRetries)
	}
	return nil
}

// GetWidth returns the feature map width (columns) or the default.
func (c *ConversionConfig) GetWidth() int {
	if c.Width == nil {
		return 672
	}
	return *c.Width
}

// GetHeight returns the feature map height (rows) or the default.
func (c *ConversionConfig) GetHeight() int {
	if c.Height == nil {
		return 672
	}
	return *c.Height
}

// GetRange returns the grid range in metres or the default.
func (c *ConversionConfig) GetRange() float64 {
	if c.Range == nil {
		return 70
	}
	return *c.Range
}

// GetMinHeight returns the lower z bound of the region of interest.
func (c *ConversionConfig) GetMinHeight() float64 {
	if c.MinHeight == nil {
		return -5
	}
	return *c.MinHeight
}

// GetMaxHeight returns the upper z bound of the region of interest.
func (c *ConversionConfig) GetMaxHeight() float64 {
	if c.MaxHeight == nil {
		return 5
	}
	return *c.MaxHeight
}

// GetRemoveCloseRadius returns the radius around the sensor inside which
// returns are dropped (ego vehicle body).
func (c *ConversionConfig) GetRemoveCloseRadius() float64 {
	if c.RemoveCloseRadius == nil {
		return 1.0
	}
	return *c.RemoveCloseRadius
}

// GetUseConstantFeature returns the use_constant_feature value or the default.
func (c *ConversionConfig) GetUseConstantFeature() bool {
	if c.UseConstantFeature == nil {
		return false
	}
	return *c.UseConstantFeature
}

// GetUseIntensityFeature returns the use_intensity_feature value or the default.
func (c *ConversionConfig) GetUseIntensityFeature() bool {
	if c.UseIntensityFeature == nil {
		return true
	}
	return *c.UseIntensityFeature
}

// GetIntensityScale returns the factor applied to raw intensity values.
func (c *ConversionConfig) GetIntensityScale() float64 {
	if c.IntensityScale == nil {
		return 1.0 / 255.0
	}
	return *c.IntensityScale
}

// GetMinPointsInBox returns the min_points_in_box value or the default.
func (c *ConversionConfig) GetMinPointsInBox() int {
	if c.MinPointsInBox == nil {
		return 4
	}
	return *c.MinPointsInBox
}

// GetAugmentationNum returns how many augmented copies are produced per sample.
func (c *ConversionConfig) GetAugmentationNum() int {
	if c.AugmentationNum == nil {
		return 0
	}
	return *c.AugmentationNum
}

// GetZTranslationRange returns the augmentation z translation half-range.
func (c *ConversionConfig) GetZTranslationRange() float64 {
	if c.ZTranslationRange == nil {
		return 0.5
	}
	return *c.ZTranslationRange
}

// GetAddNoise returns the add_noise value or the default.
func (c *ConversionConfig) GetAddNoise() bool {
	if c.AddNoise == nil {
		return false
	}
	return *c.AddNoise
}

// GetNoiseRate returns the fraction of azimuth degrees that receive a noise point.
func (c *ConversionConfig) GetNoiseRate() float64 {
	if c.NoiseRate == nil {
		return 0.1
	}
	return *c.NoiseRate
}

// GetNoiseSamples returns the noise_samples value or the default.
func (c *ConversionConfig) GetNoiseSamples() int {
	if c.NoiseSamples == nil {
		return 5
	}
	return *c.NoiseSamples
}

// GetNoiseMinDistance returns the noise_min_distance value or the default.
func (c *ConversionConfig) GetNoiseMinDistance() float64 {
	if c.NoiseMinDistance == nil {
		return 5
	}
	return *c.NoiseMinDistance
}

// GetNoiseSigma returns the noise_sigma value or the default.
func (c *ConversionConfig) GetNoiseSigma() float64 {
	if c.NoiseSigma == nil {
		return 2
	}
	return *c.NoiseSigma
}

// GetWorkers returns the worker count; zero or unset means one per CPU.
func (c *ConversionConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetSeed returns the augmentation seed or the default.
func (c *ConversionConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetEndID returns the maximum number of items to produce and whether a
// limit is set at all.
func (c *ConversionConfig) GetEndID() (int, bool) {
	if c.EndID == nil {
		return 0, false
	}
	return *c.EndID, true
}

// GetWriteRetries returns how often a failed sample write is retried.
func (c *ConversionConfig) GetWriteRetries() int {
	if c.WriteRetries == nil {
		return 1
	}
	return *c.WriteRetries
}

// Hash returns a stable digest of every value that changes the bytes of the
// produced dataset. Workers and end_id are excluded.
func (c *ConversionConfig) Hash() string {
	resolved := struct {
		Width, Height       int
		Range               float64
		MinHeight           float64
		MaxHeight           float64
		RemoveCloseRadius   float64
		UseConstantFeature  bool
		UseIntensityFeature bool
		IntensityScale      float64
		MinPointsInBox      int
		AugmentationNum     int
		ZTranslationRange   float64
		AddNoise            bool
		NoiseRate           float64
		NoiseSamples        int
		NoiseMinDistance    float64
		NoiseSigma          float64
		Seed                int64
	}{
		c.GetWidth(), c.GetHeight(), c.GetRange(),
		c.GetMinHeight(), c.GetMaxHeight(), c.GetRemoveCloseRadius(),
		c.GetUseConstantFeature(), c.GetUseIntensityFeature(), c.GetIntensityScale(),
		c.GetMinPointsInBox(),
		c.GetAugmentationNum(), c.GetZTranslationRange(),
		c.GetAddNoise(), c.GetNoiseRate(), c.GetNoiseSamples(), c.GetNoiseMinDistance(), c.GetNoiseSigma(),
		c.GetSeed(),
	}
	b, _ := json.Marshal(resolved)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
