package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lungprep/internal/models"
	"lungprep/pkg/interpolation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, VariantPrimary, cfg.Processing.Variant)
	assert.Equal(t, models.Spacing{1.6, 0.7, 0.7}, cfg.TargetSpacing())
	assert.Equal(t, 512, cfg.Processing.TargetSize)
	assert.Equal(t, interpolation.Linear, cfg.Processing.ImageMethod)
	assert.Equal(t, interpolation.Linear, cfg.Processing.MaskMethod)
	assert.Equal(t, 10, cfg.Batch.NumSubsets)
	assert.Equal(t, "*.mhd", cfg.Batch.ImagePattern)
	assert.Equal(t, 10, cfg.Batch.ProgressEvery)
	assert.False(t, cfg.Batch.FailFast)
}

func TestApplyVariant(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyVariant(VariantIsotropic))
	assert.Equal(t, VariantIsotropic, cfg.Processing.Variant)
	assert.Equal(t, models.Spacing{1, 1, 1}, cfg.TargetSpacing())
	assert.Equal(t, interpolation.Linear, cfg.Processing.ImageMethod)
	assert.Equal(t, interpolation.Nearest, cfg.Processing.MaskMethod)
	// scans never get a coarser order than masks
	assert.Greater(t, cfg.Processing.ImageMethod.Order(), cfg.Processing.MaskMethod.Order())

	require.NoError(t, cfg.ApplyVariant(VariantPrimary))
	assert.Equal(t, models.Spacing{1.6, 0.7, 0.7}, cfg.TargetSpacing())
	assert.Equal(t, interpolation.Linear, cfg.Processing.ImageMethod)
	assert.Equal(t, interpolation.Linear, cfg.Processing.MaskMethod)

	assert.ErrorIs(t, cfg.ApplyVariant("anisotropic"), ErrInvalidConfig)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lungprep.yaml")
	data := `processing:
  variant: isotropic
  maskMethod: quadratic
  targetSize: 256
batch:
  fileTimeout: 90s
  failFast: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, models.Spacing{1, 1, 1}, cfg.TargetSpacing())
	assert.Equal(t, interpolation.Linear, cfg.Processing.ImageMethod)
	assert.Equal(t, interpolation.Quadratic, cfg.Processing.MaskMethod)
	assert.Equal(t, 256, cfg.Processing.TargetSize)
	assert.Equal(t, 90*time.Second, cfg.Batch.FileTimeout)
	assert.True(t, cfg.Batch.FailFast)
	assert.Equal(t, 10, cfg.Batch.NumSubsets)
}

func TestLoadConfigRejectsUnknownMethod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lungprep.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  imageMethod: sinc\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, interpolation.ErrUnsupportedMethod)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lungprep.yaml")
	require.NoError(t, CreateDefaultConfigFile(path, VariantPrimary))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	require.NoError(t, CreateDefaultConfigFile(path, VariantIsotropic))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, interpolation.Linear, cfg.Processing.ImageMethod)
	assert.Equal(t, interpolation.Nearest, cfg.Processing.MaskMethod)

	assert.ErrorIs(t, CreateDefaultConfigFile(path, "bogus"), ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.NotContains(t, cfg.Paths.ImageRoot, "~")
	assert.True(t, filepath.IsAbs(cfg.Paths.Report))

	cfg = DefaultConfig()
	cfg.Processing.TargetSpacing[1] = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Processing.TargetSize = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Processing.MaskMethod = interpolation.Method(7)
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, interpolation.ErrUnsupportedMethod)
}
