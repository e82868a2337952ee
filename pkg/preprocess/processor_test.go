package preprocess

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lungprep/internal/models"
	"lungprep/pkg/interpolation"
)

// memReader serves volumes from memory, keyed by path
type memReader struct {
	volumes  map[string]*models.Volume
	spacings map[string]models.Spacing
}

func (m *memReader) Read(path string) (*models.Volume, models.Spacing, error) {
	v, ok := m.volumes[path]
	if !ok {
		return nil, models.Spacing{}, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return v.Clone(), m.spacings[path], nil
}

func newMemReader() *memReader {
	return &memReader{
		volumes:  make(map[string]*models.Volume),
		spacings: make(map[string]models.Spacing),
	}
}

func (m *memReader) add(path string, v *models.Volume, native models.Spacing) {
	m.volumes[path] = v
	m.spacings[path] = native
}

func createScan(shape models.Shape) *models.Volume {
	v := models.NewVolume(shape, models.Int16)
	for i := range v.Data {
		v.Data[i] = float64(i%97) - 40
	}
	return v
}

func defaultParams(size int) Params {
	return Params{
		TargetSpacing: models.Spacing{1.6, 0.7, 0.7},
		TargetSize:    size,
		ImageMethod:   interpolation.Linear,
		MaskMethod:    interpolation.Linear,
	}
}

func TestProcessImageCrop(t *testing.T) {
	reader := newMemReader()
	reader.add("scan.mhd", createScan(models.Shape{4, 10, 10}), models.Spacing{1.4, 1.4, 3.2})

	res, err := NewProcessor(reader, defaultParams(16)).Process(context.Background(), "scan.mhd", false)
	require.NoError(t, err)

	assert.Equal(t, models.Shape{8, 16, 16}, res.Volume.Shape)
	assert.Equal(t, models.Shape{4, 10, 10}, res.OriginalShape)
	assert.Equal(t, models.Spacing{3.2, 1.4, 1.4}, res.Spacing)
	assert.InDeltaSlice(t, []float64{1.6, 0.7, 0.7}, res.AchievedSpacing[:], 1e-12)
	assert.Equal(t, models.Int16, res.Volume.DType)
}

func TestProcessImageExtendFillsWithCorner(t *testing.T) {
	reader := newMemReader()
	scan := createScan(models.Shape{2, 6, 6})
	reader.add("scan.mhd", scan, models.Spacing{0.7, 0.7, 1.6})

	res, err := NewProcessor(reader, defaultParams(10)).Process(context.Background(), "scan.mhd", false)
	require.NoError(t, err)

	assert.Equal(t, models.Shape{2, 10, 10}, res.Volume.Shape)
	assert.Equal(t, scan.At(0, 0, 0), res.Volume.At(1, 9, 9))
	assert.Equal(t, scan.At(1, 5, 5), res.Volume.At(1, 7, 7))
}

func TestProcessMaskIsBinary(t *testing.T) {
	reader := newMemReader()
	mask := models.NewVolume(models.Shape{3, 8, 8}, models.Float32)
	for i := range mask.Data {
		switch i % 4 {
		case 0:
			mask.Data[i] = -5
		case 1:
			mask.Data[i] = 0.2
		case 2:
			mask.Data[i] = 3
		}
	}
	reader.add("mask.mhd", mask, models.Spacing{0.5, 0.5, 1.1})

	res, err := NewProcessor(reader, defaultParams(8)).Process(context.Background(), "mask.mhd", true)
	require.NoError(t, err)

	assert.Equal(t, models.Int16, res.Volume.DType)
	for _, val := range res.Volume.Data {
		if val != 0 && val != 1 {
			t.Fatalf("mask voxel %v is not a label", val)
		}
	}
}

func TestProcessFailures(t *testing.T) {
	reader := newMemReader()
	reader.add("flat.mhd", createScan(models.Shape{2, 4, 4}), models.Spacing{0.7, 0, 1.6})
	reader.add("ok.mhd", createScan(models.Shape{2, 4, 4}), models.Spacing{0.7, 0.7, 1.6})

	p := NewProcessor(reader, defaultParams(4))

	_, err := p.Process(context.Background(), "missing.mhd", false)
	assert.ErrorIs(t, err, ErrVolumeRead)

	_, err = p.Process(context.Background(), "flat.mhd", false)
	assert.ErrorIs(t, err, interpolation.ErrInvalidSpacing)

	params := defaultParams(4)
	params.MaskMethod = interpolation.Method(11)
	_, err = NewProcessor(reader, params).Process(context.Background(), "ok.mhd", true)
	assert.ErrorIs(t, err, interpolation.ErrUnsupportedMethod)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Process(ctx, "ok.mhd", false)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBinarize(t *testing.T) {
	v := &models.Volume{Data: []float64{-3, 0, 0.001, 1, 255}, Shape: models.Shape{1, 1, 5}, DType: models.Uint8}
	out := Binarize(v)
	assert.Equal(t, []float64{0, 0, 1, 1, 1}, out.Data)
	assert.Equal(t, models.Int16, out.DType)
	assert.Equal(t, []float64{-3, 0, 0.001, 1, 255}, v.Data)
}

func TestReorderSpacing(t *testing.T) {
	assert.Equal(t, models.Spacing{2.5, 0.6, 0.7}, ReorderSpacing(models.Spacing{0.6, 0.7, 2.5}))
}

func TestResultStats(t *testing.T) {
	res := &Result{Volume: &models.Volume{Data: []float64{-2, 4, 1}, Shape: models.Shape{1, 1, 3}}}
	assert.Equal(t, Stats{Min: -2, Max: 4, Mean: 1}, res.Stats())
}
