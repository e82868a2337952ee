// Package preprocess turns one CT scan or lung mask on disk into a resampled,
// size-normalized volume ready to be persisted.
package preprocess

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"lungprep/internal/models"
	"lungprep/pkg/interpolation"
	"lungprep/pkg/normalize"
	"lungprep/pkg/volumeio"
)

// ErrVolumeRead wraps any failure of the volume reader
var ErrVolumeRead = errors.New("volume read failure")

// Params holds the processing parameters shared by every scan of a run
type Params struct {
	// TargetSpacing is the (depth, row, column) spacing in mm outputs are resampled to
	TargetSpacing models.Spacing

	// TargetSize is the row and column extent of every output
	TargetSize int

	// ImageMethod interpolates intensity volumes
	ImageMethod interpolation.Method

	// MaskMethod interpolates binarized masks
	MaskMethod interpolation.Method
}

// Stats summarises the voxel values of a processed volume
type Stats struct {
	Min, Max, Mean float64
}

// Result is a processed volume with the geometry it was derived from
type Result struct {
	Volume *models.Volume

	// OriginalShape is the shape as read, before resampling
	OriginalShape models.Shape

	// Spacing is the native spacing reordered to (depth, row, column)
	Spacing models.Spacing

	// AchievedSpacing is the spacing after resampling
	AchievedSpacing models.Spacing
}

// Stats computes min, max and mean of the result's voxels
func (r *Result) Stats() Stats {
	data := r.Volume.Data
	if len(data) == 0 {
		return Stats{}
	}
	return Stats{
		Min:  floats.Min(data),
		Max:  floats.Max(data),
		Mean: stat.Mean(data, nil),
	}
}

// Processor runs read, binarize, resample and resize for single files
type Processor struct {
	reader volumeio.Reader
	params Params
}

// NewProcessor creates a processor reading volumes through reader
func NewProcessor(reader volumeio.Reader, params Params) *Processor {
	return &Processor{
		reader: reader,
		params: params,
	}
}

// Process reads the volume at path and returns it resampled to the target
// spacing with rows and columns normalized to the target size. Masks are
// binarized before resampling. ctx is checked between stages.
func (p *Processor) Process(ctx context.Context, path string, isMask bool) (*Result, error) {
	// Step 1: read the volume and its native (x, y, z) spacing
	v, native, err := p.reader.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVolumeRead, err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVolumeRead, path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 2: masks become {0,1} labels
	method := p.params.ImageMethod
	if isMask {
		v = Binarize(v)
		method = p.params.MaskMethod
	}

	// Step 3: resample to the target spacing
	spacing := ReorderSpacing(native)
	resampled, achieved, err := interpolation.ResampleContext(ctx, v, spacing, p.params.TargetSpacing, method)
	if err != nil {
		return nil, fmt.Errorf("resampling %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 4: pad or crop rows and columns to the target size
	resized, err := normalize.Resize(resampled, p.params.TargetSize)
	if err != nil {
		return nil, fmt.Errorf("resizing %s: %w", path, err)
	}

	return &Result{
		Volume:          resized,
		OriginalShape:   v.Shape,
		Spacing:         spacing,
		AchievedSpacing: achieved,
	}, nil
}

// Binarize maps every voxel above zero to 1 and every other voxel to 0,
// stored as int16
func Binarize(v *models.Volume) *models.Volume {
	out := models.NewVolume(v.Shape, models.Int16)
	for i, val := range v.Data {
		if val > 0 {
			out.Data[i] = 1
		}
	}
	return out
}

// ReorderSpacing permutes a native (x, y, z) MetaImage spacing into the
// (depth, row, column) order of the array as (z, x, y)
func ReorderSpacing(native models.Spacing) models.Spacing {
	return models.Spacing{native[2], native[0], native[1]}
}
