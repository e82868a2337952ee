// Package interpolation resamples CT volumes to a target physical voxel
// spacing using separable B-spline interpolation of order 0 to 3.
package interpolation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"lungprep/internal/models"
)

var (
	// ErrInvalidSpacing is returned when a spacing component is not a positive finite number
	ErrInvalidSpacing = errors.New("invalid spacing")

	// ErrEmptyVolume is returned when the input or the resampled shape has a zero extent
	ErrEmptyVolume = errors.New("empty volume")
)

// TargetShape computes the voxel counts needed to cover the same physical
// extent at the target spacing, along with the spacing actually achieved.
//
// The ideal extent D*S/T is rounded half to even, so the achieved spacing
// S*D/round(D*S/T) only approximates the target.
func TargetShape(shape models.Shape, spacing, target models.Spacing) (models.Shape, models.Spacing, error) {
	if err := checkSpacing("spacing", spacing); err != nil {
		return models.Shape{}, models.Spacing{}, err
	}
	if err := checkSpacing("target spacing", target); err != nil {
		return models.Shape{}, models.Spacing{}, err
	}
	if !shape.Valid() {
		return models.Shape{}, models.Spacing{}, fmt.Errorf("%w: input shape %s", ErrEmptyVolume, shape)
	}

	var newShape models.Shape
	var achieved models.Spacing
	for i := 0; i < 3; i++ {
		factor := spacing[i] / target[i]
		newShape[i] = int(math.RoundToEven(float64(shape[i]) * factor))
		if newShape[i] <= 0 {
			return models.Shape{}, models.Spacing{}, fmt.Errorf("%w: axis %d of %s collapses at spacing %v -> %v",
				ErrEmptyVolume, i, shape, spacing, target)
		}
		realFactor := float64(newShape[i]) / float64(shape[i])
		achieved[i] = spacing[i] / realFactor
	}
	return newShape, achieved, nil
}

// Resample interpolates v from its spacing to the target spacing with the
// given method and returns the new volume with the spacing it achieves.
func Resample(v *models.Volume, spacing, target models.Spacing, method Method) (*models.Volume, models.Spacing, error) {
	return ResampleContext(context.Background(), v, spacing, target, method)
}

// ResampleContext is Resample with cancellation checked between axis passes
func ResampleContext(ctx context.Context, v *models.Volume, spacing, target models.Spacing, method Method) (*models.Volume, models.Spacing, error) {
	if !method.Valid() {
		return nil, models.Spacing{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	shape, achieved, err := TargetShape(v.Shape, spacing, target)
	if err != nil {
		return nil, models.Spacing{}, err
	}

	out, err := Zoom(ctx, v, shape, method.Order())
	if err != nil {
		return nil, models.Spacing{}, err
	}
	return out, achieved, nil
}

func checkSpacing(name string, s models.Spacing) error {
	for i, c := range s {
		if !(c > 0) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: %s component %d is %v", ErrInvalidSpacing, name, i, c)
		}
	}
	return nil
}
