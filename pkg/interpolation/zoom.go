package interpolation

import (
	"context"
	"fmt"

	"lungprep/internal/models"
)

// Zoom interpolates v onto a grid of the given shape using a separable
// B-spline of the given order. The passes run one axis at a time, depth
// first, and ctx is checked between passes. v is not modified.
func Zoom(ctx context.Context, v *models.Volume, shape models.Shape, order int) (*models.Volume, error) {
	if order < 0 || order > 3 {
		return nil, fmt.Errorf("%w: spline order %d", ErrUnsupportedMethod, order)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyVolume, err)
	}
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: target shape %s", ErrEmptyVolume, shape)
	}

	current := v.Data
	currentShape := v.Shape
	for axis := 0; axis < 3; axis++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if currentShape[axis] == shape[axis] {
			continue
		}
		current, currentShape = zoomAxis(current, currentShape, axis, shape[axis], order)
	}

	out := &models.Volume{Shape: currentShape, DType: v.DType}
	if &current[0] == &v.Data[0] {
		out.Data = make([]float64, len(current))
		copy(out.Data, current)
	} else {
		out.Data = current
	}

	if v.DType != models.Float64 {
		for i, val := range out.Data {
			out.Data[i] = v.DType.Cast(val)
		}
	}
	return out, nil
}

// zoomAxis resamples every line along one axis from shape[axis] to nOut samples
func zoomAxis(data []float64, shape models.Shape, axis, nOut, order int) ([]float64, models.Shape) {
	nIn := shape[axis]

	outer := 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	inner := 1
	for i := axis + 1; i < 3; i++ {
		inner *= shape[i]
	}

	coords := sampleCoordinates(nIn, nOut)
	kernels := make([]kernel, nOut)
	for o, x := range coords {
		kernels[o] = weights(x, nIn, order)
	}

	outShape := shape
	outShape[axis] = nOut
	out := make([]float64, outShape.Len())
	line := make([]float64, nIn)

	for o := 0; o < outer; o++ {
		inBase := o * nIn * inner
		outBase := o * nOut * inner
		for i := 0; i < inner; i++ {
			for j := 0; j < nIn; j++ {
				line[j] = data[inBase+i+j*inner]
			}
			prefilter(line, order)

			for k, kern := range kernels {
				sum := 0.0
				for n, idx := range kern.idx {
					sum += kern.w[n] * line[idx]
				}
				out[outBase+i+k*inner] = sum
			}
		}
	}

	return out, outShape
}
