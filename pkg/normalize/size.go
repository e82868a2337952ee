// Package normalize brings the in-plane extent of a volume to a fixed square
// size by centered padding or centered cropping. The depth axis is never
// touched.
package normalize

import (
	"errors"
	"fmt"

	"lungprep/internal/models"
)

var (
	// ErrInvalidSize is returned for a non-positive target size
	ErrInvalidSize = errors.New("invalid target size")

	// ErrAxisMismatch is returned when rows and columns would need different operations
	ErrAxisMismatch = errors.New("row and column extents disagree with target size")
)

// Extend places v centered in a (D, size, size) volume whose remaining cells
// hold val. The top/left margins are floor((size-R)/2) and floor((size-C)/2).
func Extend(v *models.Volume, val float64, size int) (*models.Volume, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	depth, rows, cols := v.Shape[0], v.Shape[1], v.Shape[2]
	if rows > size || cols > size {
		return nil, fmt.Errorf("%w: cannot extend %s to %d", ErrAxisMismatch, v.Shape, size)
	}

	out := models.NewVolume(models.Shape{depth, size, size}, v.DType)
	if val != 0 {
		for i := range out.Data {
			out.Data[i] = val
		}
	}

	x := (size - rows) / 2
	y := (size - cols) / 2
	for d := 0; d < depth; d++ {
		for r := 0; r < rows; r++ {
			src := v.Index(d, r, 0)
			dst := out.Index(d, r+x, y)
			copy(out.Data[dst:dst+cols], v.Data[src:src+cols])
		}
	}
	return out, nil
}

// CropWindow returns the half-open [start, end) range of a centered window of
// the given size over an axis of length n. For odd sizes the window sits one
// sample toward the higher index.
func CropWindow(n, size int) (start, end int) {
	center := n / 2
	return center - size/2, center + (size+1)/2
}

// Crop cuts a centered (D, size, size) window out of v
func Crop(v *models.Volume, size int) (*models.Volume, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	depth, rows, cols := v.Shape[0], v.Shape[1], v.Shape[2]
	if rows < size || cols < size {
		return nil, fmt.Errorf("%w: cannot crop %s to %d", ErrAxisMismatch, v.Shape, size)
	}

	r0, _ := CropWindow(rows, size)
	c0, _ := CropWindow(cols, size)

	out := models.NewVolume(models.Shape{depth, size, size}, v.DType)
	for d := 0; d < depth; d++ {
		for r := 0; r < size; r++ {
			src := v.Index(d, r0+r, c0)
			dst := out.Index(d, r, 0)
			copy(out.Data[dst:dst+size], v.Data[src:src+size])
		}
	}
	return out, nil
}

// Resize picks extend, crop or identity from the row extent alone. Extending
// fills with the corner voxel v[0,0,0]. When the rows already match, v itself
// is returned even if the columns do not.
func Resize(v *models.Volume, size int) (*models.Volume, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	rows := v.Shape[1]
	switch {
	case rows < size:
		return Extend(v, v.At(0, 0, 0), size)
	case rows > size:
		return Crop(v, size)
	default:
		return v, nil
	}
}

// Conforms reports whether the in-plane extent of v equals size on both axes
func Conforms(v *models.Volume, size int) bool {
	return v.Shape[1] == size && v.Shape[2] == size
}
