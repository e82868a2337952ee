// Package visualization renders slices of processed volumes as grayscale
// JPEG images for visual inspection of a preprocessing run.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"path/filepath"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/floats"

	"lungprep/internal/models"
)

// Viewer extracts 2D slices from a volume along any of its three axes.
// Axis "z" is depth, "y" is row and "x" is column.
type Viewer struct {
	fs     afero.Fs
	volume *models.Volume

	// window maps [lo, hi] onto the full gray range
	lo, hi float64
}

// NewViewer creates a viewer whose intensity window spans the volume's value range
func NewViewer(fs afero.Fs, volume *models.Volume) *Viewer {
	v := &Viewer{fs: fs, volume: volume}
	if len(volume.Data) > 0 {
		v.lo = floats.Min(volume.Data)
		v.hi = floats.Max(volume.Data)
	}
	return v
}

// SetWindow fixes the intensity window, e.g. -1000..400 HU for lung tissue
func (v *Viewer) SetWindow(lo, hi float64) error {
	if !(hi > lo) {
		return fmt.Errorf("window upper bound %g must exceed lower bound %g", hi, lo)
	}
	v.lo, v.hi = lo, hi
	return nil
}

// Window returns the current intensity window
func (v *Viewer) Window() (lo, hi float64) {
	return v.lo, v.hi
}

func (v *Viewer) gray(val float64) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	scaled := (val - v.lo) / (v.hi - v.lo) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled)))}
}

// axisLength returns the number of slices along axis
func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Shape[2], nil
	case "y", "Y":
		return v.volume.Shape[1], nil
	case "z", "Z":
		return v.volume.Shape[0], nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	depth, rows, cols := v.volume.Shape[0], v.volume.Shape[1], v.volume.Shape[2]
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// rows across, depth down
		img = image.NewGray16(image.Rect(0, 0, rows, depth))
		for d := 0; d < depth; d++ {
			for r := 0; r < rows; r++ {
				img.SetGray16(r, d, v.gray(v.volume.At(d, r, position)))
			}
		}

	case "y", "Y":
		// columns across, depth down
		img = image.NewGray16(image.Rect(0, 0, cols, depth))
		for d := 0; d < depth; d++ {
			for c := 0; c < cols; c++ {
				img.SetGray16(c, d, v.gray(v.volume.At(d, position, c)))
			}
		}

	default:
		// axial plane
		img = image.NewGray16(image.Rect(0, 0, cols, rows))
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				img.SetGray16(c, r, v.gray(v.volume.At(position, r, c)))
			}
		}
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := v.fs.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence saves every step-th slice along axis into outputDir and
// returns the number of files written
func (v *Viewer) SaveSliceSequence(axis string, outputDir string, step int) (int, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return 0, err
	}
	if step < 1 {
		step = 1
	}
	if err := v.fs.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	written := 0
	for pos := 0; pos < n; pos += step {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return written, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written++
	}

	return written, nil
}
