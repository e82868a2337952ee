package models

import (
	"fmt"
	"math"
)

// DType is the element representation a volume is stored and persisted as
type DType int

const (
	Float64 DType = iota
	Float32
	Int16
	Uint16
	Int32
	Uint8
)

// String returns the lowercase numpy-style name of the dtype
func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// IsInteger reports whether values of this dtype must be whole numbers
func (d DType) IsInteger() bool {
	switch d {
	case Int16, Uint16, Int32, Uint8:
		return true
	}
	return false
}

// Size returns the number of bytes of one element
func (d DType) Size() int {
	switch d {
	case Float64:
		return 8
	case Float32, Int32:
		return 4
	case Int16, Uint16:
		return 2
	case Uint8:
		return 1
	}
	return 0
}

// Range returns the representable value range of the dtype
func (d DType) Range() (lo, hi float64) {
	switch d {
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint16:
		return 0, math.MaxUint16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Uint8:
		return 0, math.MaxUint8
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}

// Cast converts an arbitrary real value into the closest value representable
// by the dtype. Integer dtypes round half away from zero and saturate.
func (d DType) Cast(v float64) float64 {
	if !d.IsInteger() {
		if d == Float32 {
			return float64(float32(v))
		}
		return v
	}
	lo, hi := d.Range()
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Shape is the extent of a volume along (depth, row, column)
type Shape [3]int

// Len returns the number of voxels covered by the shape
func (s Shape) Len() int {
	return s[0] * s[1] * s[2]
}

// Valid reports whether all extents are positive
func (s Shape) Valid() bool {
	return s[0] > 0 && s[1] > 0 && s[2] > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s[0], s[1], s[2])
}

// Spacing is the physical distance in mm between adjacent voxels, one value per axis
type Spacing [3]float64

func (s Spacing) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", s[0], s[1], s[2])
}

// Volume represents a CT scan or a label mask as a 3D array
type Volume struct {
	// Data holds the voxels in row-major (depth, row, column) order
	Data []float64

	// Shape is the extent along (depth, row, column)
	Shape Shape

	// DType is the representation the values are restricted to
	DType DType
}

// NewVolume allocates a zero-filled volume of the given shape
func NewVolume(shape Shape, dtype DType) *Volume {
	return &Volume{
		Data:  make([]float64, shape.Len()),
		Shape: shape,
		DType: dtype,
	}
}

// Index returns the flat offset of voxel (d, r, c)
func (v *Volume) Index(d, r, c int) int {
	return (d*v.Shape[1]+r)*v.Shape[2] + c
}

// At returns the value at voxel (d, r, c)
func (v *Volume) At(d, r, c int) float64 {
	return v.Data[v.Index(d, r, c)]
}

// Set stores a value at voxel (d, r, c)
func (v *Volume) Set(d, r, c int, val float64) {
	v.Data[v.Index(d, r, c)] = val
}

// Validate checks that the shape is positive and consistent with the data length
func (v *Volume) Validate() error {
	if !v.Shape.Valid() {
		return fmt.Errorf("volume shape %s has a non-positive extent", v.Shape)
	}
	if len(v.Data) != v.Shape.Len() {
		return fmt.Errorf("volume shape %s needs %d voxels, have %d", v.Shape, v.Shape.Len(), len(v.Data))
	}
	return nil
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Data: data, Shape: v.Shape, DType: v.DType}
}
