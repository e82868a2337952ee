package interpolation

import (
	"math"
)

// splineTolerance bounds the error of the truncated causal initialisation
const splineTolerance = 1e-12

// poles returns the recursive filter poles of the B-spline of the given order
func poles(order int) []float64 {
	switch order {
	case 2:
		return []float64{math.Sqrt(8) - 3}
	case 3:
		return []float64{math.Sqrt(3) - 2}
	}
	return nil
}

// mirror folds an index into [0, n) by reflecting about the end samples
// without repeating them.
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	if i < 0 {
		i = -i
	}
	i %= period
	if i >= n {
		i = period - i
	}
	return i
}

// prefilter converts samples into B-spline coefficients in place.
// Orders 0 and 1 interpolate directly and need no filtering.
func prefilter(line []float64, order int) {
	n := len(line)
	zs := poles(order)
	if n < 2 || len(zs) == 0 {
		return
	}

	gain := 1.0
	for _, z := range zs {
		gain *= (1 - z) * (1 - 1/z)
	}
	for i := range line {
		line[i] *= gain
	}

	for _, z := range zs {
		line[0] = causalInit(line, z)
		for k := 1; k < n; k++ {
			line[k] += z * line[k-1]
		}
		line[n-1] = (z / (z*z - 1)) * (line[n-1] + z*line[n-2])
		for k := n - 2; k >= 0; k-- {
			line[k] = z * (line[k+1] - line[k])
		}
	}
}

// causalInit computes the first causal coefficient for mirror boundaries
func causalInit(c []float64, z float64) float64 {
	n := len(c)
	horizon := int(math.Ceil(math.Log(splineTolerance) / math.Log(math.Abs(z))))

	if horizon < n {
		zn := z
		sum := c[0]
		for k := 1; k < horizon; k++ {
			sum += zn * c[k]
			zn *= z
		}
		return sum
	}

	zn := z
	iz := 1 / z
	z2n := math.Pow(z, float64(n-1))
	sum := c[0] + z2n*c[n-1]
	z2n *= z2n * iz
	for k := 1; k < n-1; k++ {
		sum += (zn + z2n) * c[k]
		zn *= z
		z2n *= iz
	}
	return sum / (1 - zn*zn)
}

// kernel holds the support indices and weights for one output sample
type kernel struct {
	idx []int
	w   []float64
}

// weights evaluates the B-spline basis of the given order at x over a line of n samples
func weights(x float64, n, order int) kernel {
	switch order {
	case 0:
		i := int(math.Floor(x + 0.5))
		return kernel{idx: []int{mirror(i, n)}, w: []float64{1}}
	case 1:
		i := int(math.Floor(x))
		t := x - float64(i)
		return kernel{
			idx: []int{mirror(i, n), mirror(i+1, n)},
			w:   []float64{1 - t, t},
		}
	case 2:
		i := int(math.Floor(x + 0.5))
		t := x - float64(i)
		return kernel{
			idx: []int{mirror(i-1, n), mirror(i, n), mirror(i+1, n)},
			w: []float64{
				0.5 * (0.5 - t) * (0.5 - t),
				0.75 - t*t,
				0.5 * (0.5 + t) * (0.5 + t),
			},
		}
	default:
		i := int(math.Floor(x))
		t := x - float64(i)
		t2 := t * t
		t3 := t2 * t
		return kernel{
			idx: []int{mirror(i-1, n), mirror(i, n), mirror(i+1, n), mirror(i+2, n)},
			w: []float64{
				(1 - t) * (1 - t) * (1 - t) / 6,
				(4 - 6*t2 + 3*t3) / 6,
				(1 + 3*t + 3*t2 - 3*t3) / 6,
				t3 / 6,
			},
		}
	}
}

// sampleCoordinates maps each output index onto the input grid so that the
// first and last samples of both grids coincide.
func sampleCoordinates(nIn, nOut int) []float64 {
	coords := make([]float64, nOut)
	if nOut == 1 {
		return coords
	}
	step := float64(nIn-1) / float64(nOut-1)
	for o := range coords {
		coords[o] = float64(o) * step
	}
	return coords
}
