// Package tensor provides the small dense float32 kernel set the reference
// model and attention checks need.
package tensor

import "math/rand"

// Mat represents a dense row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows (equal to C for
// row-major matrices). Mat performs no memory safety beyond Go's slice
// checks; out-of-range indices panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zero-initialised matrix with the given dimensions.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// Row returns a view of the i-th row. Modifications to the returned slice
// update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// FillRand fills the matrix with reproducible pseudo-random values. A small
// range around zero is used to avoid overflow in accumulations. The seed
// controls the random sequence; multiple calls with the same seed produce
// identical matrices.
func FillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02 // roughly in (-0.01,0.01)
	}
}
