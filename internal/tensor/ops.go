package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst = w * x. dst must have length w.R and x length w.C.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("MatVec dimension mismatch")
	}
	for r := 0; r < w.R; r++ {
		dst[r] = Dot(w.Row(r), x)
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}
