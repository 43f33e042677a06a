package varlen

import (
	"github.com/samcharles93/multipack/internal/tensor"
)

// Attend computes causal attention over packed per-token projections,
// isolated by the cu_seqlens boundaries: query i in segment [lo, hi)
// attends to keys [lo, i] only. This is the reference semantics every
// substituted kernel must match; the test suite uses it to prove packed
// forward passes equal independent ones.
//
// q, k and v hold one vector per non-padding token. The result has the
// same shape as v.
func Attend(q, k, v [][]float32, cuSeqlens []int32, scale float32) [][]float32 {
	out := make([][]float32, len(q))
	for s := 0; s < len(cuSeqlens)-1; s++ {
		lo, hi := int(cuSeqlens[s]), int(cuSeqlens[s+1])
		for i := lo; i < hi; i++ {
			scores := make([]float32, i-lo+1)
			for t := lo; t <= i; t++ {
				scores[t-lo] = tensor.Dot(q[i], k[t]) * scale
			}
			tensor.Softmax(scores)

			dim := len(v[i])
			acc := make([]float32, dim)
			for t := lo; t <= i; t++ {
				w := scores[t-lo]
				for d := 0; d < dim; d++ {
					acc[d] += w * v[t][d]
				}
			}
			out[i] = acc
		}
	}
	return out
}
