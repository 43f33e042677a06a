// Package toy holds a deliberately small transformer used to verify the
// packing pipeline end to end: a packed forward pass through it must be
// numerically identical to running each sub-sequence on its own.
package toy

import (
	"fmt"
	"math"

	"github.com/samcharles93/multipack/internal/collate"
	"github.com/samcharles93/multipack/internal/tensor"
	"github.com/samcharles93/multipack/internal/varlen"
)

// LM is a single-layer, single-head causal language model: token embedding
// plus learned position embedding, one attention layer, and a projection back
// to vocab logits. Small enough to run exhaustively in tests, real enough
// that attention leakage across packed sub-sequences shows up in the output.
type LM struct {
	Vocab  int
	Hidden int
	MaxPos int

	Emb tensor.Mat // [Vocab x Hidden] token embeddings
	Pos tensor.Mat // [MaxPos x Hidden] position embeddings
	Wq  tensor.Mat // [Hidden x Hidden]
	Wk  tensor.Mat // [Hidden x Hidden]
	Wv  tensor.Mat // [Hidden x Hidden]
	Out tensor.Mat // [Vocab x Hidden] projection to logits

	scale float32
}

// NewLM constructs a model with deterministic weights derived from seed.
func NewLM(vocab, hidden, maxPos int, seed int64) *LM {
	m := &LM{
		Vocab:  vocab,
		Hidden: hidden,
		MaxPos: maxPos,
		Emb:    tensor.NewMat(vocab, hidden),
		Pos:    tensor.NewMat(maxPos, hidden),
		Wq:     tensor.NewMat(hidden, hidden),
		Wk:     tensor.NewMat(hidden, hidden),
		Wv:     tensor.NewMat(hidden, hidden),
		Out:    tensor.NewMat(vocab, hidden),
		scale:  float32(1.0 / math.Sqrt(float64(hidden))),
	}
	tensor.FillRand(&m.Emb, seed+11)
	tensor.FillRand(&m.Pos, seed+13)
	tensor.FillRand(&m.Wq, seed+17)
	tensor.FillRand(&m.Wk, seed+19)
	tensor.FillRand(&m.Wv, seed+23)
	tensor.FillRand(&m.Out, seed+29)
	return m
}

// embed returns the summed token and position embedding for one token.
func (m *LM) embed(tok, pos int32) ([]float32, error) {
	if tok < 0 || int(tok) >= m.Vocab {
		return nil, fmt.Errorf("toy: token %d outside vocab %d", tok, m.Vocab)
	}
	if pos < 0 || int(pos) >= m.MaxPos {
		return nil, fmt.Errorf("toy: position %d outside limit %d", pos, m.MaxPos)
	}
	h := make([]float32, m.Hidden)
	copy(h, m.Emb.Row(int(tok)))
	tensor.Add(h, m.Pos.Row(int(pos)))
	return h, nil
}

// forward runs the attention layer over one flat token stream whose
// sub-sequence boundaries are given by cuSeqlens, and projects to logits.
func (m *LM) forward(ids, positions, cuSeqlens []int32) ([][]float32, error) {
	n := len(ids)
	q := make([][]float32, n)
	k := make([][]float32, n)
	v := make([][]float32, n)
	for i := range n {
		h, err := m.embed(ids[i], positions[i])
		if err != nil {
			return nil, err
		}
		q[i] = make([]float32, m.Hidden)
		k[i] = make([]float32, m.Hidden)
		v[i] = make([]float32, m.Hidden)
		tensor.MatVec(q[i], &m.Wq, h)
		tensor.MatVec(k[i], &m.Wk, h)
		tensor.MatVec(v[i], &m.Wv, h)
	}

	attended := varlen.Attend(q, k, v, cuSeqlens, m.scale)

	logits := make([][]float32, n)
	for i := range n {
		logits[i] = make([]float32, m.Vocab)
		tensor.MatVec(logits[i], &m.Out, attended[i])
	}
	return logits, nil
}

// ForwardSequence runs one sub-sequence on its own, positions starting at 0.
// Returns one logit vector per token.
func (m *LM) ForwardSequence(ids []int32) ([][]float32, error) {
	positions := make([]int32, len(ids))
	for i := range positions {
		positions[i] = int32(i)
	}
	return m.forward(ids, positions, []int32{0, int32(len(ids))})
}

// ForwardBatch runs a packed batch through the model using the kernel
// arguments derived by the adapter. Returns one logit vector per non-padding
// token, in flattened order matching args.Indices.
func (m *LM) ForwardBatch(b *collate.Batch, args *varlen.Args) ([][]float32, error) {
	ids := make([]int32, len(args.Indices))
	positions := make([]int32, len(args.Indices))
	for i, idx := range args.Indices {
		r, j := int(idx)/b.SeqLen, int(idx)%b.SeqLen
		ids[i] = b.InputIDs[r][j]
		positions[i] = b.PositionIDs[r][j]
	}
	return m.forward(ids, positions, args.CuSeqlens)
}
