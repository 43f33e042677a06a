package packing

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
)

func testConfig() Config {
	return Config{
		BatchMaxLen: 10,
		GroupSize:   4,
		BinSize:     10,
	}
}

func TestPackPairsOfFive(t *testing.T) {
	t.Parallel()

	p, err := NewPacker([]int{5, 5, 5, 5}, testConfig())
	if err != nil {
		t.Fatalf("new packer: %v", err)
	}
	packs := p.PackAll([]int{0, 1, 2, 3})
	if len(packs) != 2 {
		t.Fatalf("expected 2 packs, got %d: %v", len(packs), packs)
	}
	for i, pk := range packs {
		if len(pk) != 2 {
			t.Fatalf("pack %d has %d members, want 2", i, len(pk))
		}
		if n := p.PackTokens(pk); n != 10 {
			t.Fatalf("pack %d sums to %d, want 10", i, n)
		}
	}
}

func TestLengthExceedsBudgetIsEager(t *testing.T) {
	t.Parallel()

	_, err := NewPacker([]int{12}, testConfig())
	if !errors.Is(err, ErrLengthExceedsBudget) {
		t.Fatalf("expected ErrLengthExceedsBudget, got %v", err)
	}
}

func TestPackBudgetInvariant(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 0))
	lengths := make([]int, 503)
	for i := range lengths {
		lengths[i] = 1 + rng.IntN(64)
	}
	cfg := Config{BatchMaxLen: 64, GroupSize: 100, BinSize: 64}
	p, err := NewPacker(lengths, cfg)
	if err != nil {
		t.Fatalf("new packer: %v", err)
	}

	perm := EpochPermutation(len(lengths), 42, 0)
	seen := make(map[int]int)
	for pk := range p.Packs(perm) {
		if len(pk) == 0 {
			t.Fatal("empty pack emitted")
		}
		if n := p.PackTokens(pk); n > cfg.BatchMaxLen {
			t.Fatalf("pack %v sums to %d, budget %d", pk, n, cfg.BatchMaxLen)
		}
		for _, idx := range pk {
			seen[idx]++
		}
	}

	// Without drop_last every index is scheduled exactly once.
	if len(seen) != len(lengths) {
		t.Fatalf("scheduled %d distinct indices, want %d", len(seen), len(lengths))
	}
	for idx, n := range seen {
		if n != 1 {
			t.Fatalf("index %d scheduled %d times", idx, n)
		}
	}
}

func TestPackMemberCap(t *testing.T) {
	t.Parallel()

	cfg := Config{BatchMaxLen: 100, BatchSize: 3, GroupSize: 16, BinSize: 100}
	lengths := []int{1, 1, 1, 1, 1, 1, 1, 1}
	p, err := NewPacker(lengths, cfg)
	if err != nil {
		t.Fatalf("new packer: %v", err)
	}
	for pk := range p.Packs([]int{0, 1, 2, 3, 4, 5, 6, 7}) {
		if len(pk) > 3 {
			t.Fatalf("pack %v exceeds member cap", pk)
		}
	}
}

func TestDropLastDiscardsTrailingPartialPack(t *testing.T) {
	t.Parallel()

	// 5+5 fills a row; the lone trailing 3 is partial.
	lengths := []int{5, 5, 3}
	stream := []int{0, 1, 2}

	cfg := testConfig()
	p, err := NewPacker(lengths, cfg)
	if err != nil {
		t.Fatalf("new packer: %v", err)
	}
	if got := len(p.PackAll(stream)); got != 2 {
		t.Fatalf("without drop_last: got %d packs, want 2", got)
	}

	cfg.DropLast = true
	p, err = NewPacker(lengths, cfg)
	if err != nil {
		t.Fatalf("new packer: %v", err)
	}
	packs := p.PackAll(stream)
	if len(packs) != 1 {
		t.Fatalf("with drop_last: got %d packs, want 1: %v", len(packs), packs)
	}
	if n := p.PackTokens(packs[0]); n != 10 {
		t.Fatalf("kept pack sums to %d, want 10", n)
	}
}

func TestEfficiencyMonotoneInGroupSize(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(11, 0))
	lengths := make([]int, 1000)
	for i := range lengths {
		lengths[i] = 1 + rng.IntN(512)
	}
	perm := EpochPermutation(len(lengths), 3, 0)

	prev := 0.0
	for _, group := range []int{10, 100, 1000} {
		cfg := Config{BatchMaxLen: 512, GroupSize: group, BinSize: 512}
		p, err := NewPacker(lengths, cfg)
		if err != nil {
			t.Fatalf("new packer (group %d): %v", group, err)
		}
		eff := p.Efficiency(p.PackAll(perm))
		if eff < prev {
			t.Fatalf("efficiency regressed at group_size %d: %v < %v", group, eff, prev)
		}
		prev = eff
	}
}

func TestEstimateTotalPacks(t *testing.T) {
	t.Parallel()

	cfg := Config{BatchMaxLen: 10, GroupSize: 4, BinSize: 10, Efficiency: 0.5}
	p, err := NewPacker([]int{5, 5, 5, 5}, cfg)
	if err != nil {
		t.Fatalf("new packer: %v", err)
	}
	// 20 tokens / (10 * 0.5) = 4
	if got := p.EstimateTotalPacks(); got != 4 {
		t.Fatalf("estimate = %d, want 4", got)
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero budget", Config{GroupSize: 1, BinSize: 1}},
		{"zero group", Config{BatchMaxLen: 1, BinSize: 1}},
		{"zero bin", Config{BatchMaxLen: 1, GroupSize: 1}},
		{"negative batch size", Config{BatchMaxLen: 1, GroupSize: 1, BinSize: 1, BatchSize: -1}},
		{"efficiency above one", Config{BatchMaxLen: 1, GroupSize: 1, BinSize: 1, Efficiency: 1.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewPacker(nil, tc.cfg); err == nil {
				t.Fatalf("expected config error")
			}
		})
	}
}

func TestPacksDeterministic(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 5))
	lengths := make([]int, 200)
	for i := range lengths {
		lengths[i] = 1 + rng.IntN(32)
	}
	p, err := NewPacker(lengths, Config{BatchMaxLen: 32, GroupSize: 64, BinSize: 32})
	if err != nil {
		t.Fatalf("new packer: %v", err)
	}
	perm := EpochPermutation(len(lengths), 9, 2)
	a := p.PackAll(perm)
	b := p.PackAll(slices.Clone(perm))
	if len(a) != len(b) {
		t.Fatalf("plan length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !slices.Equal(a[i], b[i]) {
			t.Fatalf("pack %d mismatch: %v vs %v", i, a[i], b[i])
		}
	}
}

func BenchmarkPackAll(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 1))
	lengths := make([]int, 100000)
	for i := range lengths {
		lengths[i] = 1 + rng.IntN(2048)
	}
	p, err := NewPacker(lengths, Config{BatchMaxLen: 2048, GroupSize: 10000, BinSize: 2048})
	if err != nil {
		b.Fatalf("new packer: %v", err)
	}
	perm := EpochPermutation(len(lengths), 1, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.PackAll(perm)
	}
}
