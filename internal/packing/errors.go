package packing

import "errors"

var (
	// ErrLengthExceedsBudget reports an example whose length alone exceeds
	// the per-row token budget. Packing never truncates; the caller must fix
	// the dataset or raise BatchMaxLen.
	ErrLengthExceedsBudget = errors.New("example length exceeds batch_max_len")

	// ErrUnevenShard reports a pack plan whose per-rank step counts would
	// diverge. Continuing would deadlock collective operations, so this is
	// fatal rather than a warning.
	ErrUnevenShard = errors.New("pack count not divisible by world size with drop_last disabled")
)
