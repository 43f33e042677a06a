package mpk

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid MPK magic")
	ErrUnsupportedMajor = errors.New("unsupported MPK major version")
	ErrCorruptFile      = errors.New("corrupt MPK file")
	ErrExampleRange     = errors.New("example index out of range")
)
