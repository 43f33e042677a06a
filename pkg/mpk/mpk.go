// Package mpk implements the Multipack token archive, a compact binary
// container for tokenized training datasets.
//
// An archive holds N examples. Each example is a pair of equal-length int32
// sequences (input ids and labels). The file layout is:
//
//	fixed header | token payload | example index | section directory
//
// The example index is a prefix-sum table of example lengths, so per-example
// token lengths are available without touching the payload. The token payload
// stores, for example i, its input ids followed by its labels. All integers
// are little-endian.
package mpk

import "unsafe"

const (
	MagicMPK = "MPK\x00"

	// Current Major Version: 1 (Breaking changes only)
	CurrentMajor uint16 = 1

	// Current Minor Version
	CurrentMinor uint16 = 0
)

type SectionType uint32

const (
	SectionIndex  SectionType = 0x0001
	SectionTokens SectionType = 0x0002
)

type MPKHeader struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
}

type MPKSection struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *MPKSection) End() uint64 {
	return s.Offset + s.Size
}

func (h *MPKHeader) Valid() bool {
	if string(h.Magic[:]) != MagicMPK {
		return false
	}
	if h.HeaderSize < uint32(unsafe.Sizeof(MPKHeader{})) {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *MPKHeader) Compatible() bool {
	return h.Major == CurrentMajor
}
