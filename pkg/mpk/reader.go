package mpk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mpkAlign       = 8
	mpkHeaderSize  = int(unsafe.Sizeof(MPKHeader{}))
	mpkSectionSize = int(unsafe.Sizeof(MPKSection{}))
)

// File is a read-only view over an open archive.
type File struct {
	Data     []byte
	Header   *MPKHeader
	Sections []MPKSection

	index   []byte // index section payload
	tokens  []byte // token section payload
	count   int
	mmapped bool
}

// Open maps an MPK archive read-only and validates its structure.
// If mmap is unavailable, it falls back to ReadAt-based loading.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size64 := stat.Size()
	if size64 < 0 {
		return nil, ErrCorruptFile
	}
	if size64 > int64(int(^uint(0)>>1)) {
		// cannot index this file safely as []byte on this architecture.
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size < mpkHeaderSize {
		return nil, ErrCorruptFile
	}

	// Prefer mmap where available for zero-copy access to the index.
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err == nil {
		mf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return mf, nil
	}

	// Fallback path that does not require mmap support.
	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates an archive from a random-access reader without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrCorruptFile
	}
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	if len(data) < mpkHeaderSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:mpkHeaderSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, ErrCorruptFile
	}
	if hdr.HeaderSize < uint32(mpkHeaderSize) {
		return nil, ErrCorruptFile
	}
	if uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	// Section directory bounds check
	secSize := uint64(mpkSectionSize)
	dirSize := uint64(hdr.SectionCount) * secSize
	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + dirSize

	if dirStart < uint64(hdr.HeaderSize) {
		return nil, ErrCorruptFile
	}
	if dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sections := make([]MPKSection, hdr.SectionCount)
	for i := range sections {
		start := int(dirStart) + i*mpkSectionSize
		sec, ok := decodeSection(data[start : start+mpkSectionSize])
		if !ok {
			return nil, ErrCorruptFile
		}
		sections[i] = sec
	}

	for i := range sections {
		s := &sections[i]
		if s.Size > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d size out of range", ErrCorruptFile, i)
		}
		end := s.Offset + s.Size
		if end < s.Offset {
			return nil, fmt.Errorf("%w: section %d offset overflow", ErrCorruptFile, i)
		}
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		}
		if s.Offset < uint64(hdr.HeaderSize) {
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		}
		if rangesOverlap(s.Offset, end, dirStart, dirEnd) {
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		}
		if (s.Offset % mpkAlign) != 0 {
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, mpkAlign)
		}
	}

	mf := &File{
		Data:     data,
		Header:   &hdr,
		Sections: sections,
		mmapped:  mmapped,
	}
	if err := mf.bindSections(); err != nil {
		return nil, err
	}
	return mf, nil
}

// bindSections resolves and cross-validates the index and token sections.
func (f *File) bindSections() error {
	idx := f.Section(SectionIndex)
	tok := f.Section(SectionTokens)
	if idx == nil || tok == nil {
		return fmt.Errorf("%w: missing index or token section", ErrCorruptFile)
	}
	f.index = f.SectionData(idx)
	f.tokens = f.SectionData(tok)

	if len(f.index)%8 != 0 || len(f.index) < 8 {
		return fmt.Errorf("%w: malformed example index", ErrCorruptFile)
	}
	f.count = len(f.index)/8 - 1

	// The index must be a monotone prefix-sum table starting at zero.
	if f.offsetAt(0) != 0 {
		return fmt.Errorf("%w: example index does not start at zero", ErrCorruptFile)
	}
	for i := 0; i < f.count; i++ {
		if f.offsetAt(i+1) < f.offsetAt(i) {
			return fmt.Errorf("%w: example index not monotone at %d", ErrCorruptFile, i)
		}
	}

	// Token payload stores input ids and labels back to back per example.
	total := f.offsetAt(f.count)
	want := total * 2 * 4
	if uint64(len(f.tokens)) != want {
		return fmt.Errorf("%w: token payload size %d, want %d", ErrCorruptFile, len(f.tokens), want)
	}
	return nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.Data != nil && f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Sections = nil
	f.index = nil
	f.tokens = nil
	f.count = 0
	f.mmapped = false
	return err
}

// Section returns the first section matching the given type, or nil if it does not exist.
func (f *File) Section(t SectionType) *MPKSection {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy slice covering the section payload.
// The caller must not retain this slice after File.Close().
func (f *File) SectionData(s *MPKSection) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	start := s.Offset
	end := s.Offset + s.Size
	if end < start || end > uint64(len(f.Data)) {
		return nil
	}
	// Safe because Open() rejects files that don't fit into an int-sized slice.
	return f.Data[int(start):int(end)]
}

// Count returns the number of examples in the archive.
func (f *File) Count() int {
	return f.count
}

// Length returns the token length of example i without reading the payload.
func (f *File) Length(i int) (int, error) {
	if i < 0 || i >= f.count {
		return 0, fmt.Errorf("%w: %d of %d", ErrExampleRange, i, f.count)
	}
	return int(f.offsetAt(i+1) - f.offsetAt(i)), nil
}

// Lengths returns the token length of every example, index-aligned.
func (f *File) Lengths() []int {
	out := make([]int, f.count)
	for i := range out {
		out[i] = int(f.offsetAt(i+1) - f.offsetAt(i))
	}
	return out
}

// Example decodes the input ids and labels of example i into fresh slices.
func (f *File) Example(i int) (inputIDs, labels []int32, err error) {
	if i < 0 || i >= f.count {
		return nil, nil, fmt.Errorf("%w: %d of %d", ErrExampleRange, i, f.count)
	}
	start := f.offsetAt(i)
	n := int(f.offsetAt(i+1) - start)

	// Per-example record layout: n input ids followed by n labels.
	base := int(start) * 2 * 4
	inputIDs = decodeInt32s(f.tokens[base:base+n*4], n)
	labels = decodeInt32s(f.tokens[base+n*4:base+2*n*4], n)
	return inputIDs, labels, nil
}

func (f *File) offsetAt(i int) uint64 {
	return binary.LittleEndian.Uint64(f.index[i*8:])
}

func decodeInt32s(raw []byte, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func decodeHeader(raw []byte) (MPKHeader, bool) {
	var h MPKHeader
	if len(raw) < mpkHeaderSize {
		return h, false
	}
	copy(h.Magic[:], raw[0:4])
	h.Major = binary.LittleEndian.Uint16(raw[4:6])
	h.Minor = binary.LittleEndian.Uint16(raw[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(raw[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(raw[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(raw[16:24])
	h.FileSize = binary.LittleEndian.Uint64(raw[24:32])
	return h, true
}

func decodeSection(raw []byte) (MPKSection, bool) {
	var s MPKSection
	if len(raw) < mpkSectionSize {
		return s, false
	}
	s.Type = binary.LittleEndian.Uint32(raw[0:4])
	s.Version = binary.LittleEndian.Uint32(raw[4:8])
	s.Offset = binary.LittleEndian.Uint64(raw[8:16])
	s.Size = binary.LittleEndian.Uint64(raw[16:24])
	return s, true
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}
