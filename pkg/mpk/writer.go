package mpk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const writerPadBufSize = 4096

// Writer builds an MPK archive in a streaming fashion.
//
// Token payload is written as examples arrive; the example index and section
// directory are emitted during Finalise, which also patches the header.
// The index is held in memory (8 bytes per example).
type Writer struct {
	f      *os.File
	off    int64
	counts []uint64 // prefix sums of example lengths, starts at 0

	tokensOff int64
	closed    bool

	padBuf []byte
	encBuf []byte
}

// NewWriter creates a new MPK writer targeting the given file.
// It truncates the file and reserves space for the header (patched in Finalise()).
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("mpk: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		counts: []uint64{0},
		padBuf: make([]byte, writerPadBufSize),
	}

	// Reserve fixed header bytes (actual bytes, not a seek hole).
	if err := w.writeZeros(mpkHeaderSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(mpkAlign); err != nil {
		return nil, err
	}
	w.tokensOff = w.off
	return w, nil
}

// Append writes one example. labels may be nil, in which case the input ids
// double as labels (loss on every token). A non-nil labels must have the
// same length as inputIDs.
func (w *Writer) Append(inputIDs, labels []int32) error {
	if w.closed {
		return errors.New("mpk: writer already finalised")
	}
	if labels == nil {
		labels = inputIDs
	}
	if len(labels) != len(inputIDs) {
		return fmt.Errorf("mpk: labels length %d != input length %d", len(labels), len(inputIDs))
	}

	if err := w.writeInt32s(inputIDs); err != nil {
		return err
	}
	if err := w.writeInt32s(labels); err != nil {
		return err
	}
	w.counts = append(w.counts, w.counts[len(w.counts)-1]+uint64(len(inputIDs)))
	return nil
}

// Count returns the number of examples appended so far.
func (w *Writer) Count() int {
	return len(w.counts) - 1
}

// Finalise writes the example index and section directory, then patches the
// header. The writer cannot be used afterwards. Finalise does not close the
// underlying file.
func (w *Writer) Finalise() error {
	if w.closed {
		return errors.New("mpk: writer already finalised")
	}
	w.closed = true

	if len(w.counts) == 1 {
		return errors.New("mpk: no examples written")
	}

	tokens := MPKSection{
		Type:   uint32(SectionTokens),
		Offset: uint64(w.tokensOff),
		Size:   uint64(w.off - w.tokensOff),
	}

	if err := w.alignTo(mpkAlign); err != nil {
		return err
	}
	index := MPKSection{
		Type:   uint32(SectionIndex),
		Offset: uint64(w.off),
		Size:   uint64(len(w.counts) * 8),
	}
	buf := make([]byte, len(w.counts)*8)
	for i, c := range w.counts {
		binary.LittleEndian.PutUint64(buf[i*8:], c)
	}
	if err := w.write(buf); err != nil {
		return err
	}

	if err := w.alignTo(mpkAlign); err != nil {
		return err
	}
	dirOff := w.off
	for _, s := range []MPKSection{index, tokens} {
		var raw [24]byte
		binary.LittleEndian.PutUint32(raw[0:4], s.Type)
		binary.LittleEndian.PutUint32(raw[4:8], s.Version)
		binary.LittleEndian.PutUint64(raw[8:16], s.Offset)
		binary.LittleEndian.PutUint64(raw[16:24], s.Size)
		if err := w.write(raw[:]); err != nil {
			return err
		}
	}

	hdr := MPKHeader{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       uint32(mpkHeaderSize),
		SectionCount:     2,
		SectionDirOffset: uint64(dirOff),
		FileSize:         uint64(w.off),
	}
	copy(hdr.Magic[:], MagicMPK)

	var raw [32]byte
	copy(raw[0:4], hdr.Magic[:])
	binary.LittleEndian.PutUint16(raw[4:6], hdr.Major)
	binary.LittleEndian.PutUint16(raw[6:8], hdr.Minor)
	binary.LittleEndian.PutUint32(raw[8:12], hdr.HeaderSize)
	binary.LittleEndian.PutUint32(raw[12:16], hdr.SectionCount)
	binary.LittleEndian.PutUint64(raw[16:24], hdr.SectionDirOffset)
	binary.LittleEndian.PutUint64(raw[24:32], hdr.FileSize)
	if _, err := w.f.WriteAt(raw[:], 0); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) writeInt32s(vals []int32) error {
	need := len(vals) * 4
	if cap(w.encBuf) < need {
		w.encBuf = make([]byte, need)
	}
	buf := w.encBuf[:need]
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return w.write(buf)
}

func (w *Writer) write(p []byte) error {
	for len(p) > 0 {
		n, err := w.f.Write(p)
		if err != nil {
			return err
		}
		w.off += int64(n)
		p = p[n:]
	}
	return nil
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		chunk := min(n, len(w.padBuf))
		if err := w.write(w.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (w *Writer) alignTo(align int64) error {
	rem := w.off % align
	if rem == 0 {
		return nil
	}
	return w.writeZeros(int(align - rem))
}
