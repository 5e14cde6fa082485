// Package layout decodes the records that the enclave runtime keeps in
// the memory of the host process. The runtime's records are laid out in
// terms of the target's word size, which is either 4 or 8 bytes; the two
// layouts are described by Layout32 and Layout64 and one of them is
// selected once per session with ForWordSize. The TCS is defined by the
// processor and has 64-bit fields in both layouts.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a buffer is too short for the record being
// decoded.
var ErrTruncated = errors.New("truncated record")

// TruncatedError describes a short buffer.
type TruncatedError struct {
	Record    string
	Want, Got int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("%s: need %d bytes, got %d", e.Record, e.Want, e.Got)
}

// Is makes errors.Is(err, ErrTruncated) hold for every TruncatedError.
func (e *TruncatedError) Is(target error) bool {
	return target == ErrTruncated
}

// Number of words in the thread data and trusted ocall context records.
const (
	ThreadDataWords   = 20
	OcallContextWords = 20
	OcallFrameWords   = 4
	TCSListNodeWords  = 3
)

// Indexes of the words consumed from the variable records.
const (
	tdLastSP      = 1
	tdStackBase   = 2
	tdStackLimit  = 3
	tdStackCommit = ThreadDataWords - 1

	ctxPrev       = 6
	ctxXBP        = 11
	ctxOcallFrame = 18
)

// Offsets inside the TCS, the same for every word size.
const (
	tcsState   = 0
	tcsFlags   = 8
	tcsOSSA    = 16
	tcsNSSA    = 24
	tcsCSSA    = 28
	tcsOEntry  = 32
	tcsAEP     = 40
	tcsOFSBase = 48
	tcsSize    = 56
)

// TCSFlagDebug is the bit of the TCS flags word that enables debugging of
// the thread.
const TCSFlagDebug = 0x1

// Layout describes the size of every record for one word size.
type Layout struct {
	WordSize int
	Order    binary.ByteOrder

	// Offsets inside EnclaveInfo.
	infoType, infoPathSize, infoPathAddr, infoHeap int

	EnclaveInfoSize  int
	TCSSize          int
	TCSListNodeSize  int
	ThreadDataSize   int
	OcallContextSize int
	OcallFrameSize   int
}

func newLayout(w int) *Layout {
	return &Layout{
		WordSize: w,
		Order:    binary.LittleEndian,

		infoType:     3 * w,
		infoPathSize: 3*w + 4,
		infoPathAddr: 3*w + 8,
		infoHeap:     4*w + 8,

		EnclaveInfoSize:  5*w + 8,
		TCSSize:          tcsSize,
		TCSListNodeSize:  TCSListNodeWords * w,
		ThreadDataSize:   ThreadDataWords * w,
		OcallContextSize: OcallContextWords * w,
		OcallFrameSize:   OcallFrameWords * w,
	}
}

var (
	// Layout32 is the layout of 32-bit targets.
	Layout32 = newLayout(4)
	// Layout64 is the layout of 64-bit targets.
	Layout64 = newLayout(8)
)

// ForWordSize returns the layout for targets whose pointers are n bytes.
func ForWordSize(n int) (*Layout, error) {
	switch n {
	case 4:
		return Layout32, nil
	case 8:
		return Layout64, nil
	}
	return nil, fmt.Errorf("unsupported word size %d", n)
}

// TCSFlagsOffset is the offset of the flags word inside a TCS. Only its
// low 32 bits are ever read or written.
func (l *Layout) TCSFlagsOffset() uint64 {
	return tcsFlags
}

// OcallFrame field offsets, used when patching a frame in place.
func (l *Layout) OcallFramePrevOffset() uint64 { return 0 }
func (l *Layout) OcallFrameXBPOffset() uint64  { return uint64(2 * l.WordSize) }
func (l *Layout) OcallFrameRetOffset() uint64  { return uint64(3 * l.WordSize) }

// Word decodes one word.
func (l *Layout) Word(buf []byte) uint64 {
	return l.word(buf, 0)
}

// PutWord encodes one word.
func (l *Layout) PutWord(buf []byte, v uint64) {
	l.putWord(buf, 0, v)
}

func (l *Layout) word(buf []byte, off int) uint64 {
	if l.WordSize == 4 {
		return uint64(l.Order.Uint32(buf[off:]))
	}
	return l.Order.Uint64(buf[off:])
}

func (l *Layout) putWord(buf []byte, off int, v uint64) {
	if l.WordSize == 4 {
		l.Order.PutUint32(buf[off:], uint32(v))
		return
	}
	l.Order.PutUint64(buf[off:], v)
}

func (l *Layout) words(buf []byte, dst []uint64) {
	for i := range dst {
		dst[i] = l.word(buf, i*l.WordSize)
	}
}

func (l *Layout) putWords(buf []byte, src []uint64) {
	for i, v := range src {
		l.putWord(buf, i*l.WordSize, v)
	}
}

func need(record string, buf []byte, size int) error {
	if len(buf) < size {
		return &TruncatedError{Record: record, Want: size, Got: len(buf)}
	}
	return nil
}
