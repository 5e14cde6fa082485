// Package usage measures the peak stack and heap usage of an enclave.
//
// The trusted runtime fills every thread stack with GuardPattern when the
// thread is created, so the deepest point the stack ever reached is the
// lowest address whose contents differ from the pattern. Stacks grow down
// from their base towards their limit: the pages closest to the limit stay
// untouched the longest.
package usage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/sgxdbg/pkg/enclave/mem"
	"github.com/go-delve/sgxdbg/pkg/logflags"
)

const (
	// PageSize is the page size of the enclave.
	PageSize = 0x1000
	// GuardPattern is the value unused stack memory is filled with.
	GuardPattern uint64 = 0xcccccccccccccccc
	guardByte           = 0xcc
)

var (
	// ErrNoHeapCounter is returned when the enclave doesn't export its
	// peak heap counter.
	ErrNoHeapCounter = errors.New("peak heap counter not available")
	// ErrReadFailed is returned when a measurement could not read the
	// memory it needs.
	ErrReadFailed = errors.New("failed to read usage information")
)

// ReadError wraps the access error that made a measurement fail.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("%v: %v", ErrReadFailed, e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }
func (e *ReadError) Is(target error) bool {
	return target == ErrReadFailed
}

// Stack describes one thread stack.
type Stack struct {
	Base   uint64 // highest address, where the stack starts
	Limit  uint64 // lowest address the stack may grow to
	Commit uint64 // lowest committed address, for dynamically grown stacks
	Size   uint64 // Base-Limit rounded up to a page
}

// PageUp rounds n up to a multiple of PageSize.
func PageUp(n uint64) uint64 {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// RoundKB rounds n up to a multiple of a kilobyte.
func RoundKB(n uint64) uint64 {
	return (n + 1023) &^ 1023
}

// PeakHeap reads the peak heap usage counter at addr, a word of wordSize
// bytes maintained by the trusted runtime.
func PeakHeap(acc *mem.Accessor, addr uint64, wordSize int) (uint64, error) {
	if addr == 0 {
		return 0, ErrNoHeapCounter
	}
	v, err := acc.ReadUint(addr, wordSize)
	if err != nil {
		return 0, &ReadError{err}
	}
	return v, nil
}

// FindBoundaryPage returns the index of the highest page of the stack
// starting at limit that still only contains GuardPattern, or -1 if the
// first page was already used. Each page is judged by its upper half: a
// page is unused when every 8 byte word of its second half reads back as
// GuardPattern.
func FindBoundaryPage(acc *mem.Accessor, limit, size uint64) (int, error) {
	log := logflags.UsageLogger()
	boundary := -1
	low, high := 0, int(size/PageSize)-1
	for low <= high {
		mid := (low + high) >> 1
		buf, err := acc.Read(limit+uint64(mid)*PageSize+PageSize/2, PageSize/2)
		if err != nil {
			return 0, &ReadError{err}
		}
		if guarded(buf) {
			low = mid + 1
			boundary = mid
		} else {
			high = mid - 1
		}
		if logflags.Usage() {
			log.Debugf("probe page %d of %#x: low=%d high=%d boundary=%d", mid, limit, low, high, boundary)
		}
	}
	return boundary, nil
}

func guarded(buf []byte) bool {
	for i := len(buf)/8 - 1; i >= 0; i-- {
		if binary.LittleEndian.Uint64(buf[i*8:]) != GuardPattern {
			return false
		}
	}
	return true
}

// ThreadStack returns the peak usage of one thread stack, in bytes.
func ThreadStack(acc *mem.Accessor, st Stack) (uint64, error) {
	if st.Commit > st.Limit {
		// Dynamically grown stack: everything above the commit address
		// has been touched.
		base := PageUp(st.Base)
		if st.Commit > base {
			return 0, nil
		}
		return base - st.Commit, nil
	}
	if st.Limit == 0 {
		return 0, nil
	}
	boundary, err := FindBoundaryPage(acc, st.Limit, st.Size)
	if err != nil {
		return 0, err
	}
	if boundary == int(st.Size/PageSize)-1 {
		// no page was ever touched
		return 0, nil
	}
	first := uint64(boundary+1) * PageSize
	buf, err := acc.Read(st.Limit+first, PageSize)
	if err != nil {
		return 0, &ReadError{err}
	}
	for i, b := range buf {
		if b != guardByte {
			return st.Size - first - uint64(i), nil
		}
	}
	return 0, nil
}

// PeakStack returns the largest usage among stacks. A failure measuring
// any of them fails the whole measurement.
func PeakStack(acc *mem.Accessor, stacks []Stack) (uint64, error) {
	var peak uint64
	for _, st := range stacks {
		used, err := ThreadStack(acc, st)
		if err != nil {
			return 0, err
		}
		if used > peak {
			peak = used
		}
	}
	return peak, nil
}
