package registry

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
	"github.com/go-delve/sgxdbg/pkg/enclave/mem"
	"github.com/go-delve/sgxdbg/pkg/enclave/usage"
)

const (
	maxNumEnclaves = 4096    // maximum number of enclaves, to avoid looping forever on corrupted memory
	maxPathLength  = 1 << 16 // maximum length for the path of an enclave image
)

var (
	// ErrTooManyEnclaves is returned when the enclave list does not end.
	ErrTooManyEnclaves = errors.New("number of enclaves exceeds maximum")
	// ErrTooManyThreads is returned when a thread list does not end.
	ErrTooManyThreads = errors.New("number of threads exceeds maximum")
	// ErrNoThreadList is returned for enclave info records without threads.
	ErrNoThreadList = errors.New("enclave has no thread list")
)

// Reader reads enclave descriptors out of debuggee memory.
type Reader struct {
	Mem        *mem.Accessor
	Layout     *layout.Layout
	MaxThreads int
}

func (rd *Reader) read(addr uint64, size int, what string) ([]byte, error) {
	buf, err := rd.Mem.Read(addr, size)
	if err != nil {
		return nil, fmt.Errorf("reading %s at %#x: %w", what, addr, err)
	}
	return buf, nil
}

// Discover reads the enclave info record at addr along with the image path
// and every thread in its thread list.
func (rd *Reader) Discover(addr uint64) (*Enclave, error) {
	lay := rd.Layout
	buf, err := rd.read(addr, lay.EnclaveInfoSize, "enclave info")
	if err != nil {
		return nil, err
	}
	info, err := lay.DecodeEnclaveInfo(buf)
	if err != nil {
		return nil, err
	}

	e := &Enclave{
		Next:            info.Next,
		BaseAddr:        info.StartAddr,
		Type:            info.Type,
		HeapCounterAddr: info.HeapCounterAddr,
	}

	if info.PathSize > maxPathLength {
		return nil, fmt.Errorf("enclave at %#x: path too long (%d)", info.StartAddr, info.PathSize)
	}
	if info.PathSize > 0 {
		path, err := rd.read(info.PathAddr, int(info.PathSize), "enclave path")
		if err != nil {
			return nil, err
		}
		e.Path = string(bytes.TrimRight(path, "\x00"))
	}

	if info.TCSList == 0 {
		return nil, fmt.Errorf("enclave at %#x: %w", info.StartAddr, ErrNoThreadList)
	}
	limit := rd.MaxThreads
	if limit <= 0 {
		limit = 4096
	}
	visited := 0
	for node := info.TCSList; node != 0; visited++ {
		if visited >= limit {
			return nil, fmt.Errorf("enclave at %#x: %w", info.StartAddr, ErrTooManyThreads)
		}
		buf, err := rd.read(node, lay.TCSListNodeSize, "tcs list node")
		if err != nil {
			return nil, err
		}
		n, err := lay.DecodeTCSListNode(buf)
		if err != nil {
			return nil, err
		}
		if e.Thread(n.TCS) == nil {
			th, err := rd.thread(info.StartAddr, n.TCS)
			if err != nil {
				return nil, err
			}
			th.LastOcallFrame = n.LastOcallFrame
			e.Threads = append(e.Threads, th)
		}
		node = n.Next
	}
	return e, nil
}

// thread reads the thread data of the TCS at tcsAddr in the enclave
// loaded at base.
func (rd *Reader) thread(base, tcsAddr uint64) (*Thread, error) {
	lay := rd.Layout
	buf, err := rd.read(tcsAddr, lay.TCSSize, "tcs")
	if err != nil {
		return nil, err
	}
	tcs, err := lay.DecodeTCS(buf)
	if err != nil {
		return nil, err
	}
	tdAddr := base + tcs.OFSBase
	buf, err = rd.read(tdAddr, lay.ThreadDataSize, "thread data")
	if err != nil {
		return nil, err
	}
	td, err := lay.DecodeThreadData(buf)
	if err != nil {
		return nil, err
	}
	th := &Thread{
		TCS:         tcsAddr,
		ThreadData:  tdAddr,
		LastSP:      td.LastSP(),
		StackBase:   td.StackBase(),
		StackLimit:  td.StackLimit(),
		StackCommit: td.StackCommit(),
	}
	if th.StackBase > th.StackLimit {
		// the static stack may be smaller than a page
		th.StackSize = usage.PageUp(th.StackBase - th.StackLimit)
	}
	return th, nil
}

// ThreadData reads the current thread data of the TCS at tcsAddr in the
// enclave loaded at base.
func (rd *Reader) ThreadData(base, tcsAddr uint64) (*Thread, error) {
	return rd.thread(base, tcsAddr)
}

// Walk discovers every enclave in the list starting at head. If an
// enclave can not be read the walk stops and the enclaves read so far are
// returned along with the error.
func (rd *Reader) Walk(head uint64) ([]*Enclave, error) {
	var r []*Enclave
	for addr := head; addr != 0; {
		if len(r) >= maxNumEnclaves {
			return r, ErrTooManyEnclaves
		}
		e, err := rd.Discover(addr)
		if err != nil {
			return r, err
		}
		r = append(r, e)
		addr = e.Next
	}
	return r, nil
}
