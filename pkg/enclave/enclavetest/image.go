// Package enclavetest builds synthetic debuggee images containing the
// enclave lists maintained by the untrusted runtime, for use in tests.
package enclavetest

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
	"github.com/go-delve/sgxdbg/pkg/enclave/mem"
)

const (
	pageSize = 0x1000

	// DefaultEnclaveSize is the size of the region mapped for an enclave
	// when EnclaveSpec.Size is zero.
	DefaultEnclaveSize = 0x80000

	tcsRegion   = 0x1000  // first TCS, one per page
	tdRegion    = 0x10000 // first thread data block, one per page
	stackRegion = 0x20000 // first stack
	stackPages  = 4
	stackSize   = stackPages * pageSize

	guardByte = 0xcc
)

// ThreadSpec describes a thread of a synthetic enclave.
type ThreadSpec struct {
	// Used is the number of bytes at the top of the stack that hold
	// something other than the guard pattern.
	Used uint64
	// Commit, when non-zero, is written as the commit address of a
	// dynamically grown stack.
	Commit uint64
	// LastSP is the trusted stack pointer saved by the runtime on the
	// last exit from the enclave.
	LastSP uint64
	// Debug sets the debug bit of the TCS flags.
	Debug bool
}

// EnclaveSpec describes a synthetic enclave.
type EnclaveSpec struct {
	Base    uint64
	Size    uint64
	Type    uint32
	Path    string
	Threads []ThreadSpec
	// PeakHeap, when HeapCounter is set, is stored in the peak heap
	// counter of the enclave.
	HeapCounter bool
	PeakHeap    uint64
}

// Thread is a thread of an enclave placed in an Image.
type Thread struct {
	TCS        uint64
	Node       uint64
	ThreadData uint64
	StackBase  uint64
	StackLimit uint64
}

// Enclave is an enclave placed in an Image.
type Enclave struct {
	Info            uint64
	Base            uint64
	HeapCounterAddr uint64
	Threads         []Thread
}

// Image is the memory of a synthetic debuggee.
type Image struct {
	Mem    *mem.SparseMemory
	Layout *layout.Layout
	// ListHead is the address of the variable holding the head of the
	// enclave list.
	ListHead uint64

	brk  uint64
	head uint64
}

// NewImage returns an empty image for lay.
func NewImage(lay *layout.Layout) *Image {
	im := &Image{Mem: &mem.SparseMemory{}, Layout: lay, brk: 0x10000}
	im.ListHead = im.Alloc(lay.WordSize)
	return im
}

// Alloc maps size bytes of untrusted memory and returns their address.
func (im *Image) Alloc(size int) uint64 {
	addr := im.brk
	if _, err := im.Mem.Map(addr, size); err != nil {
		panic(err)
	}
	im.brk += uint64(size+pageSize-1) &^ (pageSize - 1)
	return addr
}

// Put writes data at addr, which must be mapped.
func (im *Image) Put(addr uint64, data []byte) {
	if _, err := im.Mem.WriteMemory(addr, data); err != nil {
		panic(err)
	}
}

// Get reads size bytes at addr, which must be mapped.
func (im *Image) Get(addr uint64, size int) []byte {
	buf := make([]byte, size)
	if _, err := im.Mem.ReadMemory(buf, addr); err != nil {
		panic(err)
	}
	return buf
}

// Word reads a word at addr.
func (im *Image) Word(addr uint64) uint64 {
	return im.Layout.Word(im.Get(addr, im.Layout.WordSize))
}

// PutWord writes a word at addr.
func (im *Image) PutWord(addr, v uint64) {
	buf := make([]byte, im.Layout.WordSize)
	im.Layout.PutWord(buf, v)
	im.Put(addr, buf)
}

// TCSFlags returns the flags word of the TCS at addr.
func (im *Image) TCSFlags(tcs uint64) uint32 {
	return binary.LittleEndian.Uint32(im.Get(tcs+im.Layout.TCSFlagsOffset(), 4))
}

// AddEnclave places the enclave described by spec in the image and makes
// it the head of the enclave list.
func (im *Image) AddEnclave(spec EnclaveSpec) *Enclave {
	lay := im.Layout
	size := spec.Size
	if size == 0 {
		size = DefaultEnclaveSize
	}
	if uint64(stackRegion+len(spec.Threads)*stackSize) > size {
		panic(fmt.Sprintf("enclave too small for %d threads", len(spec.Threads)))
	}
	if _, err := im.Mem.Map(spec.Base, int(size)); err != nil {
		panic(err)
	}

	e := &Enclave{Base: spec.Base}

	var pathAddr uint64
	var pathSize uint32
	if spec.Path != "" {
		pathSize = uint32(len(spec.Path) + 1)
		pathAddr = im.Alloc(len(spec.Path) + 1)
		im.Put(pathAddr, append([]byte(spec.Path), 0))
	}
	if spec.HeapCounter {
		e.HeapCounterAddr = spec.Base + size - uint64(lay.WordSize)
		im.PutWord(e.HeapCounterAddr, spec.PeakHeap)
	}

	// Nodes are linked in reverse, the runtime prepends new threads.
	var next uint64
	threads := make([]Thread, len(spec.Threads))
	for i := len(spec.Threads) - 1; i >= 0; i-- {
		ts := spec.Threads[i]
		th := Thread{
			TCS:        spec.Base + tcsRegion + uint64(i)*pageSize,
			ThreadData: spec.Base + tdRegion + uint64(i)*pageSize,
			StackLimit: spec.Base + stackRegion + uint64(i)*stackSize,
		}
		th.StackBase = th.StackLimit + stackSize

		var flags uint64
		if ts.Debug {
			flags = layout.TCSFlagDebug
		}
		im.Put(th.TCS, lay.EncodeTCS(layout.TCS{Flags: flags, OFSBase: th.ThreadData - spec.Base}))

		var td layout.ThreadData
		td[1] = ts.LastSP
		td[2] = th.StackBase
		td[3] = th.StackLimit
		td[layout.ThreadDataWords-1] = ts.Commit
		im.Put(th.ThreadData, lay.EncodeThreadData(td))

		stack := make([]byte, stackSize)
		for j := range stack {
			if uint64(len(stack)-j) > ts.Used {
				stack[j] = guardByte
			} else {
				stack[j] = 0x11
			}
		}
		im.Put(th.StackLimit, stack)

		th.Node = im.Alloc(lay.TCSListNodeSize)
		im.Put(th.Node, lay.EncodeTCSListNode(layout.TCSListNode{Next: next, TCS: th.TCS}))
		next = th.Node
		threads[i] = th
	}
	e.Threads = threads

	e.Info = im.Alloc(lay.EnclaveInfoSize)
	im.Put(e.Info, lay.EncodeEnclaveInfo(layout.EnclaveInfo{
		Next:            im.head,
		StartAddr:       spec.Base,
		TCSList:         next,
		Type:            spec.Type,
		PathSize:        pathSize,
		PathAddr:        pathAddr,
		HeapCounterAddr: e.HeapCounterAddr,
	}))
	im.head = e.Info
	im.PutWord(im.ListHead, im.head)
	return e
}
