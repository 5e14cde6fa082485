// Package registry keeps track of the enclaves loaded in the debuggee and
// of their threads, reading them from the lists the untrusted runtime
// maintains in the host process.
package registry

import (
	"fmt"

	"github.com/go-delve/sgxdbg/pkg/enclave/usage"
)

// Enclave type bits.
const (
	TypeSim   = 0x1 // simulation mode enclave
	TypeDebug = 0x2 // hardware enclave built in debug mode
)

// Thread is one thread control structure of an enclave.
type Thread struct {
	TCS            uint64
	ThreadData     uint64 // address of the thread data block
	LastSP         uint64
	StackBase      uint64
	StackLimit     uint64
	StackCommit    uint64
	StackSize      uint64
	LastOcallFrame uint64
}

// Stack returns the stack description used by the usage analyzer.
func (t *Thread) Stack() usage.Stack {
	return usage.Stack{Base: t.StackBase, Limit: t.StackLimit, Commit: t.StackCommit, Size: t.StackSize}
}

// Enclave describes a loaded enclave.
type Enclave struct {
	// Next is the address of the next enclave info record in the
	// runtime's list, zero at the end of the list.
	Next            uint64
	BaseAddr        uint64
	Type            uint32
	Path            string
	HeapCounterAddr uint64
	Threads         []*Thread
	// SymbolHandle is the .text address the image symbols were
	// registered at, zero while they are not loaded.
	SymbolHandle uint64
}

// Debuggable returns false for enclaves that are neither simulation nor
// debug mode enclaves. Those are product enclaves: the hardware refuses
// to let a debugger look inside them.
func (e *Enclave) Debuggable() bool {
	return e.Type&TypeSim != 0 || e.Type&TypeDebug != 0
}

// Thread returns the thread with the given TCS address.
func (e *Enclave) Thread(tcs uint64) *Thread {
	for _, th := range e.Threads {
		if th.TCS == tcs {
			return th
		}
	}
	return nil
}

// Stacks returns the stacks of all threads of e.
func (e *Enclave) Stacks() []usage.Stack {
	r := make([]usage.Stack, 0, len(e.Threads))
	for _, th := range e.Threads {
		r = append(r, th.Stack())
	}
	return r
}

func (e *Enclave) String() string {
	return fmt.Sprintf("%#x %q (%d threads)", e.BaseAddr, e.Path, len(e.Threads))
}
