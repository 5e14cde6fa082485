package enclave

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-delve/sgxdbg/pkg/enclave/mem"
)

// Host is the debugger the instrumentation runs inside of. All calls
// happen while the debuggee is stopped.
type Host interface {
	mem.MemoryReadWriter

	// Evaluate evaluates an expression of the host debugger to an
	// integer. Expressions used are register names ("$rdi", "$pc"),
	// "sizeof(long)" and "*(void**)&symbol".
	Evaluate(expr string) (uint64, error)

	// Execute runs a host debugger command and returns its output.
	Execute(cmd string) (string, error)

	// SolibName returns the path of the shared library containing pc,
	// or an empty string if pc is not inside a shared library.
	SolibName(pc uint64) (string, error)
}

// Symbol holding the head of the runtime's list of enclaves.
const enclaveListSymbol = "g_debug_enclave_info_list"

// argument registers, by word size, in calling convention order.
var argRegs = map[int][]string{
	4: {"$eax", "$edx", "$ecx"},
	8: {"$rdi", "$rsi", "$rdx"},
}

// args returns the first n arguments of the function the debuggee is
// stopped at.
func args(h Host, wordSize, n int) ([]uint64, error) {
	regs := argRegs[wordSize]
	if n > len(regs) {
		return nil, fmt.Errorf("too many arguments: %d", n)
	}
	r := make([]uint64, n)
	for i := range r {
		v, err := h.Evaluate(regs[i])
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %v", regs[i], err)
		}
		if wordSize == 4 {
			v &= 0xffffffff
		}
		r[i] = v
	}
	return r, nil
}

// inTrustedLibrary reports whether the debuggee is stopped inside one of
// libs. Failing to tell counts as inside.
func inTrustedLibrary(h Host, libs []string) bool {
	pc, err := h.Evaluate("$pc")
	if err != nil {
		return true
	}
	name, err := h.SolibName(pc)
	if err != nil {
		return true
	}
	if name == "" {
		return false
	}
	base := filepath.Base(name)
	for _, lib := range libs {
		if strings.Contains(base, lib) {
			return true
		}
	}
	return false
}
