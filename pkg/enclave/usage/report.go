package usage

import (
	"errors"
	"fmt"

	"github.com/go-delve/sgxdbg/pkg/enclave/mem"
)

// Report holds the usage measured for an enclave.
type Report struct {
	Path     string
	Stack    uint64
	StackErr error
	Heap     uint64
	HeapErr  error
}

// Measure computes the peak stack and heap usage of an enclave. Failures
// are recorded in the report instead of being returned.
func Measure(acc *mem.Accessor, path string, stacks []Stack, heapCounter uint64, wordSize int) *Report {
	r := &Report{Path: path}
	r.Stack, r.StackErr = PeakStack(acc, stacks)
	r.Heap, r.HeapErr = PeakHeap(acc, heapCounter, wordSize)
	return r
}

// Lines formats the report as printed when an enclave is unloaded.
func (r *Report) Lines() []string {
	lines := []string{fmt.Sprintf("Enclave: %q", r.Path)}
	if r.StackErr != nil {
		lines = append(lines, fmt.Sprintf("Failed to collect the stack usage information for %q", r.Path))
	} else {
		lines = append(lines, fmt.Sprintf("  [Peak stack used]: %d KB", RoundKB(r.Stack)>>10))
	}
	switch {
	case errors.Is(r.HeapErr, ErrNoHeapCounter):
		lines = append(lines, "  [Can't get peak heap used]: You may use version script to control symbol export. Please export 'g_peak_heap_used' in your version script.")
	case r.HeapErr != nil:
		lines = append(lines, fmt.Sprintf("Failed to collect the heap usage information for %q", r.Path))
	default:
		lines = append(lines, fmt.Sprintf("  [Peak heap used]:  %d KB", RoundKB(r.Heap)>>10))
	}
	return lines
}
