package enclavetest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
)

// URTS is the library the default program counter of a Host belongs to.
const URTS = "/usr/lib/x86_64-linux-gnu/libsgx_urts.so"

// SearchPath is the solib search path reported by a Host.
const SearchPath = "/opt/enclaves"

// Host is a host debugger whose debuggee memory is a synthetic image.
// It records the commands it executes.
type Host struct {
	*Image
	Regs     map[string]uint64
	Solib    string
	SolibErr error
	Cmds     []string
	Fail     map[string]bool // command prefixes that fail
}

// NewHost returns a host stopped in URTS with an empty image.
func NewHost(lay *layout.Layout) *Host {
	return &Host{
		Image: NewImage(lay),
		Regs:  map[string]uint64{"$pc": 0x7ffff7a00000},
		Solib: URTS,
		Fail:  map[string]bool{},
	}
}

func (h *Host) ReadMemory(buf []byte, addr uint64) (int, error) {
	return h.Mem.ReadMemory(buf, addr)
}

func (h *Host) WriteMemory(addr uint64, data []byte) (int, error) {
	return h.Mem.WriteMemory(addr, data)
}

func (h *Host) Evaluate(expr string) (uint64, error) {
	switch expr {
	case "sizeof(long)":
		return uint64(h.Layout.WordSize), nil
	case "*(void**)&g_debug_enclave_info_list":
		return h.Word(h.ListHead), nil
	}
	if v, ok := h.Regs[expr]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("no symbol %q in current context", expr)
}

func (h *Host) Execute(cmd string) (string, error) {
	h.Cmds = append(h.Cmds, cmd)
	for prefix := range h.Fail {
		if strings.HasPrefix(cmd, prefix) {
			return "", errors.New("command failed")
		}
	}
	if cmd == "show solib-search-path" {
		return "The search path for loading non-absolute shared library symbol files is " + SearchPath + ".\n", nil
	}
	return "", nil
}

func (h *Host) SolibName(pc uint64) (string, error) {
	return h.Solib, h.SolibErr
}

// Count returns the number of executed commands starting with prefix.
func (h *Host) Count(prefix string) int {
	n := 0
	for _, cmd := range h.Cmds {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}
