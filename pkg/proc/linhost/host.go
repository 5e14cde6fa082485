// Package linhost is a minimal host debugger for a live Linux process.
// It gives the enclave instrumentation access to the memory of the
// process, to the symbols of the images it has mapped and to a record of
// the symbol commands issued, without stopping the process.
// Registers are not available: notifications must carry explicit
// arguments.
package linhost

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/go-delve/sgxdbg/pkg/enclave/mem"
	"github.com/go-delve/sgxdbg/pkg/logflags"
)

// Host implements enclave.Host for process Pid.
type Host struct {
	Pid int
	// SolibSearchPath is the answer to 'show solib-search-path'.
	SolibSearchPath string

	mem      *mem.ProcessMemory
	exe      string
	wordSize int
	maps     []Mapping
	regs     map[string]uint64
	commands []string
	log      logflags.Logger
}

// New returns a host for process pid.
func New(pid int) (*Host, error) {
	pm, err := mem.NewProcessMemory(pid)
	if err != nil {
		return nil, err
	}
	h := &Host{
		Pid:  pid,
		mem:  pm,
		exe:  fmt.Sprintf("/proc/%d/exe", pid),
		regs: make(map[string]uint64),
		log:  logflags.EnclaveLogger(),
	}
	if err := h.Refresh(); err != nil {
		return nil, err
	}
	return h, nil
}

// Refresh rereads the memory mappings of the process.
func (h *Host) Refresh() error {
	buf, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/maps", h.Pid))
	if err != nil {
		return err
	}
	maps, err := ParseMaps(buf)
	if err != nil {
		return err
	}
	h.maps = maps
	return nil
}

// Maps returns the memory mappings read by the last Refresh.
func (h *Host) Maps() []Mapping {
	return h.maps
}

// SetRegister sets the value Evaluate returns for register name, for
// example "$pc".
func (h *Host) SetRegister(name string, v uint64) {
	h.regs[name] = v
}

// Commands returns the host commands executed so far.
func (h *Host) Commands() []string {
	return h.commands
}

// ReadMemory implements mem.MemoryReader.
func (h *Host) ReadMemory(buf []byte, addr uint64) (int, error) {
	return h.mem.ReadMemory(buf, addr)
}

// WriteMemory implements mem.MemoryReadWriter.
func (h *Host) WriteMemory(addr uint64, data []byte) (int, error) {
	return h.mem.WriteMemory(addr, data)
}

// WordSize returns the pointer size of the process.
func (h *Host) WordSize() (int, error) {
	if h.wordSize == 0 {
		n, err := wordSize(h.exe)
		if err != nil {
			return 0, err
		}
		h.wordSize = n
	}
	return h.wordSize, nil
}

// Evaluate supports "sizeof(long)", registers set with SetRegister,
// "&symbol", "*(void**)&symbol" and integer literals.
func (h *Host) Evaluate(expr string) (uint64, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "sizeof(long)":
		n, err := h.WordSize()
		return uint64(n), err

	case strings.HasPrefix(expr, "$"):
		if v, ok := h.regs[expr]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("register %s not available", expr)

	case strings.HasPrefix(expr, "*(void**)&"):
		addr, err := resolveSymbol(h.maps, strings.TrimPrefix(expr, "*(void**)&"))
		if err != nil {
			return 0, err
		}
		n, err := h.WordSize()
		if err != nil {
			return 0, err
		}
		return mem.NewAccessor(h).ReadUint(addr, n)

	case strings.HasPrefix(expr, "&"):
		return resolveSymbol(h.maps, expr[1:])
	}
	v, err := strconv.ParseUint(expr, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("can not evaluate %q", expr)
	}
	return v, nil
}

// Execute records cmd. The only command producing output is
// 'show solib-search-path'.
func (h *Host) Execute(cmd string) (string, error) {
	h.log.Debugf("execute %q", cmd)
	h.commands = append(h.commands, cmd)
	if cmd == "show solib-search-path" {
		return fmt.Sprintf("The search path for loading non-absolute shared library symbol files is %s.", h.SolibSearchPath), nil
	}
	return "", nil
}

// SolibName returns the shared library mapped at pc.
func (h *Host) SolibName(pc uint64) (string, error) {
	m := FindMapping(h.maps, pc)
	if m == nil {
		if err := h.Refresh(); err != nil {
			return "", err
		}
		m = FindMapping(h.maps, pc)
	}
	if m == nil || !isSharedObject(m.Filename) {
		return "", nil
	}
	return m.Filename, nil
}
