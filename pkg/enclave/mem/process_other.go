//go:build !linux
// +build !linux

package mem

import (
	"errors"
	"fmt"
	"runtime"
)

// ProcessMemory is only implemented on linux.
type ProcessMemory struct {
	Pid int
}

// NewProcessMemory always fails on this platform.
func NewProcessMemory(pid int) (*ProcessMemory, error) {
	return nil, fmt.Errorf("live process access is not supported on %s", runtime.GOOS)
}

// ReadMemory implements MemoryReader.
func (p *ProcessMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, errors.New("not implemented")
}

// WriteMemory implements MemoryReadWriter.
func (p *ProcessMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	return 0, errors.New("not implemented")
}
