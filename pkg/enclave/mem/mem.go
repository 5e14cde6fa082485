// Package mem implements access to the memory of the process being
// debugged. Every other package reads and patches debuggee memory through
// an Accessor so that a failed access is reported as an error instead of
// taking down the instrumentation session.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/sgxdbg/pkg/logflags"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter is a MemoryReader that can also patch memory.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

var (
	// ErrNoInferior is returned when no debuggee is attached.
	ErrNoInferior = errors.New("no inferior process")
	// ErrAccessDenied is returned when memory can not be read or written,
	// either because it is protected or because the access came up short.
	ErrAccessDenied = errors.New("memory access denied")
)

// AccessError describes a failed access to debuggee memory.
type AccessError struct {
	Op   string
	Addr uint64
	Size int
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("could not %s %d bytes at %#x: %v", e.Op, e.Size, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// Is reports every AccessError as ErrAccessDenied, unless the target was
// missing altogether.
func (e *AccessError) Is(target error) bool {
	return target == ErrAccessDenied && !errors.Is(e.Err, ErrNoInferior)
}

// Accessor performs checked accesses to the memory of the debuggee.
// The zero value has no target and fails every access with ErrNoInferior.
type Accessor struct {
	mem   MemoryReadWriter
	order binary.ByteOrder
	log   logflags.Logger
}

// NewAccessor returns an Accessor over mem, which may be nil if no
// process is attached.
func NewAccessor(mem MemoryReadWriter) *Accessor {
	return &Accessor{mem: mem, order: binary.LittleEndian, log: logflags.MemoryLogger()}
}

// Read reads size bytes at addr.
func (a *Accessor) Read(addr uint64, size int) ([]byte, error) {
	if err := a.check("read", addr, size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := a.mem.ReadMemory(buf, addr)
	if err == nil && n < size {
		err = fmt.Errorf("short read (%d bytes)", n)
	}
	if err != nil {
		a.log.Debugf("read %#x+%d failed: %v", addr, size, err)
		return nil, &AccessError{Op: "read", Addr: addr, Size: size, Err: err}
	}
	if logflags.Memory() {
		a.log.Debugf("read %#x+%d", addr, size)
	}
	return buf, nil
}

// Write writes data at addr.
func (a *Accessor) Write(addr uint64, data []byte) error {
	if err := a.check("write", addr, len(data)); err != nil {
		return err
	}
	n, err := a.mem.WriteMemory(addr, data)
	if err == nil && n < len(data) {
		err = fmt.Errorf("short write (%d bytes)", n)
	}
	if err != nil {
		a.log.Debugf("write %#x+%d failed: %v", addr, len(data), err)
		return &AccessError{Op: "write", Addr: addr, Size: len(data), Err: err}
	}
	if logflags.Memory() {
		a.log.Debugf("write %#x+%d", addr, len(data))
	}
	return nil
}

func (a *Accessor) check(op string, addr uint64, size int) error {
	if a == nil || a.mem == nil {
		return &AccessError{Op: op, Addr: addr, Size: size, Err: ErrNoInferior}
	}
	if addr == 0 {
		return &AccessError{Op: op, Addr: addr, Size: size, Err: errors.New("null address")}
	}
	return nil
}

// ReadUint reads an unsigned integer of size bytes (4 or 8) at addr.
func (a *Accessor) ReadUint(addr uint64, size int) (uint64, error) {
	buf, err := a.Read(addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 4:
		return uint64(a.order.Uint32(buf)), nil
	case 8:
		return a.order.Uint64(buf), nil
	}
	return 0, fmt.Errorf("unsupported integer size %d", size)
}

// WriteUint writes v as an unsigned integer of size bytes (4 or 8) at addr.
func (a *Accessor) WriteUint(addr uint64, size int, v uint64) error {
	buf := make([]byte, size)
	switch size {
	case 4:
		a.order.PutUint32(buf, uint32(v))
	case 8:
		a.order.PutUint64(buf, v)
	default:
		return fmt.Errorf("unsupported integer size %d", size)
	}
	return a.Write(addr, buf)
}
