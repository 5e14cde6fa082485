package mem

import (
	"fmt"
	"os"
	"syscall"

	sys "golang.org/x/sys/unix"
)

// ProcessMemory accesses the memory of a live process through
// process_vm_readv/process_vm_writev. Writes that process_vm_writev
// refuses, such as patches to read-only mappings, are retried through
// /proc/<pid>/mem.
type ProcessMemory struct {
	Pid int
}

// NewProcessMemory returns the memory of process pid.
func NewProcessMemory(pid int) (*ProcessMemory, error) {
	if err := syscall.Kill(pid, 0); err != nil {
		return nil, fmt.Errorf("could not find process %d: %v", pid, err)
	}
	return &ProcessMemory{Pid: pid}, nil
}

// ReadMemory implements MemoryReader.
func (p *ProcessMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []sys.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := sys.ProcessVMReadv(p.Pid, local, remote, 0)
	if err != nil {
		return p.procMem(buf, addr, false)
	}
	return n, nil
}

// WriteMemory implements MemoryReadWriter.
func (p *ProcessMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	local := []sys.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	n, err := sys.ProcessVMWritev(p.Pid, local, remote, 0)
	if err != nil || n < len(data) {
		return p.procMem(data, addr, true)
	}
	return n, nil
}

func (p *ProcessMemory) procMem(buf []byte, addr uint64, write bool) (int, error) {
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	fh, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", p.Pid), flag, 0)
	if err != nil {
		return 0, err
	}
	defer fh.Close()
	if write {
		return sys.Pwrite(int(fh.Fd()), buf, int64(addr))
	}
	return sys.Pread(int(fh.Fd()), buf, int64(addr))
}
