package mem

import (
	"fmt"
	"sort"
)

type region struct {
	addr uint64
	data []byte
}

func (r *region) end() uint64 { return r.addr + uint64(len(r.data)) }

// SparseMemory is a MemoryReadWriter backed by a set of disjoint mapped
// regions. Accesses touching an unmapped byte fail.
type SparseMemory struct {
	regions []*region // sorted by addr
}

// Map maps a zero filled region of size bytes at addr and returns its
// backing slice. Overlapping an existing region is an error.
func (m *SparseMemory) Map(addr uint64, size int) ([]byte, error) {
	r := &region{addr: addr, data: make([]byte, size)}
	for _, other := range m.regions {
		if r.addr < other.end() && other.addr < r.end() {
			return nil, fmt.Errorf("region %#x-%#x overlaps %#x-%#x", r.addr, r.end(), other.addr, other.end())
		}
	}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].addr < m.regions[j].addr })
	return r.data, nil
}

// Unmap removes the region starting at addr.
func (m *SparseMemory) Unmap(addr uint64) {
	for i, r := range m.regions {
		if r.addr == addr {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return
		}
	}
}

func (m *SparseMemory) find(addr uint64, size int) ([]byte, error) {
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].end() > addr })
	if i < len(m.regions) {
		r := m.regions[i]
		if addr >= r.addr && addr+uint64(size) <= r.end() {
			off := addr - r.addr
			return r.data[off : off+uint64(size)], nil
		}
	}
	return nil, fmt.Errorf("unmapped memory at %#x+%d", addr, size)
}

// ReadMemory implements MemoryReader.
func (m *SparseMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	src, err := m.find(addr, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, src), nil
}

// WriteMemory implements MemoryReadWriter.
func (m *SparseMemory) WriteMemory(addr uint64, data []byte) (int, error) {
	dst, err := m.find(addr, len(data))
	if err != nil {
		return 0, err
	}
	return copy(dst, data), nil
}
