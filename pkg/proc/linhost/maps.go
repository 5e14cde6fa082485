package linhost

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Mapping is a memory mapping of the debuggee.
type Mapping struct {
	Addr, Size        uint64
	Read, Write, Exec bool
	Filename          string
	Offset            uint64
}

// Contains reports whether addr is inside m.
func (m *Mapping) Contains(addr uint64) bool {
	return addr >= m.Addr && addr < m.Addr+m.Size
}

// ParseMaps parses the contents of /proc/<pid>/maps.
func ParseMaps(buf []byte) ([]Mapping, error) {
	var r []Mapping
	for i, line := range strings.Split(string(buf), "\n") {
		if line == "" {
			continue
		}
		start, end, perm, offset, dev, filename, err := parseMapsLine(i+1, line)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(dev, "00:") {
			filename = strings.TrimSpace(filename)
			if !strings.HasPrefix(filename, "/") {
				// [heap], [stack], anonymous
				filename = ""
			}
			offset = 0
		}
		r = append(r, Mapping{
			Addr: start,
			Size: end - start,

			Read:  perm[0] == 'r',
			Write: perm[1] == 'w',
			Exec:  perm[2] == 'x',

			Filename: filename,
			Offset:   offset,
		})
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Addr < r[j].Addr })
	return r, nil
}

func parseMapsLine(lineno int, in string) (start, end uint64, perm string, offset uint64, dev, filename string, err error) {
	fields := strings.SplitN(in, " ", 6)
	if len(fields) == 5 {
		// anonymous mapping without trailing space
		fields = append(fields, "")
	}
	if len(fields) != 6 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
		return
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
		return
	}
	start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	perm = fields[1]
	if len(perm) < 4 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, in)
		return
	}

	offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	dev = fields[3]

	// fields[4] -> inode

	filename = strings.TrimLeft(fields[5], " ")
	return
}

// FindMapping returns the mapping containing addr.
func FindMapping(maps []Mapping, addr uint64) *Mapping {
	i := sort.Search(len(maps), func(i int) bool { return maps[i].Addr+maps[i].Size > addr })
	if i < len(maps) && maps[i].Contains(addr) {
		return &maps[i]
	}
	return nil
}

// isSharedObject reports whether filename looks like a shared library.
func isSharedObject(filename string) bool {
	return strings.HasSuffix(filename, ".so") || strings.Contains(filename, ".so.")
}
