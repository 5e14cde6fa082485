// Package symbols turns the section table of an enclave image into the
// commands that make the host debugger load and unload its symbols at the
// address the enclave was loaded at.
package symbols

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoTextSection is returned when a section table has no .text section
// to anchor the symbol file to.
var ErrNoTextSection = errors.New("no .text section")

// Section is one row of a section table.
type Section struct {
	Name   string
	Addr   uint64
	Offset uint64
	Size   uint64
}

// ParseSectionTable parses the output of 'readelf -W -S'. Rows that do not
// look like section headers are ignored.
func ParseSectionTable(text string) ([]Section, error) {
	var r []Section
	s := bufio.NewScanner(strings.NewReader(text))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.IndexByte(line, ']')
		if end < 0 {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSpace(line[1:end])); err != nil {
			// header row: [Nr] Name Type ...
			continue
		}
		fields := strings.Fields(line[end+1:])
		if len(fields) < 5 || !strings.HasPrefix(fields[0], ".") {
			continue
		}
		sec := Section{Name: fields[0]}
		var err error
		for i, dst := range []*uint64{&sec.Addr, &sec.Offset, &sec.Size} {
			*dst, err = strconv.ParseUint(fields[2+i], 16, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed section header %q: %v", line, err)
			}
		}
		r = append(r, sec)
	}
	return r, s.Err()
}

// SectionAddr is a section resolved to its load address.
type SectionAddr struct {
	Name string
	Addr uint64
}

// AddSymbolFile asks the host debugger to load the symbols of Path with
// its .text section at TextAddr.
type AddSymbolFile struct {
	Path     string
	TextAddr uint64
	Sections []SectionAddr
}

func (c *AddSymbolFile) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "add-symbol-file '%s' %#x -readnow", c.Path, c.TextAddr)
	for _, sec := range c.Sections {
		fmt.Fprintf(&b, " -s %s %#x", sec.Name, sec.Addr)
	}
	return b.String()
}

// RemoveSymbolFile asks the host debugger to drop the symbol file whose
// .text section is at TextAddr.
type RemoveSymbolFile struct {
	TextAddr uint64
}

func (c RemoveSymbolFile) String() string {
	return fmt.Sprintf("remove-symbol-file -a %#x", c.TextAddr)
}

// LoadCommand builds the command that loads the symbols of path for an
// image loaded at base. Every section whose name starts with a dot and
// that isn't empty is relocated by base; .text becomes the anchor of the
// command and all others are passed with -s.
func LoadCommand(path string, base uint64, secs []Section) (*AddSymbolFile, error) {
	cmd := &AddSymbolFile{Path: path}
	for _, sec := range secs {
		if !strings.HasPrefix(sec.Name, ".") || sec.Size == 0 {
			continue
		}
		if sec.Name == ".text" {
			if sec.Addr != 0 {
				cmd.TextAddr = base + sec.Addr
			}
			continue
		}
		cmd.Sections = append(cmd.Sections, SectionAddr{Name: sec.Name, Addr: base + sec.Addr})
	}
	if cmd.TextAddr == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoTextSection)
	}
	return cmd, nil
}

// TextAddr returns the load address of .text for an image loaded at base.
func TextAddr(base uint64, secs []Section) (uint64, error) {
	for _, sec := range secs {
		if sec.Name == ".text" && sec.Size != 0 && sec.Addr != 0 {
			return base + sec.Addr, nil
		}
	}
	return 0, ErrNoTextSection
}

// UnloadCommand builds the command that drops the symbols loaded for the
// .text section at textAddr.
func UnloadCommand(textAddr uint64) RemoveSymbolFile {
	return RemoveSymbolFile{TextAddr: textAddr}
}
