package symbols

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os/exec"
	"strings"
)

// SectionSource produces the textual section table of a binary, in the
// format printed by 'readelf -W -S'.
type SectionSource interface {
	SectionTable(path string) (string, error)
}

// ReadelfSource runs readelf to produce section tables.
type ReadelfSource struct {
	// Command is the readelf executable, "readelf" if empty.
	Command string
}

// SectionTable implements SectionSource.
func (src ReadelfSource) SectionTable(path string) (string, error) {
	command := src.Command
	if command == "" {
		command = "readelf"
	}
	var stderr bytes.Buffer
	cmd := exec.Command(command, "-W", "-S", path)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s -W -S %s: %v: %s", command, path, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// ELFSource reads section headers directly and renders them the way
// readelf does, for machines without binutils.
type ELFSource struct{}

// SectionTable implements SectionSource.
func (ELFSource) SectionTable(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return FormatSectionTable(f.Sections), nil
}

// FormatSectionTable renders section headers in the format of
// 'readelf -W -S'.
func FormatSectionTable(secs []*elf.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "There are %d section headers:\n\nSection Headers:\n", len(secs))
	fmt.Fprintf(&b, "  [Nr] %-17s %-15s %-16s %-6s %-6s ES Flg Lk Inf Al\n", "Name", "Type", "Address", "Off", "Size")
	for i, s := range secs {
		fmt.Fprintf(&b, "  [%2d] %-17s %-15s %016x %06x %06x %02x %3s %2d %3d %2d\n",
			i, s.Name, strings.TrimPrefix(s.Type.String(), "SHT_"),
			s.Addr, s.Offset, s.Size, s.Entsize, sectionFlags(s.Flags), s.Link, s.Info, s.Addralign)
	}
	return b.String()
}

func sectionFlags(fl elf.SectionFlag) string {
	var b strings.Builder
	for _, f := range []struct {
		flag elf.SectionFlag
		c    byte
	}{{elf.SHF_WRITE, 'W'}, {elf.SHF_ALLOC, 'A'}, {elf.SHF_EXECINSTR, 'X'}, {elf.SHF_MERGE, 'M'}, {elf.SHF_STRINGS, 'S'}, {elf.SHF_TLS, 'T'}} {
		if fl&f.flag != 0 {
			b.WriteByte(f.c)
		}
	}
	return b.String()
}
