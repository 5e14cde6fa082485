package symbols

import (
	"debug/elf"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

const readelfOutput = `There are 6 section headers, starting at offset 0x2f48:

Section Headers:
  [Nr] Name              Type            Address          Off    Size   ES Flg Lk Inf Al
  [ 0]                   NULL            0000000000000000 000000 000000 00      0   0  0
  [ 1] .text             PROGBITS        0000000000001000 001000 0004a2 00  AX  0   0 16
  [ 2] .rodata           PROGBITS        0000000000002000 002000 000100 00   A  0   0 32
  [ 3] .bss              NOBITS          0000000000004000 003000 000200 00  WA  0   0 32
  [ 4] .comment          PROGBITS        0000000000000000 003000 00002b 01  MS  0   0  1
  [ 5] .tbss             NOBITS          0000000000003f00 002f00 000000 00 WAT  0   0  8
  [10] .data             PROGBITS        0000000000003000 003000 000040 00  WA  0   0  8
Key to Flags:
  W (write), A (alloc), X (execute), M (merge), S (strings), I (info),
`

func TestParseSectionTable(t *testing.T) {
	secs, err := ParseSectionTable(readelfOutput)
	if err != nil {
		t.Fatal(err)
	}
	if len(secs) != 6 {
		t.Fatalf("expected 6 sections, got %d: %#v", len(secs), secs)
	}
	if secs[0] != (Section{Name: ".text", Addr: 0x1000, Offset: 0x1000, Size: 0x4a2}) {
		t.Fatalf("wrong .text %#v", secs[0])
	}
	if secs[5].Name != ".data" || secs[5].Addr != 0x3000 {
		t.Fatalf("two digit section number not parsed: %#v", secs[5])
	}
}

func TestLoadCommand(t *testing.T) {
	secs, _ := ParseSectionTable(readelfOutput)
	cmd, err := LoadCommand("/tmp/enclave.signed.so", 0x555500000000, secs)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.TextAddr != 0x555500001000 {
		t.Fatalf("wrong text address %#x", cmd.TextAddr)
	}
	// .tbss is empty and skipped, .comment is not allocated but non empty.
	want := "add-symbol-file '/tmp/enclave.signed.so' 0x555500001000 -readnow -s .rodata 0x555500002000 -s .bss 0x555500004000 -s .comment 0x555500000000 -s .data 0x555500003000"
	if cmd.String() != want {
		t.Fatalf("wrong command:\n%s\n%s", cmd.String(), want)
	}
	if s := UnloadCommand(cmd.TextAddr).String(); s != "remove-symbol-file -a 0x555500001000" {
		t.Fatalf("wrong unload command %q", s)
	}
}

func TestLoadCommandNoText(t *testing.T) {
	secs := []Section{{Name: ".data", Addr: 0x3000, Size: 0x10}}
	if _, err := LoadCommand("x.so", 0x1000, secs); !errors.Is(err, ErrNoTextSection) {
		t.Fatalf("expected ErrNoTextSection, got %v", err)
	}
	secs = append(secs, Section{Name: ".text", Addr: 0, Size: 0x10})
	if _, err := LoadCommand("x.so", 0x1000, secs); !errors.Is(err, ErrNoTextSection) {
		t.Fatalf("expected ErrNoTextSection for .text at address 0, got %v", err)
	}
	if _, err := TextAddr(0x1000, secs); !errors.Is(err, ErrNoTextSection) {
		t.Fatalf("expected ErrNoTextSection, got %v", err)
	}
}

type countingSource struct {
	text  string
	calls int
}

func (s *countingSource) SectionTable(path string) (string, error) {
	s.calls++
	if s.text == "" {
		return "", errors.New("no such file")
	}
	return s.text, nil
}

func TestResolverCache(t *testing.T) {
	src := &countingSource{text: readelfOutput}
	r, err := NewResolver(src, 2)
	if err != nil {
		t.Fatal(err)
	}
	load, err := r.Load("a.so", 0x10000)
	if err != nil {
		t.Fatal(err)
	}
	unload, err := r.Unload("a.so", 0x10000)
	if err != nil {
		t.Fatal(err)
	}
	if load.TextAddr != unload.TextAddr || unload.TextAddr != 0x11000 {
		t.Fatalf("load %#x unload %#x", load.TextAddr, unload.TextAddr)
	}
	if src.calls != 1 {
		t.Fatalf("section table read %d times", src.calls)
	}
	r.Forget("a.so")
	if _, err := r.Sections("a.so"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Fatalf("section table read %d times after Forget", src.calls)
	}

	r, _ = NewResolver(&countingSource{}, 2)
	if _, err := r.Load("missing.so", 0x1000); err == nil {
		t.Fatal("expected error from section source")
	}
}

func TestHostPath(t *testing.T) {
	dir, err := ioutil.TempDir("", "sgxdbg-symbols")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	existing := filepath.Join(dir, "enclave.so")
	if err := ioutil.WriteFile(existing, nil, 0600); err != nil {
		t.Fatal(err)
	}

	asked := 0
	searchPath := func() string {
		asked++
		return "/opt/lib"
	}
	if p := HostPath(existing, searchPath); p != existing {
		t.Fatalf("existing path remapped to %q", p)
	}
	if asked != 0 {
		t.Fatal("search path computed for an existing image")
	}
	if p := HostPath("/build/host/out/enclave.signed.so", searchPath); p != "/opt/lib/enclave.signed.so" {
		t.Fatalf("wrong remap %q", p)
	}
	if asked != 1 {
		t.Fatalf("search path computed %d times", asked)
	}
}

func TestParseSolibSearchPath(t *testing.T) {
	tests := []struct{ in, out string }{
		{"The search path for loading non-absolute shared library symbol files is /opt/sgx/lib64.\n", "/opt/sgx/lib64"},
		{"The search path for loading non-absolute shared library symbol files is .", "."},
		{"", ""},
	}
	for _, tc := range tests {
		if got := ParseSolibSearchPath(tc.in); got != tc.out {
			t.Errorf("ParseSolibSearchPath(%q) = %q, want %q", tc.in, got, tc.out)
		}
	}
}

func TestFormatSectionTable(t *testing.T) {
	secs := []*elf.Section{
		{SectionHeader: elf.SectionHeader{Type: elf.SHT_NULL}},
		{SectionHeader: elf.SectionHeader{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x1000, Offset: 0x1000, Size: 0x20, Addralign: 16}},
		{SectionHeader: elf.SectionHeader{Name: ".data", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: 0x3000, Offset: 0x2000, Size: 0x8, Addralign: 8}},
	}
	parsed, err := ParseSectionTable(FormatSectionTable(secs))
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 2 || parsed[0] != (Section{".text", 0x1000, 0x1000, 0x20}) || parsed[1] != (Section{".data", 0x3000, 0x2000, 0x8}) {
		t.Fatalf("wrong round trip through the readelf format: %#v", parsed)
	}
}

func TestELFSource(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}
	if f, err := elf.Open(exe); err != nil {
		t.Skip("test binary is not an ELF file")
	} else {
		f.Close()
	}
	text, err := ELFSource{}.SectionTable(exe)
	if err != nil {
		t.Fatal(err)
	}
	secs, err := ParseSectionTable(text)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := TextAddr(0, secs); err != nil {
		t.Fatalf("test binary has no .text: %v", err)
	}
}
