package cmds

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-delve/sgxdbg/pkg/config"
	"github.com/go-delve/sgxdbg/pkg/enclave"
	"github.com/go-delve/sgxdbg/pkg/enclave/enclavetest"
	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
	"github.com/go-delve/sgxdbg/pkg/enclave/registry"
	"github.com/go-delve/sgxdbg/pkg/enclave/symbols"
)

const sectionTable = `Section Headers:
  [Nr] Name              Type            Address          Off    Size   ES Flg Lk Inf Al
  [ 0]                   NULL            0000000000000000 000000 000000 00      0   0  0
  [ 1] .text             PROGBITS        0000000000001000 001000 0004a2 00  AX  0   0 16
  [ 2] .data             PROGBITS        0000000000003000 003000 000040 00  WA  0   0  8
`

type tableSource struct{}

func (tableSource) SectionTable(path string) (string, error) {
	return sectionTable, nil
}

func newResolver(t *testing.T) *symbols.Resolver {
	res, err := symbols.NewResolver(tableSource{}, 4)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSessionConfig(t *testing.T) {
	defer func() { sectionReader, solibSearchPath = "", "" }()

	on := true
	threads := 7
	conf := &config.Config{
		SolibSearchPath:  "/srv/enclaves",
		UsageReporting:   &on,
		TrustedLibraries: []string{"libcustom_urts.so"},
		MaxThreads:       &threads,
	}
	cfg, err := sessionConfig(conf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SolibSearchPath != "/srv/enclaves" || !cfg.UsageReporting || cfg.MaxThreads != 7 {
		t.Fatalf("wrong session config %+v", cfg)
	}
	if len(cfg.TrustedLibraries) != 1 || cfg.TrustedLibraries[0] != "libcustom_urts.so" {
		t.Fatalf("wrong trusted libraries %q", cfg.TrustedLibraries)
	}
	if cfg.Resolver == nil {
		t.Fatal("no resolver")
	}

	solibSearchPath = "/override"
	cfg, err = sessionConfig(conf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SolibSearchPath != "/override" {
		t.Fatalf("flag did not override solib-search-path: %q", cfg.SolibSearchPath)
	}

	for _, tc := range []struct {
		reader string
		ok     bool
	}{
		{"", true},
		{config.SectionReaderReadelf, true},
		{config.SectionReaderELF, true},
		{"objdump", false},
	} {
		sectionReader = tc.reader
		_, err := sessionConfig(conf, nil)
		if (err == nil) != tc.ok {
			t.Errorf("section reader %q: unexpected error state %v", tc.reader, err)
		}
	}
}

func TestParsePid(t *testing.T) {
	for _, tc := range []struct {
		in  string
		pid int
		ok  bool
	}{
		{"1234", 1234, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
	} {
		pid, err := parsePid(tc.in)
		if (err == nil) != tc.ok || pid != tc.pid {
			t.Errorf("parsePid(%q) = %d, %v", tc.in, pid, err)
		}
	}
}

func TestPrintSections(t *testing.T) {
	res := newResolver(t)
	var buf bytes.Buffer
	if err := printSections(&buf, res, "/opt/enclaves/enclave.signed.so", 0, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, ".text") || !strings.Contains(out, ".data") {
		t.Fatalf("sections missing:\n%s", out)
	}
	if strings.Contains(out, "add-symbol-file") {
		t.Fatalf("symbol commands printed without a base:\n%s", out)
	}

	buf.Reset()
	if err := printSections(&buf, res, "/opt/enclaves/enclave.signed.so", 0x40000000, true); err != nil {
		t.Fatal(err)
	}
	out = buf.String()
	for _, want := range []string{
		"add-symbol-file '/opt/enclaves/enclave.signed.so' 0x40001000 -readnow -s .data 0x40003000",
		"remove-symbol-file -a 0x40001000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestPrintUsage(t *testing.T) {
	host := enclavetest.NewHost(layout.Layout64)
	cfg := enclave.Config{Resolver: newResolver(t)}

	var buf bytes.Buffer
	if err := printUsage(&buf, host, cfg); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "no enclaves loaded\n" {
		t.Fatalf("wrong output for empty process: %q", buf.String())
	}

	host.AddEnclave(enclavetest.EnclaveSpec{
		Base:        0x40000000,
		Type:        registry.TypeDebug,
		Path:        "/nonexistent/enclave.signed.so",
		Threads:     make([]enclavetest.ThreadSpec, 1),
		HeapCounter: true,
		PeakHeap:    0x2345,
	})
	buf.Reset()
	if err := printUsage(&buf, host, cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`Enclave: "/nonexistent/enclave.signed.so"`, "[Peak heap used]:  9 KB"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
	if host.Count("add-symbol-file") != 1 {
		t.Fatalf("symbols not registered: %q", host.Cmds)
	}
}
