package terminal

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-delve/sgxdbg/pkg/config"
	"github.com/go-delve/sgxdbg/pkg/enclave"
	"github.com/go-delve/sgxdbg/pkg/enclave/enclavetest"
	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
	"github.com/go-delve/sgxdbg/pkg/enclave/registry"
	"github.com/go-delve/sgxdbg/pkg/enclave/symbols"
	"github.com/go-delve/sgxdbg/pkg/logflags"
	"github.com/go-delve/sgxdbg/pkg/terminal/starbind"
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

type FakeTerminal struct {
	*Term
	host *enclavetest.Host
	out  *bytes.Buffer
	t    testing.TB
}

const logCommandOutput = false

func newFakeTerminal(t testing.TB) *FakeTerminal {
	host := enclavetest.NewHost(layout.Layout64)
	out := new(bytes.Buffer)
	resolver, err := symbols.NewResolver(tableSource{}, 4)
	if err != nil {
		t.Fatal(err)
	}
	s, err := enclave.NewSession(host, enclave.Config{Resolver: resolver, Out: out, UsageReporting: true})
	if err != nil {
		t.Fatal(err)
	}
	term := &Term{
		session: s,
		conf:    &config.Config{},
		prompt:  "(sgxdbg) ",
		cmds:    EnclaveCommands(s),
		dumb:    true,
		stdout:  &transcriptWriter{pw: &pagingWriter{w: out}},
		log:     logflags.TerminalLogger(),
	}
	term.starlarkEnv = starbind.New(starlarkContext{term}, term.stdout)
	return &FakeTerminal{Term: term, host: host, out: out, t: t}
}

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	ft.out.Reset()
	err = ft.cmds.Call(cmdstr, ft.Term)
	ft.stdout.Flush()
	outstr = ft.out.String()
	if logCommandOutput {
		ft.t.Logf("command %q -> %q", cmdstr, outstr)
	}
	return
}

func (ft *FakeTerminal) ExecStarlark(starlarkProgram string) (outstr string, err error) {
	ft.out.Reset()
	_, err = ft.Term.starlarkEnv.Execute("<stdin>", starlarkProgram, "main", nil)
	outstr = ft.out.String()
	if logCommandOutput {
		ft.t.Logf("command %q -> %q", starlarkProgram, outstr)
	}
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) MustExecStarlark(starlarkProgram string) string {
	outstr, err := ft.ExecStarlark(starlarkProgram)
	if err != nil {
		ft.t.Errorf("output of %q: %q", starlarkProgram, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", starlarkProgram, err)
	}
	return outstr
}

func (ft *FakeTerminal) addEnclave(base uint64, nthreads int) *enclavetest.Enclave {
	spec := enclavetest.EnclaveSpec{
		Base:        base,
		Type:        registry.TypeDebug,
		Path:        "/nonexistent/enclave.signed.so",
		Threads:     make([]enclavetest.ThreadSpec, nthreads),
		HeapCounter: true,
		PeakHeap:    0x2345,
	}
	if nthreads > 0 {
		spec.Threads[0].Used = 0x1800
	}
	return ft.host.AddEnclave(spec)
}

func TestCommandDefault(t *testing.T) {
	term := newFakeTerminal(t)
	_, err := term.Exec("foo")
	if err != errNoCmd {
		t.Fatalf("wrong error for unknown command: %v", err)
	}
	if _, err := term.Exec(""); err != nil {
		t.Fatalf("empty command failed: %v", err)
	}
}

func TestCommandReplace(t *testing.T) {
	term := newFakeTerminal(t)
	term.cmds.Register("help", func(t *Term, args string) error {
		return fmt.Errorf("registered command")
	}, "help message")

	_, err := term.Exec("help")
	if err == nil || err.Error() != "registered command" {
		t.Fatalf("wrong error %v", err)
	}
}

func TestHelp(t *testing.T) {
	term := newFakeTerminal(t)
	out := term.MustExec("help")
	for _, cgd := range commandGroupDescriptions {
		if !strings.Contains(out, cgd.description) {
			t.Errorf("missing group %q in help", cgd.description)
		}
	}
	if !strings.Contains(out, "sgx_emmt (alias: emmt)") {
		t.Errorf("missing alias in help:\n%s", out)
	}
	out = term.MustExec("help ocall")
	if !strings.Contains(out, "ocall [<base> <tcs> <frame>]") {
		t.Errorf("wrong help for ocall:\n%s", out)
	}
	if _, err := term.Exec("help nosuchcommand"); err != errNoCmd {
		t.Errorf("wrong error for unknown help topic: %v", err)
	}
}

func TestNotifyCommands(t *testing.T) {
	term := newFakeTerminal(t)
	e := term.addEnclave(0x40000000, 2)

	out := term.MustExec(fmt.Sprintf("load %#x", e.Info))
	if !strings.Contains(out, "handled load") {
		t.Fatalf("wrong output for load:\n%s", out)
	}
	if term.host.Count("add-symbol-file '/opt/enclaves/enclave.signed.so' 0x40001000") != 1 {
		t.Fatalf("symbols not loaded: %q", term.host.Cmds)
	}

	out = term.MustExec("enclaves")
	if !strings.Contains(out, "0x40000000") || !strings.Contains(out, "debug, symbols at 0x40001000") {
		t.Fatalf("wrong output for enclaves:\n%s", out)
	}
	out = term.MustExec("enclaves -v")
	if !strings.Contains(out, fmt.Sprintf("%#x", e.Threads[1].TCS)) {
		t.Fatalf("threads missing from enclaves -v:\n%s", out)
	}
	if _, err := term.Exec("enclaves -x"); err == nil {
		t.Fatal("enclaves accepted an unknown option")
	}

	out = term.MustExec("threads 0x40000000")
	for _, th := range e.Threads {
		if !strings.Contains(out, fmt.Sprintf("%#x", th.TCS)) {
			t.Errorf("missing TCS %#x:\n%s", th.TCS, out)
		}
	}
	if _, err := term.Exec("threads 0x50000000"); err == nil {
		t.Fatal("threads of an enclave that is not loaded")
	}

	out = term.MustExec("usage")
	if !strings.Contains(out, "[Peak stack used]: 6 KB") || !strings.Contains(out, "[Peak heap used]:  9 KB") {
		t.Fatalf("wrong usage report:\n%s", out)
	}

	out = term.MustExec(fmt.Sprintf("unload %#x", e.Info))
	if !strings.Contains(out, "[Peak stack used]: 6 KB") || !strings.Contains(out, "handled unload") {
		t.Fatalf("wrong output for unload:\n%s", out)
	}
	if out := term.MustExec("enclaves"); !strings.Contains(out, "No enclaves loaded.") {
		t.Fatalf("enclave still listed after unload:\n%s", out)
	}
}

func TestNotifyFromRegisters(t *testing.T) {
	term := newFakeTerminal(t)
	e := term.addEnclave(0x40000000, 1)
	term.host.Regs["$rdi"] = e.Info
	if out := term.MustExec("load"); !strings.Contains(out, "handled load") {
		t.Fatalf("wrong output:\n%s", out)
	}
	if term.session.Registry().Len() != 1 {
		t.Fatal("enclave not registered")
	}
	if out := term.MustExec("exit-process"); !strings.Contains(out, "handled process-exit") {
		t.Fatalf("wrong output:\n%s", out)
	}
	if term.session.Registry().Len() != 0 {
		t.Fatal("registry not cleared on exit")
	}
}

func TestNotifyOutcomes(t *testing.T) {
	term := newFakeTerminal(t)
	e := term.addEnclave(0x40000000, 1)

	term.host.Solib = "/lib/x86_64-linux-gnu/libc.so.6"
	out := term.MustExec(fmt.Sprintf("load %#x", e.Info))
	if !strings.Contains(out, "ignored load") {
		t.Fatalf("wrong output for untrusted notification:\n%s", out)
	}
	term.host.Solib = enclavetest.URTS

	out, err := term.Exec("load 0x1234")
	if err == nil || !strings.Contains(out, "failed load") {
		t.Fatalf("unreadable enclave info: %v\n%s", err, out)
	}
	if _, err := term.Exec("ocall 1 2"); err == nil {
		t.Fatal("ocall accepted two arguments")
	}
	if _, err := term.Exec("load info"); err == nil {
		t.Fatal("load accepted a non numeric address")
	}
}

func TestEmmt(t *testing.T) {
	term := newFakeTerminal(t)
	if out := term.MustExec("sgx_emmt show"); strings.TrimSpace(out) != "sgx_emmt enabled" {
		t.Fatalf("wrong output %q", out)
	}
	if out := term.MustExec("emmt disable"); strings.TrimSpace(out) != "sgx_emmt disabled" {
		t.Fatalf("wrong output %q", out)
	}
	if term.session.UsageReporting() {
		t.Fatal("usage reporting still enabled")
	}
	term.MustExec("sgx_emmt enable")
	if !term.session.UsageReporting() {
		t.Fatal("usage reporting not enabled")
	}
	if _, err := term.Exec("sgx_emmt maybe"); err == nil {
		t.Fatal("unknown argument accepted")
	}
}

func TestAttachDetach(t *testing.T) {
	term := newFakeTerminal(t)
	term.addEnclave(0x40000000, 1)
	term.addEnclave(0x50000000, 1)
	if out := term.MustExec("attach"); !strings.Contains(out, "2 enclaves instrumented") {
		t.Fatalf("wrong output for attach:\n%s", out)
	}
	term.MustExec("detach")
	if term.session.Registry().Len() != 0 || term.host.Count("remove-symbol-file") != 2 {
		t.Fatalf("detach left %d enclaves: %q", term.session.Registry().Len(), term.host.Cmds)
	}
}

func TestConfig(t *testing.T) {
	term := newFakeTerminal(t)

	term.MustExec("config usage-reporting false")
	if term.conf.Usage() || term.session.UsageReporting() {
		t.Fatal("usage-reporting not applied")
	}
	term.MustExec("config max-threads 12")
	if term.conf.ThreadLimit() != 12 {
		t.Fatalf("wrong max-threads %d", term.conf.ThreadLimit())
	}
	term.MustExec(`config trusted-libraries libfoo.so "lib bar.so"`)
	if got := term.conf.Trusted(); len(got) != 2 || got[1] != "lib bar.so" {
		t.Fatalf("wrong trusted libraries %q", got)
	}
	term.MustExec("config solib-search-path /srv/enclaves")
	if term.conf.SolibSearchPath != "/srv/enclaves" {
		t.Fatalf("wrong solib-search-path %q", term.conf.SolibSearchPath)
	}
	if _, err := term.Exec("config section-reader objdump"); err == nil {
		t.Fatal("unknown section reader accepted")
	}
	term.MustExec("config section-reader elf")
	if _, err := term.Exec("config nosuchoption 1"); err == nil {
		t.Fatal("unknown option accepted")
	}
	if _, err := term.Exec("config max-threads many"); err == nil {
		t.Fatal("non numeric max-threads accepted")
	}

	out := term.MustExec("config -list")
	for _, want := range []string{"max-threads", "12", "/srv/enclaves", "section-reader"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in config -list:\n%s", want, out)
		}
	}

	term.MustExec("config alias enclaves encl")
	if out := term.MustExec("encl"); !strings.Contains(out, "No enclaves loaded.") {
		t.Fatalf("alias not working:\n%s", out)
	}
	term.MustExec("config alias encl")
	if _, err := term.Exec("encl"); err != errNoCmd {
		t.Fatalf("alias not removed: %v", err)
	}
}

func TestTrustedLibrariesApplied(t *testing.T) {
	term := newFakeTerminal(t)
	e := term.addEnclave(0x40000000, 1)
	term.host.Solib = "/opt/runtime/libmyurts.so"
	term.MustExec("config trusted-libraries libmyurts.so")
	if out := term.MustExec(fmt.Sprintf("load %#x", e.Info)); !strings.Contains(out, "handled load") {
		t.Fatalf("notification from configured library ignored:\n%s", out)
	}
}

func TestSplitArgs(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out []uint64
		err bool
	}{
		{"", nil, false},
		{"0x10", []uint64{0x10}, false},
		{"0x10 '32' 0", []uint64{0x10, 32, 0}, false},
		{"0x10 `ls`", nil, true},
		{"0x10 | 0x20", nil, true},
		{"sixteen", nil, true},
	} {
		got, err := parseAddrs(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(tc.out) {
			t.Errorf("%q: got %v, expected %v", tc.in, got, tc.out)
		}
	}
}

func TestCompleter(t *testing.T) {
	term := newFakeTerminal(t)
	got := term.completer()("ex")
	if len(got) != 2 {
		t.Fatalf("wrong completions %q", got)
	}
	for _, want := range []string{"exit", "exit-process"} {
		found := false
		for _, s := range got {
			found = found || s == want
		}
		if !found {
			t.Errorf("missing completion %q in %q", want, got)
		}
	}
	if got := term.completer()("load 0x"); got != nil {
		t.Errorf("completed arguments: %q", got)
	}
}

func TestExecuteFile(t *testing.T) {
	term := newFakeTerminal(t)
	e := term.addEnclave(0x40000000, 1)
	dir, err := ioutil.TempDir("", "sgxdbg")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "init")
	script := fmt.Sprintf("# init file\nsgx_emmt disable\n\nload %#x\nnosuchcommand\n", e.Info)
	if err := ioutil.WriteFile(path, []byte(script), 0600); err != nil {
		t.Fatal(err)
	}
	out := term.MustExec("source " + path)
	if term.session.UsageReporting() || term.session.Registry().Len() != 1 {
		t.Fatal("init file not executed")
	}
	if !strings.Contains(out, path+":5: command not available") {
		t.Fatalf("error not reported with its line:\n%s", out)
	}

	if err := ioutil.WriteFile(path, []byte("exit\nsgx_emmt enable\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := term.Exec("source " + path); err == nil {
		t.Fatal("exit request not propagated")
	} else if _, ok := err.(ExitRequestError); !ok {
		t.Fatalf("wrong error %v", err)
	}
	if term.session.UsageReporting() {
		t.Fatal("commands executed after exit")
	}
}

func TestTranscript(t *testing.T) {
	term := newFakeTerminal(t)
	dir, err := ioutil.TempDir("", "sgxdbg")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "transcript.txt")

	term.MustExec("transcript -t " + path)
	term.MustExec("sgx_emmt show")
	term.MustExec("transcript -off")
	term.MustExec("sgx_emmt disable")

	buf, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "sgx_emmt enabled\n" {
		t.Fatalf("wrong transcript %q", buf)
	}
	if _, err := term.Exec("transcript"); err == nil {
		t.Fatal("transcript without a path")
	}
	if _, err := term.Exec("transcript -off " + path); err == nil {
		t.Fatal("transcript -off with a path")
	}
}
