// Package enclave instruments the enclaves of a debuggee on behalf of a
// host debugger. A Session receives the notifications raised by the
// breakpoints the host places in the untrusted runtime, keeps the
// registry of loaded enclaves up to date, enables debugging of enclave
// threads and registers the enclave symbols with the host.
package enclave

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-delve/sgxdbg/pkg/config"
	"github.com/go-delve/sgxdbg/pkg/enclave/layout"
	"github.com/go-delve/sgxdbg/pkg/enclave/mem"
	"github.com/go-delve/sgxdbg/pkg/enclave/registry"
	"github.com/go-delve/sgxdbg/pkg/enclave/symbols"
	"github.com/go-delve/sgxdbg/pkg/enclave/usage"
	"github.com/go-delve/sgxdbg/pkg/logflags"
)

// ErrProductEnclave is returned for enclaves that are neither simulation
// nor debug enclaves. It is not a failure: those enclaves are simply not
// instrumented.
var ErrProductEnclave = errors.New("product enclave")

// Config configures a Session.
type Config struct {
	// TrustedLibraries are the libraries notifications may come from.
	// Defaults to config.DefaultTrustedLibraries.
	TrustedLibraries []string
	// SolibSearchPath is where enclave images missing at the path
	// recorded by the runtime are looked up. When empty the host is
	// asked with 'show solib-search-path'.
	SolibSearchPath string
	// UsageReporting enables the usage report printed on unload.
	UsageReporting bool
	// MaxThreads bounds the thread list walk of every enclave.
	MaxThreads int
	// Resolver produces the symbol commands. Defaults to a resolver
	// running readelf.
	Resolver *symbols.Resolver
	// Out receives status messages. Defaults to os.Stdout.
	Out io.Writer
}

// Session is the instrumentation state of one debuggee.
// It is not safe for concurrent use: notifications must be delivered one
// at a time, in the order the debuggee raises them.
type Session struct {
	host Host
	acc  *mem.Accessor
	lay  *layout.Layout

	reg *registry.Registry
	// registrations maps enclave base addresses to the .text address
	// their symbols were registered at.
	registrations map[uint64]uint64

	usage      bool
	trusted    []string
	searchPath string
	maxThreads int
	resolver   *symbols.Resolver

	out io.Writer
	log logflags.Logger
}

// NewSession returns a session instrumenting the debuggee of host.
func NewSession(host Host, cfg Config) (*Session, error) {
	s := &Session{
		host:          host,
		acc:           mem.NewAccessor(host),
		reg:           registry.New(),
		registrations: make(map[uint64]uint64),
		usage:         cfg.UsageReporting,
		trusted:       cfg.TrustedLibraries,
		searchPath:    cfg.SolibSearchPath,
		maxThreads:    cfg.MaxThreads,
		resolver:      cfg.Resolver,
		out:           cfg.Out,
		log:           logflags.EnclaveLogger(),
	}
	if s.trusted == nil {
		s.trusted = config.DefaultTrustedLibraries
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.resolver == nil {
		r, err := symbols.NewResolver(symbols.ReadelfSource{}, 16)
		if err != nil {
			return nil, err
		}
		s.resolver = r
	}
	return s, nil
}

// Layout returns the record layout of the debuggee, asking the host for
// the size of a pointer the first time it is called.
func (s *Session) Layout() (*layout.Layout, error) {
	if s.lay != nil {
		return s.lay, nil
	}
	n, err := s.host.Evaluate("sizeof(long)")
	if err != nil {
		return nil, fmt.Errorf("could not determine word size: %v", err)
	}
	lay, err := layout.ForWordSize(int(n))
	if err != nil {
		return nil, err
	}
	s.lay = lay
	s.log.Debugf("word size %d", n)
	return lay, nil
}

func (s *Session) reader() (*registry.Reader, error) {
	lay, err := s.Layout()
	if err != nil {
		return nil, err
	}
	return &registry.Reader{Mem: s.acc, Layout: lay, MaxThreads: s.maxThreads}, nil
}

// Registry returns the registry of loaded enclaves.
func (s *Session) Registry() *registry.Registry {
	return s.reg
}

// Registrations returns the base addresses of the enclaves whose
// symbols are registered with the host, sorted.
func (s *Session) Registrations() []uint64 {
	r := make([]uint64, 0, len(s.registrations))
	for base := range s.registrations {
		r = append(r, base)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// EnableUsageReporting turns the usage report printed on unload on or off.
func (s *Session) EnableUsageReporting(enable bool) {
	s.usage = enable
}

// UsageReporting reports whether the usage report is printed on unload.
func (s *Session) UsageReporting() bool {
	return s.usage
}

// SetSolibSearchPath changes the directory enclave images missing
// locally are looked up in. An empty path makes the session ask the host.
func (s *Session) SetSolibSearchPath(path string) {
	s.searchPath = path
}

// SetTrustedLibraries changes the libraries notifications may come from.
func (s *Session) SetTrustedLibraries(libs []string) {
	if len(libs) == 0 {
		libs = config.DefaultTrustedLibraries
	}
	s.trusted = libs
}

// Usage measures the peak stack and heap usage of e.
func (s *Session) Usage(e *registry.Enclave) (*usage.Report, error) {
	lay, err := s.Layout()
	if err != nil {
		return nil, err
	}
	return usage.Measure(s.acc, e.Path, e.Stacks(), e.HeapCounterAddr, lay.WordSize), nil
}

// listHead returns the head of the runtime's list of enclaves.
func (s *Session) listHead() (uint64, error) {
	return s.host.Evaluate("*(void**)&" + enclaveListSymbol)
}

// solibSearchPath returns the directory enclave images are remapped to.
func (s *Session) solibSearchPath() string {
	if s.searchPath != "" {
		return s.searchPath
	}
	out, err := s.host.Execute("show solib-search-path")
	if err != nil {
		s.log.Debugf("show solib-search-path: %v", err)
		return ""
	}
	return symbols.ParseSolibSearchPath(out)
}

func (s *Session) printf(status *[]string, format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	fmt.Fprintln(s.out, line)
	if status != nil {
		*status = append(*status, line)
	}
}

func joinStatus(lines []string) string {
	return strings.Join(lines, "\n")
}
