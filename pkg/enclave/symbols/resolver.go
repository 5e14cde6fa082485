package symbols

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/sgxdbg/pkg/logflags"
)

// Resolver produces symbol commands for enclave images, caching parsed
// section tables by path.
type Resolver struct {
	src   SectionSource
	cache *lru.Cache
	log   logflags.Logger
}

// NewResolver returns a Resolver reading section tables from src and
// keeping up to cacheSize of them.
func NewResolver(src SectionSource, cacheSize int) (*Resolver, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{src: src, cache: cache, log: logflags.SymbolsLogger()}, nil
}

// Sections returns the parsed section table of path.
func (r *Resolver) Sections(path string) ([]Section, error) {
	if v, ok := r.cache.Get(path); ok {
		return v.([]Section), nil
	}
	text, err := r.src.SectionTable(path)
	if err != nil {
		return nil, err
	}
	secs, err := ParseSectionTable(text)
	if err != nil {
		return nil, err
	}
	r.log.Debugf("%s: %d sections", path, len(secs))
	r.cache.Add(path, secs)
	return secs, nil
}

// Forget drops the cached section table of path.
func (r *Resolver) Forget(path string) {
	r.cache.Remove(path)
}

// Load returns the command loading the symbols of path at base.
func (r *Resolver) Load(path string, base uint64) (*AddSymbolFile, error) {
	secs, err := r.Sections(path)
	if err != nil {
		return nil, err
	}
	return LoadCommand(path, base, secs)
}

// Unload returns the command removing the symbols of path loaded at base.
func (r *Resolver) Unload(path string, base uint64) (RemoveSymbolFile, error) {
	secs, err := r.Sections(path)
	if err != nil {
		return RemoveSymbolFile{}, err
	}
	text, err := TextAddr(base, secs)
	if err != nil {
		return RemoveSymbolFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return UnloadCommand(text), nil
}

// HostPath maps the path of an enclave image, as recorded by the runtime,
// to a path on this machine: the path itself if it exists, otherwise its
// base name inside the directory returned by searchPath. searchPath is
// only called when path does not exist.
func HostPath(path string, searchPath func() string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return filepath.Join(searchPath(), filepath.Base(path))
}

// ParseSolibSearchPath extracts the directory from the output of the host
// debugger's 'show solib-search-path' command, which ends with the path
// followed by a period.
func ParseSolibSearchPath(out string) string {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}
	path := fields[len(fields)-1]
	if len(path) != 1 {
		path = strings.TrimSuffix(path, ".")
	}
	return path
}
