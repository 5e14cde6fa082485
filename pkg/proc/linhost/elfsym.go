package linhost

import (
	"debug/elf"
	"errors"
	"fmt"
)

// ErrSymbolNotFound is returned when no loaded image defines a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// wordSize returns the pointer size of the ELF file at path.
func wordSize(path string) (int, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	switch f.Class {
	case elf.ELFCLASS32:
		return 4, nil
	case elf.ELFCLASS64:
		return 8, nil
	}
	return 0, fmt.Errorf("%s: unknown ELF class %v", path, f.Class)
}

// lookupSymbol returns the link time address of name in the ELF file at
// path, and the link time address of the first loadable segment.
func lookupSymbol(path, name string) (value, firstLoad uint64, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	firstLoad = ^uint64(0)
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD && prog.Off == 0 {
			firstLoad = prog.Vaddr
			if prog.Align > 1 {
				firstLoad &^= prog.Align - 1
			}
			break
		}
	}
	if firstLoad == ^uint64(0) {
		return 0, 0, fmt.Errorf("%s: no loadable segment at offset 0", path)
	}

	for _, symsFn := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		syms, err := symsFn()
		if err != nil {
			continue
		}
		for _, sym := range syms {
			if sym.Name == name && sym.Section != elf.SHN_UNDEF {
				return sym.Value, firstLoad, nil
			}
		}
	}
	return 0, 0, ErrSymbolNotFound
}

// resolveSymbol returns the run time address of name, searching every
// file mapped in maps.
func resolveSymbol(maps []Mapping, name string) (uint64, error) {
	seen := make(map[string]bool)
	for _, m := range maps {
		if m.Filename == "" || m.Offset != 0 || seen[m.Filename] {
			continue
		}
		seen[m.Filename] = true
		value, firstLoad, err := lookupSymbol(m.Filename, name)
		if err != nil {
			continue
		}
		return m.Addr - firstLoad + value, nil
	}
	return 0, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
}
