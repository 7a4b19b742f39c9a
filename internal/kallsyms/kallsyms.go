package kallsyms

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Symbol is a resolved kernel symbol: the name owning the address plus the
// offset of the address from the symbol's start.
type Symbol struct {
	Name   string
	Offset uint64
}

type Loader interface {
	ReadLines() ([]string, error)
}

type FSLoader struct {
	path string
}

func NewFSLoader() *FSLoader {
	return &FSLoader{path: "/proc/kallsyms"}
}

func (l *FSLoader) ReadLines() ([]string, error) {
	slog.Debug("Loading kernel symbol table", "path", l.path)
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

type entry struct {
	addr uint64
	name string
}

// Resolver answers kernel-space address queries from a sorted kallsyms table.
type Resolver struct {
	entries []entry
}

func NewResolver(loader Loader) (*Resolver, error) {
	lines, err := loader.ReadLines()
	if err != nil {
		return nil, err
	}
	entries := make([]entry, 0, 100000)
	for _, line := range lines {
		// Format: "ffffffff81000000 T _text" (addr type name [module])
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{addr: addr, name: parts[2]})
	}
	slog.Info("Loaded kallsyms for kernel symbolization", "entries", len(entries))

	// Sort by address to allow binary search
	sort.Slice(entries, func(i, j int) bool { return entries[i].addr < entries[j].addr })
	return &Resolver{entries: entries}, nil
}

func (r *Resolver) Resolve(pc uint64) (*Symbol, error) {
	if len(r.entries) == 0 {
		return nil, fmt.Errorf("empty kallsyms table")
	}
	// Find greatest entry.addr <= pc
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].addr > pc })
	if i == 0 {
		return nil, fmt.Errorf("no kernel symbol <= pc: 0x%x", pc)
	}
	e := r.entries[i-1]
	return &Symbol{Name: e.name, Offset: pc - e.addr}, nil
}
