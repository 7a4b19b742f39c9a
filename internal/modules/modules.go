package modules

import (
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Module is one loaded code image: where it landed in the address space and
// which module-relative addresses hold its text.
type Module struct {
	Base      uint64 // load bias: vaddr + Base = runtime address
	TextStart uint64 // svma interval [TextStart, TextEnd)
	TextEnd   uint64
	Path      string
}

// ELFInfo is the slice of an ELF image layout needed to place it in memory.
type ELFInfo struct {
	MinVaddr  uint64 // lowest PT_LOAD vaddr
	TextStart uint64 // executable PT_LOAD segment, as vaddrs
	TextEnd   uint64
}

type ELFInfoReader interface {
	Info(path string) (ELFInfo, error)
}

// Enumerator lists the code modules currently mapped into a process.
type Enumerator struct {
	maps MapsReader
	elf  ELFInfoReader
}

func NewEnumerator(maps MapsReader) *Enumerator {
	return &Enumerator{maps: maps, elf: fsELFInfoReader{}}
}

func NewEnumeratorWithELF(maps MapsReader, elf ELFInfoReader) *Enumerator {
	return &Enumerator{maps: maps, elf: elf}
}

// Modules groups executable file-backed mappings by path and computes, per
// image, the load bias (first mapping start minus lowest PT_LOAD vaddr) and
// the text range in module-relative addresses. Images whose layout cannot be
// read are skipped.
func (e *Enumerator) Modules() ([]Module, error) {
	lines, err := e.maps.ReadLines()
	if err != nil {
		return nil, fmt.Errorf("reading memory map: %w", err)
	}
	regions := parseMaps(lines)

	firstStart := make(map[string]uint64)
	hasExec := make(map[string]bool)
	var order []string
	for _, r := range regions {
		if !isModulePath(r.Path) {
			continue
		}
		if _, seen := firstStart[r.Path]; !seen {
			firstStart[r.Path] = r.Start
			order = append(order, r.Path)
		} else if r.Start < firstStart[r.Path] {
			firstStart[r.Path] = r.Start
		}
		if strings.Contains(r.Perms, "x") {
			hasExec[r.Path] = true
		}
	}

	var mods []Module
	for _, path := range order {
		if !hasExec[path] {
			continue
		}
		info, err := e.elf.Info(path)
		if err != nil {
			slog.Warn("Skipping module with unreadable image", "path", path, "error", err)
			continue
		}
		mods = append(mods, Module{
			Base:      firstStart[path] - info.MinVaddr,
			TextStart: info.TextStart,
			TextEnd:   info.TextEnd,
			Path:      path,
		})
	}
	return mods, nil
}

func isModulePath(path string) bool {
	return path != "" && !strings.HasPrefix(path, "[") && !strings.HasPrefix(path, "anon_inode:")
}

type fsELFInfoReader struct{}

func (fsELFInfoReader) Info(path string) (ELFInfo, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return ELFInfo{}, err
	}
	defer ef.Close()

	var info ELFInfo
	haveLoad := false
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if !haveLoad || prog.Vaddr < info.MinVaddr {
			info.MinVaddr = prog.Vaddr
		}
		haveLoad = true
		if prog.Flags&elf.PF_X != 0 && info.TextEnd == 0 {
			info.TextStart = prog.Vaddr
			info.TextEnd = prog.Vaddr + prog.Memsz
		}
	}
	if !haveLoad {
		return ELFInfo{}, errors.New("no PT_LOAD segments")
	}
	if info.TextEnd == 0 {
		return ELFInfo{}, errors.New("no executable segment")
	}
	return info, nil
}
