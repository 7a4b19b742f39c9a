package debuginfo

import (
	"debug/dwarf"
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ianlancetaylor/demangle"
)

type Options struct {
	// Demangle rewrites mangled C++/Rust names into readable form.
	Demangle bool
}

// Context holds the debug data of one module image and answers
// module-relative address queries. Access is not safe for concurrent use;
// callers serialize through the owning registry entry.
type Context struct {
	goTab    *gosym.Table
	dwarfDat *dwarf.Data
	elfSyms  []funcSym // sorted by value
	opts     Options
}

type funcSym struct {
	value uint64
	size  uint64
	name  string
}

// NewContext builds a debug context from the ELF image at path. Each data
// source is optional; the error is non-nil only when none is usable.
func NewContext(path string, opts Options) (*Context, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF %s: %w", path, err)
	}
	defer ef.Close()

	c := &Context{opts: opts}

	if tab, err := readGoSymbolTable(ef); err == nil {
		c.goTab = tab
	} else {
		slog.Debug("Go symbol table not available", "path", path, "error", err)
	}
	if d, err := ef.DWARF(); err == nil {
		c.dwarfDat = d
	} else {
		slog.Debug("DWARF data not available", "path", path, "error", err)
	}
	if syms, err := readElfSymbols(ef); err == nil {
		c.elfSyms = syms
	} else {
		slog.Debug("ELF symbol tables not available", "path", path, "error", err)
	}

	if c.goTab == nil && c.dwarfDat == nil && c.elfSyms == nil {
		return nil, fmt.Errorf("no usable debug data in %s", path)
	}
	slog.Info("Loaded debug context", "path", path,
		"gosym", c.goTab != nil, "dwarf", c.dwarfDat != nil, "elfsyms", len(c.elfSyms))
	return c, nil
}

// FindFrames queries the best available source for svma. Like the loading
// cascade, the first source that exists answers; a miss inside it yields an
// empty sequence rather than falling through.
func (c *Context) FindFrames(svma uint64) (Frames, error) {
	if c.goTab != nil {
		return c.findGoFrames(svma), nil
	}
	if c.dwarfDat != nil {
		return &dwarfFrames{d: c.dwarfDat, rdr: c.dwarfDat.Reader(), target: svma, opts: c.opts}, nil
	}
	if c.elfSyms != nil {
		return c.findElfFrames(svma), nil
	}
	return nil, errors.New("no symbol data available")
}

func (c *Context) findGoFrames(svma uint64) Frames {
	fn := c.goTab.PCToFunc(svma)
	if fn == nil {
		return emptyFrames{}
	}
	return &singleFrames{rec: Record{Name: fn.Name, Entry: fn.Entry}}
}

func (c *Context) findElfFrames(svma uint64) Frames {
	syms := c.elfSyms
	i := sort.Search(len(syms), func(i int) bool { return syms[i].value > svma })
	if i == 0 {
		return emptyFrames{}
	}
	s := syms[i-1]
	if s.size > 0 && svma >= s.value+s.size {
		return emptyFrames{}
	}
	return &singleFrames{rec: Record{Name: c.filterName(s.name), Entry: s.value}}
}

func (c *Context) filterName(name string) string {
	if c.opts.Demangle && name != "" {
		return demangle.Filter(name)
	}
	return name
}

// dwarfFrames scans subprogram entries lazily on the first Next call.
type dwarfFrames struct {
	d      *dwarf.Data
	rdr    *dwarf.Reader
	target uint64
	opts   Options
	done   bool
}

func (f *dwarfFrames) Next() (*Record, error) {
	if f.done {
		return nil, nil
	}
	f.done = true
	for {
		ent, err := f.rdr.Next()
		if err != nil {
			return nil, err
		}
		if ent == nil {
			return nil, nil
		}
		if ent.Tag != dwarf.TagSubprogram {
			continue
		}
		if !f.entryCovers(ent) {
			continue
		}

		name := subprogramName(ent)
		if f.opts.Demangle && name != "" {
			name = demangle.Filter(name)
		}
		var entry uint64
		if v, ok := ent.Val(dwarf.AttrLowpc).(uint64); ok {
			entry = v
		}
		return &Record{Name: name, Entry: entry}, nil
	}
}

// entryCovers prefers the explicit ranges API (handles DWARF v5 rnglists and
// v2/v4 ranges) and falls back to lowpc/highpc.
func (f *dwarfFrames) entryCovers(ent *dwarf.Entry) bool {
	if ranges, err := f.d.Ranges(ent); err == nil && len(ranges) > 0 {
		for _, r := range ranges {
			if f.target >= r[0] && f.target < r[1] {
				return true
			}
		}
		return false
	}
	var lowpc, highpc uint64
	if v, ok := ent.Val(dwarf.AttrLowpc).(uint64); ok {
		lowpc = v
	}
	switch v := ent.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		highpc = v
	case int64:
		if lowpc != 0 && v > 0 {
			highpc = lowpc + uint64(v)
		}
	}
	return lowpc != 0 && highpc != 0 && f.target >= lowpc && f.target < highpc
}

func subprogramName(ent *dwarf.Entry) string {
	if s, ok := ent.Val(dwarf.AttrLinkageName).(string); ok && s != "" {
		return s
	}
	if s, ok := ent.Val(dwarf.AttrName).(string); ok {
		return s
	}
	return ""
}

func readElfSymbols(ef *elf.File) ([]funcSym, error) {
	raw := make([]elf.Symbol, 0)
	if section := ef.Section(".symtab"); section != nil {
		if st, err := ef.Symbols(); err == nil {
			raw = append(raw, st...)
		}
	}
	if section := ef.Section(".dynsym"); section != nil {
		if st, err := ef.DynamicSymbols(); err == nil {
			raw = append(raw, st...)
		}
	}
	if len(raw) == 0 {
		return nil, errors.New("no symbol tables available in ELF")
	}

	syms := make([]funcSym, 0, len(raw))
	for _, s := range raw {
		if s.Value == 0 || s.Name == "" {
			continue
		}
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		syms = append(syms, funcSym{value: s.Value, size: s.Size, name: s.Name})
	}
	if len(syms) == 0 {
		return nil, errors.New("no function symbols in ELF")
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].value < syms[j].value })
	return syms, nil
}

func readGoSymbolTable(ef *elf.File) (*gosym.Table, error) {
	pcln := ef.Section(".gopclntab")
	if pcln == nil {
		return nil, errors.New("no .gopclntab section")
	}
	pclnData, err := pcln.Data()
	if err != nil {
		return nil, fmt.Errorf("read .gopclntab: %w", err)
	}

	var symtabData []byte
	if symsec := ef.Section(".gosymtab"); symsec != nil {
		if data, err2 := symsec.Data(); err2 == nil {
			symtabData = data
		}
	}

	var textAddr uint64
	if text := ef.Section(".text"); text != nil {
		textAddr = text.Addr
	}
	lt := gosym.NewLineTable(pclnData, textAddr)
	// A nil .gosymtab is fine for modern binaries: PCToFunc works off names
	// embedded in the pclntab itself.
	return gosym.NewTable(symtabData, lt)
}
