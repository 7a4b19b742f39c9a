package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/VladMinzatu/crashtrace/internal/debuginfo"
	"github.com/VladMinzatu/crashtrace/internal/modules"
)

// Entry is one loaded module: its load bias, its text range in
// module-relative addresses, and its guarded debug source.
type Entry struct {
	Base      uint64
	TextStart uint64
	TextEnd   uint64
	Path      string

	mu  sync.Mutex
	src debuginfo.Source
}

// WithDebugContext runs f with exclusive access to the entry's debug source.
// The underlying readers keep per-query state, so concurrent resolutions in
// the same module must serialize here; different entries don't contend.
func (e *Entry) WithDebugContext(f func(src debuginfo.Source)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(e.src)
}

// SourceBuilder constructs the debug source for one module. An error omits
// the module from the registry; its addresses then resolve to unknown.
type SourceBuilder func(m modules.Module) (debuginfo.Source, error)

// Registry is the address-sorted table of loaded modules. It is immutable
// after Build, so lookups need no locking.
type Registry struct {
	entries []*Entry
}

func Build(mods []modules.Module, build SourceBuilder) *Registry {
	entries := make([]*Entry, 0, len(mods))
	for _, m := range mods {
		src, err := build(m)
		if err != nil {
			slog.Warn("Omitting module without debug context", "path", m.Path, "error", err)
			continue
		}
		entries = append(entries, &Entry{
			Base:      m.Base,
			TextStart: m.TextStart,
			TextEnd:   m.TextEnd,
			Path:      m.Path,
			src:       src,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Base < entries[j].Base })

	// duplicate bases would make the binary search ambiguous; keep the first
	deduped := entries[:0]
	for i, e := range entries {
		if i > 0 && e.Base == entries[i-1].Base {
			slog.Warn("Dropping module with duplicate base address", "path", e.Path, "base", e.Base)
			continue
		}
		deduped = append(deduped, e)
	}
	return &Registry{entries: deduped}
}

// Lookup finds the module owning addr: the entry with the greatest base not
// above addr, provided addr-base falls inside the entry's text range. An
// address exactly equal to a base still goes through the range check.
func (r *Registry) Lookup(addr uint64) (entry *Entry, svma uint64, ok bool) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Base > addr })
	if i == 0 {
		return nil, 0, false
	}
	e := r.entries[i-1]
	svma = addr - e.Base
	if svma < e.TextStart || svma >= e.TextEnd {
		return nil, 0, false
	}
	return e, svma, true
}

func (r *Registry) Len() int { return len(r.entries) }
