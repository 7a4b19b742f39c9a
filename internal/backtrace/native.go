package backtrace

import (
	"log/slog"
	"os"
	"sync"

	"github.com/VladMinzatu/crashtrace/internal/debuginfo"
	"github.com/VladMinzatu/crashtrace/internal/modules"
	"github.com/VladMinzatu/crashtrace/internal/registry"
	"github.com/VladMinzatu/crashtrace/internal/unwind"
)

// Trace is a stack walk driver: the frame-pointer engine plus its reusable
// scratch state. A Trace serves one walk at a time; it may be reused for
// sequential walks but never concurrently. The Frame handed to the walk
// callback is reused between iterations and is only valid during the call.
type Trace struct {
	engine *unwind.Engine
	cache  *unwind.Cache
	mem    unwind.StackReader
	reg    *registry.Registry // nil means the process registry
	frame  nativeFrame
}

// NewTrace returns a Trace that walks the calling process's own stack memory
// and resolves against the process-wide module registry.
func NewTrace() *Trace {
	return &Trace{engine: unwind.NewEngine(), cache: unwind.NewCache(), mem: unwind.NewLiveStack()}
}

// NewTraceWithStack walks a captured stack image instead of live memory.
func NewTraceWithStack(mem unwind.StackReader) *Trace {
	return &Trace{engine: unwind.NewEngine(), cache: unwind.NewCache(), mem: mem}
}

func newTraceFor(mem unwind.StackReader, reg *registry.Registry) *Trace {
	return &Trace{engine: unwind.NewEngine(), cache: unwind.NewCache(), mem: mem, reg: reg}
}

// Trace extracts the registers from ctx and emits frame addresses innermost
// first. An engine failure ends the walk as if the chain were exhausted;
// frames already emitted remain valid. Nothing on this path allocates once
// the registers are read.
func (t *Trace) Trace(ctx *Context, frame func(Frame) bool) {
	ip, sp, fp := ctx.registers()
	regs := unwind.Regs{IP: ip, SP: sp, FP: fp}
	it := t.engine.IterFrames(regs, t.mem, t.cache)
	t.frame.reg = t.reg
	for {
		addr, ok, err := it.Next()
		if err != nil || !ok {
			return
		}
		// &t.frame converts to the interface without boxing a new value
		t.frame.addr = addr
		if !frame(&t.frame) {
			return
		}
	}
}

// FrameAt wraps a raw instruction address as a Frame resolving against the
// process registry, for callers that collected addresses themselves.
func FrameAt(addr uint64) Frame {
	return &nativeFrame{addr: addr}
}

type nativeFrame struct {
	addr uint64
	reg  *registry.Registry
}

func (f *nativeFrame) IP() uint64            { return f.addr }
func (f *nativeFrame) SymbolAddress() uint64 { return f.addr }

func (f *nativeFrame) ResolveSymbol(sym func(Symbol)) {
	reg := f.reg
	if reg == nil {
		reg = processRegistry()
	}
	resolveSymbol(reg, f.addr, sym)
}

// resolveSymbol maps addr to a best-effort symbol and invokes cb with it
// exactly once. The fallback chain: no owning module, a failed debug query,
// an empty record sequence, or a nameless first record all yield the unknown
// placeholder. Only the first record is taken; inlined expansions are not
// surfaced at this layer.
func resolveSymbol(reg *registry.Registry, addr uint64, cb func(Symbol)) {
	entry, svma, ok := reg.Lookup(addr)
	if !ok {
		cb(nativeSymbol{name: UnknownName, addr: addr})
		return
	}

	name := UnknownName
	entry.WithDebugContext(func(src debuginfo.Source) {
		frames, err := src.FindFrames(svma)
		if err != nil {
			return
		}
		rec, err := frames.Next()
		if err != nil || rec == nil {
			return
		}
		if rec.Name != "" {
			name = rec.Name
		}
	})
	cb(nativeSymbol{name: name, addr: addr})
}

type nativeSymbol struct {
	name string
	addr uint64
}

func (s nativeSymbol) Name() []byte         { return []byte(s.name) }
func (s nativeSymbol) Addr() (uint64, bool) { return s.addr, true }
func (s nativeSymbol) Line() (int, bool)    { return 0, false }
func (s nativeSymbol) File() (string, bool) { return "", false }

// processRegistry builds the process-wide module table on first use.
// Concurrent first callers observe the single fully built table.
var processRegistry = sync.OnceValue(buildProcessRegistry)

func buildProcessRegistry() *registry.Registry {
	enum := modules.NewEnumerator(modules.NewProcMapsReader(os.Getpid()))
	mods, err := enum.Modules()
	if err != nil {
		slog.Warn("Failed to enumerate loaded modules; all frames will be unknown", "error", err)
		mods = nil
	}
	loader, err := debuginfo.NewLoader(debuginfo.DefaultCacheSize, debuginfo.Options{Demangle: true})
	if err != nil {
		slog.Warn("Failed to initialise debug info loader", "error", err)
		return registry.Build(nil, nil)
	}
	return registry.Build(mods, func(m modules.Module) (debuginfo.Source, error) {
		return loader.Load(m.Path)
	})
}
