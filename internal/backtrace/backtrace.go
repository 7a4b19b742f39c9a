// Package backtrace turns a captured execution context into a sequence of
// resolved stack frames. It is built to run on the crash-reporting path:
// walking performs no allocation once started, and every failure mode
// degrades to the unknown placeholder instead of an error.
package backtrace

// UnknownName marks a frame whose symbol could not be resolved.
const UnknownName = "<unknown>"

// Tracer walks the stack captured in ctx, invoking frame for each address in
// innermost-to-outermost order until exhaustion, an engine failure, or the
// callback returning false.
type Tracer interface {
	Trace(ctx *Context, frame func(Frame) bool)
}

// Frame is one instruction address along a walked call chain.
type Frame interface {
	// IP is the instruction pointer value of this frame.
	IP() uint64
	// SymbolAddress is the raw address used for display and offset math.
	SymbolAddress() uint64
	// ResolveSymbol resolves a best-effort symbol for this frame and invokes
	// sym with it exactly once. It never fails; unresolvable frames yield a
	// symbol named UnknownName.
	ResolveSymbol(sym func(Symbol))
}

// Symbol is the resolved (or placeholder) identity of a frame.
type Symbol interface {
	// Name returns the raw symbol name bytes, or nil when absent.
	Name() []byte
	Addr() (uint64, bool)
	// Line and File are always absent in this backend.
	Line() (int, bool)
	File() (string, bool)
}
