package backtrace

import (
	"unsafe"
)

// Context is an opaque platform execution snapshot (a ucontext_t on Linux),
// as handed to a signal handler. It is read-only to this package; the
// register fields are extracted at platform-fixed offsets.
type Context struct {
	p   unsafe.Pointer
	buf []byte // keeps synthetic snapshots alive
}

// ContextFromPointer wraps the ucontext pointer delivered to a signal
// handler. The memory must outlive the Context.
func ContextFromPointer(p unsafe.Pointer) *Context {
	return &Context{p: p}
}
