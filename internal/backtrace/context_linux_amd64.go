package backtrace

import (
	"encoding/binary"
	"unsafe"
)

// glibc ucontext_t layout on x86-64: uc_flags (8) + uc_link (8) + uc_stack
// (24) precede uc_mcontext, which starts with gregs[23].
const (
	ucontextSize = 968
	gregsOffset  = 40

	regRBP = 10
	regRSP = 15
	regRIP = 16
)

func (c *Context) registers() (ip, sp, fp uint64) {
	g := (*[23]uint64)(unsafe.Add(c.p, gregsOffset))
	return g[regRIP], g[regRSP], g[regRBP]
}

// NewSyntheticContext builds a context with the given registers at the
// platform offsets, for explicit trace requests and tests.
func NewSyntheticContext(ip, sp, fp uint64) *Context {
	buf := make([]byte, ucontextSize)
	binary.LittleEndian.PutUint64(buf[gregsOffset+8*regRIP:], ip)
	binary.LittleEndian.PutUint64(buf[gregsOffset+8*regRSP:], sp)
	binary.LittleEndian.PutUint64(buf[gregsOffset+8*regRBP:], fp)
	return &Context{p: unsafe.Pointer(&buf[0]), buf: buf}
}
