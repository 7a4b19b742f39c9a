package unwind

import (
	"errors"
)

// Regs is the register state a walk starts from.
type Regs struct {
	IP uint64
	SP uint64
	FP uint64
}

// StackReader reads single words from stack memory. ok is false when the
// address is not readable; the iterator treats that as a corrupt chain.
type StackReader interface {
	ReadWord(addr uint64) (word uint64, ok bool)
}

const DefaultMaxDepth = 128

var ErrBadFrame = errors.New("unreadable or corrupt stack frame")
var ErrTooDeep = errors.New("frame chain exceeds max depth")

// Engine walks saved frame-pointer chains: at each frame pointer fp, [fp]
// holds the caller's fp and [fp+8] the return address.
type Engine struct {
	maxDepth int
}

func NewEngine() *Engine {
	return &Engine{maxDepth: DefaultMaxDepth}
}

// Cache holds the iterator state so that starting and driving a walk performs
// no allocation. A Cache serves one walk at a time.
type Cache struct {
	iter FrameIter
}

func NewCache() *Cache {
	return &Cache{}
}

// IterFrames initializes the cache for a walk starting at regs and returns the
// frame iterator. The first address produced is regs.IP itself.
func (e *Engine) IterFrames(regs Regs, mem StackReader, c *Cache) *FrameIter {
	c.iter = FrameIter{
		mem:      mem,
		fp:       regs.FP,
		sp:       regs.SP,
		first:    regs.IP,
		pending:  true,
		maxDepth: e.maxDepth,
	}
	return &c.iter
}

type FrameIter struct {
	mem      StackReader
	fp       uint64
	sp       uint64
	first    uint64
	pending  bool
	depth    int
	maxDepth int
	done     bool
	failNext error
}

// Next returns the next frame address. ok is false when the chain is
// exhausted; a non-nil error also ends the walk and no further frames are
// produced. The iterator is not restartable.
func (it *FrameIter) Next() (addr uint64, ok bool, err error) {
	if it.done {
		return 0, false, nil
	}
	if it.failNext != nil {
		it.done = true
		err := it.failNext
		it.failNext = nil
		return 0, false, err
	}
	if it.pending {
		it.pending = false
		return it.first, true, nil
	}
	if it.fp == 0 {
		it.done = true
		return 0, false, nil
	}
	if it.depth >= it.maxDepth {
		it.done = true
		return 0, false, ErrTooDeep
	}
	if it.sp != 0 && it.fp < it.sp {
		it.done = true
		return 0, false, ErrBadFrame
	}
	savedFP, ok1 := it.mem.ReadWord(it.fp)
	ret, ok2 := it.mem.ReadWord(it.fp + 8)
	if !ok1 || !ok2 {
		it.done = true
		return 0, false, ErrBadFrame
	}
	if ret == 0 {
		it.done = true
		return 0, false, nil
	}
	it.depth++
	// fp must strictly grow towards the stack base, otherwise the chain
	// loops; the return address already read is still a valid frame
	if savedFP != 0 && savedFP <= it.fp {
		it.failNext = ErrBadFrame
		return ret, true, nil
	}
	it.fp = savedFP
	return ret, true, nil
}

// StackImage is a StackReader over a captured stack snapshot, with Words[0]
// located at address Base.
type StackImage struct {
	Base  uint64
	Words []uint64
}

func (s *StackImage) ReadWord(addr uint64) (uint64, bool) {
	if addr < s.Base || addr%8 != 0 {
		return 0, false
	}
	i := (addr - s.Base) / 8
	if i >= uint64(len(s.Words)) {
		return 0, false
	}
	return s.Words[i], true
}
