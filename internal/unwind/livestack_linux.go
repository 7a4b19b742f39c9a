package unwind

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// LiveStack reads words from the calling process's own memory through
// process_vm_readv, so a wild saved frame pointer comes back as an unreadable
// word instead of faulting the reporting path. The iovec scratch lives in the
// struct; reads perform no allocation.
type LiveStack struct {
	pid    int
	word   uint64
	local  [1]unix.Iovec
	remote [1]unix.RemoteIovec
}

func NewLiveStack() *LiveStack {
	return &LiveStack{pid: unix.Getpid()}
}

func (s *LiveStack) ReadWord(addr uint64) (uint64, bool) {
	if addr == 0 || addr%8 != 0 {
		return 0, false
	}
	s.local[0] = unix.Iovec{Base: (*byte)(unsafe.Pointer(&s.word)), Len: 8}
	s.remote[0] = unix.RemoteIovec{Base: uintptr(addr), Len: 8}
	n, err := unix.ProcessVMReadv(s.pid, s.local[:], s.remote[:], 0)
	if err != nil || n != 8 {
		return 0, false
	}
	return s.word, true
}
