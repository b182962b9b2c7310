package memtrack

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a sync.Locker that busy-waits, yielding the processor between
// attempts. Critical sections in the engine are a few counter updates and a
// list splice, so spinning is usually cheaper than parking.
type SpinLock struct {
	l int32
}

func (s *SpinLock) Lock() {
	for !atomic.CompareAndSwapInt32(&s.l, 0, 1) {
		runtime.Gosched()
	}
}

func (s *SpinLock) Unlock() {
	if atomic.SwapInt32(&s.l, 0) != 1 {
		panic("memtrack: unlock of unlocked SpinLock")
	}
}
