package memtrack

import (
	"sync"
	"unsafe"

	"github.com/smasher164/mem"
)

// Allocator is the system allocator that tracked requests are forwarded to.
// Alloc returns nil when it cannot serve the request.
type Allocator interface {
	Alloc(size uint) unsafe.Pointer
	Free(ptr unsafe.Pointer)
}

// Reallocator is implemented by allocators that can resize a block they
// handed out. It is only used when tracking is compiled out.
type Reallocator interface {
	Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer
}

// MemAllocator takes memory from the OS through github.com/smasher164/mem,
// outside the Go heap.
type MemAllocator struct{}

func (MemAllocator) Alloc(size uint) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	return mem.Alloc(size)
}

func (MemAllocator) Free(ptr unsafe.Pointer) {
	mem.Free(ptr)
}

// HeapAllocator serves blocks from the Go heap. Blocks are pinned in a map
// until freed. A non-zero Limit caps the bytes outstanding at once.
type HeapAllocator struct {
	Limit uint

	lock   sync.Mutex
	used   uint
	blocks map[uintptr][]byte
}

func (a *HeapAllocator) Alloc(size uint) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.Limit != 0 && a.used+size > a.Limit {
		return nil
	}
	if a.blocks == nil {
		a.blocks = make(map[uintptr][]byte)
	}
	// uint64 backing keeps every block 8-byte aligned.
	words := make([]uint64, (size+7)/8)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	ptr := unsafe.Pointer(&b[0])
	a.blocks[uintptr(ptr)] = b
	a.used += size
	return ptr
}

func (a *HeapAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if b, ok := a.blocks[uintptr(ptr)]; ok {
		a.used -= uint(len(b))
		delete(a.blocks, uintptr(ptr))
	}
}

func (a *HeapAllocator) Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer {
	if ptr == nil {
		return a.Alloc(size)
	}
	if size == 0 {
		a.Free(ptr)
		return nil
	}
	a.lock.Lock()
	old, ok := a.blocks[uintptr(ptr)]
	a.lock.Unlock()
	if !ok {
		return nil
	}
	p := a.Alloc(size)
	if p == nil {
		return nil
	}
	copy(unsafe.Slice((*byte)(p), size), old)
	a.Free(ptr)
	return p
}

// Outstanding returns the number of blocks not yet freed.
func (a *HeapAllocator) Outstanding() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.blocks)
}
