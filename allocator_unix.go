//go:build unix

package memtrack

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapPrefix stores the mapping length in front of each block; 16 keeps the
// returned pointer 16-byte aligned.
const mmapPrefix = 16

// MmapAllocator gives every block its own anonymous private mapping. A
// freed block is unmapped, so later access faults instead of reading stale
// data.
type MmapAllocator struct{}

func (MmapAllocator) Alloc(size uint) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	b, err := unix.Mmap(-1, 0, int(size)+mmapPrefix,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	*(*uint64)(unsafe.Pointer(&b[0])) = uint64(len(b))
	return unsafe.Pointer(&b[mmapPrefix])
}

func (MmapAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	_ = unix.Munmap(mmapRegion(ptr))
}

func (a MmapAllocator) Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer {
	if ptr == nil {
		return a.Alloc(size)
	}
	if size == 0 {
		a.Free(ptr)
		return nil
	}
	p := a.Alloc(size)
	if p == nil {
		return nil
	}
	old := mmapRegion(ptr)[mmapPrefix:]
	copy(unsafe.Slice((*byte)(p), size), old)
	a.Free(ptr)
	return p
}

func mmapRegion(ptr unsafe.Pointer) []byte {
	base := unsafe.Add(ptr, -mmapPrefix)
	return unsafe.Slice((*byte)(base), *(*uint64)(base))
}
