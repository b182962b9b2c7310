package memtrack

import (
	"fmt"
	"math"
	"unsafe"
)

// Allocate returns a payload of n bytes attributed to site. The payload is
// filled with PoisonInit. On failure the context is left untouched.
func (c *Context) Allocate(n uint, site Site) (unsafe.Pointer, error) {
	if !Enabled {
		return c.passAlloc(n)
	}
	var raw unsafe.Pointer
	if n <= math.MaxUint-uint(Overhead) {
		raw = c.sys.Alloc(n + uint(Overhead))
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %d bytes at %s:%d", ErrAllocationFailed, n, baseName(site.File), site.Line)
	}
	h := newEnvelope(raw, n, site)

	c.lock.Lock()
	c.stats.Allocs++
	c.stats.CurrentAllocated += h.realSize
	c.stats.TotalAllocated += h.realSize
	if c.stats.CurrentAllocated > c.stats.MaxAllocated {
		c.stats.MaxAllocated = c.stats.CurrentAllocated
	}
	h.slot = c.blocks.pushBack(h)
	c.lock.Unlock()

	if c.traceOps() {
		c.logger.Debug().Msgf("alloc [%s (%d bytes) line %d] block: %p | usable block: %p",
			h.fileName(), n, site.Line, h, h.payload())
	}
	return h.payload(), nil
}

// Free releases a block returned by Allocate or Reallocate. nil is a no-op.
// A block that fails validation is left alone and nothing is reported.
func (c *Context) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if !Enabled {
		c.sys.Free(p)
		return
	}
	h := headerOf(p)

	c.lock.Lock()
	if checkBlock(h, c.checkLogger()) != StatusOK || !c.blocks.owns(h.slot, h) {
		c.lock.Unlock()
		return
	}
	c.stats.Frees++
	c.stats.CurrentAllocated -= h.realSize
	c.blocks.remove(h.slot)
	c.lock.Unlock()

	if c.traceOps() {
		c.logger.Debug().Msgf("free [%s (%d bytes) line %d] block: %p | usable block: %p",
			h.fileName(), h.requestedSize, h.line, h, p)
	}
	fill(h.real(), PoisonFree)
	c.sys.Free(unsafe.Pointer(h))
}

// Reallocate moves the block at p into a fresh block of n bytes, keeping the
// first min(old, n) bytes. The result never equals p. A nil p allocates;
// n == 0 frees p and returns nil. If the new block cannot be allocated, p is
// left intact.
func (c *Context) Reallocate(p unsafe.Pointer, n uint, site Site) (unsafe.Pointer, error) {
	if !Enabled {
		return c.passRealloc(p, n)
	}
	if p == nil {
		return c.Allocate(n, site)
	}
	if n == 0 {
		c.Free(p)
		return nil, nil
	}
	if status := c.check(p); status != StatusOK {
		return nil, fmt.Errorf("%w: %p: %s", ErrCorruptBlock, p, status)
	}
	if c.traceOps() {
		c.logger.Debug().Msgf("realloc [%s (%d bytes) line %d] using memory at: %p",
			baseName(site.File), n, site.Line, p)
	}

	np, err := c.Allocate(n, site)
	if err != nil {
		return nil, err
	}
	old := headerOf(p)
	size := old.requestedSize
	if uint64(n) < size {
		size = uint64(n)
	}
	copy(unsafe.Slice((*byte)(np), size), unsafe.Slice((*byte)(p), size))
	c.Free(p)
	return np, nil
}

// Validate checks the block at p, or every live block when p is nil.
func (c *Context) Validate(p unsafe.Pointer) bool {
	if !Enabled {
		return true
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if p != nil {
		return checkBlock(headerOf(p), c.checkLogger()) == StatusOK
	}
	ok := true
	c.blocks.each(func(h *blockHeader) bool {
		ok = checkBlock(h, c.checkLogger()) == StatusOK
		return ok
	})
	return ok
}

// Payload returns the payload of a valid block as a byte slice, or nil.
func (c *Context) Payload(p unsafe.Pointer) []byte {
	if !Enabled || p == nil || c.check(p) != StatusOK {
		return nil
	}
	return headerOf(p).data()
}

func (c *Context) check(p unsafe.Pointer) Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	return checkBlock(headerOf(p), c.checkLogger())
}
