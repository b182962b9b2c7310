package memtrack

import "unsafe"

// Pass-through paths used when tracking is compiled out: no envelope and no
// bookkeeping.

func (c *Context) passAlloc(n uint) (unsafe.Pointer, error) {
	p := c.sys.Alloc(n)
	if p == nil {
		return nil, ErrAllocationFailed
	}
	return p, nil
}

func (c *Context) passRealloc(p unsafe.Pointer, n uint) (unsafe.Pointer, error) {
	if p == nil {
		return c.passAlloc(n)
	}
	if n == 0 {
		c.sys.Free(p)
		return nil, nil
	}
	r, ok := c.sys.(Reallocator)
	if !ok {
		return nil, ErrReallocUnsupported
	}
	np := r.Realloc(p, n)
	if np == nil {
		return nil, ErrAllocationFailed
	}
	return np, nil
}
