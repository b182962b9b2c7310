//go:build !memtrack_off

package memtrack

import (
	"bytes"
	"sync"
	"testing"
	"unsafe"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/require"
)

func TestAllocateStats(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	sizes := []uint{256, 128, 24, 0, 3}
	var sum uint64
	for i, n := range sizes {
		p, err := c.Allocate(n, site(uint32(i)))
		assert.NoError(err)
		assert.NotNil(p)
		sum += uint64(n)
	}
	s := c.Stats()
	want := sum + uint64(len(sizes))*uint64(Overhead)
	assert.Equal(uint64(len(sizes)), s.Allocs)
	assert.Zero(s.Frees)
	assert.Equal(want, s.CurrentAllocated)
	assert.Equal(want, s.TotalAllocated)
	assert.Equal(want, s.MaxAllocated)
	assert.Equal(uint64(len(sizes)), s.Pending())
	assert.Equal(len(sizes), c.Len())
}

func TestAllocateFailure(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, &HeapAllocator{Limit: 64})
	p, err := c.Allocate(1024, site(1))
	assert.Nil(p)
	assert.ErrorIs(err, ErrAllocationFailed)
	assert.Equal(Stats{}, c.Stats())
	assert.Zero(c.Len())
}

func TestAllocateFree(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	sys := &recordingAllocator{}
	c := newTestContext(t, sys)
	keep, err := c.Allocate(10, site(1))
	assert.NoError(err)
	before := c.Stats()

	p, err := c.Allocate(32, site(2))
	assert.NoError(err)
	c.Free(p)

	after := c.Stats()
	assert.Equal(before.CurrentAllocated, after.CurrentAllocated)
	assert.Equal(before.Frees+1, after.Frees)
	assert.Equal(before.Allocs+1, after.Allocs)
	assert.Equal(1, c.Len())
	assert.Equal(1, sys.Outstanding())

	assert.Len(sys.freed, 1)
	assert.Len(sys.freed[0], 32+int(Overhead))
	for _, b := range sys.freed[0] {
		assert.Equal(PoisonFree, b)
	}
	assert.True(c.Validate(keep))
}

func TestFreeNil(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	sys := &recordingAllocator{}
	c := newTestContext(t, sys)
	_, err := c.Allocate(8, site(1))
	assert.NoError(err)
	before := c.Stats()

	c.Free(nil)
	assert.Equal(before, c.Stats())
	assert.Empty(sys.freed)
}

func TestFreeCorruptFooter(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	sys := &recordingAllocator{}
	c := newTestContext(t, sys)
	p, err := c.Allocate(64, site(1))
	assert.NoError(err)
	before := c.Stats()

	bytesAt(p, 64, 1)[0] = 'x'
	c.Free(p)

	assert.Equal(before, c.Stats())
	assert.Equal(1, c.Len())
	assert.Empty(sys.freed)
}

func TestFreeCorruptHeader(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	p, err := c.Allocate(16, site(1))
	assert.NoError(err)
	before := c.Stats()

	bytesAt(p, -1, 1)[0] = 0
	c.Free(p)
	assert.Equal(before, c.Stats())
}

func TestFreeForeignSlot(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	p, err := c.Allocate(16, site(1))
	assert.NoError(err)
	before := c.Stats()

	// an intact envelope whose slot points elsewhere is not ours to free
	headerOf(p).slot = 12345
	c.Free(p)
	assert.Equal(before, c.Stats())
}

func TestReallocateNil(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	p, err := c.Reallocate(nil, 40, site(5))
	assert.NoError(err)
	assert.Equal(StatusOK, Check(p))

	s := c.Stats()
	assert.Equal(uint64(1), s.Allocs)
	assert.Equal(uint64(40)+uint64(Overhead), s.CurrentAllocated)
	assert.Equal(uint32(5), headerOf(p).line)
}

func TestReallocateZero(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	p, err := c.Allocate(40, site(1))
	assert.NoError(err)

	np, err := c.Reallocate(p, 0, site(2))
	assert.NoError(err)
	assert.Nil(np)
	s := c.Stats()
	assert.Equal(uint64(1), s.Frees)
	assert.Zero(s.CurrentAllocated)
	assert.Zero(c.Len())
}

func TestReallocateCopies(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ from, to uint }{{16, 64}, {64, 16}, {32, 32}} {
		assert := require.New(t)
		c := newTestContext(t, nil)

		p, err := c.Allocate(tc.from, site(1))
		assert.NoError(err)
		data := c.Payload(p)
		for i := range data {
			data[i] = byte(i + 1)
		}

		np, err := c.Reallocate(p, tc.to, site(2))
		assert.NoError(err)
		assert.NotEqual(p, np)
		assert.Equal(StatusOK, Check(np))

		keep := min(tc.from, tc.to)
		got := c.Payload(np)
		assert.Len(got, int(tc.to))
		for i := range keep {
			assert.Equal(byte(i+1), got[i])
		}
		for i := keep; i < tc.to; i++ {
			assert.Equal(PoisonInit, got[i])
		}

		s := c.Stats()
		assert.Equal(uint64(2), s.Allocs)
		assert.Equal(uint64(1), s.Frees)
		assert.Equal(uint64(tc.to)+uint64(Overhead), s.CurrentAllocated)
		assert.Equal(1, c.Len())
	}
}

func TestReallocateFailureKeepsOriginal(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	limit := uint(64) + uint(Overhead)
	c := newTestContext(t, &HeapAllocator{Limit: limit})
	p, err := c.Allocate(64, site(1))
	assert.NoError(err)
	copy(c.Payload(p), "still here")
	before := c.Stats()

	np, err := c.Reallocate(p, 128, site(2))
	assert.Nil(np)
	assert.ErrorIs(err, ErrAllocationFailed)
	assert.Equal(before, c.Stats())
	assert.Equal(StatusOK, Check(p))
	assert.Equal("still here", string(c.Payload(p)[:10]))
}

func TestReallocateCorrupt(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	p, err := c.Allocate(8, site(1))
	assert.NoError(err)
	bytesAt(p, 8, 1)[0] = 0
	before := c.Stats()

	np, err := c.Reallocate(p, 16, site(2))
	assert.Nil(np)
	assert.ErrorIs(err, ErrCorruptBlock)
	assert.Equal(before, c.Stats())
}

func TestValidateAll(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	assert.True(c.Validate(nil))

	var ps []unsafe.Pointer
	for i := range 5 {
		p, err := c.Allocate(uint(i*8+1), site(uint32(i)))
		assert.NoError(err)
		ps = append(ps, p)
	}
	assert.True(c.Validate(nil))

	bytesAt(ps[3], 25, 1)[0] = 0
	assert.False(c.Validate(nil))
	assert.True(c.Validate(ps[2]))
	assert.False(c.Validate(ps[3]))
}

func TestPayload(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	c := newTestContext(t, nil)
	assert.Nil(c.Payload(nil))
	p, err := c.Allocate(12, site(1))
	assert.NoError(err)
	assert.Len(c.Payload(p), 12)
	assert.Equal(p, unsafe.Pointer(&c.Payload(p)[0]))
}

func TestConcurrentAllocateFree(t *testing.T) {
	t.Parallel()

	for name, locker := range map[string]sync.Locker{
		"mutex": &sync.Mutex{},
		"spin":  &SpinLock{},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert := require.New(t)

			c := New(Config{Allocator: &HeapAllocator{}, Locker: locker, Logger: quietLogger})
			const workers, rounds = 8, 200

			var wg sync.WaitGroup
			for w := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					var kept []unsafe.Pointer
					for i := range rounds {
						p, err := c.Allocate(uint(w+i%17), site(uint32(i)))
						if err != nil {
							panic(err)
						}
						if i%4 == 0 {
							kept = append(kept, p)
							continue
						}
						if i%3 == 0 {
							if p, err = c.Reallocate(p, uint(i%31+1), site(uint32(i))); err != nil {
								panic(err)
							}
						}
						c.Free(p)
					}
					for _, p := range kept {
						c.Free(p)
					}
				}()
			}
			wg.Wait()

			s := c.Stats()
			assert.Equal(s.Allocs, s.Frees)
			assert.Zero(s.CurrentAllocated)
			assert.Zero(c.Len())
			assert.True(c.Validate(nil))
		})
	}
}

func TestHeapEnvelopeStaysInBlock(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	sys := &HeapAllocator{}
	c := newTestContext(t, sys)
	for _, n := range []uint{0, 1, 13, 64} {
		p, err := c.Allocate(n, site(1))
		assert.NoError(err)

		h := headerOf(p)
		assert.Equal(headerSize+uintptr(n), h.footerOff)
		assert.Equal(unsafe.Add(p, int(n)), unsafe.Pointer(&h.footerBytes()[0]))
		assert.Equal(StatusOK, Check(p))
		assert.True(c.Validate(nil))

		c.Free(p)
		assert.Zero(sys.Outstanding())
	}
	assert.Equal(uint64(4), c.Stats().Frees)
}

func TestTraceOps(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	run := func(options Options) string {
		var buf bytes.Buffer
		logger := &log.Logger{Level: log.DebugLevel, Writer: &log.IOWriter{Writer: &buf}}
		c := New(Config{Allocator: &HeapAllocator{}, Logger: logger, Options: options})
		p, err := c.Allocate(16, Site{File: "/src/ops.go", Function: "run", Line: 3})
		assert.NoError(err)
		p, err = c.Reallocate(p, 32, Site{File: "/src/ops.go", Function: "run", Line: 4})
		assert.NoError(err)
		c.Free(p)
		return buf.String()
	}

	assert.Empty(run(0))

	out := run(TraceOps)
	assert.Contains(out, "alloc [ops.go (16 bytes) line 3]")
	assert.Contains(out, "realloc [ops.go (32 bytes) line 4]")
	assert.Contains(out, "free [ops.go (16 bytes) line 3]")
	assert.Contains(out, "free [ops.go (32 bytes) line 4]")
	assert.NotContains(out, "valid header")
}
