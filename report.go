package memtrack

import (
	"bufio"
	"fmt"
	"io"
	"unsafe"
)

// WriteReport writes the statistics and every live block to w. It does not
// release anything.
func (c *Context) WriteReport(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	bw := bufio.NewWriter(w)
	s := c.stats
	pending := s.Allocs - s.Frees
	// Only real sizes are counted; the overhead is the same for every block.
	requestedAlloc := s.TotalAllocated - uint64(Overhead)*s.Allocs
	requestedUnfreed := s.CurrentAllocated - uint64(Overhead)*pending

	fmt.Fprintf(bw, "# Details\n"+
		"Header+Footer Size......: %d\n"+
		"\n"+
		"# Code Stats\n"+
		"Allocations.............: %d\n"+
		"Frees...................: %d\n"+
		"Pending Frees...........: %d\n"+
		"\n"+
		"# Totals, Real\n"+
		"Bytes Allocated.........: %d\n"+
		"Unfreed Bytes...........: %d\n"+
		"\n"+
		"# Totals, Requested\n"+
		"Bytes Allocated.........: %d\n"+
		"Unfreed Bytes...........: %d\n"+
		"\n"+
		"##################\n"+
		"  Unfreed Blocks  \n",
		Overhead,
		s.Allocs, s.Frees, pending,
		s.TotalAllocated, s.CurrentAllocated,
		requestedAlloc, requestedUnfreed)

	i := 0
	c.blocks.each(func(h *blockHeader) bool {
		i++
		fmt.Fprintf(bw, "##################\n%d)\nBlock...: %016x\n", i, uintptr(unsafe.Pointer(h)))

		status := checkBlock(h, c.checkLogger())
		switch status {
		case StatusNullBlock:
			fmt.Fprintf(bw, "Error...: Block Pointer was NULL\n")
		case StatusCorruptHeader:
			fmt.Fprintf(bw, "Error...: Corrupt Header\n")
		case StatusCorruptFooter:
			fmt.Fprintf(bw, "Error...: Corrupt Footer\n")
		case StatusSizeMismatch:
			fmt.Fprintf(bw, "Error...: Size Mismatch (%d actual bytes)\n", h.requestedSize)
		}
		if status == StatusNullBlock || status == StatusCorruptHeader {
			return true
		}

		fmt.Fprintf(bw, "Size....: %d\nFunction: %s\nFile....: %s\nLine....: %d\n",
			h.requestedSize, h.functionName(), h.fileName(), h.line)
		data := unsafe.Slice((*byte)(h.payload()), min(h.requestedSize, uint64(c.outputLimit)))
		bw.WriteString("Data....: ")
		for _, b := range data {
			fmt.Fprintf(bw, "%02x ", b)
		}
		bw.WriteString("\n")
		return true
	})
	return bw.Flush()
}

// releaseAll hands every remaining block back to the system allocator. If
// the heap is already corrupt this may crash.
func (c *Context) releaseAll() {
	c.lock.Lock()
	var blocks []*blockHeader
	c.blocks.each(func(h *blockHeader) bool {
		blocks = append(blocks, h)
		return true
	})
	c.blocks = newBlockList()
	c.lock.Unlock()

	for _, h := range blocks {
		c.sys.Free(unsafe.Pointer(h))
	}
}
