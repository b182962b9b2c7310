package memtrack

// blockList keeps live envelopes in allocation order. Nodes live in a slice
// and link by index; slot 0 is the sentinel, so a zero link means "none".
type blockList struct {
	nodes []blockNode
	free  []uint32
	n     int
}

type blockNode struct {
	hdr        *blockHeader
	prev, next uint32
}

func newBlockList() *blockList {
	return &blockList{nodes: make([]blockNode, 1)}
}

func (l *blockList) len() int { return l.n }

// pushBack appends h and returns its slot.
func (l *blockList) pushBack(h *blockHeader) (slot uint32) {
	if n := len(l.free); n > 0 {
		slot = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.nodes = append(l.nodes, blockNode{})
		slot = uint32(len(l.nodes) - 1)
	}
	tail := l.nodes[0].prev
	l.nodes[slot] = blockNode{hdr: h, prev: tail, next: 0}
	l.nodes[tail].next = slot
	l.nodes[0].prev = slot
	l.n++
	return
}

// owns reports whether slot currently holds h.
func (l *blockList) owns(slot uint32, h *blockHeader) bool {
	return slot != 0 && int(slot) < len(l.nodes) && l.nodes[slot].hdr == h
}

func (l *blockList) remove(slot uint32) {
	node := l.nodes[slot]
	l.nodes[node.prev].next = node.next
	l.nodes[node.next].prev = node.prev
	l.nodes[slot] = blockNode{}
	l.free = append(l.free, slot)
	l.n--
}

// each visits live headers in insertion order until fn returns false.
func (l *blockList) each(fn func(h *blockHeader) bool) {
	for slot := l.nodes[0].next; slot != 0; {
		next := l.nodes[slot].next
		if !fn(l.nodes[slot].hdr) {
			return
		}
		slot = next
	}
}
