package memtrack

import (
	"encoding/binary"
	"strings"
	"unsafe"
)

const (
	HeaderMagic uint32 = 0xCAFEFACE
	FooterMagic uint32 = 0xDEADBEEF

	// PoisonInit fills every fresh envelope, PoisonFree every released one.
	PoisonInit byte = 0x0F
	PoisonFree byte = 0xFF

	MaxFileLen     = 31
	MaxFunctionLen = 31
)

// blockHeader precedes every payload. magic must stay the last field so the
// bytes right before the payload are the header canary.
type blockHeader struct {
	footerOff     uintptr // footer offset from the header start
	file          [MaxFileLen + 1]byte
	function      [MaxFunctionLen + 1]byte
	requestedSize uint64
	realSize      uint64
	line          uint32
	slot          uint32
	_             uint32
	magic         uint32
}

type blockFooter struct {
	magic [4]byte
}

const (
	headerSize = unsafe.Sizeof(blockHeader{})
	footerSize = unsafe.Sizeof(blockFooter{})

	// Overhead is the fixed cost added to every tracked request.
	Overhead = headerSize + footerSize
)

func headerOf(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Add(p, -int(headerSize)))
}

func (h *blockHeader) payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), headerSize)
}

func (h *blockHeader) footerBytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Add(unsafe.Pointer(h), h.footerOff)), footerSize)
}

func (h *blockHeader) footerMagic() uint32 {
	return binary.NativeEndian.Uint32(h.footerBytes())
}

func (h *blockHeader) real() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(h)), h.realSize)
}

func (h *blockHeader) data() []byte {
	return unsafe.Slice((*byte)(h.payload()), h.requestedSize)
}

func (h *blockHeader) fileName() string {
	return cString(h.file[:])
}

func (h *blockHeader) functionName() string {
	return cString(h.function[:])
}

// newEnvelope stamps a fresh envelope over raw, which must hold at least
// n+Overhead bytes.
func newEnvelope(raw unsafe.Pointer, n uint, site Site) *blockHeader {
	realSize := uint64(n) + uint64(Overhead)
	fill(unsafe.Slice((*byte)(raw), realSize), PoisonInit)

	h := (*blockHeader)(raw)
	h.footerOff = headerSize + uintptr(n)
	binary.NativeEndian.PutUint32(h.footerBytes(), FooterMagic)
	copyName(h.file[:], baseName(site.File))
	copyName(h.function[:], site.Function)
	h.line = site.Line
	h.requestedSize = uint64(n)
	h.realSize = realSize
	h.magic = HeaderMagic
	return h
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func baseName(file string) string {
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		return file[i+1:]
	}
	return file
}

// copyName copies s into dst, truncating so the last byte is always NUL.
func copyName(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
