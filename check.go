package memtrack

import (
	"unsafe"

	"github.com/phuslu/log"
)

// Status classifies the integrity of an envelope.
type Status int

const (
	StatusOK Status = iota
	StatusNullBlock
	StatusCorruptHeader
	StatusCorruptFooter
	StatusSizeMismatch
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNullBlock:
		return "null block"
	case StatusCorruptHeader:
		return "corrupt header"
	case StatusCorruptFooter:
		return "corrupt footer"
	case StatusSizeMismatch:
		return "size mismatch"
	}
	return "unknown"
}

// Check classifies the envelope around payload pointer p. The header is
// checked before the footer, and the size last.
func Check(p unsafe.Pointer) Status {
	if p == nil {
		return StatusNullBlock
	}
	return checkBlock(headerOf(p), nil)
}

// checkBlock validates h, tracing each step to logger when it is non-nil.
func checkBlock(h *blockHeader, logger *log.Logger) Status {
	if h == nil {
		return StatusNullBlock
	}
	if logger != nil {
		logger.Debug().Msgf("checking memory block %p", h)
	}
	if h.magic != HeaderMagic {
		return StatusCorruptHeader
	}
	if logger != nil {
		logger.Debug().Msgf("block %p: valid header, %d (%d requested) bytes, line %d in %s",
			h, h.realSize, h.requestedSize, h.line, h.fileName())
	}
	if h.footerOff == 0 || h.footerMagic() != FooterMagic {
		return StatusCorruptFooter
	}
	blockSize := uint64(h.footerOff - headerSize)
	if logger != nil {
		logger.Debug().Msgf("block %p: valid footer, calculated size %d", h, blockSize)
	}
	if blockSize != h.requestedSize {
		return StatusSizeMismatch
	}
	return StatusOK
}
