package meta

import (
	"encoding/binary"

	"github.com/otbx/otbx/internal/block"
)

// Writer spills an arbitrary-length byte stream across newly allocated
// sub-blocks, chained by each sub-block's header. Its start pointer is the
// stable handle callers store (e.g. as a table's row-group-pointer root).
type Writer struct {
	m           *Manager
	start       Pointer
	curBlock    block.ID
	curSubBlock uint32
	curOffset   uint32 // byte offset within the current sub-block's payload
}

// NewWriter allocates the first sub-block and returns a ready writer.
func NewWriter(m *Manager) (*Writer, error) {
	p, err := m.allocate()
	if err != nil {
		return nil, err
	}
	return &Writer{m: m, start: p, curBlock: p.BlockID, curSubBlock: p.Offset}, nil
}

// Pointer returns the stream's start pointer, the handle a caller persists
// to later construct a Reader.
func (w *Writer) Pointer() Pointer { return w.start }

func (w *Writer) payloadCapacity() uint32 {
	return uint32(w.m.subBlockSize) - subBlockHeaderSize
}

func (w *Writer) currentBuf() ([]byte, error) {
	return w.m.pin(w.curBlock)
}

// ensureSpace allocates a fresh chained sub-block (possibly in a new block,
// every subBlocksPerBlock sub-blocks) when the current one is full.
func (w *Writer) ensureSpace() error {
	if w.curOffset < w.payloadCapacity() {
		return nil
	}
	buf, err := w.currentBuf()
	if err != nil {
		return err
	}
	var nextPtr Pointer
	if w.curSubBlock+1 < subBlocksPerBlock {
		nextPtr = Pointer{BlockID: w.curBlock, Offset: w.curSubBlock + 1}
		nbuf, err := w.m.pin(nextPtr.BlockID)
		if err != nil {
			return err
		}
		w.m.writeSubBlockHeader(nbuf, nextPtr.Offset, Pointer{BlockID: block.ID(block.InvalidBlockID)}, 0)
		w.m.dirty[nextPtr.BlockID] = true
	} else {
		nextPtr, err = w.m.allocate()
		if err != nil {
			return err
		}
	}
	w.m.writeSubBlockHeader(buf, w.curSubBlock, nextPtr, nextPtr.Offset)
	w.m.dirty[w.curBlock] = true
	w.curBlock = nextPtr.BlockID
	w.curSubBlock = nextPtr.Offset
	w.curOffset = 0
	return nil
}

// WriteData appends size raw bytes to the stream, spilling into new
// sub-blocks as needed.
func (w *Writer) WriteData(data []byte) error {
	for len(data) > 0 {
		if err := w.ensureSpace(); err != nil {
			return err
		}
		buf, err := w.currentBuf()
		if err != nil {
			return err
		}
		payloadStart := w.m.subBlockStart(w.curSubBlock) + subBlockHeaderSize
		avail := w.payloadCapacity() - w.curOffset
		n := uint32(len(data))
		if n > avail {
			n = avail
		}
		copy(buf[payloadStart+w.curOffset:payloadStart+w.curOffset+n], data[:n])
		w.m.dirty[w.curBlock] = true
		w.curOffset += n
		data = data[n:]
	}
	return nil
}

func (w *Writer) WriteUint8(v uint8) error  { return w.WriteData([]byte{v}) }
func (w *Writer) WriteUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.WriteData(b[:])
}
func (w *Writer) WriteUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return w.WriteData(b[:])
}

// WriteString writes a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) error {
	if err := w.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	return w.WriteData([]byte(s))
}

// Flush persists every dirty block touched by this writer (and any sibling
// writer/reader sharing the same Manager).
func (w *Writer) Flush() error { return w.m.Flush() }
