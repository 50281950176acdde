package meta

import (
	"encoding/binary"
	"fmt"
)

// Reader follows the chain written by a Writer starting from a Pointer,
// yielding typed reads. Callers must read exactly the shape they wrote —
// the format carries no self-describing schema (§4.2: "stable and
// versionless; callers must read exactly what they wrote").
type Reader struct {
	m         *Manager
	curBlock  Pointer
	curOffset uint32
}

func NewReader(m *Manager, start Pointer) *Reader {
	return &Reader{m: m, curBlock: start}
}

func (r *Reader) payloadCapacity() uint32 {
	return uint32(r.m.subBlockSize) - subBlockHeaderSize
}

// ReadData fills data with the next len(data) bytes of the stream, crossing
// sub-block boundaries transparently.
func (r *Reader) ReadData(data []byte) error {
	for len(data) > 0 {
		buf, err := r.m.pin(r.curBlock.BlockID)
		if err != nil {
			return err
		}
		payloadStart := r.m.subBlockStart(r.curBlock.Offset) + subBlockHeaderSize
		avail := r.payloadCapacity() - r.curOffset
		if avail == 0 {
			next, nextOffset := r.m.readSubBlockHeader(buf, r.curBlock.Offset)
			if !next.Valid() {
				return fmt.Errorf("meta: unexpected end of chain")
			}
			r.curBlock = Pointer{BlockID: next.BlockID, Offset: nextOffset}
			r.curOffset = 0
			continue
		}
		n := uint32(len(data))
		if n > avail {
			n = avail
		}
		copy(data[:n], buf[payloadStart+r.curOffset:payloadStart+r.curOffset+n])
		data = data[n:]
		r.curOffset += n
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	var b [1]byte
	if err := r.ReadData(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := r.ReadData(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	var b [8]byte
	if err := r.ReadData(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if err := r.ReadData(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
