// Package meta implements the metadata sub-block stream format layered
// over the block manager (§4.2): each 256 KiB block is carved into 64
// sub-blocks of ~4 KiB, chained by a (next_block, next_offset) header, used
// to serialize arbitrary-length blobs (catalog entries, row-group
// pointers, statistics).
//
// Grounded on
// _examples/original_source/components/table/storage/metadata_manager.hpp
// and metadata_{reader,writer}.hpp, generalized from the original's
// pin()-into-live-buffer API to Go's slice-based in-memory block cache.
package meta

import (
	"encoding/binary"
	"fmt"

	"github.com/otbx/otbx/internal/block"
)

// subBlocksPerBlock is the fixed fan-out of one 256 KiB block into
// metadata sub-blocks.
const subBlocksPerBlock = 64

// subBlockHeaderSize is the (next_block_pointer u64, next_offset u32)
// chain header at the start of every sub-block.
const subBlockHeaderSize = 8 + 4

// blockPayloadOffset is where block.Manager's own CRC slot ends and usable
// payload begins within one raw block buffer.
const blockPayloadOffset = 8

// Pointer names a position within the metadata sub-block chain.
type Pointer struct {
	BlockID block.ID
	Offset  uint32
}

func (p Pointer) Valid() bool { return p.BlockID != block.ID(block.InvalidBlockID) }

// InvalidPointer is the sentinel "no metadata" pointer.
var InvalidPointer = Pointer{BlockID: block.ID(block.InvalidBlockID)}

// Manager owns the in-memory, pinned copies of blocks currently being
// written or read as metadata streams, and the block manager those blocks
// ultimately belong to.
type Manager struct {
	bm           *block.Manager
	subBlockSize uint64
	blocks       map[block.ID][]byte // pinned, possibly-dirty raw block buffers
	dirty        map[block.ID]bool
}

func NewManager(bm *block.Manager) *Manager {
	return &Manager{
		bm:           bm,
		subBlockSize: (bm.AllocSize() - blockPayloadOffset) / subBlocksPerBlock,
		blocks:       make(map[block.ID][]byte),
		dirty:        make(map[block.ID]bool),
	}
}

func (m *Manager) SubBlockSize() uint64 { return m.subBlockSize }

// pin returns the live, mutable raw block buffer for id, loading it from
// the block manager on first touch.
func (m *Manager) pin(id block.ID) ([]byte, error) {
	if buf, ok := m.blocks[id]; ok {
		return buf, nil
	}
	buf, err := m.bm.Read(id)
	if err != nil {
		// A brand-new block has never been written; start it zeroed.
		buf = make([]byte, m.bm.AllocSize())
	} else {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		buf = cp
	}
	m.blocks[id] = buf
	return buf, nil
}

// allocate reserves a fresh block and returns its first sub-block pointer,
// with the chain header pre-initialized to "no next" and a zero offset.
func (m *Manager) allocate() (Pointer, error) {
	id := m.bm.AllocateBlock()
	buf, err := m.pin(id)
	if err != nil {
		return Pointer{}, err
	}
	m.writeSubBlockHeader(buf, 0, Pointer{BlockID: block.ID(block.InvalidBlockID)}, 0)
	m.dirty[id] = true
	return Pointer{BlockID: id, Offset: 0}, nil
}

func (m *Manager) subBlockStart(offset uint32) uint32 {
	return blockPayloadOffset + offset*uint32(m.subBlockSize)
}

func (m *Manager) writeSubBlockHeader(buf []byte, subBlockIdx uint32, next Pointer, nextOffset uint32) {
	start := m.subBlockStart(subBlockIdx)
	binary.LittleEndian.PutUint64(buf[start:start+8], uint64(next.BlockID))
	binary.LittleEndian.PutUint32(buf[start+8:start+12], nextOffset)
}

func (m *Manager) readSubBlockHeader(buf []byte, subBlockIdx uint32) (next Pointer, nextOffset uint32) {
	start := m.subBlockStart(subBlockIdx)
	nextBlock := binary.LittleEndian.Uint64(buf[start : start+8])
	nextOffset = binary.LittleEndian.Uint32(buf[start+8 : start+12])
	return Pointer{BlockID: block.ID(nextBlock)}, nextOffset
}

// Flush writes every pinned, dirty block back through the block manager.
func (m *Manager) Flush() error {
	for id, buf := range m.blocks {
		if !m.dirty[id] {
			continue
		}
		if err := m.bm.Write(buf, id); err != nil {
			return fmt.Errorf("meta: flush block %d: %w", id, err)
		}
		m.dirty[id] = false
	}
	return nil
}
