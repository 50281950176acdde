// Package segment implements column segments (§4.3): the compressed or
// uncompressed span of one column within one row group, addressed by a
// data_pointer, plus the per-column base_statistics that accompany them.
//
// Grounded on
// _examples/original_source/components/table/storage/data_pointer.{hpp,cpp}
// for the data_pointer_t / row_group_pointer_t shape (including the
// supplemented per-segment row_start and the separate deletes_pointers
// chain, see SPEC_FULL.md §4), and on base_statistics.cpp for the
// statistics kernels.
package segment

import (
	"github.com/otbx/otbx/internal/block"
	"github.com/otbx/otbx/internal/meta"
)

// CompressionCode names the compression applied to a segment's serialized
// bytes, wiring klauspost/compress's zstd codec per SPEC_FULL.md's domain
// stack table.
type CompressionCode uint8

const (
	Uncompressed CompressionCode = iota
	Zstd
)

// Pointer is a data_pointer_t: the on-disk address and framing of one
// column segment within one row group. RowStart is carried per-segment
// (not only per row-group) so that a column's segment chain can have
// sub-spans with independent starts after partial updates, per
// SPEC_FULL.md §4's supplemented feature.
type Pointer struct {
	RowStart    uint64
	TupleCount  uint64
	Start       meta.Pointer
	Compression CompressionCode
	SegmentSize uint64
}

// Serialize writes p to w using the metadata stream's typed primitives.
func (p Pointer) Serialize(w *meta.Writer) error {
	if err := w.WriteUint64(p.RowStart); err != nil {
		return err
	}
	if err := w.WriteUint64(p.TupleCount); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(p.Compression)); err != nil {
		return err
	}
	if err := w.WriteUint64(p.SegmentSize); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(p.Start.BlockID)); err != nil {
		return err
	}
	return w.WriteUint32(p.Start.Offset)
}

// DeserializePointer reads a Pointer previously written by Serialize.
func DeserializePointer(r *meta.Reader) (Pointer, error) {
	var p Pointer
	var err error
	if p.RowStart, err = r.ReadUint64(); err != nil {
		return p, err
	}
	if p.TupleCount, err = r.ReadUint64(); err != nil {
		return p, err
	}
	comp, err := r.ReadUint8()
	if err != nil {
		return p, err
	}
	p.Compression = CompressionCode(comp)
	if p.SegmentSize, err = r.ReadUint64(); err != nil {
		return p, err
	}
	blockID, err := r.ReadUint64()
	if err != nil {
		return p, err
	}
	offset, err := r.ReadUint32()
	if err != nil {
		return p, err
	}
	p.Start.BlockID = block.ID(blockID)
	p.Start.Offset = offset
	return p, nil
}
