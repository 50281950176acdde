package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

// Segment is a column segment (§4.3): a block range holding one column's
// physical bytes for one contiguous run of rows, plus the statistics
// collected over it. Segments are immutable once written; a row group
// replaces rather than mutates them.
//
// Grounded on
// _examples/original_source/components/table/column_segment.{hpp,cpp} and
// uncompressed_segment.cpp for the encode/decode shape, adapted to a
// Go byte-slice buffer instead of a pmr allocator.
type Segment struct {
	Type  value.LogicalType
	Ptr   Pointer
	Stats *Statistics

	// buf holds the decoded, in-memory column bytes once materialized by
	// scan or prepared by append; nil until first use.
	buf []byte
}

// NewSegment creates an empty, in-memory segment ready to receive appended
// vectors before it is ever flushed to disk.
func NewSegment(t value.LogicalType, rowStart uint64) *Segment {
	return &Segment{
		Type:  t,
		Ptr:   Pointer{RowStart: rowStart, Compression: Uncompressed},
		Stats: NewStatistics(t),
	}
}

// Append encodes the first n rows of vec onto the segment's in-memory
// buffer and folds them into its statistics. Segments do not track row ids
// explicitly (§4.3): absolute row ids are derived by the caller from
// row-group start + offset.
func (s *Segment) Append(vec *vector.Vector, n int) error {
	enc, err := encodeColumn(s.Type, vec, n)
	if err != nil {
		return err
	}
	s.buf = append(s.buf, enc...)
	s.Ptr.TupleCount += uint64(n)
	s.Stats.Update(vec, n)
	return nil
}

// Scan materializes the segment's full extent as a FLAT vector, reading
// from disk through mm's metadata stream if not already
// buffered in memory, decompressing per Ptr.Compression.
func (s *Segment) Scan(mm *meta.Manager) (*vector.Vector, error) {
	if s.buf == nil {
		if !s.Ptr.Start.Valid() {
			return vector.New(s.Type, 0), nil
		}
		r := meta.NewReader(mm, s.Ptr.Start)
		raw := make([]byte, s.Ptr.SegmentSize)
		if err := r.ReadData(raw); err != nil {
			return nil, errors.Wrap(err, "segment: read")
		}
		decoded, err := decompress(s.Ptr.Compression, raw)
		if err != nil {
			return nil, err
		}
		s.buf = decoded
	}
	return decodeColumn(s.Type, s.buf, int(s.Ptr.TupleCount))
}

// Flush compresses and writes the in-memory buffer through w, recording the
// resulting pointer on the segment so Serialize persists it.
func (s *Segment) Flush(w *meta.Writer, codec CompressionCode) error {
	compressed, err := compress(codec, s.buf)
	if err != nil {
		return err
	}
	s.Ptr.Start = w.Pointer()
	s.Ptr.Compression = codec
	s.Ptr.SegmentSize = uint64(len(compressed))
	return w.WriteData(compressed)
}

// Serialize writes the segment's pointer and statistics through w, the
// per-column entry of a row_group_pointer_t.
func (s *Segment) Serialize(w *meta.Writer) error {
	if err := s.Ptr.Serialize(w); err != nil {
		return err
	}
	return s.Stats.Serialize(w)
}

// DeserializeSegment reads back a segment written by Serialize. The actual
// column bytes are loaded lazily by Scan.
func DeserializeSegment(r *meta.Reader, t value.LogicalType) (*Segment, error) {
	ptr, err := DeserializePointer(r)
	if err != nil {
		return nil, err
	}
	stats, err := DeserializeStatistics(r, t)
	if err != nil {
		return nil, err
	}
	return &Segment{Type: t, Ptr: ptr, Stats: stats}, nil
}

func compress(codec CompressionCode, raw []byte) ([]byte, error) {
	switch codec {
	case Uncompressed:
		return raw, nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errors.Wrap(err, "segment: zstd writer")
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("segment: unknown compression code %d", codec)
	}
}

func decompress(codec CompressionCode, raw []byte) ([]byte, error) {
	switch codec {
	case Uncompressed:
		return raw, nil
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "segment: zstd reader")
		}
		defer dec.Close()
		out, err := dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, errors.Wrap(err, "segment: zstd decode")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("segment: unknown compression code %d", codec)
	}
}

// encodeColumn produces the fixed-width-plus-validity byte encoding used as
// a segment's uncompressed payload, specialized per physical type the way
// uncompressed_segment.cpp's per-type "Analyze/Scan/Append" functions are.
func encodeColumn(t value.LogicalType, vec *vector.Vector, n int) ([]byte, error) {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		valid := vec.IsValid(i)
		buf.WriteByte(boolToU8(valid))
		if !valid {
			continue
		}
		v := vec.Value(i)
		if err := serializeValue(&writerAdapter{&buf}, t, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeColumn(t value.LogicalType, buf []byte, n int) (*vector.Vector, error) {
	out := vector.New(t, n)
	r := bytes.NewReader(buf)
	for i := 0; i < n; i++ {
		var validByte [1]byte
		if _, err := io.ReadFull(r, validByte[:]); err != nil {
			return nil, errors.Wrap(err, "segment: decode validity")
		}
		if validByte[0] == 0 {
			out.SetNull(i, true)
			continue
		}
		// serializeValue prefixes each value with its own null flag.
		if _, err := io.ReadFull(r, validByte[:]); err != nil {
			return nil, errors.Wrap(err, "segment: decode null flag")
		}
		v, err := deserializeValueFrom(r, t)
		if err != nil {
			return nil, err
		}
		out.SetValue(i, v)
	}
	return out, nil
}

// writerAdapter lets serializeValue (written against *meta.Writer) also
// drive an in-memory bytes.Buffer, since both only need WriteUint8/32/64
// and WriteString semantics. It implements the subset meta.Writer exposes
// by composing a throwaway *meta.Writer-shaped surface directly.
type writerAdapter struct {
	buf *bytes.Buffer
}

func (w *writerAdapter) WriteUint8(v uint8) error { w.buf.WriteByte(v); return nil }
func (w *writerAdapter) WriteUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return nil
}
func (w *writerAdapter) WriteUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
	return nil
}
func (w *writerAdapter) WriteString(s string) error {
	if err := w.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	w.buf.WriteString(s)
	return nil
}

func deserializeValueFrom(r io.Reader, t value.LogicalType) (value.Value, error) {
	switch t.Physical {
	case value.Bool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return value.Value{}, err
		}
		return value.Value{Type: t, Bool: b[0] != 0}, nil
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		u, err := readU64(r)
		return value.Value{Type: t, I64: int64(u)}, err
	case value.Timestamp:
		u, err := readU64(r)
		return value.Value{Type: t, TS: int64(u)}, err
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		u, err := readU64(r)
		return value.Value{Type: t, U64: u}, err
	case value.Float:
		u, err := readU64(r)
		return value.Value{Type: t, F32: math.Float32frombits(uint32(u))}, err
	case value.Double:
		u, err := readU64(r)
		return value.Value{Type: t, F64: math.Float64frombits(u)}, err
	case value.Int128:
		hi, err := readU64(r)
		if err != nil {
			return value.Value{}, err
		}
		lo, err := readU64(r)
		return value.Value{Type: t, I128: value.Int128{Hi: int64(hi), Lo: lo}}, err
	default:
		n, err := readU32(r)
		if err != nil {
			return value.Value{}, err
		}
		if n == 0 {
			return value.Value{Type: t, Str: ""}, nil
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return value.Value{}, err
		}
		return value.Value{Type: t, Str: string(buf)}, nil
	}
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
