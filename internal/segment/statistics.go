package segment

import (
	"math"

	"github.com/otbx/otbx/internal/meta"
	"github.com/otbx/otbx/internal/value"
	"github.com/otbx/otbx/internal/vector"
)

// Statistics is a base_statistics_t: conservative per-column min/max/null
// bounds (§4.3, §8 "Statistics containment": for any visible row,
// min <= value <= max).
//
// Grounded on
// _examples/original_source/components/table/base_statistics.{hpp,cpp}.
type Statistics struct {
	Type      value.LogicalType
	Min, Max  value.Value
	NullCount uint64
	HasStats  bool
}

func NewStatistics(t value.LogicalType) *Statistics {
	return &Statistics{Type: t}
}

func (s *Statistics) SetMin(v value.Value) { s.Min = v; s.HasStats = true }
func (s *Statistics) SetMax(v value.Value) { s.Max = v; s.HasStats = true }
func (s *Statistics) SetNullCount(n uint64) { s.NullCount = n }

// Update scans vec's first n logical rows, tightening min/max and
// accumulating nulls in one pass. A CONSTANT vector's single value counts
// once toward min/max if valid, or n times toward NullCount if null — the
// conservative rule spec.md calls out explicitly.
func (s *Statistics) Update(vec *vector.Vector, n int) {
	if vec.Kind == vector.Constant {
		if !vec.IsValid(0) {
			s.NullCount += uint64(n)
			return
		}
		v := vec.Value(0)
		s.observe(v)
		return
	}
	for i := 0; i < n; i++ {
		if !vec.IsValid(i) {
			s.NullCount++
			continue
		}
		s.observe(vec.Value(i))
	}
}

func (s *Statistics) observe(v value.Value) {
	if !s.HasStats {
		s.Min, s.Max = v, v
		s.HasStats = true
		return
	}
	if value.Compare(v, s.Min) < 0 {
		s.Min = v
	}
	if value.Compare(v, s.Max) > 0 {
		s.Max = v
	}
}

// Merge combines other into s: min(min,min), max(max,max), sum of nulls.
func (s *Statistics) Merge(other *Statistics) {
	if other.HasStats {
		s.observe(other.Min)
		s.observe(other.Max)
	}
	s.NullCount += other.NullCount
}

// Contains reports whether v falls within [Min, Max], the invariant scans
// use to skip segments that cannot match a predicate.
func (s *Statistics) Contains(v value.Value) bool {
	if !s.HasStats || v.Null {
		return true
	}
	return value.Compare(v, s.Min) >= 0 && value.Compare(v, s.Max) <= 0
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// byteWriter is the subset of *meta.Writer that value encoding needs; it
// also lets encodeColumn drive an in-memory buffer through the same
// encoding logic via writerAdapter.
type byteWriter interface {
	WriteUint8(uint8) error
	WriteUint32(uint32) error
	WriteUint64(uint64) error
	WriteString(string) error
}

func serializeValue(w byteWriter, t value.LogicalType, v value.Value) error {
	if err := w.WriteUint8(boolToU8(v.Null)); err != nil {
		return err
	}
	if v.Null {
		return nil
	}
	switch t.Physical {
	case value.Bool:
		return w.WriteUint8(boolToU8(v.Bool))
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		return w.WriteUint64(uint64(v.I64))
	case value.Timestamp:
		return w.WriteUint64(uint64(v.TS))
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		return w.WriteUint64(v.U64)
	case value.Float:
		return w.WriteUint64(uint64(math.Float32bits(v.F32)))
	case value.Double:
		return w.WriteUint64(math.Float64bits(v.F64))
	case value.Int128:
		if err := w.WriteUint64(uint64(v.I128.Hi)); err != nil {
			return err
		}
		return w.WriteUint64(v.I128.Lo)
	default:
		return w.WriteString(v.Str)
	}
}

func deserializeValue(r *meta.Reader, t value.LogicalType) (value.Value, error) {
	isNull, err := r.ReadUint8()
	if err != nil {
		return value.Value{}, err
	}
	if isNull != 0 {
		return value.NA(t), nil
	}
	switch t.Physical {
	case value.Bool:
		b, err := r.ReadUint8()
		return value.Value{Type: t, Bool: b != 0}, err
	case value.Int8, value.Int16, value.Int32, value.Int64, value.Decimal, value.Enum:
		u, err := r.ReadUint64()
		return value.Value{Type: t, I64: int64(u)}, err
	case value.Timestamp:
		u, err := r.ReadUint64()
		return value.Value{Type: t, TS: int64(u)}, err
	case value.UInt8, value.UInt16, value.UInt32, value.UInt64:
		u, err := r.ReadUint64()
		return value.Value{Type: t, U64: u}, err
	case value.Float:
		u, err := r.ReadUint64()
		return value.Value{Type: t, F32: math.Float32frombits(uint32(u))}, err
	case value.Double:
		u, err := r.ReadUint64()
		return value.Value{Type: t, F64: math.Float64frombits(u)}, err
	case value.Int128:
		hi, err := r.ReadUint64()
		if err != nil {
			return value.Value{}, err
		}
		lo, err := r.ReadUint64()
		return value.Value{Type: t, I128: value.Int128{Hi: int64(hi), Lo: lo}}, err
	default:
		str, err := r.ReadString()
		return value.Value{Type: t, Str: str}, err
	}
}

// Serialize writes s through the metadata stream format.
func (s *Statistics) Serialize(w *meta.Writer) error {
	if err := w.WriteUint8(boolToU8(s.HasStats)); err != nil {
		return err
	}
	if err := w.WriteUint64(s.NullCount); err != nil {
		return err
	}
	if !s.HasStats {
		return nil
	}
	if err := serializeValue(w, s.Type, s.Min); err != nil {
		return err
	}
	return serializeValue(w, s.Type, s.Max)
}

// DeserializeStatistics reads statistics for a column of the given type.
func DeserializeStatistics(r *meta.Reader, t value.LogicalType) (*Statistics, error) {
	s := NewStatistics(t)
	hasStats, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	s.HasStats = hasStats != 0
	if s.NullCount, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if !s.HasStats {
		return s, nil
	}
	if s.Min, err = deserializeValue(r, t); err != nil {
		return nil, err
	}
	if s.Max, err = deserializeValue(r, t); err != nil {
		return nil, err
	}
	return s, nil
}
