// Package value implements the engine's logical value model: a sum type
// over the physical types the storage and execution layers operate on, plus
// the comparison, ordering and hashing rules that flow from it.
package value

import (
	"fmt"
)

// PhysicalType is the closed set of physical representations a LogicalValue
// can carry. Kept as a small int so vector kernels can switch on it cheaply.
type PhysicalType uint8

const (
	Invalid PhysicalType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Int128
	UInt8
	UInt16
	UInt32
	UInt64
	Float
	Double
	Decimal // stored as Int64 with Width/Scale
	String
	Timestamp // Unit selects sec/ms/us/ns
	Enum
	Struct
	List
)

func (t PhysicalType) String() string {
	switch t {
	case Bool:
		return "BOOL"
	case Int8:
		return "INT8"
	case Int16:
		return "INT16"
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	case Int128:
		return "INT128"
	case UInt8:
		return "UINT8"
	case UInt16:
		return "UINT16"
	case UInt32:
		return "UINT32"
	case UInt64:
		return "UINT64"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	case Decimal:
		return "DECIMAL"
	case String:
		return "STRING"
	case Timestamp:
		return "TIMESTAMP"
	case Enum:
		return "ENUM"
	case Struct:
		return "STRUCT"
	case List:
		return "LIST"
	default:
		return "INVALID"
	}
}

// TimeUnit distinguishes the resolution of a Timestamp value.
type TimeUnit uint8

const (
	Seconds TimeUnit = iota
	Millis
	Micros
	Nanos
)

// IsNumeric reports whether t participates in arithmetic kernels.
func (t PhysicalType) IsNumeric() bool {
	switch t {
	case Int8, Int16, Int32, Int64, Int128, UInt8, UInt16, UInt32, UInt64, Float, Double, Decimal:
		return true
	default:
		return false
	}
}

// LogicalType describes a column's or value's declared type: its physical
// representation plus the type-specific parameters (decimal width/scale,
// timestamp unit, enum member list, struct field names).
type LogicalType struct {
	Physical     PhysicalType
	Width, Scale uint8      // meaningful for Decimal
	Unit         TimeUnit   // meaningful for Timestamp
	EnumMembers  []string   // meaningful for Enum
	StructFields []string   // ordered child names, meaningful for Struct
	StructTypes  []LogicalType
	ListElem     *LogicalType // meaningful for List
	Alias        string       // optional column-name alias carried on values
}

func (t LogicalType) String() string {
	switch t.Physical {
	case Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Width, t.Scale)
	case Timestamp:
		return fmt.Sprintf("TIMESTAMP[%d]", t.Unit)
	case List:
		if t.ListElem != nil {
			return "LIST<" + t.ListElem.String() + ">"
		}
		return "LIST<?>"
	default:
		return t.Physical.String()
	}
}

func Simple(p PhysicalType) LogicalType { return LogicalType{Physical: p} }

func DecimalType(width, scale uint8) LogicalType {
	return LogicalType{Physical: Decimal, Width: width, Scale: scale}
}

func TimestampType(unit TimeUnit) LogicalType {
	return LogicalType{Physical: Timestamp, Unit: unit}
}

func ListType(elem LogicalType) LogicalType {
	return LogicalType{Physical: List, ListElem: &elem}
}

func StructType(fields []string, types []LogicalType) LogicalType {
	return LogicalType{Physical: Struct, StructFields: fields, StructTypes: types}
}
