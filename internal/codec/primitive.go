// Package codec implements storecore's on-disk binary formats: the
// endian-safe primitive encodings, the schema-driven record wire format
// (null bitmap + fixed block + variable block), and key ordering.
package codec

// Type enumerates storecore's primitive column types. Int/BigInt/Float/
// Boolean/DateTime/Decimal are fixed-size; Varchar/Blob are variable.
type Type uint8

const (
	Int Type = iota
	BigInt
	Float
	Boolean
	DateTime
	Decimal
	Varchar
	Blob
)

func (t Type) String() string {
	switch t {
	case Int:
		return "Int"
	case BigInt:
		return "BigInt"
	case Float:
		return "Float"
	case Boolean:
		return "Boolean"
	case DateTime:
		return "DateTime"
	case Decimal:
		return "Decimal"
	case Varchar:
		return "Varchar"
	case Blob:
		return "Blob"
	default:
		return "Unknown"
	}
}

// IsFixed reports whether values of this type have a constant wire size.
func (t Type) IsFixed() bool {
	switch t {
	case Varchar, Blob:
		return false
	default:
		return true
	}
}

// FixedSize returns the wire size in bytes of a fixed-size type. It panics
// for Varchar/Blob.
func (t Type) FixedSize() int {
	switch t {
	case Int:
		return 4
	case BigInt:
		return 8
	case Float:
		return 8
	case Boolean:
		return 1
	case DateTime:
		return 8
	case Decimal:
		return 16
	default:
		panic("codec: FixedSize called on variable-length type " + t.String())
	}
}
