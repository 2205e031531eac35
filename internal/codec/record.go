package codec

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ColumnSpec is the minimal column shape the record/key codec needs: a
// name (for error messages), a wire Type, and whether null is allowed.
// internal/schema.Column converts to this via its Spec method.
type ColumnSpec struct {
	Name     string
	Type     Type
	Nullable bool
}

// Record is an ordered list of Go values matching a column schema:
// Int→int32, BigInt→int64, Float→float64, Boolean→bool, DateTime→time.Time,
// Decimal→Decimal, Varchar→string, Blob→[]byte. A nil entry means SQL NULL.
type Record []any

// Key is an ordered list of typed values — the primary key projected from
// a Record by column position.
type Key []any

var (
	// ErrNotNullable is returned when a non-nullable column's value is nil.
	ErrNotNullable = errors.New("codec: column does not allow null")
	// ErrTypeMismatch is returned when a record value's Go type doesn't
	// match its column's wire Type.
	ErrTypeMismatch = errors.New("codec: value type does not match column type")
)

func nullBitmapSize(numColumns int) int {
	return (numColumns + 7) / 8
}

func bitSet(bitmap []byte, i int) bool {
	return bitmap[i/8]&(1<<uint(i%8)) != 0
}

func setBit(bitmap []byte, i int) {
	bitmap[i/8] |= 1 << uint(i%8)
}

// Serialize encodes values according to specs into the wire format: a
// null bitmap, then the fixed-length block (schema order), then the
// variable-length block (schema order, each length-prefixed).
func Serialize(specs []ColumnSpec, values Record) ([]byte, error) {
	if len(values) != len(specs) {
		return nil, fmt.Errorf("codec: record has %d values, schema has %d columns", len(values), len(specs))
	}

	bitmap := make([]byte, nullBitmapSize(len(specs)))
	for i, spec := range specs {
		if values[i] == nil {
			if !spec.Nullable {
				return nil, fmt.Errorf("%w: column %q", ErrNotNullable, spec.Name)
			}
			setBit(bitmap, i)
		}
	}

	var fixed []byte
	var variable []byte
	for i, spec := range specs {
		if bitSet(bitmap, i) {
			continue
		}
		if spec.Type.IsFixed() {
			enc, err := encodeFixed(spec, values[i])
			if err != nil {
				return nil, err
			}
			fixed = append(fixed, enc...)
		} else {
			enc, err := encodeVariable(spec, values[i])
			if err != nil {
				return nil, err
			}
			variable = append(variable, enc...)
		}
	}

	out := make([]byte, 0, len(bitmap)+len(fixed)+len(variable))
	out = append(out, bitmap...)
	out = append(out, fixed...)
	out = append(out, variable...)
	return out, nil
}

// Deserialize is the inverse of Serialize.
func Deserialize(specs []ColumnSpec, data []byte) (Record, error) {
	bmSize := nullBitmapSize(len(specs))
	if len(data) < bmSize {
		return nil, fmt.Errorf("codec: record shorter than its null bitmap (%d bytes)", bmSize)
	}
	bitmap := data[:bmSize]
	rest := data[bmSize:]

	values := make(Record, len(specs))

	// Fixed-length block first, in schema order.
	for i, spec := range specs {
		if !spec.Type.IsFixed() || bitSet(bitmap, i) {
			continue
		}
		size := spec.Type.FixedSize()
		if len(rest) < size {
			return nil, fmt.Errorf("codec: truncated fixed block for column %q", spec.Name)
		}
		v, err := decodeFixed(spec, rest[:size])
		if err != nil {
			return nil, err
		}
		values[i] = v
		rest = rest[size:]
	}

	// Variable-length block, in schema order.
	for i, spec := range specs {
		if spec.Type.IsFixed() || bitSet(bitmap, i) {
			continue
		}
		if len(rest) < 4 {
			return nil, fmt.Errorf("codec: truncated variable-length prefix for column %q", spec.Name)
		}
		n := GetInt32(rest[:4])
		rest = rest[4:]
		if n < 0 || int(n) > len(rest) {
			return nil, fmt.Errorf("codec: invalid variable-length size for column %q", spec.Name)
		}
		payload := rest[:n]
		rest = rest[n:]
		switch spec.Type {
		case Varchar:
			values[i] = string(payload)
		case Blob:
			b := make([]byte, len(payload))
			copy(b, payload)
			values[i] = b
		default:
			return nil, fmt.Errorf("codec: column %q has non-variable type %s in variable block", spec.Name, spec.Type)
		}
	}

	return values, nil
}

func encodeFixed(spec ColumnSpec, v any) ([]byte, error) {
	buf := make([]byte, spec.Type.FixedSize())
	switch spec.Type {
	case Int:
		iv, ok := v.(int32)
		if !ok {
			return nil, typeErr(spec, v)
		}
		PutInt32(buf, iv)
	case BigInt:
		iv, ok := v.(int64)
		if !ok {
			return nil, typeErr(spec, v)
		}
		PutInt64(buf, iv)
	case Float:
		fv, ok := v.(float64)
		if !ok {
			return nil, typeErr(spec, v)
		}
		PutFloat64(buf, fv)
	case Boolean:
		bv, ok := v.(bool)
		if !ok {
			return nil, typeErr(spec, v)
		}
		PutBool(buf, bv)
	case DateTime:
		tv, ok := v.(time.Time)
		if !ok {
			return nil, typeErr(spec, v)
		}
		PutInt64(buf, TicksFromTime(tv))
	case Decimal:
		dv, ok := v.(Decimal)
		if !ok {
			return nil, typeErr(spec, v)
		}
		copy(buf, dv.MarshalBinary())
	default:
		return nil, fmt.Errorf("codec: column %q has unexpected fixed type %s", spec.Name, spec.Type)
	}
	return buf, nil
}

func decodeFixed(spec ColumnSpec, buf []byte) (any, error) {
	switch spec.Type {
	case Int:
		return GetInt32(buf), nil
	case BigInt:
		return GetInt64(buf), nil
	case Float:
		return GetFloat64(buf), nil
	case Boolean:
		return GetBool(buf), nil
	case DateTime:
		return TimeFromTicks(GetInt64(buf)), nil
	case Decimal:
		return UnmarshalDecimal(buf)
	default:
		return nil, fmt.Errorf("codec: column %q has unexpected fixed type %s", spec.Name, spec.Type)
	}
}

func encodeVariable(spec ColumnSpec, v any) ([]byte, error) {
	var payload []byte
	switch spec.Type {
	case Varchar:
		sv, ok := v.(string)
		if !ok {
			return nil, typeErr(spec, v)
		}
		payload = []byte(sv)
	case Blob:
		bv, ok := v.([]byte)
		if !ok {
			return nil, typeErr(spec, v)
		}
		payload = bv
	default:
		return nil, fmt.Errorf("codec: column %q has unexpected variable type %s", spec.Name, spec.Type)
	}
	if len(payload) > math.MaxInt32 {
		return nil, fmt.Errorf("codec: column %q value too large (%d bytes)", spec.Name, len(payload))
	}
	out := make([]byte, 4+len(payload))
	PutInt32(out[:4], int32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

func typeErr(spec ColumnSpec, v any) error {
	return fmt.Errorf("%w: column %q expects %s, got %T", ErrTypeMismatch, spec.Name, spec.Type, v)
}
