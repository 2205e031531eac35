package codec

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// ExtractKey projects the primary-key columns out of a record, in key
// order, given their positions in the record's column list.
func ExtractKey(record Record, pkIndexes []int) Key {
	key := make(Key, len(pkIndexes))
	for i, idx := range pkIndexes {
		key[i] = record[idx]
	}
	return key
}

// EncodeKey serializes a Key using the record wire format restricted to
// the key's own columns. Internal-node entries append two more i32 child
// pointers after this; that is the B+Tree node layer's concern, not the
// codec's.
func EncodeKey(keySpecs []ColumnSpec, key Key) ([]byte, error) {
	return Serialize(keySpecs, Record(key))
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(keySpecs []ColumnSpec, data []byte) (Key, error) {
	rec, err := Deserialize(keySpecs, data)
	if err != nil {
		return nil, err
	}
	return Key(rec), nil
}

// CompareKeys orders two keys component-wise: natural order per type, NaN
// sorting as the largest Float, byte-lex for strings, and null sorting less
// than any non-null (equal to another null). It returns -1, 0, or 1, or an
// error on a type mismatch between the two keys or against keySpecs.
func CompareKeys(keySpecs []ColumnSpec, a, b Key) (int, error) {
	if len(a) != len(keySpecs) || len(b) != len(keySpecs) {
		return 0, fmt.Errorf("codec: key length does not match key schema (%d columns)", len(keySpecs))
	}
	for i, spec := range keySpecs {
		c, err := compareValue(spec, a[i], b[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

func compareValue(spec ColumnSpec, a, b any) (int, error) {
	if a == nil && b == nil {
		return 0, nil
	}
	if a == nil {
		return -1, nil
	}
	if b == nil {
		return 1, nil
	}
	switch spec.Type {
	case Int:
		av, aok := a.(int32)
		bv, bok := b.(int32)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		return cmpOrdered(av, bv), nil
	case BigInt:
		av, aok := a.(int64)
		bv, bok := b.(int64)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		return cmpOrdered(av, bv), nil
	case Float:
		av, aok := a.(float64)
		bv, bok := b.(float64)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		aNaN, bNaN := math.IsNaN(av), math.IsNaN(bv)
		switch {
		case aNaN && bNaN:
			return 0, nil
		case aNaN:
			return 1, nil
		case bNaN:
			return -1, nil
		default:
			return cmpOrdered(av, bv), nil
		}
	case Boolean:
		av, aok := a.(bool)
		bv, bok := b.(bool)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		if av == bv {
			return 0, nil
		}
		if !av && bv {
			return -1, nil
		}
		return 1, nil
	case DateTime:
		av, aok := a.(time.Time)
		bv, bok := b.(time.Time)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		return cmpOrdered(TicksFromTime(av), TicksFromTime(bv)), nil
	case Decimal:
		av, aok := a.(Decimal)
		bv, bok := b.(Decimal)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		return av.Compare(bv), nil
	case Varchar:
		av, aok := a.(string)
		bv, bok := b.(string)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		return bytes.Compare([]byte(av), []byte(bv)), nil
	case Blob:
		av, aok := a.([]byte)
		bv, bok := b.([]byte)
		if !aok || !bok {
			return 0, typeErr(spec, a)
		}
		return bytes.Compare(av, bv), nil
	default:
		return 0, fmt.Errorf("codec: column %q has unknown type %s", spec.Name, spec.Type)
	}
}

func cmpOrdered[T int32 | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ValuesEqual reports whether two arbitrary column values are equal under
// the catalog's column-scoped scan comparison: null equals null, type
// mismatches are an error.
func ValuesEqual(spec ColumnSpec, a, b any) (bool, error) {
	c, err := compareValue(spec, a, b)
	if err != nil {
		return false, err
	}
	return c == 0, nil
}
