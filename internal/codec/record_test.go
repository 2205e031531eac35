package codec

import (
	"bytes"
	"testing"
	"time"
)

func testSpecs() []ColumnSpec {
	return []ColumnSpec{
		{Name: "id", Type: Int, Nullable: false},
		{Name: "big", Type: BigInt, Nullable: true},
		{Name: "score", Type: Float, Nullable: false},
		{Name: "active", Type: Boolean, Nullable: false},
		{Name: "created", Type: DateTime, Nullable: false},
		{Name: "price", Type: Decimal, Nullable: true},
		{Name: "name", Type: Varchar, Nullable: false},
		{Name: "payload", Type: Blob, Nullable: true},
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	specs := testSpecs()
	dec, err := DecimalFromString("1234.5600")
	if err != nil {
		t.Fatalf("DecimalFromString: %v", err)
	}
	rec := Record{
		int32(100),
		int64(9000000000),
		3.5,
		true,
		time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		dec,
		"Hello World",
		[]byte{1, 2, 3},
	}

	data, err := Serialize(specs, rec)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(specs, data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	for i := range rec {
		if !valuesEqual(t, specs[i], rec[i], got[i]) {
			t.Fatalf("column %d (%s): got %#v, want %#v", i, specs[i].Name, got[i], rec[i])
		}
	}
}

func TestSerializeNulls(t *testing.T) {
	specs := testSpecs()
	rec := Record{
		int32(1),
		nil,
		1.0,
		false,
		time.Unix(0, 0).UTC(),
		nil,
		"x",
		nil,
	}
	data, err := Serialize(specs, rec)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(specs, data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got[1] != nil || got[5] != nil || got[7] != nil {
		t.Fatalf("expected nulls preserved, got %#v", got)
	}
}

func TestSerializeRejectsNullOnNonNullable(t *testing.T) {
	specs := testSpecs()
	rec := Record{nil, nil, 1.0, false, time.Now(), nil, "x", nil}
	if _, err := Serialize(specs, rec); err == nil {
		t.Fatalf("expected error inserting null into non-nullable column")
	}
}

func TestDateTimeTicksRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 34, 56, 789_000_000, time.UTC)
	ticks := TicksFromTime(now)
	back := TimeFromTicks(ticks)
	if !now.Equal(back) {
		t.Fatalf("DateTime round trip: got %v, want %v", back, now)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "-1", "123.456", "-0.001", "79228162514.8"} {
		d, err := DecimalFromString(s)
		if err != nil {
			t.Fatalf("DecimalFromString(%q): %v", s, err)
		}
		buf := d.MarshalBinary()
		back, err := UnmarshalDecimal(buf)
		if err != nil {
			t.Fatalf("UnmarshalDecimal: %v", err)
		}
		if d.Compare(back) != 0 {
			t.Fatalf("decimal round trip mismatch for %q: %v != %v", s, d, back)
		}
	}
}

func valuesEqual(t *testing.T, spec ColumnSpec, a, b any) bool {
	t.Helper()
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch spec.Type {
	case Blob:
		return bytes.Equal(a.([]byte), b.([]byte))
	case DateTime:
		return a.(time.Time).Equal(b.(time.Time))
	case Decimal:
		return a.(Decimal).Compare(b.(Decimal)) == 0
	default:
		return a == b
	}
}
