package codec

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestDefaultRegistryRoundTrip(t *testing.T) {
	m := DefaultMapper()

	cases := []any{
		true,
		int64(-42),
		uint64(42),
		float64(3.5),
		"hello",
		[]byte("raw"),
	}

	for _, v := range cases {
		b, err := m.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", v, err)
		}
		var out any
		if err := m.Unmarshal(b, &out); err != nil {
			t.Fatalf("Unmarshal(%v): %v", v, err)
		}
		if !reflect.DeepEqual(out, v) {
			t.Fatalf("round trip of %v (%T) gave %v (%T)", v, v, out, out)
		}
	}
}

func TestUUIDConverterRoundTrip(t *testing.T) {
	m := DefaultMapper()
	id := uuid.New()

	b, err := m.Marshal(uuidExt{id})
	if err != nil {
		t.Fatalf("marshal uuid ext: %v", err)
	}
	var w uuidExt
	if err := m.Unmarshal(b, &w); err != nil {
		t.Fatalf("unmarshal uuid ext: %v", err)
	}
	if w.UUID != id {
		t.Fatalf("uuid mismatch: got %s want %s", w.UUID, id)
	}
}

func TestDecimalConverterRoundTrip(t *testing.T) {
	m := DefaultMapper()
	d := decimal.RequireFromString("12345.6789")

	b, err := m.Marshal(decimalExt{d})
	if err != nil {
		t.Fatalf("marshal decimal ext: %v", err)
	}
	var w decimalExt
	if err := m.Unmarshal(b, &w); err != nil {
		t.Fatalf("unmarshal decimal ext: %v", err)
	}
	if !w.Decimal.Equal(d) {
		t.Fatalf("decimal mismatch: got %s want %s", w.Decimal, d)
	}
}

func TestConverterNotFound(t *testing.T) {
	r := NewRegistry()
	if err := r.ConvertObject(nil, 0); err == nil {
		t.Fatalf("expected an error for an unregistered converter path")
	}
}

type row struct {
	ID   int64
	Name string
}

func TestDecodeIntoStruct(t *testing.T) {
	m := DefaultMapper()
	rm := ResultMapperFor[row](m)

	raw, err := m.Marshal([]any{
		[]any{int64(1), "hello"},
		[]any{int64(2), "world"},
	})
	if err != nil {
		t.Fatalf("marshal rows: %v", err)
	}

	rows, err := DecodeInto[row](rm, raw)
	if err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != 1 || rows[0].Name != "hello" || rows[1].ID != 2 || rows[1].Name != "world" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
