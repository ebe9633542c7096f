// Package codec implements the bidirectional MessagePack <-> native
// value mapper: a registry of converters keyed by wire variant and Go
// type, built on top of github.com/vmihailenco/msgpack/v5.
package codec

import (
	"bytes"
	"reflect"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Mapper is a Registry bound to the encode/decode entry points the
// rest of the client calls.
type Mapper struct {
	registry *Registry
}

// NewMapper wraps a registry. Most callers want DefaultMapper.
func NewMapper(r *Registry) *Mapper {
	return &Mapper{registry: r}
}

// DefaultMapper returns the mapper every Config starts with, built from
// DefaultRegistry.
func DefaultMapper() *Mapper {
	return NewMapper(DefaultRegistry())
}

// Registry exposes the underlying registry so callers can register
// additional converters without losing the defaults (via Clone).
func (m *Mapper) Registry() *Registry { return m.registry }

// EncodeValue appends v's MessagePack encoding to enc using the
// registered ObjectConverter for v's concrete type. Values with no
// registered converter fall back to the underlying library's
// reflective Encode.
func (m *Mapper) EncodeValue(enc *msgpack.Encoder, v any) error {
	if v == nil {
		return enc.EncodeNil()
	}
	if err := m.registry.ConvertObject(enc, v); err == nil {
		return nil
	}
	return enc.Encode(v)
}

// DecodeValue decodes the next MessagePack value under dec into target,
// using the registered ValueConverter for (wire variant, target).
func (m *Mapper) DecodeValue(dec *msgpack.Decoder, target reflect.Type) (any, error) {
	variant, err := PeekVariant(dec)
	if err != nil {
		return nil, err
	}
	return m.registry.ConvertValue(variant, target, dec)
}

// Marshal encodes a map[int]any request/response body (header or body
// maps use small-integer keys) into MessagePack bytes.
func (m *Mapper) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes MessagePack bytes into v using the library's
// reflective decode (used for header/body maps, whose shape is known
// structurally rather than by a registered converter).
func (m *Mapper) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}

// resultMappers caches one ResultMapper per target row type: the same
// type always yields the same mapper instance.
var resultMappers sync.Map // map[reflect.Type]*ResultMapper

// ResultMapper decodes an array-valued response (a sequence of tuples)
// into a slice of T.
type ResultMapper struct {
	mapper *Mapper
	target reflect.Type
}

// ResultMapperFor returns the (cached) ResultMapper that decodes tuple
// arrays into []T. The cache is keyed by T alone: the mapper is bound to
// the m passed on the first call for T, and later calls for T get that
// same instance whatever m they pass.
func ResultMapperFor[T any](m *Mapper) *ResultMapper {
	target := reflect.TypeOf((*T)(nil)).Elem()
	if cached, ok := resultMappers.Load(target); ok {
		return cached.(*ResultMapper)
	}
	rm := &ResultMapper{mapper: m, target: target}
	actual, _ := resultMappers.LoadOrStore(target, rm)
	return actual.(*ResultMapper)
}

// DecodeRows decodes a MessagePack array of rows into []Tuple — the
// generic, always-available representation.
func (rm *ResultMapper) DecodeRows(data []byte) ([]Tuple, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return rm.decodeRows(dec)
}

func (rm *ResultMapper) decodeRows(dec *msgpack.Decoder) ([]Tuple, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	rows := make([]Tuple, n)
	for i := 0; i < n; i++ {
		row, err := decodeGenericArray(dec)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

// DecodeInto decodes a MessagePack array of positional tuples directly
// into []T when T is a struct: row[i] is converted, via the registry,
// into the type of the struct's i'th field (unexported fields are not
// skipped, so every field must be exported). Non-struct T (Tuple, []any,
// map[string]any) decode generically, ignoring field shape.
func DecodeInto[T any](rm *ResultMapper, data []byte) ([]T, error) {
	if rm.target.Kind() != reflect.Struct {
		rows, err := rm.DecodeRows(data)
		if err != nil {
			return nil, err
		}
		out := make([]T, len(rows))
		for i, row := range rows {
			out[i] = any(row).(T)
		}
		return out, nil
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, max(n, 0))
	for i := 0; i < n; i++ {
		fieldCount, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		var zero T
		rv := reflect.New(rm.target).Elem()
		for f := 0; f < fieldCount && f < rm.target.NumField(); f++ {
			field := rm.target.Field(f)
			val, err := rm.mapper.DecodeValue(dec, field.Type)
			if err != nil {
				return nil, err
			}
			if val != nil {
				rv.Field(f).Set(reflect.ValueOf(val))
			}
		}
		// Drain any remaining fields the struct doesn't model.
		for f := rm.target.NumField(); f < fieldCount; f++ {
			if _, err := dec.DecodeInterface(); err != nil {
				return nil, err
			}
		}
		_ = zero
		out = append(out, rv.Interface().(T))
	}
	return out, nil
}
