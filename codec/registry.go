package codec

import (
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"dbwire/dberr"
)

// ValueConverter decodes the value currently positioned under dec into a
// native Go value. The decoder has already been peeked (via PeekVariant)
// by the caller; the converter is responsible for actually consuming it.
type ValueConverter func(dec *msgpack.Decoder) (any, error)

// ObjectConverter encodes a native Go value onto enc.
type ObjectConverter func(enc *msgpack.Encoder, v any) error

type valueKey struct {
	variant Variant
	target  reflect.Type
}

// Registry holds the (variant,type) -> ValueConverter and type ->
// ObjectConverter mappings. Lookups are exact: there is no structural
// fallback, so an unregistered pair always fails with
// ConverterNotFoundError.
type Registry struct {
	values  map[valueKey]ValueConverter
	objects map[reflect.Type]ObjectConverter
}

// NewRegistry returns an empty registry. Use DefaultRegistry for one
// pre-populated with the converters every client ships with.
func NewRegistry() *Registry {
	return &Registry{
		values:  make(map[valueKey]ValueConverter),
		objects: make(map[reflect.Type]ObjectConverter),
	}
}

// RegisterValue registers the converter used when decoding a value of the
// given wire Variant into target.
func (r *Registry) RegisterValue(variant Variant, target reflect.Type, conv ValueConverter) {
	r.values[valueKey{variant, target}] = conv
}

// RegisterObject registers the converter used when encoding a Go value of
// exactly the given type.
func (r *Registry) RegisterObject(source reflect.Type, conv ObjectConverter) {
	r.objects[source] = conv
}

// ConvertValue decodes the value under dec (already known to be of the
// given variant) into target.
func (r *Registry) ConvertValue(variant Variant, target reflect.Type, dec *msgpack.Decoder) (any, error) {
	conv, ok := r.values[valueKey{variant, target}]
	if !ok {
		return nil, &dberr.ConverterNotFoundError{Source: variant.String(), Target: target.String()}
	}
	return conv(dec)
}

// ConvertObject encodes v, whose concrete type must have a registered
// ObjectConverter.
func (r *Registry) ConvertObject(enc *msgpack.Encoder, v any) error {
	if v == nil {
		return enc.EncodeNil()
	}
	t := reflect.TypeOf(v)
	conv, ok := r.objects[t]
	if !ok {
		return &dberr.ConverterNotFoundError{Source: t.String(), Target: "msgpack"}
	}
	return conv(enc, v)
}

// Clone returns a copy of the registry whose maps may be mutated (e.g. to
// register additional converters) without affecting the original — used
// so a caller can start from DefaultRegistry() and extend it.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	for k, v := range r.values {
		c.values[k] = v
	}
	for k, v := range r.objects {
		c.objects[k] = v
	}
	return c
}
