package codec

import (
	"reflect"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/google/uuid"
)

var (
	typeBool       = reflect.TypeOf(false)
	typeInt        = reflect.TypeOf(int(0))
	typeInt8       = reflect.TypeOf(int8(0))
	typeInt16      = reflect.TypeOf(int16(0))
	typeInt32      = reflect.TypeOf(int32(0))
	typeInt64      = reflect.TypeOf(int64(0))
	typeUint       = reflect.TypeOf(uint(0))
	typeUint8      = reflect.TypeOf(uint8(0))
	typeUint16     = reflect.TypeOf(uint16(0))
	typeUint32     = reflect.TypeOf(uint32(0))
	typeUint64     = reflect.TypeOf(uint64(0))
	typeFloat32    = reflect.TypeOf(float32(0))
	typeFloat64    = reflect.TypeOf(float64(0))
	typeString     = reflect.TypeOf("")
	typeBytes      = reflect.TypeOf([]byte(nil))
	typeUUID       = reflect.TypeOf(uuid.UUID{})
	typeDecimal    = reflect.TypeOf(decimal.Decimal{})
	typeTuple      = reflect.TypeOf(Tuple(nil))
	typeAnyMap     = reflect.TypeOf(map[string]any(nil))
	typeInterface  = reflect.TypeOf((*any)(nil)).Elem()
)

// Tuple is the default row representation: an ordered sequence of
// decoded fields.
type Tuple []any

// DefaultRegistry returns the converter set every client ships with:
// booleans, signed/unsigned integers of every stdlib width, float/
// double, UTF-8 strings, raw bytes, UUID, decimal, arrays, maps, and
// nil.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterValue(VariantBool, typeBool, func(dec *msgpack.Decoder) (any, error) { return dec.DecodeBool() })
	r.RegisterObject(typeBool, func(enc *msgpack.Encoder, v any) error { return enc.EncodeBool(v.(bool)) })

	registerInt(r, typeInt, func(i int64) any { return int(i) })
	registerInt(r, typeInt8, func(i int64) any { return int8(i) })
	registerInt(r, typeInt16, func(i int64) any { return int16(i) })
	registerInt(r, typeInt32, func(i int64) any { return int32(i) })
	registerInt(r, typeInt64, func(i int64) any { return i })

	registerUint(r, typeUint, func(u uint64) any { return uint(u) })
	registerUint(r, typeUint8, func(u uint64) any { return uint8(u) })
	registerUint(r, typeUint16, func(u uint64) any { return uint16(u) })
	registerUint(r, typeUint32, func(u uint64) any { return uint32(u) })
	registerUint(r, typeUint64, func(u uint64) any { return u })

	r.RegisterValue(VariantFloat, typeFloat32, func(dec *msgpack.Decoder) (any, error) {
		v, err := dec.DecodeFloat32()
		return v, err
	})
	r.RegisterObject(typeFloat32, func(enc *msgpack.Encoder, v any) error { return enc.EncodeFloat32(v.(float32)) })
	r.RegisterValue(VariantFloat, typeFloat64, func(dec *msgpack.Decoder) (any, error) {
		v, err := dec.DecodeFloat64()
		return v, err
	})
	r.RegisterObject(typeFloat64, func(enc *msgpack.Encoder, v any) error { return enc.EncodeFloat64(v.(float64)) })

	r.RegisterValue(VariantStr, typeString, func(dec *msgpack.Decoder) (any, error) { return dec.DecodeString() })
	r.RegisterObject(typeString, func(enc *msgpack.Encoder, v any) error { return enc.EncodeString(v.(string)) })

	r.RegisterValue(VariantBin, typeBytes, func(dec *msgpack.Decoder) (any, error) { return dec.DecodeBytes() })
	r.RegisterObject(typeBytes, func(enc *msgpack.Encoder, v any) error { return enc.EncodeBytes(v.([]byte)) })

	r.RegisterValue(VariantNil, typeInterface, func(dec *msgpack.Decoder) (any, error) {
		return nil, dec.DecodeNil()
	})

	r.RegisterValue(VariantArray, typeTuple, func(dec *msgpack.Decoder) (any, error) {
		return decodeGenericArray(dec)
	})
	r.RegisterObject(typeTuple, func(enc *msgpack.Encoder, v any) error {
		return encodeGenericArray(enc, r, []any(v.(Tuple)))
	})
	sliceAnyType := reflect.TypeOf([]any(nil))
	r.RegisterValue(VariantArray, sliceAnyType, func(dec *msgpack.Decoder) (any, error) {
		t, err := decodeGenericArray(dec)
		return []any(t), err
	})
	r.RegisterObject(sliceAnyType, func(enc *msgpack.Encoder, v any) error {
		return encodeGenericArray(enc, r, v.([]any))
	})

	r.RegisterValue(VariantMap, typeAnyMap, func(dec *msgpack.Decoder) (any, error) {
		return dec.DecodeMap()
	})
	r.RegisterObject(typeAnyMap, func(enc *msgpack.Encoder, v any) error {
		return enc.Encode(v.(map[string]any))
	})

	registerUUID(r)
	registerDecimal(r)

	return r
}

func registerInt(r *Registry, t reflect.Type, conv func(int64) any) {
	r.RegisterValue(VariantInt, t, func(dec *msgpack.Decoder) (any, error) {
		i, err := dec.DecodeInt64()
		if err != nil {
			return nil, err
		}
		return conv(i), nil
	})
	r.RegisterObject(t, func(enc *msgpack.Encoder, v any) error {
		rv := reflect.ValueOf(v)
		return enc.EncodeInt64(rv.Int())
	})
}

func registerUint(r *Registry, t reflect.Type, conv func(uint64) any) {
	r.RegisterValue(VariantUint, t, func(dec *msgpack.Decoder) (any, error) {
		u, err := dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		return conv(u), nil
	})
	r.RegisterObject(t, func(enc *msgpack.Encoder, v any) error {
		rv := reflect.ValueOf(v)
		return enc.EncodeUint64(rv.Uint())
	})
}

// decodeGenericArray decodes an array of arbitrary MessagePack values
// using msgpack's own generic decode for each element — used as the
// fallback representation for tuples/arrays whose element types are not
// known ahead of time.
func decodeGenericArray(dec *msgpack.Decoder) (Tuple, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	out := make(Tuple, n)
	for i := 0; i < n; i++ {
		v, err := dec.DecodeInterface()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func encodeGenericArray(enc *msgpack.Encoder, r *Registry, values []any) error {
	if err := enc.EncodeArrayLen(len(values)); err != nil {
		return err
	}
	for _, v := range values {
		if v == nil {
			if err := enc.EncodeNil(); err != nil {
				return err
			}
			continue
		}
		if err := r.ConvertObject(enc, v); err != nil {
			// Fall back to msgpack's own generic Encode for types we
			// have no explicit converter for (e.g. nested structs).
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
	}
	return nil
}
