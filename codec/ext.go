package codec

import (
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/google/uuid"
)

// Ext-type ids for the UUID and decimal converters, tagged on the wire
// as MessagePack ext types. Registered once, globally, with the
// underlying codec library — any encoder/decoder built on top of
// vmihailenco/msgpack in this process recognizes these types.
const (
	extIDDecimal int8 = 1
	extIDUUID    int8 = 2
)

// uuidExt adapts uuid.UUID to the codec library's Marshaler/
// Unmarshaler interfaces so it round-trips as a 16-byte ext value
// instead of the default array-of-bytes encoding.
type uuidExt struct{ uuid.UUID }

func (u uuidExt) MarshalMsgpack() ([]byte, error) {
	return u.UUID.MarshalBinary()
}

func (u *uuidExt) UnmarshalMsgpack(b []byte) error {
	return u.UUID.UnmarshalBinary(b)
}

// decimalExt adapts decimal.Decimal to an ext value. The wire payload is
// the decimal's canonical string form — simpler than packing BCD nibbles
// and sufficient for a client whose contract is with itself (this codec
// is what both encodes requests and decodes responses).
type decimalExt struct{ decimal.Decimal }

func (d decimalExt) MarshalMsgpack() ([]byte, error) {
	return []byte(d.Decimal.String()), nil
}

func (d *decimalExt) UnmarshalMsgpack(b []byte) error {
	v, err := decimal.NewFromString(string(b))
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

func init() {
	msgpack.RegisterExt(extIDUUID, (*uuidExt)(nil))
	msgpack.RegisterExt(extIDDecimal, (*decimalExt)(nil))
}

func registerUUID(r *Registry) {
	r.RegisterObject(typeUUID, func(enc *msgpack.Encoder, v any) error {
		return enc.Encode(uuidExt{v.(uuid.UUID)})
	})
	r.RegisterValue(VariantExt, typeUUID, func(dec *msgpack.Decoder) (any, error) {
		var w uuidExt
		if err := dec.Decode(&w); err != nil {
			return nil, err
		}
		return w.UUID, nil
	})
}

func registerDecimal(r *Registry) {
	r.RegisterObject(typeDecimal, func(enc *msgpack.Encoder, v any) error {
		return enc.Encode(decimalExt{v.(decimal.Decimal)})
	})
	r.RegisterValue(VariantExt, typeDecimal, func(dec *msgpack.Decoder) (any, error) {
		var w decimalExt
		if err := dec.Decode(&w); err != nil {
			return nil, err
		}
		return w.Decimal, nil
	})
}
