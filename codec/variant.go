package codec

import "github.com/vmihailenco/msgpack/v5"

// Variant classifies the wire type of the next MessagePack value without
// fully decoding it. Converters are looked up by (Variant, target type),
// mirroring the source driver's per-class value mapper registry.
type Variant int

const (
	VariantNil Variant = iota
	VariantBool
	VariantInt
	VariantUint
	VariantFloat
	VariantStr
	VariantBin
	VariantArray
	VariantMap
	VariantExt
)

func (v Variant) String() string {
	switch v {
	case VariantNil:
		return "nil"
	case VariantBool:
		return "bool"
	case VariantInt:
		return "int"
	case VariantUint:
		return "uint"
	case VariantFloat:
		return "float"
	case VariantStr:
		return "str"
	case VariantBin:
		return "bin"
	case VariantArray:
		return "array"
	case VariantMap:
		return "map"
	case VariantExt:
		return "ext"
	default:
		return "unknown"
	}
}

// Raw MessagePack format byte ranges (msgpack spec, not re-derived per call).
const (
	codePosFixintMax = 0x7f
	codeNegFixintMin = 0xe0
	codeNil          = 0xc0
	codeFalse        = 0xc2
	codeTrue         = 0xc3
	codeBin8         = 0xc4
	codeBin16        = 0xc5
	codeBin32        = 0xc6
	codeExt8         = 0xc7
	codeExt16        = 0xc8
	codeExt32        = 0xc9
	codeFloat32      = 0xca
	codeFloat64      = 0xcb
	codeUint8        = 0xcc
	codeUint16       = 0xcd
	codeUint32       = 0xce
	codeUint64       = 0xcf
	codeInt8         = 0xd0
	codeInt16        = 0xd1
	codeInt32        = 0xd2
	codeInt64        = 0xd3
	codeFixext1      = 0xd4
	codeFixext2      = 0xd5
	codeFixext4      = 0xd6
	codeFixext8      = 0xd7
	codeFixext16     = 0xd8
	codeStr8         = 0xd9
	codeStr16        = 0xda
	codeStr32        = 0xdb
	codeArray16      = 0xdc
	codeArray32      = 0xdd
	codeMap16        = 0xde
	codeMap32        = 0xdf
)

// PeekVariant inspects the next byte on the decoder without consuming it
// and classifies it into a Variant. Callers still need to invoke the
// matching Decode* method (or a registered ValueConverter) to advance
// the decoder.
func PeekVariant(dec *msgpack.Decoder) (Variant, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return VariantNil, err
	}

	switch {
	case code <= codePosFixintMax:
		return VariantInt, nil
	case code >= codeNegFixintMin:
		return VariantInt, nil
	case code == codeNil:
		return VariantNil, nil
	case code == codeFalse, code == codeTrue:
		return VariantBool, nil
	case code>>5 == 0b101: // fixstr 0xa0-0xbf
		return VariantStr, nil
	case code == codeStr8, code == codeStr16, code == codeStr32:
		return VariantStr, nil
	case code == codeBin8, code == codeBin16, code == codeBin32:
		return VariantBin, nil
	case code>>4 == 0x9: // fixarray 0x90-0x9f
		return VariantArray, nil
	case code == codeArray16, code == codeArray32:
		return VariantArray, nil
	case code>>4 == 0x8: // fixmap 0x80-0x8f
		return VariantMap, nil
	case code == codeMap16, code == codeMap32:
		return VariantMap, nil
	case code == codeInt8, code == codeInt16, code == codeInt32, code == codeInt64:
		return VariantInt, nil
	case code == codeUint8, code == codeUint16, code == codeUint32, code == codeUint64:
		return VariantUint, nil
	case code == codeFloat32, code == codeFloat64:
		return VariantFloat, nil
	case code == codeFixext1, code == codeFixext2, code == codeFixext4, code == codeFixext8, code == codeFixext16:
		return VariantExt, nil
	case code == codeExt8, code == codeExt16, code == codeExt32:
		return VariantExt, nil
	default:
		return VariantNil, nil
	}
}
