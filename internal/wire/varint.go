package wire

import "fmt"

// Wire types of the length-delimited message format used by the Cast v2
// channel. Only varint (0) and length-delimited (2) fields are produced;
// anything else found while decoding is skipped.
const (
	WireVarint          = 0
	WireLengthDelimited = 2
)

// EncodeVarint encodes n as little-endian base-128 groups with the high bit of
// each byte as the continuation flag.
func EncodeVarint(n uint64) []byte {
	if n == 0 {
		return []byte{0}
	}
	out := make([]byte, 0, 5)
	for n > 0 {
		b := byte(n & 0x7f)
		n >>= 7
		if n > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// DecodeVarint decodes a varint starting at offset and returns the value and
// the offset of the first byte after it.
func DecodeVarint(buf []byte, offset int) (uint64, int, error) {
	var value uint64
	var shift uint
	for i := offset; i < len(buf); i++ {
		b := buf[i]
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
		if shift > 63 {
			return 0, offset, fmt.Errorf("varint overflow at offset %d", offset)
		}
	}
	return 0, offset, fmt.Errorf("truncated varint at offset %d", offset)
}

// EncodeVarintField encodes a tag byte with wire type 0 followed by the value.
func EncodeVarintField(fieldNumber int, value uint64) []byte {
	out := []byte{byte(fieldNumber<<3) | WireVarint}
	return append(out, EncodeVarint(value)...)
}

// EncodeLengthDelimitedField encodes a tag byte with wire type 2, a varint
// length and the raw payload.
func EncodeLengthDelimitedField(fieldNumber int, payload []byte) []byte {
	out := []byte{byte(fieldNumber<<3) | WireLengthDelimited}
	out = append(out, EncodeVarint(uint64(len(payload)))...)
	return append(out, payload...)
}

// EncodeStringField is EncodeLengthDelimitedField for UTF-8 strings.
func EncodeStringField(fieldNumber int, value string) []byte {
	return EncodeLengthDelimitedField(fieldNumber, []byte(value))
}

// Field is one decoded field of a length-delimited message. Bytes is set only
// for wire type 2, Value only for wire type 0.
type Field struct {
	Number   int
	WireType int
	Value    uint64
	Bytes    []byte
}

// DecodeFields walks buf and returns every field it can parse. Unknown field
// numbers are returned as-is so callers can skip them; unsupported wire types
// terminate the walk with an error.
func DecodeFields(buf []byte) ([]Field, error) {
	fields := make([]Field, 0, 8)
	offset := 0
	for offset < len(buf) {
		tag := buf[offset]
		offset++
		field := Field{
			Number:   int(tag >> 3),
			WireType: int(tag & 0x07),
		}
		switch field.WireType {
		case WireVarint:
			value, next, err := DecodeVarint(buf, offset)
			if err != nil {
				return nil, err
			}
			field.Value = value
			offset = next
		case WireLengthDelimited:
			length, next, err := DecodeVarint(buf, offset)
			if err != nil {
				return nil, err
			}
			offset = next
			end := offset + int(length)
			if end > len(buf) || end < offset {
				return nil, fmt.Errorf("field %d length %d exceeds buffer", field.Number, length)
			}
			field.Bytes = buf[offset:end]
			offset = end
		default:
			return nil, fmt.Errorf("unsupported wire type %d for field %d", field.WireType, field.Number)
		}
		fields = append(fields, field)
	}
	return fields, nil
}
