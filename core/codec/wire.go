package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a protobuf payload cannot be parsed.
var ErrMalformed = errors.New("malformed protobuf")

// fieldHandler decodes the value of one field. It returns the number of
// bytes consumed from v, 0 if the field is not handled (the caller skips
// it), or a negative protowire error code.
type fieldHandler func(num protowire.Number, typ protowire.Type, v []byte) (int, error)

// walkFields iterates over the fields of an encoded message. Unhandled fields
// are skipped; if unknown is non-nil it receives each skipped field's raw
// tag+value bytes.
func walkFields(b []byte, fn fieldHandler, unknown func(raw []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}

		m, err := fn(num, typ, b[n:])
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b[n:])
			if m >= 0 && unknown != nil {
				unknown(b[:n+m])
			}
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[n+m:]
	}
	return nil
}

func consumeUint32(typ protowire.Type, v []byte, dst *uint32) int {
	if typ != protowire.VarintType {
		return 0
	}
	x, n := protowire.ConsumeVarint(v)
	if n > 0 {
		*dst = uint32(x)
	}
	return n
}

func consumeInt32(typ protowire.Type, v []byte, dst *int32) int {
	if typ != protowire.VarintType {
		return 0
	}
	x, n := protowire.ConsumeVarint(v)
	if n > 0 {
		*dst = int32(x)
	}
	return n
}

func consumeBool(typ protowire.Type, v []byte, dst *bool) int {
	if typ != protowire.VarintType {
		return 0
	}
	x, n := protowire.ConsumeVarint(v)
	if n > 0 {
		*dst = protowire.DecodeBool(x)
	}
	return n
}

func consumeFixed32(typ protowire.Type, v []byte, dst *uint32) int {
	if typ != protowire.Fixed32Type {
		return 0
	}
	x, n := protowire.ConsumeFixed32(v)
	if n > 0 {
		*dst = x
	}
	return n
}

func consumeFloat(typ protowire.Type, v []byte, dst *float32) int {
	if typ != protowire.Fixed32Type {
		return 0
	}
	x, n := protowire.ConsumeFixed32(v)
	if n > 0 {
		*dst = math.Float32frombits(x)
	}
	return n
}

func consumeBytes(typ protowire.Type, v []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return 0
	}
	x, n := protowire.ConsumeBytes(v)
	if n > 0 {
		*dst = append([]byte(nil), x...)
	}
	return n
}

func consumeString(typ protowire.Type, v []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	x, n := protowire.ConsumeBytes(v)
	if n > 0 {
		*dst = string(x)
	}
	return n
}

// consumeMessage returns the encoded body of a length-delimited field.
func consumeMessage(typ protowire.Type, v []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, 0
	}
	return protowire.ConsumeBytes(v)
}

// consumeRepeatedFixed32 accepts both packed and unpacked encodings.
func consumeRepeatedFixed32(typ protowire.Type, v []byte, dst *[]uint32) int {
	switch typ {
	case protowire.Fixed32Type:
		x, n := protowire.ConsumeFixed32(v)
		if n > 0 {
			*dst = append(*dst, x)
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			x, m := protowire.ConsumeFixed32(packed)
			if m < 0 {
				return m
			}
			*dst = append(*dst, x)
			packed = packed[m:]
		}
		return n
	}
	return 0
}

// consumeRepeatedInt32 accepts both packed and unpacked encodings.
func consumeRepeatedInt32(typ protowire.Type, v []byte, dst *[]int32) int {
	switch typ {
	case protowire.VarintType:
		x, n := protowire.ConsumeVarint(v)
		if n > 0 {
			*dst = append(*dst, int32(x))
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			x, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			*dst = append(*dst, int32(x))
			packed = packed[m:]
		}
		return n
	}
	return 0
}

// The append helpers follow proto3 semantics: zero values are omitted.

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(true))
}

func appendFixed32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessage always emits the field so that presence survives for empty
// sub-messages and oneof members.
func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendPackedFixed32(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, v)
	}
	return appendMessage(b, num, packed)
}

func appendPackedInt32(b []byte, num protowire.Number, vs []int32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendMessage(b, num, packed)
}
