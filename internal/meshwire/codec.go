package meshwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The field numbers below are this gateway's own wire schema for the
// tagged variants in types.go. They do not claim bit-compatibility with
// the real Meshtastic firmware protobufs (see DESIGN.md) — only with
// themselves, encode and decode.

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

func appendSintField(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendFixed32Field(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

func appendFixed64Field(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	return appendBytesField(b, num, []byte(v))
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	if msg == nil {
		return b
	}
	return appendBytesField(b, num, msg)
}

// field is one decoded (number, value) pair from a single pass over a
// message's wire bytes, used by the small per-type unmarshal loops below.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	varint uint64
	fixed32 uint32
	fixed64 uint64
	bytes []byte
}

func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("meshwire: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var f field
		f.num, f.typ = num, typ
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("meshwire: invalid varint: %w", protowire.ParseError(n))
			}
			f.varint = v
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("meshwire: invalid fixed32: %w", protowire.ParseError(n))
			}
			f.fixed32 = v
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("meshwire: invalid fixed64: %w", protowire.ParseError(n))
			}
			f.fixed64 = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("meshwire: invalid bytes: %w", protowire.ParseError(n))
			}
			f.bytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("meshwire: invalid field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (f field) sint32() int32 {
	return int32(protowire.DecodeZigZag(f.varint))
}

func (f field) string() string {
	return string(f.bytes)
}
