package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Unknown is returned by a FieldFunc for fields it does not handle; the
// field value is then skipped.
const Unknown = 0

// Message is implemented by every type that travels over the wire or into
// the transaction log.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(b []byte) error
}

// FieldFunc consumes the value of a single field and returns the number of
// bytes read, a negative protowire error code, or Unknown.
type FieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

// ConsumeFields walks every field in b and hands it to fn.
func ConsumeFields(b []byte, fn FieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n == Unknown {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// AppendVarint appends a varint field, omitting zero values.
func AppendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendString appends a length-delimited string field, omitting empty strings.
func AppendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// AppendBytes appends a length-delimited bytes field. Unlike strings, an
// empty non-nil slice is written so that "present but empty" survives a
// round trip.
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Varint reads a varint field value into dst.
func Varint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return Unknown
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

// String reads a length-delimited field value into dst.
func String(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return Unknown
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

// Bytes reads a length-delimited field value into dst. The result never
// aliases b and is non-nil even when the field is empty.
func Bytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return Unknown
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte{}, v...)
	}
	return n
}
