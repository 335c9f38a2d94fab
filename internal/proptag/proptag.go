// Package proptag decodes and re-encodes the tagged-property stream that
// precedes an export's reshape-relevant tail bytes. Both versioned (every
// property self-describing) and unversioned (schema-driven, bit-packed
// presence header) forms are supported. Unknown properties are preserved by
// position and size as opaque payload so a decode-then-encode round trip
// with no reshape reproduces the original bytes.
package proptag

import (
	"encoding/binary"
	"math"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

// noneSentinel terminates a versioned property list: a tag name of "None".
const noneSentinel = "None"

// Property is one decoded tagged-property record. Payload is preserved
// verbatim regardless of whether the tag is one this package's callers
// recognize.
type Property struct {
	Tag        string
	Type       string
	InnerType  string
	ArrayIndex int32
	Payload    []byte
}

// DecodeVersioned reads self-describing property records from b until the
// "None" sentinel tag, returning the decoded properties and the number of
// bytes consumed (including the sentinel).
func DecodeVersioned(b []byte) ([]Property, int, error) {
	var props []Property
	off := 0
	for {
		tag, n, err := primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, 0, cerr.Wrap(cerr.EEncoding, "proptag.DecodeVersioned", err)
		}
		off += n
		if tag == noneSentinel {
			return props, off, nil
		}

		typeName, n, err := primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, 0, cerr.Wrap(cerr.EEncoding, "proptag.DecodeVersioned", err)
		}
		off += n

		if len(b) < off+1 {
			return nil, 0, cerr.New(cerr.EEncoding, "proptag.DecodeVersioned", "short buffer for inner-type flag")
		}
		hasInner := b[off] != 0
		off++
		var innerType string
		if hasInner {
			innerType, n, err = primitives.ReadLengthPrefixedString(b[off:])
			if err != nil {
				return nil, 0, cerr.Wrap(cerr.EEncoding, "proptag.DecodeVersioned", err)
			}
			off += n
		}

		if len(b) < off+8 {
			return nil, 0, cerr.New(cerr.EEncoding, "proptag.DecodeVersioned", "short buffer for size/index")
		}
		arrayIndex := int32(binary.LittleEndian.Uint32(b[off:]))
		size := binary.LittleEndian.Uint32(b[off+4:])
		off += 8

		if len(b) < off+int(size) {
			return nil, 0, cerr.New(cerr.ESchema, "proptag.DecodeVersioned", "property payload exceeds buffer")
		}
		payload := append([]byte{}, b[off:off+int(size)]...)
		off += int(size)

		props = append(props, Property{
			Tag:        tag,
			Type:       typeName,
			InnerType:  innerType,
			ArrayIndex: arrayIndex,
			Payload:    payload,
		})
	}
}

// EncodeVersioned is the inverse of DecodeVersioned, appending the "None"
// sentinel.
func EncodeVersioned(props []Property) []byte {
	var out []byte
	for _, p := range props {
		out = append(out, primitives.WriteLengthPrefixedString(p.Tag)...)
		out = append(out, primitives.WriteLengthPrefixedString(p.Type)...)
		if p.InnerType != "" {
			out = append(out, 1)
			out = append(out, primitives.WriteLengthPrefixedString(p.InnerType)...)
		} else {
			out = append(out, 0)
		}
		var head [8]byte
		binary.LittleEndian.PutUint32(head[0:], uint32(p.ArrayIndex))
		binary.LittleEndian.PutUint32(head[4:], uint32(len(p.Payload)))
		out = append(out, head[:]...)
		out = append(out, p.Payload...)
	}
	out = append(out, primitives.WriteLengthPrefixedString(noneSentinel)...)
	return out
}

// FindTag returns the first property with the given tag name.
func FindTag(props []Property, tag string) (Property, bool) {
	for _, p := range props {
		if p.Tag == tag {
			return p, true
		}
	}
	return Property{}, false
}

// Uint32Value decodes a 4-byte little-endian integer property payload.
func (p Property) Uint32Value() (uint32, error) {
	if len(p.Payload) != 4 {
		return 0, cerr.New(cerr.ESchema, "Property.Uint32Value", "payload is not 4 bytes")
	}
	return binary.LittleEndian.Uint32(p.Payload), nil
}

// Float32ArrayValue reinterprets the payload as a dense array of
// little-endian float32 values (used by the particle lookup-table
// reshaper).
func (p Property) Float32ArrayValue() ([]float32, error) {
	if len(p.Payload)%4 != 0 {
		return nil, cerr.New(cerr.ESchema, "Property.Float32ArrayValue", "payload is not a multiple of 4 bytes")
	}
	out := make([]float32, len(p.Payload)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(p.Payload[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}
