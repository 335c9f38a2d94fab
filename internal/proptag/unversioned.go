package proptag

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
)

// FieldType is the small set of primitive wire shapes an unversioned
// mappings-schema field can declare.
type FieldType int

const (
	FieldBool FieldType = iota
	FieldByte
	FieldInt32
	FieldFloat
	FieldName
	FieldStr
	FieldBytes // fixed-size opaque blob, size taken from SchemaField.Size
)

// SchemaField is one property declaration read from an external
// mappings-schema file. This package only consumes the schema; producing it
// is out of scope. FieldName and FieldStr payloads are a plain
// u32-byte-count-prefixed ASCII blob (including the length prefix in the
// payload) — simpler than the general §4.B length-prefixed form since the
// schema never needs UTF-16.
type SchemaField struct {
	Name string
	Type FieldType
	Size uint32 // used only when Type == FieldBytes
}

// MappingsSchema supplies the ordered field list for a given (unversioned)
// export class. Index order in the returned slice is the order the
// bit-packed presence header addresses.
type MappingsSchema interface {
	FieldsForClass(className string) ([]SchemaField, error)
}

func fixedSize(f SchemaField) (uint32, bool) {
	switch f.Type {
	case FieldBool, FieldByte:
		return 1, true
	case FieldInt32, FieldFloat:
		return 4, true
	case FieldBytes:
		return f.Size, true
	default:
		return 0, false // FieldName, FieldStr are length-prefixed, not fixed
	}
}

// DecodeUnversioned reads a bit-packed presence header — alternating
// zero-run and non-zero-run counts over the schema's field indices,
// terminated by a (0, 0) pair — followed by the payload of each field the
// header marks present, in schema order. className selects the field list
// from schema.
func DecodeUnversioned(b []byte, className string, schema MappingsSchema) ([]Property, int, error) {
	fields, err := schema.FieldsForClass(className)
	if err != nil {
		return nil, 0, cerr.Wrap(cerr.ESchema, "proptag.DecodeUnversioned", err)
	}

	present := make([]bool, len(fields))
	off := 0
	cursor := 0
	for {
		if len(b) < off+8 {
			return nil, 0, cerr.New(cerr.EEncoding, "proptag.DecodeUnversioned", "short buffer for presence run")
		}
		zeroRun := binary.LittleEndian.Uint32(b[off:])
		nonZeroRun := binary.LittleEndian.Uint32(b[off+4:])
		off += 8
		if zeroRun == 0 && nonZeroRun == 0 {
			break
		}
		cursor += int(zeroRun)
		for i := 0; i < int(nonZeroRun); i++ {
			if cursor >= len(present) {
				return nil, 0, cerr.New(cerr.ESchema, "proptag.DecodeUnversioned", "presence run exceeds schema field count")
			}
			present[cursor] = true
			cursor++
		}
	}

	var props []Property
	for i, f := range fields {
		if !present[i] {
			continue
		}
		var size uint32
		if fs, ok := fixedSize(f); ok {
			size = fs
			if len(b) < off+int(size) {
				return nil, 0, cerr.New(cerr.EEncoding, "proptag.DecodeUnversioned", "short buffer for fixed field")
			}
		} else {
			if len(b) < off+4 {
				return nil, 0, cerr.New(cerr.EEncoding, "proptag.DecodeUnversioned", "short buffer for variable field length")
			}
			size = binary.LittleEndian.Uint32(b[off:]) + 4
			if len(b) < off+int(size) {
				return nil, 0, cerr.New(cerr.EEncoding, "proptag.DecodeUnversioned", "short buffer for variable field payload")
			}
		}
		payload := append([]byte{}, b[off:off+int(size)]...)
		off += int(size)
		props = append(props, Property{Tag: f.Name, Type: fieldTypeName(f.Type), Payload: payload})
	}
	return props, off, nil
}

func fieldTypeName(t FieldType) string {
	switch t {
	case FieldBool:
		return "BoolProperty"
	case FieldByte:
		return "ByteProperty"
	case FieldInt32:
		return "IntProperty"
	case FieldFloat:
		return "FloatProperty"
	case FieldName:
		return "NameProperty"
	case FieldStr:
		return "StrProperty"
	default:
		return "BytesProperty"
	}
}

// EncodeUnversioned re-serializes props (a subset of schema's fields, in
// schema order) back into a presence header plus payload stream.
func EncodeUnversioned(props []Property, className string, schema MappingsSchema) ([]byte, error) {
	fields, err := schema.FieldsForClass(className)
	if err != nil {
		return nil, cerr.Wrap(cerr.ESchema, "proptag.EncodeUnversioned", err)
	}
	byName := make(map[string]Property, len(props))
	for _, p := range props {
		byName[p.Tag] = p
	}

	present := make([]bool, len(fields))
	for i, f := range fields {
		if _, ok := byName[f.Name]; ok {
			present[i] = true
		}
	}

	var header []byte
	i := 0
	for i < len(present) {
		zeroRun := 0
		for i < len(present) && !present[i] {
			zeroRun++
			i++
		}
		nonZeroRun := 0
		for i < len(present) && present[i] {
			nonZeroRun++
			i++
		}
		if zeroRun == 0 && nonZeroRun == 0 {
			break
		}
		var run [8]byte
		binary.LittleEndian.PutUint32(run[0:], uint32(zeroRun))
		binary.LittleEndian.PutUint32(run[4:], uint32(nonZeroRun))
		header = append(header, run[:]...)
	}
	var term [8]byte
	header = append(header, term[:]...)

	out := header
	for _, f := range fields {
		p, ok := byName[f.Name]
		if !ok {
			continue
		}
		out = append(out, p.Payload...)
	}
	return out, nil
}
