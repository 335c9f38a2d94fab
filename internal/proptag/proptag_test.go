package proptag

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionedRoundTrip(t *testing.T) {
	props := []Property{
		{Tag: "NumMips", Type: "IntProperty", ArrayIndex: 0, Payload: []byte{4, 0, 0, 0}},
		{Tag: "MaterialSlotTags", Type: "ArrayProperty", InnerType: "NameProperty", Payload: []byte{1, 2, 3}},
	}
	encoded := EncodeVersioned(props)

	decoded, n, err := DecodeVersioned(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, props, decoded)
}

func TestVersionedPreservesUnknownProperties(t *testing.T) {
	props := []Property{
		{Tag: "SomeUnknownThing", Type: "StructProperty", InnerType: "Vector", Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
	}
	encoded := EncodeVersioned(props)
	decoded, _, err := DecodeVersioned(encoded)
	require.NoError(t, err)
	require.Equal(t, props, decoded)

	reencoded := EncodeVersioned(decoded)
	require.Equal(t, encoded, reencoded)
}

func TestFindTagAndAccessors(t *testing.T) {
	p := Property{Tag: "NumMips", Payload: []byte{7, 0, 0, 0}}
	v, err := p.Uint32Value()
	require.NoError(t, err)
	require.Equal(t, uint32(7), v)

	lut := Property{Payload: make([]byte, 16)}
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(lut.Payload[i*4:], uint32(0x3F800000)) // 1.0f
	}
	floats, err := lut.Float32ArrayValue()
	require.NoError(t, err)
	require.Len(t, floats, 4)
	require.Equal(t, float32(1.0), floats[0])

	_, ok := FindTag(nil, "Missing")
	require.False(t, ok)
}

type fakeSchema struct {
	fields []SchemaField
}

func (f fakeSchema) FieldsForClass(string) ([]SchemaField, error) { return f.fields, nil }

func TestUnversionedRoundTrip(t *testing.T) {
	schema := fakeSchema{fields: []SchemaField{
		{Name: "bEnabled", Type: FieldBool},
		{Name: "Count", Type: FieldInt32},
		{Name: "Label", Type: FieldStr},
		{Name: "Unused", Type: FieldFloat},
	}}

	labelPayload := append([]byte{5, 0, 0, 0}, []byte("hello")...)
	props := []Property{
		{Tag: "bEnabled", Payload: []byte{1}},
		{Tag: "Count", Payload: []byte{9, 0, 0, 0}},
		{Tag: "Label", Payload: labelPayload},
	}

	encoded, err := EncodeUnversioned(props, "SomeClass", schema)
	require.NoError(t, err)

	decoded, n, err := DecodeUnversioned(encoded, "SomeClass", schema)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Len(t, decoded, 3)
	require.Equal(t, "bEnabled", decoded[0].Tag)
	require.Equal(t, "Count", decoded[1].Tag)
	require.Equal(t, "Label", decoded[2].Tag)
	require.Equal(t, labelPayload, decoded[2].Payload)
}

func TestUnversionedSkipsAbsentFields(t *testing.T) {
	schema := fakeSchema{fields: []SchemaField{
		{Name: "A", Type: FieldByte},
		{Name: "B", Type: FieldByte},
		{Name: "C", Type: FieldByte},
	}}
	props := []Property{{Tag: "B", Payload: []byte{0x42}}}

	encoded, err := EncodeUnversioned(props, "X", schema)
	require.NoError(t, err)
	decoded, _, err := DecodeUnversioned(encoded, "X", schema)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, "B", decoded[0].Tag)
	require.Equal(t, byte(0x42), decoded[0].Payload[0])
}
