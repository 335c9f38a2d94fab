package poi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexRoundTrip(t *testing.T) {
	cases := []struct {
		kind    Kind
		payload uint64
	}{
		{KindExport, 0},
		{KindExport, 12345},
		{KindScriptImport, 0x1FFFFFFFFFFFFFFF & payloadMask},
		{KindPackageImport, 987654321},
		{KindNull, 0},
	}
	for _, c := range cases {
		idx := MakeIndex(c.kind, c.payload)
		require.Equal(t, c.kind, idx.Kind())
		require.Equal(t, c.payload&payloadMask, idx.Payload())
	}
}

func TestNullPOI(t *testing.T) {
	require.True(t, Null.IsNull())
	require.False(t, ExportPOI(0).IsNull())
}

func TestExportPOI(t *testing.T) {
	p := ExportPOI(42)
	require.True(t, p.IsExport())
	require.Equal(t, uint32(42), p.ExportIndex())
}

func TestPackageImportPOIMasksTo62Bits(t *testing.T) {
	p := PackageImportPOI("/Game/Foo/Bar.Baz")
	require.Equal(t, KindPackageImport, p.Kind())
	require.LessOrEqual(t, p.Payload(), payloadMask)
}

func TestPackageIdDeterministic(t *testing.T) {
	a := NewPackageId("/Game/Foo/Bar")
	b := NewPackageId("/GAME/FOO/BAR")
	require.Equal(t, a, b, "PackageId must be case-insensitive")
	c := NewPackageId("/Game/Foo/Baz")
	require.NotEqual(t, a, c)
}
