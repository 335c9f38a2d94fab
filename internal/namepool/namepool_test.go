package namepool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolInternDedup(t *testing.T) {
	p := New()
	a := p.Intern("LODSettings")
	b := p.Intern("LODSettings")
	c := p.Intern("OtherName")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, "LODSettings", p.Name(a))
}

func TestDisplaySuffix(t *testing.T) {
	p := New()
	idx := p.Intern("LODSettings")
	require.Equal(t, "LODSettings", p.Display(NameIndex{Index: idx, Suffix: 0}))
	require.Equal(t, "LODSettings_303", p.Display(NameIndex{Index: idx, Suffix: 304}))
}

func TestBatchRoundTripASCII(t *testing.T) {
	names := []string{"", "a", "/Game/Foo/Bar", "StaticMesh", "LODSettings_303"}
	encoded := EncodeBatch(names, 0)
	decoded, version, err := DecodeBatch(encoded)
	require.NoError(t, err)
	require.Equal(t, uint64(0), version)
	require.Equal(t, names, decoded)
}

func TestBatchRoundTripContiguousNoPadding(t *testing.T) {
	// names of deliberately odd lengths to catch any accidental per-entry
	// alignment padding, which the format forbids.
	names := []string{"a", "bb", "ccc", "dddd", "e"}
	encoded := EncodeBatch(names, 1)
	decoded, _, err := DecodeBatch(encoded)
	require.NoError(t, err)
	require.Equal(t, names, decoded)
}

func TestBatchSanitizesNonASCII(t *testing.T) {
	// 'é' is two UTF-8 bytes, and each non-ASCII byte becomes '?'.
	encoded := EncodeBatch([]string{"café"}, 0)
	decoded, _, err := DecodeBatch(encoded)
	require.NoError(t, err)
	require.Equal(t, []string{"caf??"}, decoded)
}

func TestInHeaderRoundTripASCII(t *testing.T) {
	names := []string{"Foo", "Bar", ""}
	encoded := EncodeInHeader(names)
	decoded, err := DecodeInHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, names, decoded)
}

func TestLookupHitAndMiss(t *testing.T) {
	p := New()
	p.Intern("Abc")
	// Not a real hash collision (CityHash64 would need to actually collide),
	// but the lookup miss/hit path must behave for the happy path.
	idx, ok, err := p.Lookup("Abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)

	_, ok, err = p.Lookup("Xyz")
	require.NoError(t, err)
	require.False(t, ok)
}
