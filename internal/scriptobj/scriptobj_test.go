package scriptobj

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenforge/cascade/internal/namepool"
	"github.com/zenforge/cascade/internal/poi"
)

func buildCatalog(t *testing.T, names []string, entries []Entry) []byte {
	t.Helper()
	batch := namepool.EncodeBatch(names, 0)
	out := append([]byte{}, batch...)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	out = append(out, countBuf[:]...)
	for _, e := range entries {
		var rec [32]byte
		nameRaw := uint64(e.NameIndex.Index)<<32 | uint64(e.NameIndex.Suffix)
		binary.LittleEndian.PutUint64(rec[0:], nameRaw)
		binary.LittleEndian.PutUint64(rec[8:], uint64(e.GlobalImportIndex))
		binary.LittleEndian.PutUint64(rec[16:], uint64(e.OuterIndex))
		binary.LittleEndian.PutUint64(rec[24:], uint64(e.CDOClassIndex))
		out = append(out, rec[:]...)
	}
	return out
}

func TestParseAndLookup(t *testing.T) {
	names := []string{"Engine", "StaticMesh"}
	entries := []Entry{
		{NameIndex: namepool.NameIndex{Index: 0}, GlobalImportIndex: poi.ScriptImportPOI(1), OuterIndex: poi.Null},
		{NameIndex: namepool.NameIndex{Index: 1}, GlobalImportIndex: poi.ScriptImportPOI(2), OuterIndex: poi.ScriptImportPOI(1)},
	}
	raw := buildCatalog(t, names, entries)
	cat, err := Parse(raw)
	require.NoError(t, err)

	name, ok := cat.LookupByID(2)
	require.True(t, ok)
	require.Equal(t, "Engine.StaticMesh", name)

	id, ok := cat.LookupByQualifiedName("engine.staticmesh")
	require.True(t, ok)
	require.Equal(t, uint64(2), id)

	_, ok = cat.LookupByID(999)
	require.False(t, ok)
}
