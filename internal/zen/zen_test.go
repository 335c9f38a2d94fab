package zen

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenforge/cascade/internal/config"
	"github.com/zenforge/cascade/internal/legacy"
	"github.com/zenforge/cascade/internal/namepool"
	"github.com/zenforge/cascade/internal/poi"
	"github.com/zenforge/cascade/internal/scriptobj"
)

func buildTestCatalog(t *testing.T, names []string, entries []scriptobj.Entry) *scriptobj.Catalog {
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
	cat, err := scriptobj.Parse(out)
	require.NoError(t, err)
	return cat
}

func simplePackage(headerSize uint64) *Package {
	names := namepool.New()
	names.Intern("MyPackage")
	names.Intern("Root")
	names.Intern("Child")

	exports := []Export{
		{CookedSerialOffset: headerSize, CookedSerialSize: 10, ObjectName: namepool.NameIndex{Index: 1}, OuterIndex: poi.Null, PublicExportHash: 111},
		{CookedSerialOffset: headerSize + 10, CookedSerialSize: 20, ObjectName: namepool.NameIndex{Index: 2}, OuterIndex: poi.ExportPOI(0), PublicExportHash: 222},
	}
	return &Package{
		Version:        config.HeaderVersionInitial,
		Names:          names,
		Imports:        []poi.Index{poi.ScriptImportPOI(5)},
		Exports:        exports,
		ExportBundleEntries: BuildExportBundle([]poi.Index{poi.Null, poi.ExportPOI(0)}),
		ExportsPayload: append(bytesRepeat("x", 30), 0xC1, 0x83, 0x2A, 0x9E),
	}
}

func bytesRepeat(s string, n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, s...)
	}
	return out[:n]
}

// marshalSettled marshals pkg once with a zero cookedHeaderSize/export
// offsets to learn the real header size, then rebuilds with offsets that
// actually land in the exports region, mirroring how the emit pipeline
// settles offsets before its final pass.
func marshalSettled(t *testing.T) (*Package, []byte) {
	t.Helper()
	probe := simplePackage(0)
	probeRaw, err := probe.Marshal()
	require.NoError(t, err)
	s, err := unmarshalSummary(probeRaw)
	require.NoError(t, err)

	pkg := simplePackage(uint64(s.ZenHeaderSize))
	raw, err := pkg.Marshal()
	require.NoError(t, err)
	return pkg, raw
}

func TestMarshalParseRoundTrip(t *testing.T) {
	pkg, raw := marshalSettled(t)

	got, err := Parse(raw, config.HeaderVersionInitial)
	require.NoError(t, err)

	require.Equal(t, pkg.Names.Names(), got.Names.Names())
	require.Equal(t, pkg.Imports, got.Imports)
	require.Equal(t, pkg.Exports, got.Exports)
	require.Equal(t, pkg.ExportBundleEntries, got.ExportBundleEntries)
	require.Equal(t, pkg.ExportsPayload, got.ExportsPayload)
}

func TestParseRejectsOverlappingExportRegions(t *testing.T) {
	pkg, raw := marshalSettled(t)
	s, err := unmarshalSummary(raw)
	require.NoError(t, err)

	// Corrupt the second export's offset in place to collide with the first.
	exportsRaw := raw[s.ExportMapOffset:]
	binary.LittleEndian.PutUint64(exportsRaw[exportRecordSize:], pkg.Exports[0].CookedSerialOffset)

	_, err = Parse(raw, config.HeaderVersionInitial)
	require.Error(t, err)
}

func TestTopologicalExportOrderParentsBeforeChildren(t *testing.T) {
	outers := []poi.Index{poi.ExportPOI(2), poi.Null, poi.ExportPOI(1)}
	order := TopologicalExportOrder(outers)

	pos := make(map[int]int, len(order))
	for i, idx := range order {
		pos[idx] = i
	}
	require.Less(t, pos[1], pos[2])
	require.Less(t, pos[2], pos[0])
}

func TestBuildExportBundleCreateThenSerialize(t *testing.T) {
	entries := BuildExportBundle([]poi.Index{poi.Null, poi.ExportPOI(0)})
	require.Len(t, entries, 4)
	for i := 0; i < 2; i++ {
		require.Equal(t, CommandCreate, entries[i].Command)
	}
	for i := 2; i < 4; i++ {
		require.Equal(t, CommandSerialize, entries[i].Command)
	}
}

func TestPublicExportHashVersionGating(t *testing.T) {
	id := poi.ScriptImportPOI(77)
	h1 := PublicExportHash(config.HeaderVersionInitial, "mypackage.myexport", id)
	h2 := PublicExportHash(config.HeaderVersionNoExportInfo, "mypackage.myexport", id)
	require.NotEqual(t, h1, h2)
	require.Equal(t, id.Payload(), h2)
}

func TestBuildPreloadRegionPadsToTarget(t *testing.T) {
	region, err := BuildPreloadRegion([][]uint32{{1, 2}, {}}, 64)
	require.NoError(t, err)
	require.Len(t, region, 64)
}

func TestBuildPreloadRegionEmptyWhenNoGap(t *testing.T) {
	region, err := BuildPreloadRegion(nil, 0)
	require.NoError(t, err)
	require.Empty(t, region)
}

func TestRemapScriptClassImport(t *testing.T) {
	pkg, obj := RemapScriptClassImport("/Script/MaterialTagPlugin", "AssetUserData")
	require.Equal(t, "/Script/Engine", pkg)
	require.Equal(t, "AssetUserData", obj)

	pkg, obj = RemapScriptClassImport("/Script/MaterialTagPlugin", "Default__AssetUserData")
	require.Equal(t, "/Script/Engine", pkg)
	require.Equal(t, "Default__AssetUserData", obj)

	pkg, obj = RemapScriptClassImport("/Script/Engine", "StaticMesh")
	require.Equal(t, "/Script/Engine", pkg)
	require.Equal(t, "StaticMesh", obj)
}

func TestBuildImportMapResolvesScriptAndPackageImports(t *testing.T) {
	cat := buildTestCatalog(t, []string{"Engine", "StaticMesh"}, []scriptobj.Entry{
		{NameIndex: namepool.NameIndex{Index: 0}, GlobalImportIndex: poi.ScriptImportPOI(1), OuterIndex: poi.Null},
		{NameIndex: namepool.NameIndex{Index: 1}, GlobalImportIndex: poi.ScriptImportPOI(2), OuterIndex: poi.ScriptImportPOI(1)},
	})

	imports := []legacy.Import{
		{ClassPackage: "/Script/Engine", ClassName: "Class", ObjectName: "StaticMesh", IsScript: true},
		{ObjectName: "SomeAsset", PackageName: "/Game/Other", IsScript: false},
	}
	resolved, err := BuildImportMap(imports, cat)
	require.NoError(t, err)
	require.Equal(t, poi.ScriptImportPOI(2), resolved[0])
	require.Equal(t, poi.KindPackageImport, resolved[1].Kind())
}

func TestCollectImportedPackageNamesDedupes(t *testing.T) {
	names := namepool.New()
	out := CollectImportedPackageNames(names, []string{"/Game/A", "/Game/B", "/Game/A"})
	require.Len(t, out, 2)
}
