package cascade

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenforge/cascade/internal/cindex"
	"github.com/zenforge/cascade/internal/config"
	"github.com/zenforge/cascade/internal/iostore"
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

// widgetCatalog builds a catalog containing a single "Engine.Widget" class
// path, two levels deep (Engine -> Widget) so qualifiedName walks one
// OuterIndex hop, mirroring how the real global container nests classes
// under their owning script package.
func widgetCatalog(t *testing.T) *scriptobj.Catalog {
	t.Helper()
	names := []string{"Engine", "Widget"}
	entries := []scriptobj.Entry{
		{NameIndex: namepool.NameIndex{Index: 0}, GlobalImportIndex: poi.ScriptImportPOI(100), OuterIndex: poi.Null},
		{NameIndex: namepool.NameIndex{Index: 1}, GlobalImportIndex: poi.ScriptImportPOI(200), OuterIndex: poi.ScriptImportPOI(100)},
	}
	return buildTestCatalog(t, names, entries)
}

func widgetPackage() *legacy.Package {
	return &legacy.Package{
		PackagePath: "/Game/Foo",
		Names:       []string{"MyMesh"},
		Imports: []legacy.Import{
			{ClassPackage: "/Script/Engine", ClassName: "Class", ObjectName: "Widget", IsScript: true},
		},
		Exports: []legacy.Export{
			{
				ObjectName:  "MyMesh",
				ClassIndex:  -1,
				ObjectFlags: 0,
				FilterFlags: legacy.FilterNone,
				Payload:     []byte("hello-export-bytes"),
			},
		},
		Preloads:     []legacy.PreloadDependency{{}},
		PackageFlags: 0,
		HeaderSize:   400,
	}
}

func TestConverterToZenBuildsConsistentHeaderSizes(t *testing.T) {
	c := &Converter{Catalog: widgetCatalog(t), Version: config.HeaderVersionInitial}
	pkg := widgetPackage()

	zpkg, err := c.ToZen(pkg)
	require.NoError(t, err)
	require.Equal(t, uint32(pkg.HeaderSize), zpkg.CookedHeaderSize)
	require.Len(t, zpkg.Exports, 1)
	require.Equal(t, uint64(pkg.HeaderSize), zpkg.Exports[0].CookedSerialOffset)
	require.Equal(t, uint64(len(pkg.Exports[0].Payload)), zpkg.Exports[0].CookedSerialSize)

	raw, err := zpkg.Marshal()
	require.NoError(t, err)
	require.True(t, len(raw) > int(zpkg.CookedHeaderSize))
}

func TestConverterToZenEncodesRealPreloadDependencies(t *testing.T) {
	c := &Converter{Catalog: widgetCatalog(t), Version: config.HeaderVersionInitial}
	pkg := widgetPackage()
	pkg.Preloads = []legacy.PreloadDependency{
		{
			CreateBeforeCreate:    []int32{1},  // the export depends on itself being created first
			SerializeBeforeCreate: []int32{-1}, // ...and on the Widget import
		},
	}

	zpkg, err := c.ToZen(pkg)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(zpkg.Preload), 4)
	count := binary.LittleEndian.Uint32(zpkg.Preload[0:4])
	require.Equal(t, uint32(1), count)
	depCount := binary.LittleEndian.Uint32(zpkg.Preload[4:8])
	require.Equal(t, uint32(2), depCount)

	indicesStart := 4 + 4*int(count)
	got := make([]uint32, depCount)
	for i := range got {
		got[i] = binary.LittleEndian.Uint32(zpkg.Preload[indicesStart+4*i:])
	}
	require.Equal(t, []uint32{uint32(int32(1)), uint32(int32(-1))}, got)
}

func TestConverterToZenRejectsHeaderTooSmall(t *testing.T) {
	c := &Converter{Catalog: widgetCatalog(t), Version: config.HeaderVersionInitial}
	pkg := widgetPackage()
	pkg.HeaderSize = 4 // far smaller than the zen header sections need

	_, err := c.ToZen(pkg)
	require.Error(t, err)
}

func TestConverterRoundTripsThroughZen(t *testing.T) {
	c := &Converter{Catalog: widgetCatalog(t), Version: config.HeaderVersionInitial}
	pkg := widgetPackage()

	zpkg, err := c.ToZen(pkg)
	require.NoError(t, err)

	back, err := c.ToLegacy(zpkg, pkg.PackagePath, nil)
	require.NoError(t, err)

	require.Equal(t, pkg.PackagePath, back.PackagePath)
	require.Len(t, back.Exports, 1)
	require.Equal(t, "MyMesh", back.Exports[0].ObjectName)
	require.Equal(t, pkg.Exports[0].Payload, back.Exports[0].Payload)
	require.Equal(t, int32(-1), back.Exports[0].ClassIndex)

	require.Len(t, back.Imports, 1)
	require.Equal(t, "/Script/Engine", back.Imports[0].ClassPackage)
	require.Equal(t, "Widget", back.Imports[0].ObjectName)
	require.True(t, back.Imports[0].IsScript)
}

func TestConverterToLegacyRequiresResolverForPackageImports(t *testing.T) {
	c := &Converter{Catalog: widgetCatalog(t), Version: config.HeaderVersionInitial}
	pkg := widgetPackage()
	pkg.Imports = []legacy.Import{
		{PackageName: "/Game/Other", ObjectName: "Thing", IsScript: false},
	}

	zpkg, err := c.ToZen(pkg)
	require.NoError(t, err)

	_, err = c.ToLegacy(zpkg, pkg.PackagePath, nil)
	require.Error(t, err)

	resolver := stubResolver{packageName: "/Game/Other", objectName: "Thing"}
	back, err := c.ToLegacy(zpkg, pkg.PackagePath, resolver)
	require.NoError(t, err)
	require.Equal(t, "/Game/Other", back.Imports[0].PackageName)
	require.Equal(t, "Thing", back.Imports[0].ObjectName)
}

type stubResolver struct {
	packageName, objectName string
}

func (s stubResolver) ResolvePackageImport(idx poi.Index) (string, string, bool) {
	return s.packageName, s.objectName, true
}

func TestBuildAndReadContainerRoundTrip(t *testing.T) {
	c := &Converter{Catalog: widgetCatalog(t), Version: config.HeaderVersionInitial}
	pkg := widgetPackage()

	tocBytes, storeBytes, companionBytes, err := BuildContainer(
		[]*legacy.Package{pkg}, c, iostore.WriterOptions{ContainerId: 1}, []string{pkg.PackagePath}, cindex.BuildOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, companionBytes)

	out, err := ReadContainer(tocBytes, bytes.NewReader(storeBytes), iostore.ReaderOptions{}, c, nil)
	require.NoError(t, err)

	// ReadContainer keys packages by their directory-index path, which is
	// stored relative to the mount point without the leading slash.
	got, ok := out["Game/Foo"]
	require.True(t, ok)
	require.Equal(t, pkg.Exports[0].Payload, got.Exports[0].Payload)
	require.Equal(t, "MyMesh", got.Exports[0].ObjectName)
}

func TestResolveClassName(t *testing.T) {
	pkg := widgetPackage()
	require.Equal(t, "", resolveClassName(pkg, 0))
	require.Equal(t, "Widget", resolveClassName(pkg, -1))
	require.Equal(t, "", resolveClassName(pkg, 7)) // out of range
}

func TestLegacyPOIRoundTrip(t *testing.T) {
	importPOIs := []poi.Index{poi.ScriptImportPOI(42)}
	require.Equal(t, poi.Null, legacyIndexToPOI(0, importPOIs))
	require.Equal(t, poi.ExportPOI(2), legacyIndexToPOI(3, importPOIs))
	require.Equal(t, importPOIs[0], legacyIndexToPOI(-1, importPOIs))

	importIndexOf := map[poi.Index]int{importPOIs[0]: 0}
	idx, err := poiToLegacyIndex(poi.ExportPOI(2), importIndexOf)
	require.NoError(t, err)
	require.Equal(t, int32(3), idx)

	idx, err = poiToLegacyIndex(importPOIs[0], importIndexOf)
	require.NoError(t, err)
	require.Equal(t, int32(-1), idx)

	_, err = poiToLegacyIndex(poi.ScriptImportPOI(999), importIndexOf)
	require.Error(t, err)
}
