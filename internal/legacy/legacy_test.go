package legacy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePackage() *Package {
	return &Package{
		PackagePath: "/Game/Pkg",
		Names:       []string{"Pkg", "StaticMesh", "/Script/Engine"},
		Imports: []Import{
			{ClassPackage: "/Script/Engine", ClassName: "Class", OuterIndex: 0, ObjectName: "StaticMesh", IsScript: true},
		},
		Exports: []Export{
			{ObjectName: "Pkg", ClassIndex: -1, SuperIndex: 0, TemplateIndex: 0, OuterIndex: 0, ObjectFlags: 1, Payload: []byte("hello export bytes")},
			{ObjectName: "Pkg2", ClassIndex: -1, SuperIndex: 0, TemplateIndex: 0, OuterIndex: 1, ObjectFlags: 2, Payload: []byte("second export, a little longer")},
		},
		Preloads: []PreloadDependency{
			{CreateBeforeCreate: []int32{1}, SerializeBeforeCreate: nil, CreateBeforeSerialize: nil, SerializeBeforeSerialize: []int32{2, 3}},
			{},
		},
		BulkResources: []BulkResource{
			{Flags: 1, Offset: 0, SizeOnDisk: 128, SizeInMem: 128},
		},
		PackageFlags: 0x42,
	}
}

func withSerialOffsets(pkg *Package, headerSize uint64) *Package {
	off := headerSize
	for i := range pkg.Exports {
		pkg.Exports[i].SerialOffset = off
		pkg.Exports[i].SerialSize = uint64(len(pkg.Exports[i].Payload))
		off += pkg.Exports[i].SerialSize
	}
	return pkg
}

func TestWriteReadPackageRoundTrip(t *testing.T) {
	pkg := samplePackage()

	// First pass: serialize with a zero header size to learn TotalHeaderSize,
	// then fix up serial offsets and re-serialize, mirroring how a real
	// writer settles offsets before a final pass.
	headerBytes, _, err := WritePackage(withSerialOffsets(pkg, 0))
	require.NoError(t, err)
	s, err := unmarshalSummary(headerBytes)
	require.NoError(t, err)

	pkg = withSerialOffsets(samplePackage(), uint64(s.TotalHeaderSize))
	headerBytes, exportsBytes, err := WritePackage(pkg)
	require.NoError(t, err)

	got, err := ReadPackage("/Game/Pkg", headerBytes, exportsBytes, nil)
	require.NoError(t, err)

	require.Equal(t, pkg.Names, got.Names)
	require.Equal(t, pkg.Imports, got.Imports)
	require.Equal(t, pkg.PackageFlags, got.PackageFlags)
	require.Equal(t, pkg.BulkResources, got.BulkResources)
	require.Equal(t, pkg.Preloads, got.Preloads)
	require.Len(t, got.Exports, 2)
	require.Equal(t, "hello export bytes", string(got.Exports[0].Payload))
	require.Equal(t, "second export, a little longer", string(got.Exports[1].Payload))
	require.Equal(t, pkg.Exports[0].ObjectName, got.Exports[0].ObjectName)
	require.Equal(t, pkg.Exports[1].OuterIndex, got.Exports[1].OuterIndex)
}

func TestReadPackageRejectsMissingTrailingTag(t *testing.T) {
	pkg := withSerialOffsets(samplePackage(), 0)
	headerBytes, exportsBytes, err := WritePackage(pkg)
	require.NoError(t, err)

	corrupt := append([]byte{}, exportsBytes...)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err = ReadPackage("/Game/Pkg", headerBytes, corrupt, nil)
	require.Error(t, err)
}

func TestReadPackageRejectsOverlappingExports(t *testing.T) {
	// Settle serial offsets past the real header size first, so the only
	// fault in the rewritten header is the overlap below.
	draft, _, err := WritePackage(withSerialOffsets(samplePackage(), 0))
	require.NoError(t, err)
	ds, err := unmarshalSummary(draft)
	require.NoError(t, err)
	pkg := withSerialOffsets(samplePackage(), uint64(ds.TotalHeaderSize))
	headerBytes, exportsBytes, err := WritePackage(pkg)
	require.NoError(t, err)

	s, err := unmarshalSummary(headerBytes)
	require.NoError(t, err)

	// Force the second export's offset to collide with the first.
	exports, err := readExports(headerBytes, s.ExportOffset, s.ExportCount)
	require.NoError(t, err)
	exports[1].SerialOffset = exports[0].SerialOffset

	pkg.Exports = exports
	badHeader, _, err := WritePackage(pkg)
	require.NoError(t, err)

	_, err = ReadPackage("/Game/Pkg", badHeader, exportsBytes, nil)
	require.Error(t, err)
}
