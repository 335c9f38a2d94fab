package iostore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenforge/cascade/internal/primitives"
)

func TestWriteReadRoundTripUncompressedNoEncryption(t *testing.T) {
	w := NewWriter(WriterOptions{
		ContainerId: 0xC0FFEE,
		MountPoint:  "/",
	})

	payloads := map[uint64][]byte{
		1: []byte("hello world, this is package one"),
		2: bytes.Repeat([]byte{0xAB}, 200*1024), // spans multiple blocks
		3: []byte("short"),
	}
	for pid, data := range payloads {
		id := PackageChunkId(pid)
		err := w.WritePackageChunk(id, "/Game/Pkg.uasset", data, StoreEntry{ExportCount: 1, ExportBundleCount: 2})
		require.NoError(t, err)
	}

	var storeBuf, tocBuf bytes.Buffer
	require.NoError(t, w.Complete(&storeBuf, &tocBuf))

	r, err := Open(tocBuf.Bytes(), bytes.NewReader(storeBuf.Bytes()), ReaderOptions{})
	require.NoError(t, err)

	for pid, data := range payloads {
		got, err := r.ReadChunk(PackageChunkId(pid))
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestWriteReadRoundTripCompressedWithNoopOodle(t *testing.T) {
	w := NewWriter(WriterOptions{
		ContainerId:        1,
		MountPoint:         "/",
		CompressionMethods: []string{"Oodle"},
		Oodle:              NoopOodle{},
		HeaderVersion:      headerVersionPtr(HeaderVersionNoExportInfo),
	})
	data := bytes.Repeat([]byte("payload-"), 10000)
	require.NoError(t, w.WritePackageChunk(PackageChunkId(42), "/Game/Foo.uasset", data, StoreEntry{ImportedPackages: []uint64{7, 8}}))

	var storeBuf, tocBuf bytes.Buffer
	require.NoError(t, w.Complete(&storeBuf, &tocBuf))

	r, err := Open(tocBuf.Bytes(), bytes.NewReader(storeBuf.Bytes()), ReaderOptions{Oodle: NoopOodle{}})
	require.NoError(t, err)
	got, err := r.ReadChunk(PackageChunkId(42))
	require.NoError(t, err)
	require.Equal(t, data, got)

	ch, ok, err := r.ContainerHeaderChunk()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []uint64{42}, ch.PackageIds)
	require.Equal(t, []uint64{7, 8}, ch.Entries[0].ImportedPackages)
}

func TestContainerHeaderChunkIsLastAndUncompressed(t *testing.T) {
	w := NewWriter(WriterOptions{
		ContainerId:        2,
		MountPoint:         "/",
		CompressionMethods: []string{"Oodle"},
		Oodle:              NoopOodle{},
		HeaderVersion:      headerVersionPtr(HeaderVersionNoExportInfo),
	})
	require.NoError(t, w.WritePackageChunk(PackageChunkId(1), "/A.uasset", []byte("aaaa"), StoreEntry{}))
	require.NoError(t, w.WritePackageChunk(PackageChunkId(2), "/B.uasset", []byte("bbbb"), StoreEntry{}))

	var storeBuf, tocBuf bytes.Buffer
	require.NoError(t, w.Complete(&storeBuf, &tocBuf))

	r, err := Open(tocBuf.Bytes(), bytes.NewReader(storeBuf.Bytes()), ReaderOptions{Oodle: NoopOodle{}})
	require.NoError(t, err)
	chunks := r.Chunks()
	require.Equal(t, ChunkTypeContainerHeader, chunks[len(chunks)-1].Type)
	require.Equal(t, uint8(0), r.blocks[len(r.blocks)-1].Method)
}

func TestDirectoryIndexResolvesPaths(t *testing.T) {
	w := NewWriter(WriterOptions{ContainerId: 1, MountPoint: "/Game/"})
	require.NoError(t, w.WriteChunk(PackageChunkId(1), "/Game/Foo/Bar.uasset", []byte("x")))

	var storeBuf, tocBuf bytes.Buffer
	require.NoError(t, w.Complete(&storeBuf, &tocBuf))

	r, err := Open(tocBuf.Bytes(), bytes.NewReader(storeBuf.Bytes()), ReaderOptions{})
	require.NoError(t, err)
	p, ok := r.GetChunkPath(PackageChunkId(1))
	require.True(t, ok)
	require.Equal(t, "Foo/Bar.uasset", p)
}

func headerVersionPtr(v HeaderVersion) *HeaderVersion { return &v }

func TestWriteReadRoundTripEncrypted(t *testing.T) {
	key, err := hexKeyForTest()
	require.NoError(t, err)
	w := NewWriter(WriterOptions{
		ContainerId: 5,
		MountPoint:  "/",
		AESKey:      &key,
	})
	data := []byte("secret export bytes")
	require.NoError(t, w.WritePackageChunk(PackageChunkId(9), "/S.uasset", data, StoreEntry{}))

	var storeBuf, tocBuf bytes.Buffer
	require.NoError(t, w.Complete(&storeBuf, &tocBuf))

	r, err := Open(tocBuf.Bytes(), bytes.NewReader(storeBuf.Bytes()), ReaderOptions{AESKey: &key})
	require.NoError(t, err)
	got, err := r.ReadChunk(PackageChunkId(9))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func hexKeyForTest() (primitives.AESKey, error) {
	return primitives.ParseContainerAESKey("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
}
