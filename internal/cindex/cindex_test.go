package cindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenforge/cascade/internal/primitives"
)

func TestChunkNamesArchiveRoundTrip(t *testing.T) {
	paths := []string{"/Game/Maps/Level1.umap", "/Game/Characters/Hero.uasset"}
	archive := NewChunkNamesArchive(paths)

	raw, err := archive.Build(BuildOptions{})
	require.NoError(t, err)

	r, err := Parse(raw, nil)
	require.NoError(t, err)

	names, err := r.List()
	require.NoError(t, err)
	require.Equal(t, []string{chunkNamesEntryName}, names)

	got, err := r.ReadAssetPaths()
	require.NoError(t, err)
	require.Equal(t, paths, got)
}

func TestChunkNamesArchiveEncryptedIndex(t *testing.T) {
	key, err := primitives.ParseContainerAESKey(
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)

	archive := NewChunkNamesArchive([]string{"/Game/A.uasset"})
	raw, err := archive.Build(BuildOptions{AESKey: &key, EncryptIndex: true})
	require.NoError(t, err)

	_, err = Parse(raw, nil)
	require.Error(t, err)

	r, err := Parse(raw, &key)
	require.NoError(t, err)
	got, err := r.ReadAssetPaths()
	require.NoError(t, err)
	require.Equal(t, []string{"/Game/A.uasset"}, got)
}

func TestChunkNamesArchiveCompressedBody(t *testing.T) {
	longPath := make([]byte, 0, 4096)
	for i := 0; i < 200; i++ {
		longPath = append(longPath, "/Game/Repeated/Asset.uasset\n"...)
	}
	archive := NewArchive()
	archive.AddEntry(chunkNamesEntryName, longPath)

	raw, err := archive.Build(BuildOptions{Compressor: zlibCompressor{}})
	require.NoError(t, err)

	r, err := Parse(raw, nil)
	require.NoError(t, err)
	body, err := r.Read(chunkNamesEntryName)
	require.NoError(t, err)
	require.Equal(t, longPath, body)
}

func TestPathHashIgnoresCase(t *testing.T) {
	a := PathHash("/Game/Foo.uasset", PathHashSeed)
	b := PathHash("/Game/FOO.uasset", PathHashSeed)
	require.Equal(t, a, b, "path hash lowercases before hashing")

	c := PathHash("/Game/Bar.uasset", PathHashSeed)
	require.NotEqual(t, a, c)
}

func TestParseRejectsBadMagic(t *testing.T) {
	archive := NewChunkNamesArchive([]string{"/Game/A.uasset"})
	raw, err := archive.Build(BuildOptions{})
	require.NoError(t, err)

	raw[len(raw)-footerSize+17] ^= 0xFF // corrupt a magic byte
	_, err = Parse(raw, nil)
	require.Error(t, err)
}
