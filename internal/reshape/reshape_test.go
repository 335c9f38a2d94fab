package reshape

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenforge/cascade/internal/proptag"
)

func TestDispatchNormalizesClassName(t *testing.T) {
	r, ok := Dispatch("/Script/Engine.Texture2D")
	require.True(t, ok)
	require.NotNil(t, r)

	_, ok = Dispatch("/Script/Engine.SomeUnknownClass")
	require.False(t, ok)
}

func buildInlineMip(sizeX, sizeY uint32, pixels []byte) []byte {
	rec := make([]byte, 29)
	rec[0] = byte(mipHeaderInline)
	// flags, offset, sizeOnDisk, sizeInMem all left zero for the test fixture
	var dims [8]byte
	binary.LittleEndian.PutUint32(dims[0:], sizeX)
	binary.LittleEndian.PutUint32(dims[4:], sizeY)
	var pixelLen [4]byte
	binary.LittleEndian.PutUint32(pixelLen[:], uint32(len(pixels)))
	out := append([]byte{}, rec...)
	out = append(out, dims[:]...)
	out = append(out, pixelLen[:]...)
	out = append(out, pixels...)
	return out
}

func buildTextureTail(mips [][]byte, mipCount uint32) []byte {
	var out []byte
	head := make([]byte, 12)
	binary.LittleEndian.PutUint32(head[0:], 64) // SizeX
	binary.LittleEndian.PutUint32(head[4:], 64) // SizeY
	binary.LittleEndian.PutUint32(head[8:], 1)  // PackedData
	out = append(out, head...)
	out = append(out, []byte{0xAA, 0xBB, 0xCC, 0xDD}...) // 4-byte placeholder padding -> 16-byte prefix

	out = append(out, writeStr("PF_DXT5")...)
	out = append(out, 0) // no ext data

	mipHdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(mipHdr[0:], 0) // firstMipToSerialize
	binary.LittleEndian.PutUint32(mipHdr[4:], mipCount)
	out = append(out, mipHdr...)

	for _, m := range mips {
		out = append(out, m...)
	}
	out = append(out, 0) // virtual-texture flag
	return out
}

func TestReshapeTexture2DStripsMips(t *testing.T) {
	mip0 := buildInlineMip(64, 64, []byte{1, 2, 3, 4})
	mip1 := buildInlineMip(32, 32, []byte{5, 6})
	tail := buildTextureTail([][]byte{mip0, mip1}, 2)

	r, ok := Dispatch("Texture2D")
	require.True(t, ok)

	newTail, _, err := r(tail, nil, nil)
	require.NoError(t, err)

	// The stripped form is not the interleaved input layout that
	// parseTexturePlatformData reads, so it is read back field by field:
	// 16-byte prefix, "PF_DXT5" (4+7), ext flag (1), then the mip header pair.
	off := 16 + 4 + len("PF_DXT5") + 1
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(newTail[off:]))   // firstMipToSerialize
	require.Equal(t, uint32(1), binary.LittleEndian.Uint32(newTail[off+4:])) // mip count
	off += 8
	require.Equal(t, byte(mipHeaderInline), newTail[off])
	off += 29 // inline header
	pixelLen := int(binary.LittleEndian.Uint32(newTail[off:]))
	off += 4
	require.Equal(t, []byte{1, 2, 3, 4}, newTail[off:off+pixelLen])
	off += pixelLen
	require.Equal(t, uint32(64), binary.LittleEndian.Uint32(newTail[off:])) // mip 0 sizeX
}

func TestReshapeTexture2DResolvesResourceIndexedMip0(t *testing.T) {
	resRec := make([]byte, 13) // kind(1) + resourceIndex(4) + dims(8)
	resRec[0] = byte(mipHeaderResourceIndex)
	binary.LittleEndian.PutUint32(resRec[1:], 7)
	binary.LittleEndian.PutUint32(resRec[5:], 16)
	binary.LittleEndian.PutUint32(resRec[9:], 16)
	tail := buildTextureTail([][]byte{resRec}, 1)

	r, _ := Dispatch("Texture2D")
	ctx := &Context{ResolveBulkData: func(idx uint32) ([]byte, error) {
		require.Equal(t, uint32(7), idx)
		return []byte{9, 9, 9}, nil
	}}
	newTail, _, err := r(tail, nil, ctx)
	require.NoError(t, err)

	// prefix, format name, ext flag and mip header pair, as in the test above
	off := 16 + 4 + len("PF_DXT5") + 1 + 8
	require.Equal(t, byte(mipHeaderInline), newTail[off])
	off += 29 // inline header
	pixelLen := int(binary.LittleEndian.Uint32(newTail[off:]))
	require.Equal(t, []byte{9, 9, 9}, newTail[off+4:off+4+pixelLen])
}

func buildSkeletalMeshTail(materialCount int) []byte {
	var out []byte
	head := make([]byte, 8)
	binary.LittleEndian.PutUint32(head[0:], 0x3) // strip flags
	binary.LittleEndian.PutUint32(head[4:], 4)   // bounds length
	out = append(out, head...)
	out = append(out, []byte{1, 2, 3, 4}...) // bounds body

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(materialCount))
	out = append(out, count[:]...)
	for i := 0; i < materialCount; i++ {
		rec := make([]byte, materialSlotRecordSize)
		rec[0] = byte(i + 1)
		out = append(out, rec...)
	}
	out = append(out, []byte{0xEE, 0xFF}...) // trailing bytes after material array
	return out
}

func TestReshapeSkeletalMeshInjectsTagContainers(t *testing.T) {
	tail := buildSkeletalMeshTail(2)
	r, ok := Dispatch("SkeletalMesh")
	require.True(t, ok)

	newTail, delta, err := r(tail, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2*materialSlotTagContainerEmpty), delta)
	require.Equal(t, []byte{0xEE, 0xFF}, newTail[len(newTail)-2:])
}

func TestReshapeSkeletalMeshFillsTagsFromContext(t *testing.T) {
	tail := buildSkeletalMeshTail(1)
	r, _ := Dispatch("SkeletalMesh")
	ctx := &Context{MaterialSlotTagLists: [][]string{{"Metal", "Shiny"}}}

	newTail, delta, err := r(tail, nil, ctx)
	require.NoError(t, err)
	require.Greater(t, delta, int64(materialSlotTagContainerEmpty))

	// the injected container sits right after the 40-byte record: offset
	// 8 (header) + 4 (bounds) + 4 (count) + 40 (record) = 56
	containerOff := 8 + 4 + 4 + materialSlotRecordSize
	tagCount := binary.LittleEndian.Uint32(newTail[containerOff:])
	require.Equal(t, uint32(2), tagCount)
}

func TestReshapeStaticMeshPassesThrough(t *testing.T) {
	var tail []byte
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], 1)
	tail = append(tail, count[:]...)
	tail = append(tail, make([]byte, staticMaterialRecordSize)...)

	r, ok := Dispatch("StaticMesh")
	require.True(t, ok)
	out, delta, err := r(tail, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), delta)
	require.Equal(t, tail, out)
}

func TestParseShaderLUTVariants(t *testing.T) {
	flat := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	payload := make([]byte, len(flat)*4)
	for i, f := range flat {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(f))
	}
	entries, err := ParseShaderLUT(proptag.Property{Payload: payload}, LUTRGBA)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []float32{1, 2, 3, 4}, entries[0])

	require.NoError(t, EditRange(entries, 0, 1, ChannelMask{true, false, false, false}, 99))
	require.Equal(t, float32(99), entries[0][0])
	require.Equal(t, float32(2), entries[0][1])

	reencoded := EncodeShaderLUT(entries)
	require.Len(t, reencoded, len(payload))
}

func TestMaterialTagUserDataRoundTrip(t *testing.T) {
	tags := MaterialSlotTags{"Body": {"Metal", "Painted"}, "Visor": {"Glass"}}
	encoded := EncodeMaterialTagUserData(tags)
	decoded, err := ParseMaterialTagUserData(encoded)
	require.NoError(t, err)
	require.Equal(t, tags, decoded)
}

func TestRemapMaterialTagPluginReference(t *testing.T) {
	require.Equal(t, "/Script/Engine.AssetUserData", RemapMaterialTagPluginReference("/Script/MaterialTagPlugin.AssetUserData"))
	require.Equal(t, "/Script/Engine.Foo", RemapMaterialTagPluginReference("/Script/MaterialTagPlugin.Foo"))
	require.Equal(t, "/Script/Engine.Bar", RemapMaterialTagPluginReference("/Script/Engine.Bar"))
}
