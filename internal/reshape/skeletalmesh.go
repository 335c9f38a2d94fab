package reshape

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/proptag"
)

const (
	materialSlotRecordSize        = 40
	materialSlotTagContainerEmpty = 4 // u32 tag count = 0
)

// reshapeSkeletalMesh parses strip-flags, bounds, and the material array,
// then injects a gameplay-tag container after each 40-byte slot record so
// it grows to 44 bytes, filling it from ctx.MaterialSlotTagLists when a
// MaterialTagAssetUserData export supplied one.
func reshapeSkeletalMesh(tail []byte, _ []proptag.Property, ctx *Context) ([]byte, int64, error) {
	if len(tail) < 8 {
		return nil, 0, cerr.New(cerr.EEncoding, "reshapeSkeletalMesh", "short buffer for strip-flags/bounds header")
	}
	stripFlags := binary.LittleEndian.Uint32(tail[0:])
	boundsLen := binary.LittleEndian.Uint32(tail[4:])
	off := 8
	if len(tail) < off+int(boundsLen) {
		return nil, 0, cerr.New(cerr.EEncoding, "reshapeSkeletalMesh", "short buffer for bounds body")
	}
	bounds := tail[off : off+int(boundsLen)]
	off += int(boundsLen)

	if len(tail) < off+4 {
		return nil, 0, cerr.New(cerr.EEncoding, "reshapeSkeletalMesh", "short buffer for material count")
	}
	count := binary.LittleEndian.Uint32(tail[off:])
	off += 4
	if len(tail) < off+int(count)*materialSlotRecordSize {
		return nil, 0, cerr.New(cerr.EEncoding, "reshapeSkeletalMesh", "short buffer for material records")
	}

	out := make([]byte, 0, len(tail)+int(count)*materialSlotTagContainerEmpty)
	var head [8]byte
	binary.LittleEndian.PutUint32(head[0:], stripFlags)
	binary.LittleEndian.PutUint32(head[4:], boundsLen)
	out = append(out, head[:]...)
	out = append(out, bounds...)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], count)
	out = append(out, countBuf[:]...)

	for i := uint32(0); i < count; i++ {
		rec := tail[off : off+materialSlotRecordSize]
		off += materialSlotRecordSize
		out = append(out, rec...)
		out = append(out, encodeSlotTagContainer(slotTagsFor(ctx, int(i)))...)
	}

	rest := tail[off:]
	out = append(out, rest...)

	return out, int64(len(out)) - int64(len(tail)), nil
}

func slotTagsFor(ctx *Context, slot int) []string {
	if ctx == nil || slot >= len(ctx.MaterialSlotTagLists) {
		return nil
	}
	return ctx.MaterialSlotTagLists[slot]
}

func encodeSlotTagContainer(tags []string) []byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], uint32(len(tags)))
	result := append([]byte{}, out[:]...)
	for _, tag := range tags {
		result = append(result, writeStr(tag)...)
	}
	return result
}
