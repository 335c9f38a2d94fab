package reshape

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/proptag"
)

// mipHeaderKind distinguishes the two bulk-data header shapes a mip record
// may carry.
type mipHeaderKind uint8

const (
	mipHeaderResourceIndex mipHeaderKind = 0
	mipHeaderInline        mipHeaderKind = 1
)

// mipRecord is one decoded per-mip entry: bulk-data header plus dims and
// (for the inline form) its pixel bytes.
type mipRecord struct {
	headerKind mipHeaderKind

	// mipHeaderResourceIndex form:
	resourceIndex uint32

	// mipHeaderInline form:
	inlineFlags      uint32
	inlineOffset     uint64
	inlineSizeOnDisk uint64
	inlineSizeInMem  uint64
	pixelData        []byte

	sizeX uint32
	sizeY uint32
}

// texturePlatformData is the fully parsed Texture2D platform-data tail.
type texturePlatformData struct {
	placeholder          []byte // opaque bytes beyond the (SizeX,SizeY,PackedData) triple
	sizeX, sizeY         uint32
	packedData           uint32
	pixelFormatName      string
	extData              []byte // nil if absent
	firstMipToSerialize  uint32
	mips                 []mipRecord
	virtualTextureFlag   byte
}

var placeholderCandidateLengths = []int{16, 20, 24}

func isPow2InRange(v uint32) bool {
	if v == 0 || v > 8192 {
		return false
	}
	return v&(v-1) == 0
}

// probePlaceholderPrefix tries each candidate prefix length in turn,
// accepting the first whose first 12 bytes decode to a plausible
// (SizeX, SizeY, PackedData) triple.
func probePlaceholderPrefix(b []byte) (prefixLen int, sizeX, sizeY, packed uint32, err error) {
	for _, l := range placeholderCandidateLengths {
		if len(b) < l {
			continue
		}
		sx := binary.LittleEndian.Uint32(b[0:])
		sy := binary.LittleEndian.Uint32(b[4:])
		pk := binary.LittleEndian.Uint32(b[8:])
		if isPow2InRange(sx) && isPow2InRange(sy) && pk <= 0x80000000 {
			return l, sx, sy, pk, nil
		}
	}
	return 0, 0, 0, 0, cerr.New(cerr.EInvariant, "probePlaceholderPrefix", "no valid placeholder prefix length found")
}

// parseTexturePlatformData decodes the Texture2D platform-data tail as read
// from a legacy or Zen export (both use the same in-memory shape).
func parseTexturePlatformData(tail []byte) (*texturePlatformData, error) {
	prefixLen, sx, sy, packed, err := probePlaceholderPrefix(tail)
	if err != nil {
		return nil, err
	}
	td := &texturePlatformData{
		placeholder: append([]byte{}, tail[12:prefixLen]...),
		sizeX:       sx,
		sizeY:       sy,
		packedData:  packed,
	}
	off := prefixLen

	name, n, err := readStr(tail[off:])
	if err != nil {
		return nil, err
	}
	td.pixelFormatName = name
	off += n

	if len(tail) < off+1 {
		return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for ext-data flag")
	}
	hasExt := tail[off] != 0
	off++
	if hasExt {
		if len(tail) < off+4 {
			return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for ext-data length")
		}
		extLen := binary.LittleEndian.Uint32(tail[off:])
		off += 4
		if len(tail) < off+int(extLen) {
			return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for ext-data body")
		}
		td.extData = append([]byte{}, tail[off:off+int(extLen)]...)
		off += int(extLen)
	}

	if len(tail) < off+8 {
		return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for mip header")
	}
	td.firstMipToSerialize = binary.LittleEndian.Uint32(tail[off:])
	mipCount := binary.LittleEndian.Uint32(tail[off+4:])
	off += 8

	for i := uint32(0); i < mipCount; i++ {
		if len(tail) < off+1 {
			return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for mip header kind")
		}
		rec := mipRecord{headerKind: mipHeaderKind(tail[off])}
		off++
		switch rec.headerKind {
		case mipHeaderResourceIndex:
			if len(tail) < off+4 {
				return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for resource index")
			}
			rec.resourceIndex = binary.LittleEndian.Uint32(tail[off:])
			off += 4
		case mipHeaderInline:
			if len(tail) < off+4+8+8+8 {
				return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for inline bulk header")
			}
			rec.inlineFlags = binary.LittleEndian.Uint32(tail[off:])
			rec.inlineOffset = binary.LittleEndian.Uint64(tail[off+4:])
			rec.inlineSizeOnDisk = binary.LittleEndian.Uint64(tail[off+12:])
			rec.inlineSizeInMem = binary.LittleEndian.Uint64(tail[off+20:])
			off += 28
		default:
			return nil, cerr.New(cerr.ESchema, "parseTexturePlatformData", "unknown mip bulk-data header kind")
		}

		if len(tail) < off+8 {
			return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for mip dims")
		}
		rec.sizeX = binary.LittleEndian.Uint32(tail[off:])
		rec.sizeY = binary.LittleEndian.Uint32(tail[off+4:])
		off += 8

		if rec.headerKind == mipHeaderInline {
			if len(tail) < off+4 {
				return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for pixel data size")
			}
			pixelSize := binary.LittleEndian.Uint32(tail[off:])
			off += 4
			if len(tail) < off+int(pixelSize) {
				return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for pixel data")
			}
			rec.pixelData = append([]byte{}, tail[off:off+int(pixelSize)]...)
			off += int(pixelSize)
		}

		td.mips = append(td.mips, rec)
	}

	if len(tail) < off+1 {
		return nil, cerr.New(cerr.EEncoding, "parseTexturePlatformData", "short buffer for virtual-texture flag")
	}
	td.virtualTextureFlag = tail[off]

	return td, nil
}

// reshapeTexture2D discards every mip above index 0, converts mip 0 to
// inline storage (resolving its pixel bytes via ctx if it was a
// resource-index mip), and rewrites firstMipToSerialize to 0. The stripped
// form is written in the consumer's expected, non-interleaved order: all
// mip headers, then pixel data blocks, then per-mip dimensions, then the
// virtual-texture flag.
func reshapeTexture2D(tail []byte, _ []proptag.Property, ctx *Context) ([]byte, int64, error) {
	td, err := parseTexturePlatformData(tail)
	if err != nil {
		return nil, 0, err
	}
	if len(td.mips) == 0 {
		return nil, 0, cerr.New(cerr.EInvariant, "reshapeTexture2D", "texture has no mips to strip to")
	}
	mip0 := td.mips[0]

	var pixelData []byte
	switch mip0.headerKind {
	case mipHeaderInline:
		pixelData = mip0.pixelData
	case mipHeaderResourceIndex:
		if ctx == nil || ctx.ResolveBulkData == nil {
			return nil, 0, cerr.New(cerr.EMissing, "reshapeTexture2D", "mip 0 pixel data is resource-indexed but no resolver was supplied")
		}
		pixelData, err = ctx.ResolveBulkData(mip0.resourceIndex)
		if err != nil {
			return nil, 0, cerr.Wrap(cerr.EMissing, "reshapeTexture2D", err)
		}
	}

	out := make([]byte, 0, len(tail))
	head := make([]byte, 12)
	binary.LittleEndian.PutUint32(head[0:], td.sizeX)
	binary.LittleEndian.PutUint32(head[4:], td.sizeY)
	binary.LittleEndian.PutUint32(head[8:], td.packedData)
	out = append(out, head...)
	out = append(out, td.placeholder...)

	out = append(out, writeStr(td.pixelFormatName)...)
	if td.extData != nil {
		out = append(out, 1)
		var extLen [4]byte
		binary.LittleEndian.PutUint32(extLen[:], uint32(len(td.extData)))
		out = append(out, extLen[:]...)
		out = append(out, td.extData...)
	} else {
		out = append(out, 0)
	}

	var mipHdr [8]byte
	binary.LittleEndian.PutUint32(mipHdr[0:], 0) // firstMipToSerialize = 0
	binary.LittleEndian.PutUint32(mipHdr[4:], 1) // mipCount = 1
	out = append(out, mipHdr[:]...)

	// mip headers (inline form, single mip)
	inlineHeader := make([]byte, 29)
	inlineHeader[0] = byte(mipHeaderInline)
	binary.LittleEndian.PutUint32(inlineHeader[1:], 0) // flags reset: no longer resource-indexed
	binary.LittleEndian.PutUint64(inlineHeader[5:], 0)
	binary.LittleEndian.PutUint64(inlineHeader[13:], uint64(len(pixelData)))
	binary.LittleEndian.PutUint64(inlineHeader[21:], uint64(len(pixelData)))
	out = append(out, inlineHeader...)

	// pixel data blocks
	var pixelSizeBuf [4]byte
	binary.LittleEndian.PutUint32(pixelSizeBuf[:], uint32(len(pixelData)))
	out = append(out, pixelSizeBuf[:]...)
	out = append(out, pixelData...)

	// per-mip dimensions
	var dimsBuf [8]byte
	binary.LittleEndian.PutUint32(dimsBuf[0:], mip0.sizeX)
	binary.LittleEndian.PutUint32(dimsBuf[4:], mip0.sizeY)
	out = append(out, dimsBuf[:]...)

	// virtual-texture flag
	out = append(out, td.virtualTextureFlag)

	return out, int64(len(out)) - int64(len(tail)), nil
}

func readStr(b []byte) (string, int, error) {
	if len(b) < 4 {
		return "", 0, cerr.New(cerr.EEncoding, "readStr", "short buffer")
	}
	n := binary.LittleEndian.Uint32(b)
	if len(b) < 4+int(n) {
		return "", 0, cerr.New(cerr.EEncoding, "readStr", "short buffer for string body")
	}
	return string(b[4 : 4+n]), 4 + int(n), nil
}

func writeStr(s string) []byte {
	out := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(out, uint32(len(s)))
	copy(out[4:], s)
	return out
}
