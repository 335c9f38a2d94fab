// Package primitives implements the fixed-width binary building blocks
// shared by every on-disk format in this module: packed offset+length
// pairs, packed compression-block entries, length-prefixed strings,
// CityHash64, BLAKE3 chunk hashes, and the two AES-256-ECB variants used by
// the legacy archive and the IoStore container.
package primitives

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
)

const maxUint40 = (1 << 40) - 1
const maxUint24 = (1 << 24) - 1

// OffsetLength is the 10-byte packed (offset, length) pair used by the
// IoStore TOC's offset/length table. Both fields are 40-bit big-endian.
type OffsetLength struct {
	Offset uint64
	Length uint64
}

// ReadOffsetLength decodes a 10-byte big-endian packed offset+length.
func ReadOffsetLength(b []byte) (OffsetLength, error) {
	if len(b) < 10 {
		return OffsetLength{}, cerr.New(cerr.EEncoding, "ReadOffsetLength", "short buffer")
	}
	var wide [8]byte
	copy(wide[3:], b[0:5])
	offset := binary.BigEndian.Uint64(wide[:])
	copy(wide[3:], b[5:10])
	length := binary.BigEndian.Uint64(wide[:])
	return OffsetLength{Offset: offset, Length: length}, nil
}

// WriteOffsetLength encodes ol into a 10-byte big-endian packed form.
func WriteOffsetLength(ol OffsetLength) ([]byte, error) {
	if ol.Offset > maxUint40 {
		return nil, cerr.New(cerr.EEncoding, "WriteOffsetLength", "offset exceeds 40 bits")
	}
	if ol.Length > maxUint40 {
		return nil, cerr.New(cerr.EEncoding, "WriteOffsetLength", "length exceeds 40 bits")
	}
	out := make([]byte, 10)
	var wide [8]byte
	binary.BigEndian.PutUint64(wide[:], ol.Offset)
	copy(out[0:5], wide[3:8])
	binary.BigEndian.PutUint64(wide[:], ol.Length)
	copy(out[5:10], wide[3:8])
	return out, nil
}

// BlockEntry is the 12-byte packed compression-block-table record. Offset
// is little-endian 40-bit; compressed/uncompressed sizes are little-endian
// 24-bit; method is a single byte index into the registered method table.
type BlockEntry struct {
	Offset           uint64
	CompressedSize   uint32
	UncompressedSize uint32
	Method           uint8
}

// ReadBlockEntry decodes a 12-byte packed block entry.
func ReadBlockEntry(b []byte) (BlockEntry, error) {
	if len(b) < 12 {
		return BlockEntry{}, cerr.New(cerr.EEncoding, "ReadBlockEntry", "short buffer")
	}
	var wide [8]byte
	copy(wide[0:5], b[0:5])
	offset := binary.LittleEndian.Uint64(wide[:])
	var wide3 [4]byte
	copy(wide3[0:3], b[5:8])
	compressed := binary.LittleEndian.Uint32(wide3[:])
	copy(wide3[0:3], b[8:11])
	uncompressed := binary.LittleEndian.Uint32(wide3[:])
	return BlockEntry{
		Offset:           offset,
		CompressedSize:   compressed,
		UncompressedSize: uncompressed,
		Method:           b[11],
	}, nil
}

// WriteBlockEntry encodes be into a 12-byte packed form.
func WriteBlockEntry(be BlockEntry) ([]byte, error) {
	if be.Offset > maxUint40 {
		return nil, cerr.New(cerr.EEncoding, "WriteBlockEntry", "offset exceeds 40 bits")
	}
	if be.CompressedSize > maxUint24 || be.UncompressedSize > maxUint24 {
		return nil, cerr.New(cerr.EEncoding, "WriteBlockEntry", "size exceeds 24 bits")
	}
	out := make([]byte, 12)
	var wide [8]byte
	binary.LittleEndian.PutUint64(wide[:], be.Offset)
	copy(out[0:5], wide[0:5])
	var wide3 [4]byte
	binary.LittleEndian.PutUint32(wide3[:], be.CompressedSize)
	copy(out[5:8], wide3[0:3])
	binary.LittleEndian.PutUint32(wide3[:], be.UncompressedSize)
	copy(out[8:11], wide3[0:3])
	out[11] = be.Method
	return out, nil
}

// EntryIndexFlags is the 32-bit bit-packed flag word used by the companion
// index archive's encoded file entries (§4.A).
type EntryIndexFlags struct {
	BlockSizeRaw uint32 // bits 0..6
	BlockCount   uint32 // bits 6..22
	Encrypted    bool   // bit 22
	MethodSlot   uint32 // bits 23..29
	SizeSafe     bool   // bit 29
	UsizeSafe    bool   // bit 30
	OffsetSafe   bool   // bit 31
}

// BlockSizeBytes returns the actual compression block size in bytes.
func (f EntryIndexFlags) BlockSizeBytes() uint64 { return uint64(f.BlockSizeRaw) << 11 }

func boolBit(v bool, bit uint) uint32 {
	if v {
		return 1 << bit
	}
	return 0
}

// DecodeEntryIndexFlags unpacks a 32-bit flag word.
func DecodeEntryIndexFlags(word uint32) EntryIndexFlags {
	return EntryIndexFlags{
		BlockSizeRaw: word & 0x3F,
		BlockCount:   (word >> 6) & 0xFFFF,
		Encrypted:    (word>>22)&1 != 0,
		MethodSlot:   (word >> 23) & 0x3F,
		SizeSafe:     (word>>29)&1 != 0,
		UsizeSafe:    (word>>30)&1 != 0,
		OffsetSafe:   (word>>31)&1 != 0,
	}
}

// EncodeEntryIndexFlags packs f into a 32-bit word.
func EncodeEntryIndexFlags(f EntryIndexFlags) uint32 {
	word := f.BlockSizeRaw&0x3F | (f.BlockCount&0xFFFF)<<6 | (f.MethodSlot&0x3F)<<23
	word |= boolBit(f.Encrypted, 22)
	word |= boolBit(f.SizeSafe, 29)
	word |= boolBit(f.UsizeSafe, 30)
	word |= boolBit(f.OffsetSafe, 31)
	return word
}
