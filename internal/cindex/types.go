// Package cindex builds and parses the companion index archive: the small
// side file the runtime loader actually mounts, holding a single
// "chunknames" entry (the newline-separated list of asset-relative paths
// inside the IoStore) behind a path-hash index and a full directory index,
// closed off by a fixed 221-byte footer (§4.J).
package cindex

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

const (
	footerSize   = 221
	footerMagic  = 0x5A6F12E1
	footerVersion = 11

	// compressionMethodSlots is the footer's fixed compression-method-name
	// table width (5 x 32-byte names), mirroring the IoStore TOC's table.
	compressionMethodSlots = 5
	compressionMethodNameLen = 32

	// chunkNamesEntryName is the archive's one and only entry.
	chunkNamesEntryName = "chunknames"
)

// Footer is the fixed 221-byte trailing record: encryption key guid,
// encrypted-index flag, magic, version, index offset+size, SHA1 of the
// cleartext index, and the compression-method-name table.
type Footer struct {
	EncryptionKeyGuid  [16]byte
	EncryptedIndex     bool
	IndexOffset        uint64
	IndexSize          uint64
	IndexHashSHA1      [20]byte
	CompressionMethods [compressionMethodSlots]string
}

func (f Footer) marshal() ([]byte, error) {
	out := make([]byte, footerSize)
	off := 0
	copy(out[off:], f.EncryptionKeyGuid[:])
	off += 16
	if f.EncryptedIndex {
		out[off] = 1
	}
	off++
	binary.LittleEndian.PutUint32(out[off:], footerMagic)
	off += 4
	binary.LittleEndian.PutUint32(out[off:], footerVersion)
	off += 4
	binary.LittleEndian.PutUint64(out[off:], f.IndexOffset)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], f.IndexSize)
	off += 8
	copy(out[off:], f.IndexHashSHA1[:])
	off += 20
	for i := 0; i < compressionMethodSlots; i++ {
		if i < len(f.CompressionMethods) {
			if len(f.CompressionMethods[i]) > compressionMethodNameLen {
				return nil, cerr.New(cerr.EEncoding, "Footer.marshal", "compression method name too long")
			}
			copy(out[off:off+compressionMethodNameLen], f.CompressionMethods[i])
		}
		off += compressionMethodNameLen
	}
	if off != footerSize {
		return nil, cerr.New(cerr.EInvariant, "Footer.marshal", "footer size drifted from 221 bytes")
	}
	return out, nil
}

func unmarshalFooter(b []byte) (Footer, error) {
	if len(b) < footerSize {
		return Footer{}, cerr.New(cerr.EEncoding, "unmarshalFooter", "short buffer")
	}
	var f Footer
	off := 0
	copy(f.EncryptionKeyGuid[:], b[off:off+16])
	off += 16
	f.EncryptedIndex = b[off] != 0
	off++
	magic := binary.LittleEndian.Uint32(b[off:])
	off += 4
	version := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if magic != footerMagic {
		return Footer{}, cerr.New(cerr.EChecksum, "unmarshalFooter", "bad footer magic")
	}
	if version != footerVersion {
		return Footer{}, cerr.New(cerr.ESchema, "unmarshalFooter", "unsupported footer version")
	}
	f.IndexOffset = binary.LittleEndian.Uint64(b[off:])
	off += 8
	f.IndexSize = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(f.IndexHashSHA1[:], b[off:off+20])
	off += 20
	for i := 0; i < compressionMethodSlots; i++ {
		raw := b[off : off+compressionMethodNameLen]
		n := 0
		for n < len(raw) && raw[n] != 0 {
			n++
		}
		if n > 0 {
			f.CompressionMethods[i] = string(raw[:n])
		}
		off += compressionMethodNameLen
	}
	return f, nil
}

// FileEntry is one archive member's packed metadata: the "encoded entry"
// of §4.A reused for the companion index's own file table.
type FileEntry struct {
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	Encrypted        bool
	// MethodSlot indexes into the footer's CompressionMethods table; 0
	// means stored uncompressed.
	MethodSlot uint32
}

// encodeFileEntry packs e into the flag-word-plus-wide-fields layout: a
// 32-bit EntryIndexFlags word selects whether each of offset/compressed
// size/uncompressed size follows as 32 or 64 bits.
func encodeFileEntry(e FileEntry) []byte {
	flags := primitives.EntryIndexFlags{
		Encrypted:  e.Encrypted,
		MethodSlot: e.MethodSlot,
		OffsetSafe: e.Offset > 0xFFFFFFFF,
		SizeSafe:   e.CompressedSize > 0xFFFFFFFF,
		UsizeSafe:  e.UncompressedSize > 0xFFFFFFFF,
	}
	word := primitives.EncodeEntryIndexFlags(flags)
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, word)
	out = appendWide(out, e.Offset, flags.OffsetSafe)
	out = appendWide(out, e.CompressedSize, flags.SizeSafe)
	out = appendWide(out, e.UncompressedSize, flags.UsizeSafe)
	return out
}

func appendWide(out []byte, v uint64, wide bool) []byte {
	if wide {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		return append(out, b[:]...)
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(out, b[:]...)
}

func decodeFileEntry(b []byte) (FileEntry, int, error) {
	if len(b) < 4 {
		return FileEntry{}, 0, cerr.New(cerr.EEncoding, "decodeFileEntry", "short buffer for flag word")
	}
	flags := primitives.DecodeEntryIndexFlags(binary.LittleEndian.Uint32(b))
	off := 4
	offset, n, err := readWide(b[off:], flags.OffsetSafe)
	if err != nil {
		return FileEntry{}, 0, err
	}
	off += n
	compressed, n, err := readWide(b[off:], flags.SizeSafe)
	if err != nil {
		return FileEntry{}, 0, err
	}
	off += n
	uncompressed, n, err := readWide(b[off:], flags.UsizeSafe)
	if err != nil {
		return FileEntry{}, 0, err
	}
	off += n
	return FileEntry{
		Offset:           offset,
		CompressedSize:   compressed,
		UncompressedSize: uncompressed,
		Encrypted:        flags.Encrypted,
		MethodSlot:       flags.MethodSlot,
	}, off, nil
}

func readWide(b []byte, wide bool) (uint64, int, error) {
	if wide {
		if len(b) < 8 {
			return 0, 0, cerr.New(cerr.EEncoding, "readWide", "short buffer for 64-bit field")
		}
		return binary.LittleEndian.Uint64(b), 8, nil
	}
	if len(b) < 4 {
		return 0, 0, cerr.New(cerr.EEncoding, "readWide", "short buffer for 32-bit field")
	}
	return uint64(binary.LittleEndian.Uint32(b)), 4, nil
}
