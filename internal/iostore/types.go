// Package iostore implements the IoStore container reader and writer: the
// TOC file (header, chunk-id table, offset/length table, block table,
// compression-method-name table, directory index, meta table), the content
// store file, and the ContainerHeader chunk that enumerates packages.
package iostore

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
)

// ChunkType identifies what a chunk id's bytes refer to.
type ChunkType uint8

const (
	ChunkTypeInvalid ChunkType = iota
	ChunkTypeExportBundleData
	ChunkTypeBulkData
	ChunkTypeOptionalBulkData
	ChunkTypeMemoryMappedBulkData
	ChunkTypeScriptObjects
	ChunkTypeContainerHeader
	ChunkTypeExternalFile
	ChunkTypeShaderCodeLibrary
	ChunkTypeShaderCode
	ChunkTypePackageStoreEntry
	ChunkTypeDerivedData
	ChunkTypeEditorDerivedData
)

// ChunkId is the 12-byte chunk identifier: an 8-byte id, a 16-bit index, a
// padding byte, and a 1-byte type.
type ChunkId struct {
	Id    uint64
	Index uint16
	Type  ChunkType
}

// Bytes encodes the 12-byte wire form.
func (c ChunkId) Bytes() [12]byte {
	var out [12]byte
	binary.LittleEndian.PutUint64(out[0:8], c.Id)
	binary.LittleEndian.PutUint16(out[8:10], c.Index)
	out[10] = 0
	out[11] = byte(c.Type)
	return out
}

// ParseChunkId decodes a 12-byte chunk id.
func ParseChunkId(b []byte) (ChunkId, error) {
	if len(b) < 12 {
		return ChunkId{}, cerr.New(cerr.EEncoding, "ParseChunkId", "short buffer")
	}
	return ChunkId{
		Id:    binary.LittleEndian.Uint64(b[0:8]),
		Index: binary.LittleEndian.Uint16(b[8:10]),
		Type:  ChunkType(b[11]),
	}, nil
}

// PackageChunkId builds a chunk id for a package's export-bundle data per
// invariant 8: id == PackageId, index == 0, type == ExportBundleData.
func PackageChunkId(packageID uint64) ChunkId {
	return ChunkId{Id: packageID, Index: 0, Type: ChunkTypeExportBundleData}
}

// ContainerFlags are the TOC's container-level feature flags.
type ContainerFlags uint8

const (
	ContainerFlagNone       ContainerFlags = 0
	ContainerFlagCompressed ContainerFlags = 1 << 0
	ContainerFlagEncrypted  ContainerFlags = 1 << 1
	ContainerFlagSigned     ContainerFlags = 1 << 2
	ContainerFlagIndexed    ContainerFlags = 1 << 3
)

// tocHeaderSize is the fixed size of the TOC header record (§4.H.3).
const tocHeaderSize = 144
const tocMagic = "-==--==--==--==-"

// tocHeader is the 144-byte fixed header at the start of the .utoc file.
type tocHeader struct {
	Magic                [16]byte
	Version              uint32
	Reserved0             uint32
	HeaderSize           uint32
	EntryCount           uint32
	CompressedBlockCount uint32
	CompressionBlockSize uint32
	DirectoryIndexSize   uint32
	PartitionCount       uint32
	ContainerId          uint64
	EncryptionKeyGuid    [16]byte
	ContainerFlags       uint8
	Reserved1            [7]byte
	TocChunkPerfectHashSeedsCount uint32
	PartitionSize        uint64
	TocChunksWithoutPerfectHashCount uint32
	Reserved2            [44]byte
}

func (h *tocHeader) marshal() []byte {
	out := make([]byte, tocHeaderSize)
	copy(out[0:16], h.Magic[:])
	binary.LittleEndian.PutUint32(out[16:], h.Version)
	binary.LittleEndian.PutUint32(out[20:], h.Reserved0)
	binary.LittleEndian.PutUint32(out[24:], h.HeaderSize)
	binary.LittleEndian.PutUint32(out[28:], h.EntryCount)
	binary.LittleEndian.PutUint32(out[32:], h.CompressedBlockCount)
	binary.LittleEndian.PutUint32(out[36:], h.CompressionBlockSize)
	binary.LittleEndian.PutUint32(out[40:], h.DirectoryIndexSize)
	binary.LittleEndian.PutUint32(out[44:], h.PartitionCount)
	binary.LittleEndian.PutUint64(out[48:], h.ContainerId)
	copy(out[56:72], h.EncryptionKeyGuid[:])
	out[72] = h.ContainerFlags
	copy(out[73:80], h.Reserved1[:])
	binary.LittleEndian.PutUint32(out[80:], h.TocChunkPerfectHashSeedsCount)
	binary.LittleEndian.PutUint64(out[84:], h.PartitionSize)
	binary.LittleEndian.PutUint32(out[92:], h.TocChunksWithoutPerfectHashCount)
	copy(out[96:140], h.Reserved2[:])
	return out
}

func unmarshalTocHeader(b []byte) (*tocHeader, error) {
	if len(b) < tocHeaderSize {
		return nil, cerr.New(cerr.EEncoding, "unmarshalTocHeader", "short buffer")
	}
	h := &tocHeader{}
	copy(h.Magic[:], b[0:16])
	h.Version = binary.LittleEndian.Uint32(b[16:])
	h.Reserved0 = binary.LittleEndian.Uint32(b[20:])
	h.HeaderSize = binary.LittleEndian.Uint32(b[24:])
	h.EntryCount = binary.LittleEndian.Uint32(b[28:])
	h.CompressedBlockCount = binary.LittleEndian.Uint32(b[32:])
	h.CompressionBlockSize = binary.LittleEndian.Uint32(b[36:])
	h.DirectoryIndexSize = binary.LittleEndian.Uint32(b[40:])
	h.PartitionCount = binary.LittleEndian.Uint32(b[44:])
	h.ContainerId = binary.LittleEndian.Uint64(b[48:])
	copy(h.EncryptionKeyGuid[:], b[56:72])
	h.ContainerFlags = b[72]
	copy(h.Reserved1[:], b[73:80])
	h.TocChunkPerfectHashSeedsCount = binary.LittleEndian.Uint32(b[80:])
	h.PartitionSize = binary.LittleEndian.Uint64(b[84:])
	h.TocChunksWithoutPerfectHashCount = binary.LittleEndian.Uint32(b[92:])
	copy(h.Reserved2[:], b[96:140])
	if string(h.Magic[:]) != tocMagic {
		return nil, cerr.New(cerr.EEncoding, "unmarshalTocHeader", "bad TOC magic")
	}
	return h, nil
}

// HeaderVersion mirrors config.HeaderVersion to avoid an import cycle back
// into config from the wire-format package; ToC readers/writers translate
// at the boundary.
type HeaderVersion int

const (
	HeaderVersionInitial HeaderVersion = iota
	HeaderVersionLocalizedPackages
	HeaderVersionOptionalSegmentPackages
	HeaderVersionNoExportInfo
	HeaderVersionSoftPackageReferences
)

func (v HeaderVersion) fixedEntrySize() int {
	switch v {
	case HeaderVersionInitial:
		return 32
	case HeaderVersionLocalizedPackages, HeaderVersionOptionalSegmentPackages:
		return 24
	default:
		return 16
	}
}
