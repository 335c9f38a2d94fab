// Package legacy reads and writes the legacy per-package on-disk form: a
// header file (summary, name map, import table, export table, preload
// dependency arrays, bulk-data resource map, trailing tag) paired with an
// exports file (concatenated export payloads at their declared serial
// offsets, also trailing-tag terminated) and an optional external bulk
// file accessed by byte offset.
package legacy

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/zenforge/cascade/internal/cerr"
)

// TrailingTag is the marker required at the end of a legacy exports file
// (and, inside a Zen package, at the end of the concatenated export region).
const TrailingTag uint32 = 0x9E2A83C1

// FilterFlags mirrors the legacy per-export bits preserved across reshape.
type FilterFlags uint8

const (
	FilterNone FilterFlags = iota
	FilterNotForClient
	FilterNotForServer
)

// Import is a legacy import-table entry.
type Import struct {
	ClassPackage string
	ClassName    string
	OuterIndex   int32 // 1-based export, negative 1-based import, 0 = none; legacy convention
	ObjectName   string
	PackageName  string // owning package path, for package (non-script) imports
	IsScript     bool
}

// Export is a legacy export-table entry plus its payload bytes.
type Export struct {
	ObjectName    string
	ObjectSuffix  uint32
	ClassIndex    int32
	SuperIndex    int32
	TemplateIndex int32
	OuterIndex    int32
	SerialOffset  uint64
	SerialSize    uint64
	ObjectFlags   uint32
	FilterFlags   FilterFlags

	Payload []byte // this export's tail bytes from the exports file
}

// PreloadDependency lists POIs (legacy-encoded as signed indices) that must
// be created/serialized before a given export.
type PreloadDependency struct {
	CreateBeforeCreate []int32
	SerializeBeforeCreate []int32
	CreateBeforeSerialize []int32
	SerializeBeforeSerialize []int32
}

// BulkResource is one entry in the bulk-data resource map referenced by
// mip bulk-data headers.
type BulkResource struct {
	Flags      uint32
	Offset     uint64
	SizeOnDisk uint64
	SizeInMem  uint64
}

// Package is the in-memory legacy package model: immutable name pool,
// import table, exports with mutable payload during reshape, preload
// dependencies, and the bulk-data resource map.
type Package struct {
	PackagePath  string
	Names        []string
	Imports      []Import
	Exports      []Export
	Preloads     []PreloadDependency
	BulkResources []BulkResource

	HeaderSize int64 // length of the header file this package was read from
	PackageFlags uint32

	BulkFile *BulkFile // optional external bulk file, nil if absent
}

// BulkFile wraps an mmap'd optional external bulk file for byte-offset access.
type BulkFile struct {
	f    *os.File
	data mmap.MMap
}

// OpenBulkFile mmaps path for zero-copy byte-offset reads.
func OpenBulkFile(path string) (*BulkFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerr.Wrap(cerr.EMissing, "OpenBulkFile", err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, cerr.Wrap(cerr.EMissing, "OpenBulkFile", err)
	}
	return &BulkFile{f: f, data: data}, nil
}

// ReadAt returns a copy of n bytes at offset.
func (b *BulkFile) ReadAt(offset uint64, n uint64) ([]byte, error) {
	if offset+n > uint64(len(b.data)) {
		return nil, cerr.New(cerr.EMissing, "BulkFile.ReadAt", "range exceeds bulk file size")
	}
	out := make([]byte, n)
	copy(out, b.data[offset:offset+n])
	return out, nil
}

// Close unmaps and closes the bulk file.
func (b *BulkFile) Close() error {
	if b == nil {
		return nil
	}
	_ = b.data.Unmap()
	return b.f.Close()
}

// serialOffsetBase returns the absolute serial offset base: serial offsets
// are measured from the start of the header file, not the exports file.
func (p *Package) serialOffsetBase() uint64 { return uint64(p.HeaderSize) }

func readAll(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Wrap(cerr.EMissing, "readAll", err)
	}
	return b, nil
}

func checkTrailingTag(b []byte) error {
	if len(b) < 4 {
		return cerr.New(cerr.EInvariant, "checkTrailingTag", "exports file too short for trailing tag")
	}
	got := binary.LittleEndian.Uint32(b[len(b)-4:])
	if got != TrailingTag {
		return cerr.New(cerr.EInvariant, "checkTrailingTag", "missing or corrupt trailing tag")
	}
	return nil
}

// ReadPackageFiles reads a package from its header and exports files on
// disk, optionally mmapping an external bulk file alongside them.
func ReadPackageFiles(packagePath, headerPath, exportsPath, bulkPath string) (*Package, error) {
	headerBytes, err := readAll(headerPath)
	if err != nil {
		return nil, err
	}
	exportsBytes, err := readAll(exportsPath)
	if err != nil {
		return nil, err
	}
	var bulk *BulkFile
	if bulkPath != "" {
		bulk, err = OpenBulkFile(bulkPath)
		if err != nil {
			return nil, err
		}
	}
	return ReadPackage(packagePath, headerBytes, exportsBytes, bulk)
}

// WritePackageFiles serializes pkg and writes the header and exports files
// to disk.
func WritePackageFiles(pkg *Package, headerPath, exportsPath string) error {
	headerBytes, exportsBytes, err := WritePackage(pkg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(headerPath, headerBytes, 0o644); err != nil {
		return cerr.Wrap(cerr.EMissing, "WritePackageFiles", err)
	}
	if err := os.WriteFile(exportsPath, exportsBytes, 0o644); err != nil {
		return cerr.Wrap(cerr.EMissing, "WritePackageFiles", err)
	}
	return nil
}
