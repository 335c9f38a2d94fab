package legacy

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

type summary struct {
	PackageFlags      uint32
	NameCount         uint32
	NameOffset        uint32
	ImportCount       uint32
	ImportOffset      uint32
	ExportCount       uint32
	ExportOffset      uint32
	PreloadOffset     uint32
	BulkResourceCount uint32
	BulkResourceOffset uint32
	TotalHeaderSize   uint32
}

const summarySize = 4 * 11

func (s *summary) marshal() []byte {
	out := make([]byte, summarySize)
	fields := []uint32{
		s.PackageFlags, s.NameCount, s.NameOffset, s.ImportCount, s.ImportOffset,
		s.ExportCount, s.ExportOffset, s.PreloadOffset, s.BulkResourceCount,
		s.BulkResourceOffset, s.TotalHeaderSize,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func unmarshalSummary(b []byte) (*summary, error) {
	if len(b) < summarySize {
		return nil, cerr.New(cerr.EEncoding, "unmarshalSummary", "short buffer")
	}
	vals := make([]uint32, 11)
	for i := range vals {
		vals[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return &summary{
		PackageFlags: vals[0], NameCount: vals[1], NameOffset: vals[2],
		ImportCount: vals[3], ImportOffset: vals[4], ExportCount: vals[5],
		ExportOffset: vals[6], PreloadOffset: vals[7], BulkResourceCount: vals[8],
		BulkResourceOffset: vals[9], TotalHeaderSize: vals[10],
	}, nil
}

// ReadPackage parses the header file and exports file (and optionally mmaps
// an external bulk file) into an in-memory Package.
func ReadPackage(packagePath string, headerBytes, exportsBytes []byte, bulk *BulkFile) (*Package, error) {
	if err := checkTrailingTag(headerBytes); err != nil {
		return nil, err
	}
	if err := checkTrailingTag(exportsBytes); err != nil {
		return nil, err
	}

	s, err := unmarshalSummary(headerBytes)
	if err != nil {
		return nil, err
	}
	if s.NameOffset == 0 && s.NameCount > 0 {
		return nil, cerr.New(cerr.EMissing, "ReadPackage", "name offset missing")
	}

	names, err := readNames(headerBytes, s.NameOffset, s.NameCount)
	if err != nil {
		return nil, err
	}
	imports, err := readImports(headerBytes, s.ImportOffset, s.ImportCount)
	if err != nil {
		return nil, err
	}
	exports, err := readExports(headerBytes, s.ExportOffset, s.ExportCount)
	if err != nil {
		return nil, err
	}
	preloads, err := readPreloads(headerBytes, s.PreloadOffset, s.ExportCount)
	if err != nil {
		return nil, err
	}
	bulkResources, err := readBulkResources(headerBytes, s.BulkResourceOffset, s.BulkResourceCount)
	if err != nil {
		return nil, err
	}

	headerSize := uint64(s.TotalHeaderSize)
	for i := range exports {
		off := exports[i].SerialOffset - headerSize
		size := exports[i].SerialSize
		if off+size > uint64(len(exportsBytes))-4 {
			return nil, cerr.New(cerr.EInvariant, "ReadPackage", "export payload range overruns exports file")
		}
		exports[i].Payload = append([]byte{}, exportsBytes[off:off+size]...)
	}
	if err := validateNoOverlap(exports, headerSize); err != nil {
		return nil, err
	}

	return &Package{
		PackagePath:   packagePath,
		Names:         names,
		Imports:       imports,
		Exports:       exports,
		Preloads:      preloads,
		BulkResources: bulkResources,
		HeaderSize:    int64(s.TotalHeaderSize),
		PackageFlags:  s.PackageFlags,
		BulkFile:      bulk,
	}, nil
}

func validateNoOverlap(exports []Export, headerSize uint64) error {
	type span struct{ start, end uint64 }
	spans := make([]span, 0, len(exports))
	for _, e := range exports {
		if e.SerialOffset < headerSize {
			return cerr.New(cerr.EInvariant, "validateNoOverlap", "export serial offset precedes header size")
		}
		spans = append(spans, span{e.SerialOffset, e.SerialOffset + e.SerialSize})
	}
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				return cerr.New(cerr.EInvariant, "validateNoOverlap", "overlapping export payload regions")
			}
		}
	}
	return nil
}

func readNames(b []byte, offset, count uint32) ([]string, error) {
	names := make([]string, count)
	off := int(offset)
	for i := range names {
		s, n, err := primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, cerr.Wrap(cerr.EEncoding, "readNames", err)
		}
		names[i] = s
		off += n
	}
	return names, nil
}

func writeNames(names []string) []byte {
	var out []byte
	for _, n := range names {
		out = append(out, primitives.WriteLengthPrefixedString(n)...)
	}
	return out
}

func readImports(b []byte, offset, count uint32) ([]Import, error) {
	imports := make([]Import, count)
	off := int(offset)
	for i := range imports {
		var imp Import
		var n int
		var err error
		imp.ClassPackage, n, err = primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		imp.ClassName, n, err = primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if len(b) < off+4 {
			return nil, cerr.New(cerr.EEncoding, "readImports", "short buffer for outer index")
		}
		imp.OuterIndex = int32(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		imp.ObjectName, n, err = primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		imp.PackageName, n, err = primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if len(b) < off+1 {
			return nil, cerr.New(cerr.EEncoding, "readImports", "short buffer for script flag")
		}
		imp.IsScript = b[off] != 0
		off++
		imports[i] = imp
	}
	return imports, nil
}

func writeImports(imports []Import) []byte {
	var out []byte
	for _, imp := range imports {
		out = append(out, primitives.WriteLengthPrefixedString(imp.ClassPackage)...)
		out = append(out, primitives.WriteLengthPrefixedString(imp.ClassName)...)
		var idxBuf [4]byte
		binary.LittleEndian.PutUint32(idxBuf[:], uint32(imp.OuterIndex))
		out = append(out, idxBuf[:]...)
		out = append(out, primitives.WriteLengthPrefixedString(imp.ObjectName)...)
		out = append(out, primitives.WriteLengthPrefixedString(imp.PackageName)...)
		if imp.IsScript {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

const exportFixedSize = 4 + 4*4 + 8 + 8 + 4 + 1 // suffix + 4 indices + offset + size + flags + filterflags (object name is variable, written first)

func readExports(b []byte, offset, count uint32) ([]Export, error) {
	exports := make([]Export, count)
	off := int(offset)
	for i := range exports {
		var e Export
		name, n, err := primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, err
		}
		e.ObjectName = name
		off += n
		if len(b) < off+exportFixedSize {
			return nil, cerr.New(cerr.EEncoding, "readExports", "short buffer for export fixed fields")
		}
		e.ObjectSuffix = binary.LittleEndian.Uint32(b[off:])
		e.ClassIndex = int32(binary.LittleEndian.Uint32(b[off+4:]))
		e.SuperIndex = int32(binary.LittleEndian.Uint32(b[off+8:]))
		e.TemplateIndex = int32(binary.LittleEndian.Uint32(b[off+12:]))
		e.OuterIndex = int32(binary.LittleEndian.Uint32(b[off+16:]))
		e.SerialOffset = binary.LittleEndian.Uint64(b[off+20:])
		e.SerialSize = binary.LittleEndian.Uint64(b[off+28:])
		e.ObjectFlags = binary.LittleEndian.Uint32(b[off+36:])
		e.FilterFlags = FilterFlags(b[off+40])
		off += exportFixedSize
		exports[i] = e
	}
	return exports, nil
}

func writeExports(exports []Export) []byte {
	var out []byte
	for _, e := range exports {
		out = append(out, primitives.WriteLengthPrefixedString(e.ObjectName)...)
		rec := make([]byte, exportFixedSize)
		binary.LittleEndian.PutUint32(rec[0:], e.ObjectSuffix)
		binary.LittleEndian.PutUint32(rec[4:], uint32(e.ClassIndex))
		binary.LittleEndian.PutUint32(rec[8:], uint32(e.SuperIndex))
		binary.LittleEndian.PutUint32(rec[12:], uint32(e.TemplateIndex))
		binary.LittleEndian.PutUint32(rec[16:], uint32(e.OuterIndex))
		binary.LittleEndian.PutUint64(rec[20:], e.SerialOffset)
		binary.LittleEndian.PutUint64(rec[28:], e.SerialSize)
		binary.LittleEndian.PutUint32(rec[36:], e.ObjectFlags)
		rec[40] = byte(e.FilterFlags)
		out = append(out, rec...)
	}
	return out
}

func writeInt32Slice(out []byte, vals []int32) []byte {
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(vals)))
	out = append(out, cnt[:]...)
	for _, v := range vals {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		out = append(out, b[:]...)
	}
	return out
}

func readInt32Slice(b []byte, off int) ([]int32, int, error) {
	if len(b) < off+4 {
		return nil, 0, cerr.New(cerr.EEncoding, "readInt32Slice", "short buffer for count")
	}
	n := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if len(b) < off+int(n)*4 {
		return nil, 0, cerr.New(cerr.EEncoding, "readInt32Slice", "short buffer for elements")
	}
	if n == 0 {
		return nil, off, nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}
	return out, off, nil
}

func readPreloads(b []byte, offset, exportCount uint32) ([]PreloadDependency, error) {
	preloads := make([]PreloadDependency, exportCount)
	off := int(offset)
	for i := range preloads {
		var p PreloadDependency
		var err error
		p.CreateBeforeCreate, off, err = readInt32Slice(b, off)
		if err != nil {
			return nil, err
		}
		p.SerializeBeforeCreate, off, err = readInt32Slice(b, off)
		if err != nil {
			return nil, err
		}
		p.CreateBeforeSerialize, off, err = readInt32Slice(b, off)
		if err != nil {
			return nil, err
		}
		p.SerializeBeforeSerialize, off, err = readInt32Slice(b, off)
		if err != nil {
			return nil, err
		}
		preloads[i] = p
	}
	return preloads, nil
}

func writePreloads(preloads []PreloadDependency) []byte {
	var out []byte
	for _, p := range preloads {
		out = writeInt32Slice(out, p.CreateBeforeCreate)
		out = writeInt32Slice(out, p.SerializeBeforeCreate)
		out = writeInt32Slice(out, p.CreateBeforeSerialize)
		out = writeInt32Slice(out, p.SerializeBeforeSerialize)
	}
	return out
}

const bulkResourceSize = 4 + 8 + 8 + 8

func readBulkResources(b []byte, offset, count uint32) ([]BulkResource, error) {
	out := make([]BulkResource, count)
	off := int(offset)
	for i := range out {
		if len(b) < off+bulkResourceSize {
			return nil, cerr.New(cerr.EEncoding, "readBulkResources", "short buffer")
		}
		out[i] = BulkResource{
			Flags:      binary.LittleEndian.Uint32(b[off:]),
			Offset:     binary.LittleEndian.Uint64(b[off+4:]),
			SizeOnDisk: binary.LittleEndian.Uint64(b[off+12:]),
			SizeInMem:  binary.LittleEndian.Uint64(b[off+20:]),
		}
		off += bulkResourceSize
	}
	return out, nil
}

func writeBulkResources(resources []BulkResource) []byte {
	out := make([]byte, 0, bulkResourceSize*len(resources))
	for _, r := range resources {
		rec := make([]byte, bulkResourceSize)
		binary.LittleEndian.PutUint32(rec[0:], r.Flags)
		binary.LittleEndian.PutUint64(rec[4:], r.Offset)
		binary.LittleEndian.PutUint64(rec[12:], r.SizeOnDisk)
		binary.LittleEndian.PutUint64(rec[20:], r.SizeInMem)
		out = append(out, rec...)
	}
	return out
}

// WritePackage serializes pkg back into header and exports file bytes.
// Export serial offsets/sizes and payload contents are taken as-is from the
// in-memory model (reshapers are expected to have already updated both
// before calling this).
func WritePackage(pkg *Package) (headerBytes, exportsBytes []byte, err error) {
	namesBuf := writeNames(pkg.Names)
	importsBuf := writeImports(pkg.Imports)
	exportsBuf := writeExports(pkg.Exports)
	preloadsBuf := writePreloads(pkg.Preloads)
	bulkBuf := writeBulkResources(pkg.BulkResources)

	s := &summary{
		PackageFlags:      pkg.PackageFlags,
		NameCount:         uint32(len(pkg.Names)),
		ImportCount:       uint32(len(pkg.Imports)),
		ExportCount:       uint32(len(pkg.Exports)),
		BulkResourceCount: uint32(len(pkg.BulkResources)),
	}
	off := uint32(summarySize)
	s.NameOffset = off
	off += uint32(len(namesBuf))
	s.ImportOffset = off
	off += uint32(len(importsBuf))
	s.ExportOffset = off
	off += uint32(len(exportsBuf))
	s.PreloadOffset = off
	off += uint32(len(preloadsBuf))
	s.BulkResourceOffset = off
	off += uint32(len(bulkBuf))
	s.TotalHeaderSize = off + 4 // + trailing tag

	header := make([]byte, 0, s.TotalHeaderSize)
	header = append(header, s.marshal()...)
	header = append(header, namesBuf...)
	header = append(header, importsBuf...)
	header = append(header, exportsBuf...)
	header = append(header, preloadsBuf...)
	header = append(header, bulkBuf...)
	var tag [4]byte
	binary.LittleEndian.PutUint32(tag[:], TrailingTag)
	header = append(header, tag[:]...)

	var exportsOut []byte
	for _, e := range pkg.Exports {
		exportsOut = append(exportsOut, e.Payload...)
	}
	exportsOut = append(exportsOut, tag[:]...)

	return header, exportsOut, nil
}
