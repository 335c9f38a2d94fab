package zen

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/config"
	"github.com/zenforge/cascade/internal/namepool"
	"github.com/zenforge/cascade/internal/poi"
)

const (
	exportRecordSize = 72
	bundleEntrySize  = 8
	depHeaderSize    = 20
	summaryFieldCount = 22
	savedHashSize    = 32
	summaryFixedSize = summaryFieldCount*4 + savedHashSize
)

type summaryFields struct {
	Version                      uint32
	PackageFlags                 uint32
	ZenHeaderSize                uint32
	CookedHeaderSize             uint32
	NameBatchOffset              uint32
	ImportedHashesOffset         uint32
	ImportedHashesCount          uint32
	ImportMapOffset              uint32
	ImportCount                  uint32
	ExportMapOffset              uint32
	ExportCount                  uint32
	ExportBundleOffset           uint32
	ExportBundleEntryCount       uint32
	DependencyHeadersOffset      uint32
	DependencyHeaderCount        uint32
	DependencyEntriesOffset      uint32
	DependencyEntryCount         uint32
	ImportedPackageNamesOffset   uint32
	ImportedPackageNameCount     uint32
	PreloadOffset                uint32
	PreloadSize                  uint32
	ExportsPayloadOffset         uint32
}

func (s summaryFields) marshal() []byte {
	vals := []uint32{
		s.Version, s.PackageFlags, s.ZenHeaderSize, s.CookedHeaderSize,
		s.NameBatchOffset, s.ImportedHashesOffset, s.ImportedHashesCount,
		s.ImportMapOffset, s.ImportCount, s.ExportMapOffset, s.ExportCount,
		s.ExportBundleOffset, s.ExportBundleEntryCount, s.DependencyHeadersOffset,
		s.DependencyHeaderCount, s.DependencyEntriesOffset, s.DependencyEntryCount,
		s.ImportedPackageNamesOffset, s.ImportedPackageNameCount, s.PreloadOffset,
		s.PreloadSize, s.ExportsPayloadOffset,
	}
	out := make([]byte, summaryFixedSize)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	// SavedHash (bytes [summaryFieldCount*4 : summaryFixedSize]) stays zero:
	// cooked assets require it zeroed.
	return out
}

func unmarshalSummary(b []byte) (*summaryFields, error) {
	if len(b) < summaryFixedSize {
		return nil, cerr.New(cerr.EEncoding, "zen.unmarshalSummary", "short buffer")
	}
	u32 := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i*4:]) }
	return &summaryFields{
		Version: u32(0), PackageFlags: u32(1), ZenHeaderSize: u32(2), CookedHeaderSize: u32(3),
		NameBatchOffset: u32(4), ImportedHashesOffset: u32(5), ImportedHashesCount: u32(6),
		ImportMapOffset: u32(7), ImportCount: u32(8), ExportMapOffset: u32(9), ExportCount: u32(10),
		ExportBundleOffset: u32(11), ExportBundleEntryCount: u32(12), DependencyHeadersOffset: u32(13),
		DependencyHeaderCount: u32(14), DependencyEntriesOffset: u32(15), DependencyEntryCount: u32(16),
		ImportedPackageNamesOffset: u32(17), ImportedPackageNameCount: u32(18), PreloadOffset: u32(19),
		PreloadSize: u32(20), ExportsPayloadOffset: u32(21),
	}, nil
}

// ZenHeaderSize computes the byte offset where the preload region would
// start if pkg were marshaled right now, without requiring Preload or
// ExportsPayload to be populated yet. Callers size the preload region's
// zero-pad against this before calling Marshal (the "probe, then settle"
// two-pass pattern: the header-section sizes never depend on preload
// contents, so this can run ahead of BuildPreloadRegion).
func ZenHeaderSize(pkg *Package) uint32 {
	nameBatch := namepool.EncodeBatch(pkg.Names.Names(), 0)
	off := uint32(summaryFixedSize)
	off += uint32(len(nameBatch))
	off += uint32(8 * len(pkg.ImportedPublicExportHashes))
	off += uint32(8 * len(pkg.Imports))
	off += uint32(exportRecordSize * len(pkg.Exports))
	off += uint32(bundleEntrySize * len(pkg.ExportBundleEntries))
	off += uint32(depHeaderSize * len(pkg.DependencyHeaders))
	off += uint32(8 * len(pkg.DependencyEntries))
	off += uint32(8 * len(pkg.ImportedPackageNames))
	return off
}

// Marshal serializes pkg into the Zen on-disk form. Preload and
// ExportsPayload must already be sized/padded as the emit pipeline
// requires (see BuildPreloadRegion); Marshal computes every section offset
// and the summary's ZenHeaderSize from their actual lengths.
func (pkg *Package) Marshal() ([]byte, error) {
	nameBatch := namepool.EncodeBatch(pkg.Names.Names(), 0)

	hashesBuf := make([]byte, 8*len(pkg.ImportedPublicExportHashes))
	for i, h := range pkg.ImportedPublicExportHashes {
		binary.LittleEndian.PutUint64(hashesBuf[i*8:], h)
	}

	importsBuf := make([]byte, 8*len(pkg.Imports))
	for i, im := range pkg.Imports {
		binary.LittleEndian.PutUint64(importsBuf[i*8:], uint64(im))
	}

	exportsBuf := make([]byte, exportRecordSize*len(pkg.Exports))
	for i, e := range pkg.Exports {
		rec := exportsBuf[i*exportRecordSize:]
		binary.LittleEndian.PutUint64(rec[0:], e.CookedSerialOffset)
		binary.LittleEndian.PutUint64(rec[8:], e.CookedSerialSize)
		binary.LittleEndian.PutUint32(rec[16:], e.ObjectName.Index)
		binary.LittleEndian.PutUint32(rec[20:], e.ObjectName.Suffix)
		binary.LittleEndian.PutUint64(rec[24:], uint64(e.OuterIndex))
		binary.LittleEndian.PutUint64(rec[32:], uint64(e.ClassIndex))
		binary.LittleEndian.PutUint64(rec[40:], uint64(e.SuperIndex))
		binary.LittleEndian.PutUint64(rec[48:], uint64(e.TemplateIndex))
		binary.LittleEndian.PutUint64(rec[56:], e.PublicExportHash)
		binary.LittleEndian.PutUint32(rec[64:], e.ObjectFlags)
		rec[68] = byte(e.FilterFlags)
	}

	bundleBuf := make([]byte, bundleEntrySize*len(pkg.ExportBundleEntries))
	for i, e := range pkg.ExportBundleEntries {
		rec := bundleBuf[i*bundleEntrySize:]
		binary.LittleEndian.PutUint32(rec[0:], e.ExportIndex)
		rec[4] = byte(e.Command)
	}

	depHeadersBuf := make([]byte, depHeaderSize*len(pkg.DependencyHeaders))
	for i, h := range pkg.DependencyHeaders {
		rec := depHeadersBuf[i*depHeaderSize:]
		binary.LittleEndian.PutUint32(rec[0:], h.FirstEntryIndex)
		for j, c := range h.EntryCount {
			binary.LittleEndian.PutUint32(rec[4+j*4:], c)
		}
	}

	depEntriesBuf := make([]byte, 8*len(pkg.DependencyEntries))
	for i, e := range pkg.DependencyEntries {
		binary.LittleEndian.PutUint64(depEntriesBuf[i*8:], uint64(e))
	}

	pkgNamesBuf := make([]byte, 8*len(pkg.ImportedPackageNames))
	for i, n := range pkg.ImportedPackageNames {
		binary.LittleEndian.PutUint32(pkgNamesBuf[i*8:], n.Index)
		binary.LittleEndian.PutUint32(pkgNamesBuf[i*8+4:], n.Suffix)
	}

	off := uint32(summaryFixedSize)
	s := &summaryFields{
		Version:      uint32(pkg.Version),
		PackageFlags: pkg.PackageFlags,
	}
	s.NameBatchOffset = off
	off += uint32(len(nameBatch))
	s.ImportedHashesOffset = off
	s.ImportedHashesCount = uint32(len(pkg.ImportedPublicExportHashes))
	off += uint32(len(hashesBuf))
	s.ImportMapOffset = off
	s.ImportCount = uint32(len(pkg.Imports))
	off += uint32(len(importsBuf))
	s.ExportMapOffset = off
	s.ExportCount = uint32(len(pkg.Exports))
	off += uint32(len(exportsBuf))
	s.ExportBundleOffset = off
	s.ExportBundleEntryCount = uint32(len(pkg.ExportBundleEntries))
	off += uint32(len(bundleBuf))
	s.DependencyHeadersOffset = off
	s.DependencyHeaderCount = uint32(len(pkg.DependencyHeaders))
	off += uint32(len(depHeadersBuf))
	s.DependencyEntriesOffset = off
	s.DependencyEntryCount = uint32(len(pkg.DependencyEntries))
	off += uint32(len(depEntriesBuf))
	s.ImportedPackageNamesOffset = off
	s.ImportedPackageNameCount = uint32(len(pkg.ImportedPackageNames))
	off += uint32(len(pkgNamesBuf))

	s.ZenHeaderSize = off
	s.PreloadOffset = off
	s.PreloadSize = uint32(len(pkg.Preload))

	cookedHeaderSize := pkg.CookedHeaderSize
	if cookedHeaderSize == 0 {
		cookedHeaderSize = off + uint32(len(pkg.Preload))
	}
	if off+uint32(len(pkg.Preload)) != cookedHeaderSize {
		return nil, cerr.New(cerr.EInvariant, "zen.Marshal", "preload region size does not bridge zenHeaderSize to cookedHeaderSize")
	}
	s.CookedHeaderSize = cookedHeaderSize
	s.ExportsPayloadOffset = cookedHeaderSize

	out := make([]byte, 0, cookedHeaderSize+uint32(len(pkg.ExportsPayload)))
	out = append(out, s.marshal()...)
	out = append(out, nameBatch...)
	out = append(out, hashesBuf...)
	out = append(out, importsBuf...)
	out = append(out, exportsBuf...)
	out = append(out, bundleBuf...)
	out = append(out, depHeadersBuf...)
	out = append(out, depEntriesBuf...)
	out = append(out, pkgNamesBuf...)
	out = append(out, pkg.Preload...)
	out = append(out, pkg.ExportsPayload...)

	return out, nil
}

// Parse mirrors Marshal: the header's published offsets are trusted but
// every section boundary is cross-checked against the buffer length, and
// export serial regions are validated for bounds and overlap.
func Parse(b []byte, version config.HeaderVersion) (*Package, error) {
	s, err := unmarshalSummary(b)
	if err != nil {
		return nil, err
	}

	section := func(offset, size uint32) ([]byte, error) {
		end := uint64(offset) + uint64(size)
		if end > uint64(len(b)) {
			return nil, cerr.New(cerr.EInvariant, "zen.Parse", "section extends past end of buffer")
		}
		return b[offset:end], nil
	}

	nameBatchBytes := b[s.NameBatchOffset:]
	names, _, err := namepool.DecodeBatch(nameBatchBytes)
	if err != nil {
		return nil, cerr.Wrap(cerr.EEncoding, "zen.Parse", err)
	}
	pool := namepool.New()
	for _, n := range names {
		pool.Intern(n)
	}

	hashesRaw, err := section(s.ImportedHashesOffset, s.ImportedHashesCount*8)
	if err != nil {
		return nil, err
	}
	hashes := make([]uint64, s.ImportedHashesCount)
	for i := range hashes {
		hashes[i] = binary.LittleEndian.Uint64(hashesRaw[i*8:])
	}

	importsRaw, err := section(s.ImportMapOffset, s.ImportCount*8)
	if err != nil {
		return nil, err
	}
	imports := make([]poi.Index, s.ImportCount)
	for i := range imports {
		imports[i] = poi.Index(binary.LittleEndian.Uint64(importsRaw[i*8:]))
	}

	exportsRaw, err := section(s.ExportMapOffset, s.ExportCount*exportRecordSize)
	if err != nil {
		return nil, err
	}
	exports := make([]Export, s.ExportCount)
	for i := range exports {
		rec := exportsRaw[i*exportRecordSize:]
		exports[i] = Export{
			CookedSerialOffset: binary.LittleEndian.Uint64(rec[0:]),
			CookedSerialSize:   binary.LittleEndian.Uint64(rec[8:]),
			ObjectName: namepool.NameIndex{
				Index:  binary.LittleEndian.Uint32(rec[16:]),
				Suffix: binary.LittleEndian.Uint32(rec[20:]),
			},
			OuterIndex:       poi.Index(binary.LittleEndian.Uint64(rec[24:])),
			ClassIndex:       poi.Index(binary.LittleEndian.Uint64(rec[32:])),
			SuperIndex:       poi.Index(binary.LittleEndian.Uint64(rec[40:])),
			TemplateIndex:    poi.Index(binary.LittleEndian.Uint64(rec[48:])),
			PublicExportHash: binary.LittleEndian.Uint64(rec[56:]),
			ObjectFlags:      binary.LittleEndian.Uint32(rec[64:]),
			FilterFlags:      FilterFlags(rec[68]),
		}
	}

	bundleRaw, err := section(s.ExportBundleOffset, s.ExportBundleEntryCount*bundleEntrySize)
	if err != nil {
		return nil, err
	}
	bundle := make([]BundleEntry, s.ExportBundleEntryCount)
	for i := range bundle {
		rec := bundleRaw[i*bundleEntrySize:]
		bundle[i] = BundleEntry{ExportIndex: binary.LittleEndian.Uint32(rec[0:]), Command: BundleCommand(rec[4])}
	}

	depHeadersRaw, err := section(s.DependencyHeadersOffset, s.DependencyHeaderCount*depHeaderSize)
	if err != nil {
		return nil, err
	}
	depHeaders := make([]DependencyBundleHeader, s.DependencyHeaderCount)
	for i := range depHeaders {
		rec := depHeadersRaw[i*depHeaderSize:]
		h := DependencyBundleHeader{FirstEntryIndex: binary.LittleEndian.Uint32(rec[0:])}
		for j := range h.EntryCount {
			h.EntryCount[j] = binary.LittleEndian.Uint32(rec[4+j*4:])
		}
		depHeaders[i] = h
	}

	depEntriesRaw, err := section(s.DependencyEntriesOffset, s.DependencyEntryCount*8)
	if err != nil {
		return nil, err
	}
	depEntries := make([]poi.Index, s.DependencyEntryCount)
	for i := range depEntries {
		depEntries[i] = poi.Index(binary.LittleEndian.Uint64(depEntriesRaw[i*8:]))
	}

	pkgNamesRaw, err := section(s.ImportedPackageNamesOffset, s.ImportedPackageNameCount*8)
	if err != nil {
		return nil, err
	}
	pkgNames := make([]namepool.NameIndex, s.ImportedPackageNameCount)
	for i := range pkgNames {
		pkgNames[i] = namepool.NameIndex{
			Index:  binary.LittleEndian.Uint32(pkgNamesRaw[i*8:]),
			Suffix: binary.LittleEndian.Uint32(pkgNamesRaw[i*8+4:]),
		}
	}

	if s.PreloadOffset != s.ZenHeaderSize {
		return nil, cerr.New(cerr.EInvariant, "zen.Parse", "preload offset does not start at zenHeaderSize")
	}
	preload, err := section(s.PreloadOffset, s.PreloadSize)
	if err != nil {
		return nil, err
	}
	if s.ExportsPayloadOffset != s.CookedHeaderSize {
		return nil, cerr.New(cerr.EInvariant, "zen.Parse", "exports payload does not start at cookedHeaderSize")
	}
	if uint64(s.ExportsPayloadOffset) > uint64(len(b)) {
		return nil, cerr.New(cerr.EInvariant, "zen.Parse", "exports payload offset past end of buffer")
	}
	exportsPayload := b[s.ExportsPayloadOffset:]

	if err := validateExportRegions(exports, uint64(s.CookedHeaderSize), uint64(len(exportsPayload))); err != nil {
		return nil, err
	}

	return &Package{
		Version:                    version,
		Names:                      pool,
		ImportedPublicExportHashes: hashes,
		Imports:                    imports,
		Exports:                    exports,
		ExportBundleEntries:        bundle,
		DependencyHeaders:          depHeaders,
		DependencyEntries:          depEntries,
		ImportedPackageNames:       pkgNames,
		PackageFlags:               s.PackageFlags,
		CookedHeaderSize:           s.CookedHeaderSize,
		Preload:                    append([]byte{}, preload...),
		ExportsPayload:             append([]byte{}, exportsPayload...),
	}, nil
}

// validateExportRegions checks each export's cooked serial offset/size
// stays within the exports region and that regions do not overlap.
func validateExportRegions(exports []Export, headerSize uint64, exportsLen uint64) error {
	type span struct{ start, end uint64 }
	spans := make([]span, 0, len(exports))
	for _, e := range exports {
		if e.CookedSerialOffset < headerSize {
			return cerr.New(cerr.EInvariant, "zen.validateExportRegions", "export serial offset precedes cooked header size")
		}
		rel := e.CookedSerialOffset - headerSize
		if rel+e.CookedSerialSize > exportsLen {
			return cerr.New(cerr.EInvariant, "zen.validateExportRegions", "export serial range overruns exports region")
		}
		spans = append(spans, span{rel, rel + e.CookedSerialSize})
	}
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				return cerr.New(cerr.EInvariant, "zen.validateExportRegions", "overlapping export serial regions")
			}
		}
	}
	return nil
}
