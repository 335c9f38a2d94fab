// Package cascade is the top-level conversion pipeline: legacy package ->
// (export reshape) -> Zen package -> IoStore container chunk, and the
// reverse. It wires internal/legacy, internal/reshape, internal/zen,
// internal/scriptobj, internal/iostore, and internal/cindex together the
// way a single entry point (mirroring the teacher's ParseUAssetFile) would.
package cascade

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/cindex"
	"github.com/zenforge/cascade/internal/config"
	"github.com/zenforge/cascade/internal/iostore"
	"github.com/zenforge/cascade/internal/legacy"
	"github.com/zenforge/cascade/internal/namepool"
	"github.com/zenforge/cascade/internal/poi"
	"github.com/zenforge/cascade/internal/proptag"
	"github.com/zenforge/cascade/internal/reshape"
	"github.com/zenforge/cascade/internal/scriptobj"
	"github.com/zenforge/cascade/internal/zen"
)

// unversionedPropertiesFlag mirrors the engine's PKG_UnversionedProperties
// bit; packages carrying it decode export front matter through a mappings
// schema instead of self-describing tags.
const unversionedPropertiesFlag uint32 = 0x2000000

// ImportResolver recovers a package-import POI's original package and
// object name. PackageImportPOI is a one-way CityHash64 over the qualified
// name (§3), so Container->legacy conversion cannot invert it on its own;
// callers supply a resolver backed by whatever side table (an asset
// registry, a prior legacy scan) maps hashes back to names.
type ImportResolver interface {
	ResolvePackageImport(idx poi.Index) (packageName, objectName string, ok bool)
}

// Converter holds the cross-package state a single conversion needs: the
// script-object catalog for script-import resolution, the optional
// mappings schema for unversioned property decoding, the container header
// version to target, and any reshape context (bulk-data resolution,
// material-tag lists) the export reshapers require.
type Converter struct {
	Catalog    *scriptobj.Catalog
	Schema     proptag.MappingsSchema
	Version    config.HeaderVersion
	ReshapeCtx *reshape.Context
}

// resolveClassName returns the class name a legacy ClassIndex refers to:
// an import's ObjectName if negative, another export's ObjectName if
// positive, or "" if null.
func resolveClassName(pkg *legacy.Package, classIndex int32) string {
	switch {
	case classIndex == 0:
		return ""
	case classIndex > 0:
		i := int(classIndex) - 1
		if i < 0 || i >= len(pkg.Exports) {
			return ""
		}
		return pkg.Exports[i].ObjectName
	default:
		i := int(-classIndex) - 1
		if i < 0 || i >= len(pkg.Imports) {
			return ""
		}
		return pkg.Imports[i].ObjectName
	}
}

// legacyDisplayName mirrors namepool.Pool.Display's suffix convention for a
// legacy export's (ObjectName, ObjectSuffix) pair.
func legacyDisplayName(name string, suffix uint32) string {
	if suffix == 0 {
		return name
	}
	return name + "_" + strconv.Itoa(int(suffix-1))
}

// legacyIndexToPOI converts a legacy signed reference (positive 1-based
// export, negative 1-based import, 0 = none) into a POI, given the
// already-resolved import POI table.
func legacyIndexToPOI(idx int32, importPOIs []poi.Index) poi.Index {
	switch {
	case idx == 0:
		return poi.Null
	case idx > 0:
		return poi.ExportPOI(uint32(idx - 1))
	default:
		i := int(-idx) - 1
		if i < 0 || i >= len(importPOIs) {
			return poi.Null
		}
		return importPOIs[i]
	}
}

// poiToLegacyIndex is the inverse of legacyIndexToPOI: it needs the
// position of p within the package's own import table (importIndexOf) to
// rebuild the negative 1-based convention, since a POI payload alone
// doesn't carry that position.
func poiToLegacyIndex(p poi.Index, importIndexOf map[poi.Index]int) (int32, error) {
	if p.IsNull() {
		return 0, nil
	}
	if p.IsExport() {
		return int32(p.ExportIndex()) + 1, nil
	}
	i, ok := importIndexOf[p]
	if !ok {
		return 0, cerr.New(cerr.EMissing, "poiToLegacyIndex", "POI does not match any entry in the import table")
	}
	return -int32(i + 1), nil
}

func flattenLegacyIndices(vals []int32, importPOIs []poi.Index) []poi.Index {
	out := make([]poi.Index, len(vals))
	for i, v := range vals {
		out[i] = legacyIndexToPOI(v, importPOIs)
	}
	return out
}

func flattenPOIs(pois []poi.Index, importIndexOf map[poi.Index]int) ([]int32, error) {
	out := make([]int32, len(pois))
	for i, p := range pois {
		v, err := poiToLegacyIndex(p, importIndexOf)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// reshapeExportPayload decodes an export's tagged-property front matter,
// runs the reshaper registered for its class (if any), and returns the
// payload with only the tail rewritten; the front matter is always copied
// through unchanged.
func reshapeExportPayload(pkg *legacy.Package, e legacy.Export, schema proptag.MappingsSchema, ctx *reshape.Context) ([]byte, error) {
	className := resolveClassName(pkg, e.ClassIndex)
	r, ok := reshape.Dispatch(className)
	if !ok {
		return e.Payload, nil
	}

	var props []proptag.Property
	var n int
	var err error
	if pkg.PackageFlags&unversionedPropertiesFlag != 0 {
		if schema == nil {
			return nil, cerr.New(cerr.ESchema, "reshapeExportPayload", "unversioned package requires a mappings schema")
		}
		props, n, err = proptag.DecodeUnversioned(e.Payload, className, schema)
	} else {
		props, n, err = proptag.DecodeVersioned(e.Payload)
	}
	if err != nil {
		return nil, err
	}

	tail := e.Payload[n:]
	newTail, _, err := r(tail, props, ctx)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, n+len(newTail))
	out = append(out, e.Payload[:n]...)
	out = append(out, newTail...)
	return out, nil
}

// ToZen converts one legacy package into its Zen on-disk model: imports
// resolved through the script-object catalog, targeted exports reshaped,
// export bundle and dependency bundles built from the legacy preload
// table, and cooked serial offsets preserved so the original header-size
// gap survives as the preload region's zero-pad.
func (c *Converter) ToZen(pkg *legacy.Package) (*zen.Package, error) {
	importPOIs, err := zen.BuildImportMap(pkg.Imports, c.Catalog)
	if err != nil {
		return nil, err
	}

	reshapedPayloads := make([][]byte, len(pkg.Exports))
	for i, e := range pkg.Exports {
		payload, err := reshapeExportPayload(pkg, e, c.Schema, c.ReshapeCtx)
		if err != nil {
			return nil, cerr.Wrap(cerr.EInvariant, "Converter.ToZen", err)
		}
		reshapedPayloads[i] = payload
	}

	pool := namepool.New()
	exports := make([]zen.Export, len(pkg.Exports))
	for i, e := range pkg.Exports {
		qualified := pkg.PackagePath + "." + legacyDisplayName(e.ObjectName, e.ObjectSuffix)
		globalImportIndex := poi.PackageImportPOI(strings.ToLower(qualified))
		exports[i] = zen.Export{
			ObjectName:       namepool.NameIndex{Index: pool.Intern(e.ObjectName), Suffix: e.ObjectSuffix},
			OuterIndex:       legacyIndexToPOI(e.OuterIndex, importPOIs),
			ClassIndex:       legacyIndexToPOI(e.ClassIndex, importPOIs),
			SuperIndex:       legacyIndexToPOI(e.SuperIndex, importPOIs),
			TemplateIndex:    legacyIndexToPOI(e.TemplateIndex, importPOIs),
			PublicExportHash: zen.PublicExportHash(c.Version, qualified, globalImportIndex),
			ObjectFlags:      e.ObjectFlags,
			FilterFlags:      zen.FilterFlags(e.FilterFlags),
		}
	}

	outers := make([]poi.Index, len(exports))
	for i, e := range exports {
		outers[i] = e.OuterIndex
	}
	bundle := zen.BuildExportBundle(outers)

	deps := make([]zen.ExportDependencies, len(pkg.Preloads))
	for i, p := range pkg.Preloads {
		deps[i] = zen.ExportDependencies{
			CreateBeforeCreate:       flattenLegacyIndices(p.CreateBeforeCreate, importPOIs),
			SerializeBeforeCreate:    flattenLegacyIndices(p.SerializeBeforeCreate, importPOIs),
			CreateBeforeSerialize:    flattenLegacyIndices(p.CreateBeforeSerialize, importPOIs),
			SerializeBeforeSerialize: flattenLegacyIndices(p.SerializeBeforeSerialize, importPOIs),
		}
	}
	depHeaders, depEntries := zen.BuildDependencyBundles(deps)

	qualifiedImportNames := make([]string, len(pkg.Imports))
	var packagePaths []string
	seenPaths := make(map[string]bool)
	for i, imp := range pkg.Imports {
		if imp.IsScript {
			continue
		}
		qualifiedImportNames[i] = imp.PackageName + "." + imp.ObjectName
		if !seenPaths[imp.PackageName] {
			seenPaths[imp.PackageName] = true
			packagePaths = append(packagePaths, imp.PackageName)
		}
	}
	hashTable, _ := zen.ImportedPublicExportHashTable(qualifiedImportNames)
	importedPackageNames := zen.CollectImportedPackageNames(pool, packagePaths)

	cookedHeaderSize := uint32(pkg.HeaderSize)
	partial := &zen.Package{
		Names:                      pool,
		ImportedPublicExportHashes: hashTable,
		Imports:                    importPOIs,
		Exports:                    exports,
		ExportBundleEntries:        bundle,
		DependencyHeaders:          depHeaders,
		DependencyEntries:          depEntries,
		ImportedPackageNames:       importedPackageNames,
	}
	zenHeaderSize := zen.ZenHeaderSize(partial)
	if zenHeaderSize > cookedHeaderSize {
		return nil, cerr.New(cerr.EInvariant, "Converter.ToZen", "zen header section sizes exceed the legacy header size they must fit within")
	}
	padTo := int(cookedHeaderSize - zenHeaderSize)

	perExportDeps := make([][]uint32, len(pkg.Preloads))
	for i, p := range pkg.Preloads {
		lists := [][]int32{p.CreateBeforeCreate, p.SerializeBeforeCreate, p.CreateBeforeSerialize, p.SerializeBeforeSerialize}
		var indices []uint32
		for _, l := range lists {
			for _, v := range l {
				indices = append(indices, uint32(v))
			}
		}
		perExportDeps[i] = indices
	}
	preload, err := zen.BuildPreloadRegion(perExportDeps, padTo)
	if err != nil {
		return nil, err
	}

	var exportsPayload []byte
	offset := uint64(cookedHeaderSize)
	for i, payload := range reshapedPayloads {
		exports[i].CookedSerialOffset = offset
		exports[i].CookedSerialSize = uint64(len(payload))
		offset += uint64(len(payload))
		exportsPayload = append(exportsPayload, payload...)
	}
	exportsPayload = append(exportsPayload, legacyTrailingTagBytes()...)

	partial.PackageFlags = pkg.PackageFlags
	partial.CookedHeaderSize = cookedHeaderSize
	partial.Preload = preload
	partial.ExportsPayload = exportsPayload
	partial.Version = c.Version
	return partial, nil
}

func legacyTrailingTagBytes() []byte {
	var b [4]byte
	v := legacy.TrailingTag
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	return b[:]
}

// ToLegacy converts a parsed Zen package back into the legacy model: import
// POIs are resolved either through the script-object catalog (script
// imports) or through resolver (package imports), and legacy serial
// offsets are recomputed in a probe-then-settle pass since the header
// section sizes the offsets must follow don't depend on the offset values
// themselves. Export reshaping is not reversed: the stripped zen tail
// (e.g. a texture's single retained mip) is written through as-is, since
// the reshapers the forward direction applies are lossy by design.
func (c *Converter) ToLegacy(zpkg *zen.Package, packagePath string, resolver ImportResolver) (*legacy.Package, error) {
	imports := make([]legacy.Import, len(zpkg.Imports))
	importIndexOf := make(map[poi.Index]int, len(zpkg.Imports))
	for i, p := range zpkg.Imports {
		importIndexOf[p] = i
		switch p.Kind() {
		case poi.KindScriptImport:
			qualified, ok := c.Catalog.LookupByID(p.Payload())
			if !ok {
				return nil, cerr.New(cerr.EMissing, "Converter.ToLegacy", "script import id not found in catalog")
			}
			dot := strings.LastIndexByte(qualified, '.')
			classPackage, objectName := "/Script/Engine", qualified
			if dot >= 0 {
				classPackage = "/Script/" + qualified[:dot]
				objectName = qualified[dot+1:]
			}
			imports[i] = legacy.Import{ClassPackage: classPackage, ObjectName: objectName, IsScript: true}
		case poi.KindPackageImport:
			if resolver == nil {
				return nil, cerr.New(cerr.EMissing, "Converter.ToLegacy", "package import requires a resolver")
			}
			pkgName, objName, ok := resolver.ResolvePackageImport(p)
			if !ok {
				return nil, cerr.New(cerr.EMissing, "Converter.ToLegacy", "resolver could not resolve package import")
			}
			imports[i] = legacy.Import{PackageName: pkgName, ObjectName: objName}
		default:
			return nil, cerr.New(cerr.EInvariant, "Converter.ToLegacy", "import map entry is neither a script nor a package import")
		}
	}

	exports := make([]legacy.Export, len(zpkg.Exports))
	preloads := make([]legacy.PreloadDependency, len(zpkg.Exports))
	for i, e := range zpkg.Exports {
		classIdx, err := poiToLegacyIndex(e.ClassIndex, importIndexOf)
		if err != nil {
			return nil, err
		}
		superIdx, err := poiToLegacyIndex(e.SuperIndex, importIndexOf)
		if err != nil {
			return nil, err
		}
		templateIdx, err := poiToLegacyIndex(e.TemplateIndex, importIndexOf)
		if err != nil {
			return nil, err
		}
		outerIdx, err := poiToLegacyIndex(e.OuterIndex, importIndexOf)
		if err != nil {
			return nil, err
		}
		if e.CookedSerialOffset < uint64(zpkg.CookedHeaderSize) {
			return nil, cerr.New(cerr.EInvariant, "Converter.ToLegacy", "export cooked serial offset precedes cooked header size")
		}
		rel := e.CookedSerialOffset - uint64(zpkg.CookedHeaderSize)
		if rel+e.CookedSerialSize > uint64(len(zpkg.ExportsPayload)) {
			return nil, cerr.New(cerr.EInvariant, "Converter.ToLegacy", "export payload range overruns exports payload")
		}
		exports[i] = legacy.Export{
			ObjectName:    zpkg.Names.Name(e.ObjectName.Index),
			ObjectSuffix:  e.ObjectName.Suffix,
			ClassIndex:    classIdx,
			SuperIndex:    superIdx,
			TemplateIndex: templateIdx,
			OuterIndex:    outerIdx,
			ObjectFlags:   e.ObjectFlags,
			FilterFlags:   legacy.FilterFlags(e.FilterFlags),
			Payload:       append([]byte{}, zpkg.ExportsPayload[rel:rel+e.CookedSerialSize]...),
		}

		if i >= len(zpkg.DependencyHeaders) {
			continue
		}
		h := zpkg.DependencyHeaders[i]
		first := h.FirstEntryIndex
		groups := make([][]poi.Index, 4)
		for g := 0; g < 4; g++ {
			groups[g] = zpkg.DependencyEntries[first : first+h.EntryCount[g]]
			first += h.EntryCount[g]
		}
		var perr error
		preloads[i].CreateBeforeCreate, perr = flattenPOIs(groups[0], importIndexOf)
		if perr != nil {
			return nil, perr
		}
		preloads[i].SerializeBeforeCreate, perr = flattenPOIs(groups[1], importIndexOf)
		if perr != nil {
			return nil, perr
		}
		preloads[i].CreateBeforeSerialize, perr = flattenPOIs(groups[2], importIndexOf)
		if perr != nil {
			return nil, perr
		}
		preloads[i].SerializeBeforeSerialize, perr = flattenPOIs(groups[3], importIndexOf)
		if perr != nil {
			return nil, perr
		}
	}

	draft := &legacy.Package{
		PackagePath:  packagePath,
		Names:        zpkg.Names.Names(),
		Imports:      imports,
		Exports:      exports,
		Preloads:     preloads,
		PackageFlags: zpkg.PackageFlags,
	}
	headerBytes, _, err := legacy.WritePackage(draft)
	if err != nil {
		return nil, err
	}
	headerSize := uint64(len(headerBytes))

	running := headerSize
	for i := range draft.Exports {
		draft.Exports[i].SerialOffset = running
		draft.Exports[i].SerialSize = uint64(len(draft.Exports[i].Payload))
		running += draft.Exports[i].SerialSize
	}
	draft.HeaderSize = int64(headerSize)
	return draft, nil
}

// containerImportedPackageIDs lists the PackageIds a Zen package's
// ImportedPackageNames resolve to, for the ContainerHeader's StoreEntry.
func containerImportedPackageIDs(zpkg *zen.Package) []uint64 {
	out := make([]uint64, len(zpkg.ImportedPackageNames))
	for i, n := range zpkg.ImportedPackageNames {
		out[i] = uint64(poi.NewPackageId(zpkg.Names.Display(n)))
	}
	return out
}

// BuildContainer converts every legacy package through c.ToZen, streams the
// results into a single IoStore container, and produces the companion
// index archive alongside it (§4.J lists the same assetPaths the runtime
// loader scans).
func BuildContainer(pkgs []*legacy.Package, c *Converter, wopts iostore.WriterOptions, assetPaths []string, cindexOpts cindex.BuildOptions) (tocBytes, storeBytes, companionBytes []byte, err error) {
	version := iostore.HeaderVersion(c.Version)
	wopts.HeaderVersion = &version
	w := iostore.NewWriter(wopts)

	for _, pkg := range pkgs {
		zpkg, err := c.ToZen(pkg)
		if err != nil {
			return nil, nil, nil, err
		}
		raw, err := zpkg.Marshal()
		if err != nil {
			return nil, nil, nil, err
		}
		packageID := poi.NewPackageId(pkg.PackagePath)
		chunkID := iostore.PackageChunkId(uint64(packageID))
		entry := iostore.StoreEntry{
			ExportCount:       uint32(len(zpkg.Exports)),
			ExportBundleCount: uint32(len(zpkg.ExportBundleEntries)),
			ImportedPackages:  containerImportedPackageIDs(zpkg),
		}
		if err := w.WritePackageChunk(chunkID, pkg.PackagePath, raw, entry); err != nil {
			return nil, nil, nil, err
		}
	}

	var storeBuf, tocBuf bytes.Buffer
	if err := w.Complete(&storeBuf, &tocBuf); err != nil {
		return nil, nil, nil, err
	}

	companion := cindex.NewChunkNamesArchive(assetPaths)
	companionBytes, err = companion.Build(cindexOpts)
	if err != nil {
		return nil, nil, nil, err
	}
	return tocBuf.Bytes(), storeBuf.Bytes(), companionBytes, nil
}

// ReadContainer opens an IoStore container, reads every package the
// ContainerHeader enumerates, converts each back through c.ToLegacy (the
// chunk's directory-index path becomes the package path), and returns them
// keyed by that path.
func ReadContainer(tocBytes []byte, store io.ReaderAt, ropts iostore.ReaderOptions, c *Converter, resolver ImportResolver) (map[string]*legacy.Package, error) {
	reader, err := iostore.Open(tocBytes, store, ropts)
	if err != nil {
		return nil, err
	}
	ch, ok, err := reader.ContainerHeaderChunk()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.New(cerr.EMissing, "ReadContainer", "container has no ContainerHeader chunk")
	}

	out := make(map[string]*legacy.Package, len(ch.PackageIds))
	for _, pid := range ch.PackageIds {
		chunkID := iostore.PackageChunkId(pid)
		raw, err := reader.ReadChunk(chunkID)
		if err != nil {
			return nil, err
		}
		zpkg, err := zen.Parse(raw, c.Version)
		if err != nil {
			return nil, err
		}
		path, _ := reader.GetChunkPath(chunkID)
		legacyPkg, err := c.ToLegacy(zpkg, path, resolver)
		if err != nil {
			return nil, err
		}
		out[path] = legacyPkg
	}
	return out, nil
}

