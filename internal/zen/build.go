package zen

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/config"
	"github.com/zenforge/cascade/internal/legacy"
	"github.com/zenforge/cascade/internal/namepool"
	"github.com/zenforge/cascade/internal/poi"
	"github.com/zenforge/cascade/internal/primitives"
	"github.com/zenforge/cascade/internal/scriptobj"
)

const retiredMaterialTagPluginImport = "/Script/MaterialTagPlugin"
const engineAssetUserDataImport = "/Script/Engine.AssetUserData"
const engineAssetUserDataDefaultObject = "/Script/Engine.Default__AssetUserData"

// RemapScriptClassImport rewrites a retired MaterialTagPlugin script import
// (and its CDO variant) to the Engine equivalent, so the runtime doesn't
// need the authoring plugin. Anything else passes through unchanged.
func RemapScriptClassImport(classPackage, objectName string) (string, string) {
	if classPackage != retiredMaterialTagPluginImport {
		return classPackage, objectName
	}
	if strings.HasPrefix(objectName, "Default__") {
		return "/Script/Engine", "Default__AssetUserData"
	}
	return "/Script/Engine", "AssetUserData"
}

// PublicExportHash computes the export-map publicExportHash field per the
// header-version-gated dual meaning: CityHash64 of the lowercased,
// suffix-qualified display name for versions <= OptionalSegmentPackages,
// or the raw GlobalImportIndex POI payload from version NoExportInfo on.
func PublicExportHash(version config.HeaderVersion, qualifiedDisplayName string, globalImportIndex poi.Index) uint64 {
	if version >= config.HeaderVersionNoExportInfo {
		return globalImportIndex.Payload()
	}
	return primitives.CityHash64Lower(qualifiedDisplayName)
}

// TopologicalExportOrder orders export indices so that an export whose
// OuterIndex refers to another local export always comes after that outer
// export (exports with a null or imported outer sort first, in original
// order).
func TopologicalExportOrder(outers []poi.Index) []int {
	n := len(outers)
	depth := make([]int, n)
	var depthOf func(i int, visiting map[int]bool) int
	depthOf = func(i int, visiting map[int]bool) int {
		if depth[i] != 0 {
			return depth[i]
		}
		o := outers[i]
		if !o.IsExport() || visiting[i] {
			depth[i] = 1
			return 1
		}
		outerIdx := int(o.ExportIndex())
		if outerIdx < 0 || outerIdx >= n || outerIdx == i {
			depth[i] = 1
			return 1
		}
		visiting[i] = true
		d := depthOf(outerIdx, visiting) + 1
		delete(visiting, i)
		depth[i] = d
		return d
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
		depthOf(i, map[int]bool{})
	}
	sort.SliceStable(order, func(a, b int) bool { return depth[order[a]] < depth[order[b]] })
	return order
}

// BuildExportBundle emits one Create entry per export in topological
// order, then one Serialize entry per export in the same order.
func BuildExportBundle(outers []poi.Index) []BundleEntry {
	order := TopologicalExportOrder(outers)
	entries := make([]BundleEntry, 0, 2*len(order))
	for _, idx := range order {
		entries = append(entries, BundleEntry{ExportIndex: uint32(idx), Command: CommandCreate})
	}
	for _, idx := range order {
		entries = append(entries, BundleEntry{ExportIndex: uint32(idx), Command: CommandSerialize})
	}
	return entries
}

// ExportDependencies lists, for one export, the POIs that must precede it
// in each of the four dependency relations.
type ExportDependencies struct {
	CreateBeforeCreate       []poi.Index
	SerializeBeforeCreate    []poi.Index
	CreateBeforeSerialize    []poi.Index
	SerializeBeforeSerialize []poi.Index
}

// BuildDependencyBundles flattens per-export dependency lists into the
// (header, entries) pair the Zen format stores.
func BuildDependencyBundles(deps []ExportDependencies) ([]DependencyBundleHeader, []poi.Index) {
	headers := make([]DependencyBundleHeader, len(deps))
	var entries []poi.Index
	for i, d := range deps {
		h := DependencyBundleHeader{FirstEntryIndex: uint32(len(entries))}
		lists := [][]poi.Index{d.CreateBeforeCreate, d.SerializeBeforeCreate, d.CreateBeforeSerialize, d.SerializeBeforeSerialize}
		for j, l := range lists {
			h.EntryCount[j] = uint32(len(l))
			entries = append(entries, l...)
		}
		headers[i] = h
	}
	return headers, entries
}

const preloadRecordHeaderSize = 4 // u32 record marker, kept for forward compatibility

// BuildPreloadRegion encodes `{u32 perExportDepCount[exportCount], u32
// depIndices[sum]}` preceded by a small record header, then zero-pads to
// exactly padTo bytes. An empty perExportDeps with padTo==0 yields an
// empty region (cookedHeaderSize == zenHeaderSize case).
func BuildPreloadRegion(perExportDeps [][]uint32, padTo int) ([]byte, error) {
	if len(perExportDeps) == 0 && padTo == 0 {
		return nil, nil
	}
	var out []byte
	var marker [preloadRecordHeaderSize]byte
	binary.LittleEndian.PutUint32(marker[:], uint32(len(perExportDeps)))
	out = append(out, marker[:]...)
	for _, deps := range perExportDeps {
		var c [4]byte
		binary.LittleEndian.PutUint32(c[:], uint32(len(deps)))
		out = append(out, c[:]...)
	}
	for _, deps := range perExportDeps {
		for _, idx := range deps {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], idx)
			out = append(out, b[:]...)
		}
	}
	if len(out) > padTo {
		return nil, cerr.New(cerr.EInvariant, "BuildPreloadRegion", "natural preload size exceeds the cookedHeaderSize/zenHeaderSize gap")
	}
	if len(out) < padTo {
		out = append(out, make([]byte, padTo-len(out))...)
	}
	return out, nil
}

// ImportedPublicExportHashTable builds the dense hash table referenced by
// import-map entries, returning the table and a lookup from lowercased
// qualified name to its index.
func ImportedPublicExportHashTable(qualifiedNames []string) ([]uint64, map[string]uint32) {
	table := make([]uint64, len(qualifiedNames))
	index := make(map[string]uint32, len(qualifiedNames))
	for i, name := range qualifiedNames {
		lower := strings.ToLower(name)
		table[i] = primitives.CityHash64Lower(lower)
		index[lower] = uint32(i)
	}
	return table, index
}

// BuildImportMap walks a legacy import table, resolving script classes
// through the script-object catalog and package objects to PackageImport
// POIs, applying the MaterialTagPlugin remap along the way.
func BuildImportMap(imports []legacy.Import, catalog *scriptobj.Catalog) ([]poi.Index, error) {
	out := make([]poi.Index, len(imports))
	for i, imp := range imports {
		if imp.IsScript {
			classPackage, objectName := RemapScriptClassImport(imp.ClassPackage, imp.ObjectName)
			qualified := strings.TrimPrefix(classPackage, "/Script/") + "." + objectName
			id, ok := catalog.LookupByQualifiedName(qualified)
			if !ok {
				return nil, cerr.New(cerr.EMissing, "zen.BuildImportMap", "script import not found in catalog: "+qualified)
			}
			out[i] = poi.ScriptImportPOI(id)
			continue
		}
		qualified := imp.PackageName + "." + imp.ObjectName
		out[i] = poi.PackageImportPOI(strings.ToLower(qualified))
	}
	return out, nil
}

// CollectImportedPackageNames lists the distinct package paths referenced
// by package-import POIs, as NameIndex references into names.
func CollectImportedPackageNames(names *namepool.Pool, packagePaths []string) []namepool.NameIndex {
	seen := make(map[string]bool, len(packagePaths))
	out := make([]namepool.NameIndex, 0, len(packagePaths))
	for _, p := range packagePaths {
		if seen[p] {
			continue
		}
		seen[p] = true
		idx := names.Intern(p)
		out = append(out, namepool.NameIndex{Index: idx})
	}
	return out
}
