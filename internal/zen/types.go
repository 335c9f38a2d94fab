// Package zen builds and parses the Zen package form: a versioned summary
// plus name batch, import map, export map, export bundle, dependency
// bundles, imported-package-name list, preload region, and the reshaped
// export payload stream (§4.F).
package zen

import (
	"github.com/zenforge/cascade/internal/config"
	"github.com/zenforge/cascade/internal/namepool"
	"github.com/zenforge/cascade/internal/poi"
)

// BundleCommand distinguishes the two passes an export bundle entry can
// belong to.
type BundleCommand uint8

const (
	CommandCreate BundleCommand = iota
	CommandSerialize
)

// BundleEntry is one export-bundle entry: an export index plus which pass
// (Create or Serialize) it belongs to.
type BundleEntry struct {
	ExportIndex uint32
	Command     BundleCommand
}

// DependencyBundleHeader is the (firstEntryIndex, entryCount[4]) record
// preceding one export's four dependency-bundle entry lists
// (CreateBeforeCreate, SerializeBeforeCreate, CreateBeforeSerialize,
// SerializeBeforeSerialize, in that order).
type DependencyBundleHeader struct {
	FirstEntryIndex uint32
	EntryCount      [4]uint32
}

// FilterFlags mirrors the legacy per-export bits, preserved rather than
// forced to None.
type FilterFlags uint8

const (
	FilterNone FilterFlags = iota
	FilterNotForClient
	FilterNotForServer
)

// Export is one Zen export-map entry.
type Export struct {
	CookedSerialOffset uint64
	CookedSerialSize   uint64
	ObjectName         namepool.NameIndex
	OuterIndex         poi.Index
	ClassIndex         poi.Index
	SuperIndex         poi.Index
	TemplateIndex      poi.Index
	// PublicExportHash is CityHash64(lowercased qualified display name) for
	// versions <= OptionalSegmentPackages, or the raw GlobalImportIndex POI
	// payload for NoExportInfo and later; never compared across versions.
	PublicExportHash uint64
	ObjectFlags      uint32
	FilterFlags      FilterFlags
}

// Package is the fully in-memory Zen package: everything the emit pipeline
// produces and the parse pipeline recovers.
type Package struct {
	Version config.HeaderVersion

	Names *namepool.Pool

	ImportedPublicExportHashes []uint64 // dense table; import map stores indices into this
	Imports                    []poi.Index

	Exports              []Export
	ExportBundleEntries  []BundleEntry
	DependencyHeaders    []DependencyBundleHeader
	DependencyEntries    []poi.Index
	ImportedPackageNames []namepool.NameIndex

	PackageFlags     uint32
	CookedHeaderSize uint32

	// Preload is the raw preload-region bytes (record header + per-export
	// dependency-count/index arrays + zero-pad), written verbatim between
	// the summary/section tables and the export payload.
	Preload []byte

	// ExportsPayload is the concatenation of every reshaped export's bytes,
	// terminated by the 4-byte trailing tag.
	ExportsPayload []byte
}
