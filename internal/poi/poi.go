// Package poi implements PackageObjectIndex (a tagged 64-bit reference to
// an export, a script import, or a package import) and PackageId (a
// CityHash64 over a lowercased, UTF-16LE package path).
package poi

import (
	"strings"
	"unicode/utf16"

	"github.com/zenforge/cascade/internal/primitives"
)

// Kind is the 2-bit tag occupying the top bits of a PackageObjectIndex.
type Kind uint8

const (
	KindExport Kind = iota
	KindScriptImport
	KindPackageImport
	KindNull
)

const payloadMask = (uint64(1) << 62) - 1
const kindShift = 62

// Index is a 64-bit PackageObjectIndex: a 2-bit kind tag plus a 62-bit
// payload.
type Index uint64

// Null is the null POI: the KindNull tag with a zero payload. It is not the
// zero Index value, which is ExportPOI(0).
var Null = MakeIndex(KindNull, 0)

// MakeIndex packs a kind and payload into an Index, masking payload to 62 bits.
func MakeIndex(kind Kind, payload uint64) Index {
	return Index(uint64(kind)<<kindShift | (payload & payloadMask))
}

// Kind returns the POI's kind tag.
func (i Index) Kind() Kind { return Kind(uint64(i) >> kindShift) }

// Payload returns the POI's 62-bit payload.
func (i Index) Payload() uint64 { return uint64(i) & payloadMask }

// IsNull reports whether the POI is the null reference.
func (i Index) IsNull() bool { return i.Kind() == KindNull }

// IsExport reports whether the POI refers to a local export.
func (i Index) IsExport() bool { return i.Kind() == KindExport }

// ExportIndex returns the 0-based export index; valid only if IsExport().
func (i Index) ExportIndex() uint32 { return uint32(i.Payload()) }

// ExportPOI builds a POI referring to the 0-based export index.
func ExportPOI(exportIndex uint32) Index {
	return MakeIndex(KindExport, uint64(exportIndex))
}

// ScriptImportPOI builds a POI referring to a script-object catalog id.
func ScriptImportPOI(globalImportID uint64) Index {
	return MakeIndex(KindScriptImport, globalImportID)
}

// PackageImportPOI builds a POI referring to a package-imported object by
// its fully qualified name, masked to 62 bits per §3.
func PackageImportPOI(qualifiedName string) Index {
	h := primitives.CityHash64Lower(qualifiedName)
	return MakeIndex(KindPackageImport, h)
}

// PackageId is the 64-bit CityHash64 of a package path, lowercased and
// UTF-16LE encoded.
type PackageId uint64

// NewPackageId computes the PackageId for a package path.
func NewPackageId(path string) PackageId {
	lower := strings.ToLower(path)
	units := utf16.Encode([]rune(lower))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		buf[2*i] = byte(u)
		buf[2*i+1] = byte(u >> 8)
	}
	return PackageId(primitives.CityHash64(buf))
}
