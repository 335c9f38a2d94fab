// Package reshape rewrites an export's tail bytes (the portion after its
// tagged-property front matter) for the handful of asset classes the
// conversion cares about: texture platform data, skeletal/static mesh
// material slots, particle lookup tables, and material-tag user data.
// Every reshaper is total for the classes it targets and passes unknown
// classes through unchanged via Dispatch returning ok=false.
package reshape

import (
	"strings"

	"github.com/zenforge/cascade/internal/proptag"
)

// Context carries cross-export state a reshaper may need: resolving a
// mip's bulk-data payload when it is stored outside the export tail, and
// the per-slot tags pulled from a MaterialTagAssetUserData export elsewhere
// in the same package.
type Context struct {
	ResolveBulkData      func(resourceIndex uint32) ([]byte, error)
	MaterialSlotTagLists [][]string // indexed by material slot, nil/empty entries mean no tags
}

// Reshaper mutates an export's tail bytes given its decoded front-matter
// properties, returning the new tail and any serial-size delta the caller
// must apply to the export's recorded size.
type Reshaper func(tail []byte, props []proptag.Property, ctx *Context) (newTail []byte, sizeDelta int64, err error)

var dispatch = map[string]Reshaper{
	"texture2d":           reshapeTexture2D,
	"skeletalmesh":        reshapeSkeletalMesh,
	"staticmesh":          reshapeStaticMesh,
	"materialtagassetuserdata": reshapeMaterialTagUserData,
}

// Dispatch returns the reshaper registered for className (case-insensitive,
// leading package path stripped), or ok=false if the class needs no
// reshape.
func Dispatch(className string) (Reshaper, bool) {
	name := normalizeClassName(className)
	r, ok := dispatch[name]
	return r, ok
}

func normalizeClassName(className string) string {
	if idx := strings.LastIndexByte(className, '.'); idx >= 0 {
		className = className[idx+1:]
	}
	return strings.ToLower(className)
}
