package reshape

import (
	"encoding/binary"
	"strings"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/proptag"
)

// materialTagShape identifies which of the three serialized layouts a
// MaterialTagAssetUserData export's tail uses.
type materialTagShape uint8

const (
	shapeParallelArrays materialTagShape = iota // slotNames[], tagCounts[], tagNames[] flat
	shapeMapLike                                // count, then (slotName, tagCount, tagNames[]) per slot
	shapeSingleSlot                             // one implicit slot: tagCount, tagNames[]
)

// MaterialSlotTags is the normalized {slotName -> tagNames} shape every
// serialized form collapses to.
type MaterialSlotTags map[string][]string

func detectMaterialTagShape(tail []byte) materialTagShape {
	if len(tail) == 0 {
		return shapeSingleSlot
	}
	return materialTagShape(tail[0])
}

// ParseMaterialTagUserData normalizes any of the three serialized shapes
// into a slotName -> tagNames map. The wire format carries an explicit
// leading shape-tag byte to make the three forms unambiguous to parse.
func ParseMaterialTagUserData(tail []byte) (MaterialSlotTags, error) {
	if len(tail) < 1 {
		return nil, cerr.New(cerr.EEncoding, "ParseMaterialTagUserData", "empty tail")
	}
	shape := detectMaterialTagShape(tail)
	off := 1

	result := MaterialSlotTags{}
	switch shape {
	case shapeParallelArrays:
		if len(tail) < off+4 {
			return nil, cerr.New(cerr.EEncoding, "ParseMaterialTagUserData", "short buffer for slot count")
		}
		slotCount := binary.LittleEndian.Uint32(tail[off:])
		off += 4
		slotNames := make([]string, slotCount)
		for i := range slotNames {
			s, n, err := readStr(tail[off:])
			if err != nil {
				return nil, err
			}
			slotNames[i] = s
			off += n
		}
		tagCounts := make([]uint32, slotCount)
		for i := range tagCounts {
			if len(tail) < off+4 {
				return nil, cerr.New(cerr.EEncoding, "ParseMaterialTagUserData", "short buffer for tag count")
			}
			tagCounts[i] = binary.LittleEndian.Uint32(tail[off:])
			off += 4
		}
		for i, slot := range slotNames {
			tags := make([]string, tagCounts[i])
			for j := range tags {
				s, n, err := readStr(tail[off:])
				if err != nil {
					return nil, err
				}
				tags[j] = s
				off += n
			}
			result[slot] = tags
		}

	case shapeMapLike:
		if len(tail) < off+4 {
			return nil, cerr.New(cerr.EEncoding, "ParseMaterialTagUserData", "short buffer for slot count")
		}
		slotCount := binary.LittleEndian.Uint32(tail[off:])
		off += 4
		for i := uint32(0); i < slotCount; i++ {
			slotName, n, err := readStr(tail[off:])
			if err != nil {
				return nil, err
			}
			off += n
			if len(tail) < off+4 {
				return nil, cerr.New(cerr.EEncoding, "ParseMaterialTagUserData", "short buffer for tag count")
			}
			tagCount := binary.LittleEndian.Uint32(tail[off:])
			off += 4
			tags := make([]string, tagCount)
			for j := range tags {
				s, n, err := readStr(tail[off:])
				if err != nil {
					return nil, err
				}
				tags[j] = s
				off += n
			}
			result[slotName] = tags
		}

	case shapeSingleSlot:
		if len(tail) < off+4 {
			return nil, cerr.New(cerr.EEncoding, "ParseMaterialTagUserData", "short buffer for tag count")
		}
		tagCount := binary.LittleEndian.Uint32(tail[off:])
		off += 4
		tags := make([]string, tagCount)
		for j := range tags {
			s, n, err := readStr(tail[off:])
			if err != nil {
				return nil, err
			}
			tags[j] = s
			off += n
		}
		result[""] = tags

	default:
		return nil, cerr.New(cerr.ESchema, "ParseMaterialTagUserData", "unknown material-tag shape")
	}

	return result, nil
}

// EncodeMaterialTagUserData re-serializes tags in shapeMapLike form, the
// canonical emit shape regardless of the source shape.
func EncodeMaterialTagUserData(tags MaterialSlotTags) []byte {
	out := []byte{byte(shapeMapLike)}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(tags)))
	out = append(out, countBuf[:]...)
	for slot, names := range tags {
		out = append(out, writeStr(slot)...)
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(names)))
		out = append(out, n[:]...)
		for _, name := range names {
			out = append(out, writeStr(name)...)
		}
	}
	return out
}

const materialTagPluginPrefix = "/Script/MaterialTagPlugin."
const materialTagEnginePrefix = "/Script/Engine."

// RemapMaterialTagPluginReference rewrites a retired
// /Script/MaterialTagPlugin.* script-package reference to its
// /Script/Engine.* equivalent so the runtime doesn't need the authoring
// plugin. References outside that namespace pass through unchanged.
func RemapMaterialTagPluginReference(scriptPath string) string {
	if !strings.HasPrefix(scriptPath, materialTagPluginPrefix) {
		return scriptPath
	}
	return materialTagEnginePrefix + strings.TrimPrefix(scriptPath, materialTagPluginPrefix)
}

// reshapeMaterialTagUserData is a pass-through reshaper registered under
// Dispatch for symmetry; callers that need the normalized tag map use
// ParseMaterialTagUserData directly since its output feeds the skeletal
// mesh reshaper rather than being written back to this export's own tail.
func reshapeMaterialTagUserData(tail []byte, _ []proptag.Property, _ *Context) ([]byte, int64, error) {
	if _, err := ParseMaterialTagUserData(tail); err != nil {
		return nil, 0, err
	}
	return tail, 0, nil
}
