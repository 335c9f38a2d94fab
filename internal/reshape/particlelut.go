package reshape

import (
	"encoding/binary"
	"math"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/proptag"
)

// LUTVariant selects how a ShaderLUT tagged property's flat float32 array
// groups into entries: 4-float RGBA, 3-float XYZ, 2-float XY, or 1-float
// scalar. The variant is determined by the owning export's class, not by
// data inspection.
type LUTVariant int

const (
	LUTRGBA LUTVariant = iota
	LUTXYZ
	LUTXY
	LUTScalar
)

func (v LUTVariant) stride() int {
	switch v {
	case LUTRGBA:
		return 4
	case LUTXYZ:
		return 3
	case LUTXY:
		return 2
	default:
		return 1
	}
}

// ParseShaderLUT reinterprets the ShaderLUT property's payload as a flat
// array of entries, each `variant.stride()` float32 channels wide.
func ParseShaderLUT(p proptag.Property, variant LUTVariant) ([][]float32, error) {
	flat, err := p.Float32ArrayValue()
	if err != nil {
		return nil, err
	}
	stride := variant.stride()
	if len(flat)%stride != 0 {
		return nil, cerr.New(cerr.ESchema, "ParseShaderLUT", "float count is not a multiple of the variant's stride")
	}
	entries := make([][]float32, len(flat)/stride)
	for i := range entries {
		entries[i] = append([]float32{}, flat[i*stride:(i+1)*stride]...)
	}
	return entries, nil
}

// EncodeShaderLUT flattens entries back into a ShaderLUT property payload.
func EncodeShaderLUT(entries [][]float32) []byte {
	var flat []float32
	for _, e := range entries {
		flat = append(flat, e...)
	}
	out := make([]byte, len(flat)*4)
	for i, f := range flat {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// ChannelMask selects which of an entry's channels an edit applies to; nil
// (or empty) means all channels. In a non-empty mask only channels marked
// true are selected, so an all-false mask selects none, and channels past
// the mask's length are not selected.
type ChannelMask []bool

func (m ChannelMask) applies(channel int) bool {
	if len(m) == 0 {
		return true
	}
	if channel >= len(m) {
		return false
	}
	return m[channel]
}

// EditRange applies value to every channel selected by mask, across
// entries [start, end). It does no export-name filtering of its own; callers
// filter exports with NameFilterMatches before invoking it.
func EditRange(entries [][]float32, start, end int, mask ChannelMask, value float32) error {
	if start < 0 || end > len(entries) || start > end {
		return cerr.New(cerr.EInvariant, "EditRange", "index range out of bounds")
	}
	for i := start; i < end; i++ {
		for c := range entries[i] {
			if mask.applies(c) {
				entries[i][c] = value
			}
		}
	}
	return nil
}

// NameFilterMatches reports whether exportName is selected by filters; an
// empty filter set matches everything.
func NameFilterMatches(exportName string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f == exportName {
			return true
		}
	}
	return false
}
