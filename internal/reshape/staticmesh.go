package reshape

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/proptag"
)

const staticMaterialRecordSize = 36

// reshapeStaticMesh parses up to the FStaticMaterial[] array and validates
// its shape; static meshes need no tag injection, so the tail passes
// through unchanged.
func reshapeStaticMesh(tail []byte, _ []proptag.Property, _ *Context) ([]byte, int64, error) {
	if len(tail) < 4 {
		return nil, 0, cerr.New(cerr.EEncoding, "reshapeStaticMesh", "short buffer for material count")
	}
	count := binary.LittleEndian.Uint32(tail)
	need := 4 + int(count)*staticMaterialRecordSize
	if len(tail) < need {
		return nil, 0, cerr.New(cerr.EEncoding, "reshapeStaticMesh", "short buffer for material records")
	}
	return tail, 0, nil
}
