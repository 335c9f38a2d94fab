package primitives

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/zenforge/cascade/internal/cerr"
)

// ReadLengthPrefixedString decodes a signed-int32-length-prefixed string: a
// positive count N is N ASCII bytes plus a trailing NUL (count includes the
// NUL); a negative count -N is N UTF-16LE code units plus a trailing NUL
// (count includes the NUL); zero is the empty string with no trailing byte.
// Returns the decoded string and the number of bytes consumed.
func ReadLengthPrefixedString(b []byte) (string, int, error) {
	if len(b) < 4 {
		return "", 0, cerr.New(cerr.EEncoding, "ReadLengthPrefixedString", "short buffer for count")
	}
	count := int32(binary.LittleEndian.Uint32(b))
	if count == 0 {
		return "", 4, nil
	}
	if count > 0 {
		n := int(count)
		if len(b) < 4+n {
			return "", 0, cerr.New(cerr.EEncoding, "ReadLengthPrefixedString", "short buffer for ascii body")
		}
		if n < 1 {
			return "", 0, cerr.New(cerr.EEncoding, "ReadLengthPrefixedString", "zero-length positive count")
		}
		body := b[4 : 4+n-1] // drop trailing NUL
		return string(body), 4 + n, nil
	}
	n := int(-count)
	need := 4 + n*2
	if len(b) < need {
		return "", 0, cerr.New(cerr.EEncoding, "ReadLengthPrefixedString", "short buffer for utf16 body")
	}
	units := make([]uint16, n-1) // drop trailing NUL unit
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[4+2*i:])
	}
	return string(utf16.Decode(units)), need, nil
}

// WriteLengthPrefixedString encodes s preferring ASCII; if s contains any
// non-ASCII rune it is encoded as UTF-16LE with a negative count instead.
func WriteLengthPrefixedString(s string) []byte {
	if s == "" {
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, 0)
		return out
	}
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			ascii = false
			break
		}
	}
	if ascii {
		n := len(s) + 1
		out := make([]byte, 4+n)
		binary.LittleEndian.PutUint32(out, uint32(int32(n)))
		copy(out[4:], s)
		out[4+n-1] = 0
		return out
	}
	units := utf16.Encode([]rune(s))
	n := len(units) + 1
	out := make([]byte, 4+n*2)
	binary.LittleEndian.PutUint32(out, uint32(int32(-n)))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[4+2*i:], u)
	}
	// trailing NUL unit already zero
	return out
}
