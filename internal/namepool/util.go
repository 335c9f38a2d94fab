package namepool

import "unicode/utf16"

func toLowerASCII(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}

func utf16Decode(units []uint16) []rune {
	return utf16.Decode(units)
}
