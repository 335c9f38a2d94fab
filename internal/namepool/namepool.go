// Package namepool implements the deduplicated, hash-keyed name pool used
// throughout the Zen header and the script-object catalog: the batch
// on-disk shape (count, hashes, lengths, concatenated bytes) and the
// in-header shape (variant tag per entry plus bytes).
package namepool

import (
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

// NameIndex is a (pool-local index, positive integer suffix) pair. Display
// form is "<pool[index]>" when Suffix == 0, otherwise "<pool[index]>_<Suffix-1>".
type NameIndex struct {
	Index  uint32
	Suffix uint32
}

// Pool is a deduplicated collection of names addressable by index, with a
// hash-keyed lookup for building POIs and export hashes.
type Pool struct {
	names  []string
	hashes []uint64
	byHash map[uint64][]int
}

// New builds an empty pool.
func New() *Pool {
	return &Pool{byHash: make(map[uint64][]int)}
}

// Intern adds name to the pool if not already present and returns its index.
func (p *Pool) Intern(name string) uint32 {
	h := primitives.CityHash64Lower(name)
	for _, idx := range p.byHash[h] {
		if p.names[idx] == name {
			return uint32(idx)
		}
	}
	idx := len(p.names)
	p.names = append(p.names, name)
	p.hashes = append(p.hashes, h)
	p.byHash[h] = append(p.byHash[h], idx)
	return uint32(idx)
}

// Name returns the interned string at index, or "" if out of range.
func (p *Pool) Name(index uint32) string {
	if int(index) >= len(p.names) {
		return ""
	}
	return p.names[index]
}

// Display renders a NameIndex the way the runtime expects.
func (p *Pool) Display(n NameIndex) string {
	base := p.Name(n.Index)
	if n.Suffix == 0 {
		return base
	}
	return base + "_" + itoa(n.Suffix-1)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Names returns the pool contents in index order.
func (p *Pool) Names() []string { return append([]string{}, p.names...) }

// Lookup resolves name to its pool index by (hash, case-insensitive length).
// A stored entry sharing the hash and the length but not matching the bytes
// is a genuine collision, not a cache miss, and is reported as such; one
// sharing only the hash is a miss.
func (p *Pool) Lookup(name string) (uint32, bool, error) {
	h := primitives.CityHash64Lower(name)
	candidates := p.byHash[h]
	for _, idx := range candidates {
		if p.names[idx] == name {
			return uint32(idx), true, nil
		}
	}
	for _, idx := range candidates {
		if len(p.names[idx]) == len(name) {
			return 0, false, cerr.New(cerr.EEncoding, "Pool.Lookup", "ENameCollision: hash matches a differently-cased or differently-byted name of equal length")
		}
	}
	return 0, false, nil
}

// asciiSanitize replaces every non-ASCII byte of s with '?'. Names in this
// pool are emitted ASCII-only per invariant 7, so the encoders run names
// through it before hashing/storage.
func asciiSanitize(s string) string {
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] > 0x7F {
			b[i] = '?'
		}
	}
	return string(b)
}

// EncodeBatch serializes names in the batch on-disk form: (u32 count,
// u32 totalBytes, u64 hashVersion, u64 hashes[count], u16 lengthAndFlags[count],
// bytes[totalBytes]) with names lowercased+ASCII-sanitized for the hash but
// stored as their (non-lowercased) ASCII-sanitized form, contiguous with no
// per-entry alignment padding.
func EncodeBatch(names []string, hashVersion uint64) []byte {
	sanitized := make([]string, len(names))
	hashes := make([]uint64, len(names))
	totalBytes := 0
	for i, n := range names {
		s := asciiSanitize(n)
		sanitized[i] = s
		hashes[i] = primitives.CityHash64([]byte(toLowerASCII(s)))
		totalBytes += len(s)
	}
	out := make([]byte, 4+4+8+8*len(names)+2*len(names)+totalBytes)
	off := 0
	binary.LittleEndian.PutUint32(out[off:], uint32(len(names)))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(totalBytes))
	off += 4
	binary.LittleEndian.PutUint64(out[off:], hashVersion)
	off += 8
	for _, h := range hashes {
		binary.LittleEndian.PutUint64(out[off:], h)
		off += 8
	}
	for _, s := range sanitized {
		binary.BigEndian.PutUint16(out[off:], uint16(int16(len(s))))
		off += 2
	}
	for _, s := range sanitized {
		copy(out[off:], s)
		off += len(s)
	}
	return out
}

// DecodeBatch parses the batch on-disk form produced by EncodeBatch (or by
// the runtime). Returns the names in index order.
func DecodeBatch(b []byte) ([]string, uint64, error) {
	if len(b) < 16 {
		return nil, 0, cerr.New(cerr.EEncoding, "DecodeBatch", "short buffer for header")
	}
	count := binary.LittleEndian.Uint32(b)
	totalBytes := binary.LittleEndian.Uint32(b[4:])
	hashVersion := binary.LittleEndian.Uint64(b[8:])
	off := 16
	need := int(count)*8 + int(count)*2
	if len(b) < off+need {
		return nil, 0, cerr.New(cerr.EEncoding, "DecodeBatch", "short buffer for hash/length tables")
	}
	off += int(count) * 8 // hashes aren't needed to reconstruct names
	lengths := make([]int16, count)
	for i := 0; i < int(count); i++ {
		lengths[i] = int16(binary.BigEndian.Uint16(b[off:]))
		off += 2
	}
	if len(b) < off+int(totalBytes) {
		return nil, 0, cerr.New(cerr.EEncoding, "DecodeBatch", "short buffer for name bytes")
	}
	names := make([]string, count)
	for i, l := range lengths {
		if l >= 0 {
			n := int(l)
			if off+n > len(b) {
				return nil, 0, cerr.New(cerr.EEncoding, "DecodeBatch", "ascii name overruns buffer")
			}
			names[i] = string(b[off : off+n])
			off += n
		} else {
			// UTF-16LE code units, stored byte-for-byte like the rest of the
			// region; |l| counts code units, each 2 bytes.
			n := int(-l)
			byteLen := n * 2
			if off+byteLen > len(b) {
				return nil, 0, cerr.New(cerr.EEncoding, "DecodeBatch", "utf16 name overruns buffer")
			}
			units := make([]uint16, n)
			for j := 0; j < n; j++ {
				units[j] = binary.LittleEndian.Uint16(b[off+2*j:])
			}
			names[i] = string(utf16Decode(units))
			off += byteLen
		}
	}
	return names, hashVersion, nil
}

// NameEntryVariant selects the in-header encoding for a single name entry.
type NameEntryVariant uint8

const (
	VariantASCII NameEntryVariant = iota
	VariantUTF16LE
)

// DecodeInHeader parses the in-header name form: (u32 count, entries...)
// where each entry is (u16 length, u8 variant, bytes[length]).
func DecodeInHeader(b []byte) ([]string, error) {
	if len(b) < 4 {
		return nil, cerr.New(cerr.EEncoding, "DecodeInHeader", "short buffer")
	}
	count := binary.LittleEndian.Uint32(b)
	off := 4
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+3 > len(b) {
			return nil, cerr.New(cerr.EEncoding, "DecodeInHeader", "short buffer for entry header")
		}
		length := binary.LittleEndian.Uint16(b[off:])
		variant := NameEntryVariant(b[off+2])
		off += 3
		if off+int(length) > len(b) {
			return nil, cerr.New(cerr.EEncoding, "DecodeInHeader", "entry bytes overrun buffer")
		}
		raw := b[off : off+int(length)]
		off += int(length)
		switch variant {
		case VariantASCII:
			names = append(names, string(raw))
		case VariantUTF16LE:
			units := make([]uint16, len(raw)/2)
			for j := range units {
				units[j] = binary.LittleEndian.Uint16(raw[2*j:])
			}
			names = append(names, string(utf16Decode(units)))
		default:
			return nil, cerr.New(cerr.EEncoding, "DecodeInHeader", "unknown name variant tag")
		}
	}
	return names, nil
}

// EncodeInHeader serializes names in the in-header form, always as ASCII
// entries (non-ASCII replaced by '?').
func EncodeInHeader(names []string) []byte {
	total := 4
	sanitized := make([]string, len(names))
	for i, n := range names {
		sanitized[i] = asciiSanitize(n)
		total += 3 + len(sanitized[i])
	}
	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out, uint32(len(names)))
	off := 4
	for _, s := range sanitized {
		binary.LittleEndian.PutUint16(out[off:], uint16(len(s)))
		out[off+2] = byte(VariantASCII)
		off += 3
		copy(out[off:], s)
		off += len(s)
	}
	return out
}
