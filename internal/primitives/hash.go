package primitives

import (
	"strings"

	"github.com/tenfyzhong/cityhash"
	"lukechampine.com/blake3"
)

// CityHash64 matches the teacher's hashString helper: CityHash64 over the
// raw bytes handed in. Callers that need case-insensitive hashing must
// lowercase first (see CityHash64Lower).
func CityHash64(b []byte) uint64 {
	return cityhash.CityHash64(b)
}

// CityHash64Lower lowercases s with strings.ToLower (Unicode-aware, matching
// the teacher's use on display names) before hashing.
func CityHash64Lower(s string) uint64 {
	return cityhash.CityHash64([]byte(strings.ToLower(s)))
}

// Blake3ChunkHash hashes data incrementally per compression-block slice and
// returns the 32-byte field stored per chunk in the IoStore meta table: the
// first bytes are the BLAKE3 output, zero-padded if the digest were ever
// configured shorter than 32 bytes (it never is here, but the field is
// always written as a fixed 32-byte record per §4.A).
type Blake3ChunkHash struct {
	h *blake3.Hasher
}

// NewBlake3ChunkHash starts a new incremental chunk hash.
func NewBlake3ChunkHash() *Blake3ChunkHash {
	return &Blake3ChunkHash{h: blake3.New(32, nil)}
}

// Write feeds the next compression-block-sized slice into the hash.
func (c *Blake3ChunkHash) Write(p []byte) {
	c.h.Write(p)
}

// Sum32 finalizes and returns the 32-byte padded digest.
func (c *Blake3ChunkHash) Sum32() [32]byte {
	var out [32]byte
	digest := c.h.Sum(nil)
	copy(out[:], digest)
	return out
}

// Blake3Sum32 is the one-shot form for callers that already have the full
// chunk bytes in memory.
func Blake3Sum32(b []byte) [32]byte {
	c := NewBlake3ChunkHash()
	c.Write(b)
	return c.Sum32()
}
