package primitives

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCityHash64Deterministic(t *testing.T) {
	inputs := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("12345678"),
		[]byte("0123456789012345678901234567890123"),
		[]byte("/Script/Engine.StaticMesh"),
		[]byte("/Script/Engine.SkeletalMesh"),
	}
	seen := map[uint64]bool{}
	for _, in := range inputs {
		h1 := CityHash64(in)
		h2 := CityHash64(append([]byte{}, in...))
		require.Equal(t, h1, h2, "hash must be a pure function of the bytes")
		seen[h1] = true
	}
	require.Len(t, seen, len(inputs), "distinct inputs should not collide in this small vector set")
}

// repeatDigits builds a byte string of the given length cycling through
// ASCII '0'-'9', used below for fixed-length conformance vectors.
func repeatDigits(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('0' + i%10)
	}
	return out
}

// TestCityHash64MatchesPublishedVectors checks the unseeded 64-bit CityHash
// output against literal values computed from the published CityHash64
// algorithm (the HashLen0to16/17to32/33to64 and >64-byte main-loop paths),
// covering empty, 1-byte, 8-byte, 33-byte, 64-byte and >64-byte inputs plus
// the two class-path strings reshape dispatch hashes on. This guards against
// a CityHash64 substitute that is internally consistent but not bit-compatible
// with the reference algorithm, which TestCityHash64Deterministic above
// cannot catch.
func TestCityHash64MatchesPublishedVectors(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint64
	}{
		{"empty", []byte(""), 0x9ae16a3b2f90404f},
		{"1-byte", []byte("a"), 0xb3454265b6df75e3},
		{"8-byte", []byte("12345678"), 0x2f99d2664a0fb6ea},
		{"33-byte", repeatDigits(33), 0x4cac473f050006ed},
		{"64-byte", repeatDigits(64), 0x04a0c75b6be2e07d},
		{"96-byte", repeatDigits(96), 0x96a87bb897923ea9},
		{"staticmesh-path", []byte("/Script/Engine.StaticMesh"), 0x40a28e1e48cb13f7},
		{"skeletalmesh-path", []byte("/Script/Engine.SkeletalMesh"), 0x658590876b8bc687},
	}
	for _, c := range cases {
		require.Equal(t, c.want, CityHash64(c.in), "CityHash64(%s)", c.name)
	}
}

func TestCityHash64LowerMatchesManualLowercase(t *testing.T) {
	require.Equal(t, CityHash64([]byte("/script/engine.staticmesh")), CityHash64Lower("/Script/Engine.StaticMesh"))
}

func TestBlake3Sum32Deterministic(t *testing.T) {
	data := []byte("some chunk bytes")
	require.Equal(t, Blake3Sum32(data), Blake3Sum32(data))
	require.NotEqual(t, Blake3Sum32(data), Blake3Sum32([]byte("other chunk bytes")))
}

func TestBlake3ChunkHashIncrementalMatchesOneShot(t *testing.T) {
	a, b := []byte("first half "), []byte("second half")
	inc := NewBlake3ChunkHash()
	inc.Write(a)
	inc.Write(b)
	require.Equal(t, Blake3Sum32(append(append([]byte{}, a...), b...)), inc.Sum32())
}
