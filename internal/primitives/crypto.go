package primitives

import (
	"crypto/aes"
	"encoding/hex"

	"github.com/zenforge/cascade/internal/cerr"
)

// AESKey is a parsed 256-bit key.
type AESKey [32]byte

// reverse4 byte-reverses each 4-byte sub-chunk of a 16-byte block in place.
func reverse4(block []byte) {
	for i := 0; i < 16; i += 4 {
		block[i], block[i+3] = block[i+3], block[i]
		block[i+1], block[i+2] = block[i+2], block[i+1]
	}
}

// ParseLegacyAESKey parses a 64-hex-char key, additionally reversing each
// 4-byte sub-chunk of the decoded key bytes the same way legacy-archive data
// blocks are reversed before/after encryption (§4.A(ii)).
func ParseLegacyAESKey(hexKey string) (AESKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return AESKey{}, cerr.Wrap(cerr.ECrypto, "ParseLegacyAESKey", err)
	}
	if len(raw) != 32 {
		return AESKey{}, cerr.New(cerr.ECrypto, "ParseLegacyAESKey", "key must decode to 32 bytes")
	}
	reverse4(raw[0:16])
	reverse4(raw[16:32])
	var k AESKey
	copy(k[:], raw)
	return k, nil
}

// ParseContainerAESKey parses a 64-hex-char key verbatim, with no reversal.
func ParseContainerAESKey(hexKey string) (AESKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return AESKey{}, cerr.Wrap(cerr.ECrypto, "ParseContainerAESKey", err)
	}
	if len(raw) != 32 {
		return AESKey{}, cerr.New(cerr.ECrypto, "ParseContainerAESKey", "key must decode to 32 bytes")
	}
	var k AESKey
	copy(k[:], raw)
	return k, nil
}

func ecbCrypt(key AESKey, data []byte, encrypt bool) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, cerr.New(cerr.ECrypto, "ecbCrypt", "data not a multiple of the AES block size")
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, cerr.Wrap(cerr.ECrypto, "ecbCrypt", err)
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += 16 {
		if encrypt {
			block.Encrypt(out[off:off+16], data[off:off+16])
		} else {
			block.Decrypt(out[off:off+16], data[off:off+16])
		}
	}
	return out, nil
}

// EncryptContainerECB AES-256-ECB encrypts data (already padded to a
// multiple of 16 bytes), with no 4-byte sub-chunk reversal — the plain
// container form.
func EncryptContainerECB(key AESKey, data []byte) ([]byte, error) {
	return ecbCrypt(key, data, true)
}

// DecryptContainerECB is the inverse of EncryptContainerECB.
func DecryptContainerECB(key AESKey, data []byte) ([]byte, error) {
	return ecbCrypt(key, data, false)
}

// EncryptLegacyECB AES-256-ECB encrypts data after reversing each 16-byte
// block's four 4-byte sub-chunks, matching the legacy archive's wire form.
func EncryptLegacyECB(key AESKey, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, cerr.New(cerr.ECrypto, "EncryptLegacyECB", "data not a multiple of the AES block size")
	}
	reversed := make([]byte, len(data))
	copy(reversed, data)
	for off := 0; off < len(reversed); off += 16 {
		reverse4(reversed[off : off+16])
	}
	return ecbCrypt(key, reversed, true)
}

// DecryptLegacyECB is the inverse of EncryptLegacyECB: AES-decrypt then
// reverse each block's four 4-byte sub-chunks back.
func DecryptLegacyECB(key AESKey, data []byte) ([]byte, error) {
	plain, err := ecbCrypt(key, data, false)
	if err != nil {
		return nil, err
	}
	for off := 0; off < len(plain); off += 16 {
		reverse4(plain[off : off+16])
	}
	return plain, nil
}

// LegacyEncryptedPrefixLength computes the number of leading bytes of a
// legacy archive file-data region that are encrypted, per §4.A(ii):
// max(((blake3_first8(magic||lower(path)) % 0x3D) * 63 + 319) & ^0x3F, 0x1000),
// then rounded up to 16 bytes (it already is, since 0x1000 and 0x3F-masking
// both keep 16-byte alignment).
func LegacyEncryptedPrefixLength(path string) uint64 {
	magic := []byte{0x11, 0x22, 0x33, 0x44}
	input := append(append([]byte{}, magic...), []byte(toLowerASCII(path))...)
	digest := Blake3Sum32(input)
	first8 := uint64(0)
	for i := 0; i < 8; i++ {
		first8 |= uint64(digest[i]) << (8 * i)
	}
	v := (first8%0x3D)*63 + 319
	v &^= 0x3F
	if v < 0x1000 {
		v = 0x1000
	}
	return RoundUp(v, 16)
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// RoundUp rounds v up to the next multiple of align (align must be a power of two).
func RoundUp(v uint64, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
