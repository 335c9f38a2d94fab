package primitives

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestContainerECBRoundTrip(t *testing.T) {
	key, err := ParseContainerAESKey(testHexKey)
	require.NoError(t, err)
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	enc, err := EncryptContainerECB(key, data)
	require.NoError(t, err)
	require.NotEqual(t, data, enc)
	dec, err := DecryptContainerECB(key, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestLegacyECBRoundTrip(t *testing.T) {
	key, err := ParseLegacyAESKey(testHexKey)
	require.NoError(t, err)
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(255 - i)
	}
	enc, err := EncryptLegacyECB(key, data)
	require.NoError(t, err)
	dec, err := DecryptLegacyECB(key, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestReverse4Involution(t *testing.T) {
	block := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	orig := append([]byte{}, block...)
	reverse4(block)
	require.NotEqual(t, orig, block)
	reverse4(block)
	require.Equal(t, orig, block)
}

func TestParseKeyRejectsBadLength(t *testing.T) {
	_, err := ParseContainerAESKey("00")
	require.Error(t, err)
}

func TestLegacyEncryptedPrefixLengthBounds(t *testing.T) {
	n := LegacyEncryptedPrefixLength("/Game/Foo/T_Mat_BaseColor")
	require.GreaterOrEqual(t, n, uint64(0x1000))
	require.Zero(t, n%16)
}

func TestRoundUp(t *testing.T) {
	require.Equal(t, uint64(16), RoundUp(1, 16))
	require.Equal(t, uint64(0), RoundUp(0, 16))
	require.Equal(t, uint64(32), RoundUp(17, 16))
}
