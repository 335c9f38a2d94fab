package primitives

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOffsetLengthRoundTrip(t *testing.T) {
	cases := []OffsetLength{
		{Offset: 0, Length: 0},
		{Offset: 1, Length: 1},
		{Offset: maxUint40, Length: maxUint40},
		{Offset: 0x1234567890, Length: 0xABCDEF0123},
	}
	for _, c := range cases {
		b, err := WriteOffsetLength(c)
		require.NoError(t, err)
		require.Len(t, b, 10)
		got, err := ReadOffsetLength(b)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestOffsetLengthOverflow(t *testing.T) {
	_, err := WriteOffsetLength(OffsetLength{Offset: maxUint40 + 1})
	require.Error(t, err)
	_, err = WriteOffsetLength(OffsetLength{Length: maxUint40 + 1})
	require.Error(t, err)
}

func TestBlockEntryRoundTrip(t *testing.T) {
	be := BlockEntry{Offset: 0x9988776655, CompressedSize: 0x010203, UncompressedSize: 0xFFFFFF, Method: 3}
	b, err := WriteBlockEntry(be)
	require.NoError(t, err)
	require.Len(t, b, 12)
	got, err := ReadBlockEntry(b)
	require.NoError(t, err)
	require.Equal(t, be, got)
}

func TestBlockEntryOverflow(t *testing.T) {
	_, err := WriteBlockEntry(BlockEntry{CompressedSize: maxUint24 + 1})
	require.Error(t, err)
}

func TestEntryIndexFlagsRoundTrip(t *testing.T) {
	f := EntryIndexFlags{
		BlockSizeRaw: 32,
		BlockCount:   1234,
		Encrypted:    true,
		MethodSlot:   5,
		SizeSafe:     true,
		UsizeSafe:    false,
		OffsetSafe:   true,
	}
	word := EncodeEntryIndexFlags(f)
	got := DecodeEntryIndexFlags(word)
	require.Equal(t, f, got)
	require.Equal(t, uint64(32)<<11, got.BlockSizeBytes())
}
