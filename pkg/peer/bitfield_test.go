package peer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btkit/bitwire/pkg/peer"
)

func TestBitfield_SetAndHas(t *testing.T) {
	bf := peer.NewBitfield(10)

	require.Equal(t, 10, bf.Len())
	require.Equal(t, 0, bf.Count())
	require.False(t, bf.HasPiece(3))

	require.NoError(t, bf.SetPiece(0))
	require.NoError(t, bf.SetPiece(3))
	require.NoError(t, bf.SetPiece(9))

	require.True(t, bf.HasPiece(0))
	require.True(t, bf.HasPiece(3))
	require.True(t, bf.HasPiece(9))
	require.False(t, bf.HasPiece(1))
	require.Equal(t, 3, bf.Count())
}

func TestBitfield_OutOfRange(t *testing.T) {
	bf := peer.NewBitfield(8)

	require.Error(t, bf.SetPiece(-1))
	require.Error(t, bf.SetPiece(8))
	require.False(t, bf.HasPiece(-1))
	require.False(t, bf.HasPiece(8))
}

func TestBitfield_FromBytes(t *testing.T) {
	// High bit of each byte is piece 0 of that byte.
	bf, err := peer.NewBitfieldFromBytes([]byte{0b10100000, 0b01000000}, 10)
	require.NoError(t, err)

	require.True(t, bf.HasPiece(0))
	require.True(t, bf.HasPiece(2))
	require.True(t, bf.HasPiece(9))
	require.False(t, bf.HasPiece(1))
	require.Equal(t, 3, bf.Count())

	_, err = peer.NewBitfieldFromBytes([]byte{0xFF}, 10)
	require.Error(t, err)
}

func TestBitfield_IsComplete(t *testing.T) {
	bf := peer.NewBitfield(9)
	for i := 0; i < 9; i++ {
		require.NoError(t, bf.SetPiece(i))
	}

	require.True(t, bf.IsComplete())

	roundtrip, err := peer.NewBitfieldFromBytes(bf.Bytes(), 9)
	require.NoError(t, err)
	require.True(t, roundtrip.IsComplete())
}
