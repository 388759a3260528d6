package protocol_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btkit/bitwire/pkg/protocol"
)

func standardRegistry(t *testing.T) *protocol.Registry {
	t.Helper()

	b := protocol.NewBuilder()
	require.NoError(t, protocol.RegisterStandard(b))

	reg, err := b.Build()
	require.NoError(t, err)

	return reg
}

func TestStandard_RegistersAllTen(t *testing.T) {
	reg := standardRegistry(t)

	ids := reg.IDs()
	require.Len(t, ids, 10)

	for id := protocol.IDChoke; id <= protocol.IDPort; id++ {
		_, err := reg.Lookup(id)
		require.NoError(t, err, "id %d", id)
	}
}

func TestStandard_Roundtrip(t *testing.T) {
	reg := standardRegistry(t)

	tests := []struct {
		name string
		msg  protocol.Message
	}{
		{name: "choke", msg: protocol.Choke{}},
		{name: "have", msg: protocol.Have{Index: 42}},
		{name: "request", msg: protocol.Request{Index: 1, Begin: 16384, Length: 16384}},
		{name: "cancel", msg: protocol.Cancel{Index: 3, Begin: 0, Length: 1024}},
		{name: "piece", msg: protocol.Piece{Index: 9, Begin: 8, Block: []byte{0xde, 0xad}}},
		{name: "port", msg: protocol.Port{Port: 6881}},
		{name: "bitfield", msg: protocol.BitfieldMsg{Bits: []byte{0b10100000}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := reg.Encode(tt.msg)
			require.NoError(t, err)

			got, err := reg.Decode(tt.msg.ID(), payload)
			require.NoError(t, err)
			require.Equal(t, tt.msg, got)
		})
	}
}

func TestStandard_BadPayloads(t *testing.T) {
	reg := standardRegistry(t)

	tests := []struct {
		name    string
		id      protocol.MessageID
		payload []byte
	}{
		{name: "choke with payload", id: protocol.IDChoke, payload: []byte{1}},
		{name: "have too short", id: protocol.IDHave, payload: []byte{1, 2}},
		{name: "request too short", id: protocol.IDRequest, payload: []byte{1, 2, 3}},
		{name: "piece too short", id: protocol.IDPiece, payload: []byte{1, 2, 3, 4}},
		{name: "port too long", id: protocol.IDPort, payload: []byte{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Decode(tt.id, tt.payload)
			if !errors.Is(err, protocol.ErrPayloadSize) {
				t.Fatalf("expected ErrPayloadSize, got %v", err)
			}
		})
	}
}
