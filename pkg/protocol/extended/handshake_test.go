package extended_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btkit/bitwire/pkg/protocol/extended"
)

func TestHandshake_Roundtrip(t *testing.T) {
	m, err := extended.NewMapping([]string{"ut_pex", "ut_metadata"})
	require.NoError(t, err)

	hs := extended.NewHandshake(m, "bitwire 0.1")

	payload, err := hs.MarshalPayload()
	require.NoError(t, err)

	parsed, err := extended.ParsePayload(payload)
	require.NoError(t, err)

	require.Equal(t, "bitwire 0.1", parsed.V)
	require.Equal(t, map[string]int64{"ut_metadata": 1, "ut_pex": 2}, parsed.M)
}

func TestHandshake_NoVersionOmitted(t *testing.T) {
	m, err := extended.NewMapping([]string{"ut_metadata"})
	require.NoError(t, err)

	payload, err := extended.NewHandshake(m, "").MarshalPayload()
	require.NoError(t, err)

	parsed, err := extended.ParsePayload(payload)
	require.NoError(t, err)
	require.Empty(t, parsed.V)
}

func TestParsePayload_MissingMIsEmpty(t *testing.T) {
	parsed, err := extended.ParsePayload([]byte("de"))
	require.NoError(t, err)
	require.Empty(t, parsed.M)
}

func TestParsePayload_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not bencode", "\x00\x01garbage"},
		{"not a dictionary", "i42e"},
		{"m is not a dictionary", "d1:mi1ee"},
		{"m value is a string", "d1:md4:a_hs1:xee"},
		{"m value negative", "d1:md4:a_hsi-1eee"},
		{"m value above 255", "d1:md4:a_hsi300eee"},
		{"truncated", "d1:m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extended.ParsePayload([]byte(tt.payload))
			require.ErrorIs(t, err, extended.ErrMalformedPayload)
		})
	}
}

func TestPeerMapping_Resolve(t *testing.T) {
	h := &extended.Handshake{M: map[string]int64{
		"ut_metadata": 3,
		"ut_pex":      1,
		"lt_donthave": 0, // disabled by the peer
	}}

	pm := h.Resolve()

	require.Equal(t, 2, pm.Size())
	require.True(t, pm.Supports("ut_metadata"))
	require.True(t, pm.Supports("ut_pex"))
	require.False(t, pm.Supports("lt_donthave"))

	id, ok := pm.ID("ut_metadata")
	require.True(t, ok)
	require.EqualValues(t, 3, id)

	name, ok := pm.Name(1)
	require.True(t, ok)
	require.Equal(t, "ut_pex", name)

	// Peer assignments need not match any local ordering.
	_, ok = pm.Name(2)
	require.False(t, ok)
}

func TestResolvePayload_MalformedPropagates(t *testing.T) {
	_, err := extended.ResolvePayload([]byte("i42e"))
	if !errors.Is(err, extended.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}
