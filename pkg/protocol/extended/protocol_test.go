package extended_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btkit/bitwire/pkg/protocol"
	"github.com/btkit/bitwire/pkg/protocol/extended"
)

// echoMessage and echoHandler stand in for an extension message type in
// dispatch tests; the payload passes through untouched.
type echoMessage struct {
	payload []byte
	tag     string
}

func (echoMessage) ID() protocol.MessageID { return protocol.IDExtended }

type echoHandler struct {
	tag string
}

func (h echoHandler) Decode(payload []byte) (protocol.Message, error) {
	return echoMessage{payload: payload, tag: h.tag}, nil
}

func (h echoHandler) Encode(msg protocol.Message) ([]byte, error) {
	return msg.(echoMessage).payload, nil
}

func buildProtocol(t *testing.T, names ...string) (*extended.Protocol, *extended.Mapping) {
	t.Helper()

	b := extended.NewBuilder()
	for _, name := range names {
		require.NoError(t, b.Register(name, echoHandler{tag: name}))
	}

	reg, err := b.Build()
	require.NoError(t, err)

	m, err := extended.NewMapping(reg.Names())
	require.NoError(t, err)

	return extended.NewProtocol(reg), m
}

func TestRegistry_DuplicateName(t *testing.T) {
	b := extended.NewBuilder()
	require.NoError(t, b.Register("ut_pex", echoHandler{}))

	err := b.Register("ut_pex", echoHandler{tag: "other"})
	require.ErrorIs(t, err, protocol.ErrDuplicateRegistration)
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	b := extended.NewBuilder()

	require.ErrorIs(t, b.Register("", echoHandler{}), extended.ErrEmptyName)
	require.ErrorIs(t, b.Register("ut_pex", nil), protocol.ErrNilHandler)
}

func TestRegistry_SealedAfterBuild(t *testing.T) {
	b := extended.NewBuilder()
	require.NoError(t, b.Register("ut_pex", echoHandler{}))

	_, err := b.Build()
	require.NoError(t, err)

	require.ErrorIs(t, b.Register("ut_metadata", echoHandler{}), protocol.ErrRegistrySealed)
}

func TestRegistry_LookupUnknownName(t *testing.T) {
	p, _ := buildProtocol(t, "ut_metadata")

	_, err := p.Registry().Lookup("ut_pex")
	require.ErrorIs(t, err, protocol.ErrUnknownType)
}

func TestProtocol_DecodeEnvelope(t *testing.T) {
	p, m := buildProtocol(t, "ut_metadata")

	// Extension ID 0 is the extended handshake.
	hsPayload, err := extended.NewHandshake(m, "").MarshalPayload()
	require.NoError(t, err)

	msg, err := p.Decode(append([]byte{0}, hsPayload...))
	require.NoError(t, err)

	hs, ok := msg.(extended.HandshakeMessage)
	require.True(t, ok)
	require.Equal(t, map[string]int64{"ut_metadata": 1}, hs.Handshake.M)

	// Any other ID comes back raw for per-connection dispatch.
	msg, err = p.Decode([]byte{7, 'h', 'i'})
	require.NoError(t, err)

	raw, ok := msg.(extended.RawMessage)
	require.True(t, ok)
	require.EqualValues(t, 7, raw.ExtID)
	require.Equal(t, []byte("hi"), raw.Payload)

	_, err = p.Decode(nil)
	require.ErrorIs(t, err, protocol.ErrPayloadSize)
}

// Inbound dispatch follows the peer's advertised assignment, not the
// local one: when the peer maps ut_pex to 2, an inbound message tagged
// 2 reaches the handler registered locally under "ut_pex" even though
// the local mapping gave ut_pex a different ID.
func TestProtocol_DecodeInboundUsesPeerMapping(t *testing.T) {
	p, _ := buildProtocol(t, "ut_metadata", "ut_pex")

	pm, err := extended.ResolvePayload([]byte("d1:md11:ut_metadatai1e6:ut_pexi2eee"))
	require.NoError(t, err)

	msg, err := p.DecodeInbound(pm, 2, []byte("payload"))
	require.NoError(t, err)

	echo, ok := msg.(echoMessage)
	require.True(t, ok)
	require.Equal(t, "ut_pex", echo.tag)
	require.Equal(t, []byte("payload"), echo.payload)
}

func TestProtocol_DecodeInboundUnknownID(t *testing.T) {
	p, _ := buildProtocol(t, "ut_metadata")

	pm, err := extended.ResolvePayload([]byte("d1:md11:ut_metadatai1eee"))
	require.NoError(t, err)

	_, err = p.DecodeInbound(pm, 9, nil)
	require.ErrorIs(t, err, protocol.ErrUnknownType)
}

func TestProtocol_DecodeInboundBeforeNegotiation(t *testing.T) {
	p, _ := buildProtocol(t, "ut_metadata")

	_, err := p.DecodeInbound(nil, 1, nil)
	require.ErrorIs(t, err, protocol.ErrUnknownType)
}

// The peer may advertise a name that is not registered locally; inbound
// traffic under it is an unknown type, not a crash.
func TestProtocol_DecodeInboundUnregisteredName(t *testing.T) {
	p, _ := buildProtocol(t, "ut_metadata")

	pm, err := extended.ResolvePayload([]byte("d1:md6:ut_pexi4eee"))
	require.NoError(t, err)

	_, err = p.DecodeInbound(pm, 4, nil)
	require.ErrorIs(t, err, protocol.ErrUnknownType)
}

func TestProtocol_EncodeOutboundUsesLocalMapping(t *testing.T) {
	p, m := buildProtocol(t, "ut_metadata", "ut_pex")

	buf, err := p.EncodeOutbound(m, "ut_pex", echoMessage{payload: []byte("x")})
	require.NoError(t, err)

	// ut_metadata sorts first, so ut_pex holds local ID 2.
	require.Equal(t, []byte{2, 'x'}, buf)

	_, err = p.EncodeOutbound(m, "lt_donthave", echoMessage{})
	require.ErrorIs(t, err, protocol.ErrUnknownType)
}
