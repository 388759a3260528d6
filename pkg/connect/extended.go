package connect

import (
	"context"
	"errors"
	"fmt"

	"github.com/btkit/bitwire/internal/logger"
	"github.com/btkit/bitwire/pkg/peer"
	"github.com/btkit/bitwire/pkg/protocol/extended"
)

// maxPreludeMsgs bounds how many non-extended messages (bitfield,
// have, keep-alive) are tolerated while waiting for the peer's
// extended handshake.
const maxPreludeMsgs = 16

// ExtendedProtocolHandler is the default bootstrap step that performs
// the BEP 10 extended handshake: it advertises the local extension
// mapping and resolves the peer's advertisement into the connection's
// peer mapping. The outbound payload is derived from the immutable
// registry, so it is marshalled once at startup and shared by all
// connections.
type ExtendedProtocolHandler struct {
	local   *extended.Mapping
	payload []byte
}

// NewExtendedProtocolHandler pre-marshals the outbound extended
// handshake for the local mapping.
func NewExtendedProtocolHandler(local *extended.Mapping, version string) (*ExtendedProtocolHandler, error) {
	payload, err := extended.NewHandshake(local, version).MarshalPayload()
	if err != nil {
		return nil, err
	}

	return &ExtendedProtocolHandler{local: local, payload: payload}, nil
}

// Handle implements ConnectionHandler. Peers that did not set the
// extension bit in the base handshake are left alone. A malformed peer
// advertisement is treated as "peer supports no extensions", not a
// veto. A peer that uses a non-zero extension ID before advertising
// its mapping violates negotiation ordering and is vetoed.
func (h *ExtendedProtocolHandler) Handle(ctx context.Context, c *peer.Conn) error {
	hs, ok := c.PeerHandshake()
	if !ok || !hs.SupportsExtended() {
		logger.Debugf("connection %s: peer does not support extensions", c.ID())
		return nil
	}

	if err := c.WriteExtended(extended.HandshakeID, h.payload); err != nil {
		return fmt.Errorf("sending extended handshake: %w", err)
	}

	// The peer may front-load bitfield or have messages before its
	// extended handshake; tolerate a bounded prelude.
	for i := 0; i < maxPreludeMsgs; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := c.ReadMsg()
		if err != nil {
			return fmt.Errorf("awaiting extended handshake: %w", err)
		}

		switch msg.Type {
		case peer.MsgExtended:
			if msg.ExtID != extended.HandshakeID {
				return fmt.Errorf("peer used extension ID %d before advertising its mapping", msg.ExtID)
			}

			pm, err := extended.ResolvePayload(msg.ExtPayload)
			if err != nil {
				if errors.Is(err, extended.ErrMalformedPayload) {
					logger.Warnf("connection %s: %v; treating peer as extensionless", c.ID(), err)
					return nil
				}

				return err
			}

			c.SetExtensions(pm)
			logger.Debugf("connection %s: peer advertised %d extensions", c.ID(), pm.Size())

			return nil
		case peer.MsgBitfield:
			bf, err := peer.NewBitfieldFromBytes(msg.Payload, len(msg.Payload)*8)
			if err == nil {
				c.SetPeerBitfield(bf)
			}
		case peer.MsgKeepAlive, peer.MsgHave, peer.MsgChoke, peer.MsgUnchoke:
			// ignore
		default:
			logger.Debugf("connection %s: ignoring message type %d during negotiation", c.ID(), msg.Type)
		}
	}

	logger.Warnf("connection %s: no extended handshake within prelude budget", c.ID())

	return nil
}

// extendedSupportHandler is the default member of the handshake
// handler set. It only inspects per-connection state, so it is safe to
// run concurrently with any other handshake handler.
type extendedSupportHandler struct{}

func (extendedSupportHandler) OnHandshake(_ context.Context, c *peer.Conn) error {
	hs, ok := c.PeerHandshake()
	if !ok {
		return errors.New("handshake handler invoked before base handshake")
	}

	if hs.SupportsExtended() {
		logger.Debugf("connection %s: peer %x supports the extension protocol", c.ID(), hs.PeerID[:8])
	}

	return nil
}
