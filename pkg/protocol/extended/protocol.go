package extended

import (
	"fmt"

	"github.com/btkit/bitwire/pkg/protocol"
)

// HandshakeMessage is the decoded extended handshake as a protocol
// message.
type HandshakeMessage struct {
	Handshake *Handshake
}

func (HandshakeMessage) ID() protocol.MessageID { return protocol.IDExtended }

// RawMessage is an extension message whose inner payload has not been
// decoded yet. Decoding requires the connection's peer mapping, which
// the envelope handler does not have; DecodeInbound finishes the job.
type RawMessage struct {
	ExtID   uint8
	Payload []byte
}

func (RawMessage) ID() protocol.MessageID { return protocol.IDExtended }

// Envelope wraps an already-encoded inner payload for transmission
// under an extension ID.
type Envelope struct {
	ExtID   uint8
	Payload []byte
}

func (Envelope) ID() protocol.MessageID { return protocol.IDExtended }

// Protocol is the handler for the extension envelope (core ID 20). It
// splits the leading extension ID byte: ID 0 is the extended handshake,
// anything else is returned as a RawMessage for per-connection
// dispatch. It is bound to protocol.IDExtended by the composition
// root.
type Protocol struct {
	registry *Registry
}

// NewProtocol creates the envelope handler over the sealed extension
// registry.
func NewProtocol(registry *Registry) *Protocol {
	return &Protocol{registry: registry}
}

// Registry returns the sealed extension registry.
func (p *Protocol) Registry() *Registry {
	return p.registry
}

// Decode implements protocol.Handler for the envelope. The payload is
// the extension ID byte followed by the inner message.
func (p *Protocol) Decode(payload []byte) (protocol.Message, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("extension envelope: %w", protocol.ErrPayloadSize)
	}

	extID := payload[0]
	inner := payload[1:]

	if extID == HandshakeID {
		h, err := ParsePayload(inner)
		if err != nil {
			return nil, err
		}

		return HandshakeMessage{Handshake: h}, nil
	}

	raw := make([]byte, len(inner))
	copy(raw, inner)

	return RawMessage{ExtID: extID, Payload: raw}, nil
}

// Encode implements protocol.Handler for the envelope.
func (p *Protocol) Encode(msg protocol.Message) ([]byte, error) {
	switch m := msg.(type) {
	case Envelope:
		buf := make([]byte, 1+len(m.Payload))
		buf[0] = m.ExtID
		copy(buf[1:], m.Payload)

		return buf, nil
	case HandshakeMessage:
		payload, err := m.Handshake.MarshalPayload()
		if err != nil {
			return nil, err
		}

		buf := make([]byte, 1+len(payload))
		buf[0] = HandshakeID
		copy(buf[1:], payload)

		return buf, nil
	default:
		return nil, fmt.Errorf("extension envelope: unexpected message %T", msg)
	}
}

// DecodeInbound decodes an inbound extension message using the
// connection's peer-advertised mapping: the wire extension ID is
// translated to a name via the peer mapping and dispatched to the
// locally registered handler for that name. Unknown IDs or names fail
// with protocol.ErrUnknownType.
func (p *Protocol) DecodeInbound(pm *PeerMapping, extID uint8, payload []byte) (protocol.Message, error) {
	if extID == HandshakeID {
		h, err := ParsePayload(payload)
		if err != nil {
			return nil, err
		}

		return HandshakeMessage{Handshake: h}, nil
	}

	if pm == nil {
		return nil, fmt.Errorf("extension ID %d used before negotiation: %w", extID, protocol.ErrUnknownType)
	}

	name, ok := pm.Name(extID)
	if !ok {
		return nil, fmt.Errorf("extension ID %d: %w", extID, protocol.ErrUnknownType)
	}

	h, err := p.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	return h.Decode(payload)
}

// EncodeOutbound encodes an outbound extension message under the local
// mapping's ID for the given name, producing the full envelope payload
// for a core ID 20 frame.
func (p *Protocol) EncodeOutbound(local *Mapping, name string, msg protocol.Message) ([]byte, error) {
	id, ok := local.ID(name)
	if !ok {
		return nil, fmt.Errorf("extension %q: %w", name, protocol.ErrUnknownType)
	}

	h, err := p.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	payload, err := h.Encode(msg)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 1+len(payload))
	buf[0] = id
	copy(buf[1:], payload)

	return buf, nil
}
