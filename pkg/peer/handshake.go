// Package peer implements the BitTorrent peer wire layer: the fixed
// 68-byte base handshake, length-prefixed message framing, and a
// goroutine-safe connection type carrying per-connection negotiated
// state.
package peer

import (
	"bytes"
	"errors"
)

const (
	// ProtocolID is the standard BitTorrent protocol identifier.
	ProtocolID = "BitTorrent protocol"
	// ReservedLen is the number of reserved bytes in the handshake.
	ReservedLen = 8
	// HandshakeLen is the fixed length of a handshake message.
	HandshakeLen = 1 + len(ProtocolID) + ReservedLen + 20 + 20
)

var (
	protocolBytes = []byte(ProtocolID)
	// ErrInvalidHandshake indicates a handshake message of incorrect length.
	ErrInvalidHandshake = errors.New("invalid handshake length")
	// ErrBadProtocol indicates a mismatch in the protocol identifier.
	ErrBadProtocol = errors.New("wrong protocol identifier")
)

// Handshake represents the structure of the BitTorrent handshake.
// See BEP 3 for details.
type Handshake struct {
	Protocol string
	Reserved [ReservedLen]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake creates an outbound handshake advertising support for
// the extension protocol (bit 20 of the reserved field, BEP 10).
func NewHandshake(infoHash, peerID [20]byte) Handshake {
	h := Handshake{
		Protocol: ProtocolID,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
	h.Reserved[5] |= 0x10

	return h
}

// SupportsExtended reports whether the handshake advertises the
// extension protocol.
func (h Handshake) SupportsExtended() bool {
	return h.Reserved[5]&0x10 != 0
}

// Marshal encodes the handshake into a 68-byte slice. The serialized
// representation adheres to the standard layout.
func (h Handshake) Marshal() ([]byte, error) {
	b := make([]byte, HandshakeLen)
	// Byte 0: protocol length (19)
	b[0] = byte(len(protocolBytes))
	// Bytes 1-19: protocol string "BitTorrent protocol"
	copy(b[1:20], protocolBytes)
	// Bytes 20-27: reserved bytes
	copy(b[20:28], h.Reserved[:])
	// Bytes 28-47: info hash
	copy(b[28:48], h.InfoHash[:])
	// Bytes 48-67: peer ID
	copy(b[48:68], h.PeerID[:])

	return b, nil
}

// Unmarshal decodes a 68-byte handshake into a Handshake struct.
func Unmarshal(b []byte) (Handshake, error) {
	if len(b) != HandshakeLen {
		return Handshake{}, ErrInvalidHandshake
	}
	// Verify the protocol identifier.
	if b[0] != 19 || !bytes.Equal(b[1:20], protocolBytes) {
		return Handshake{}, ErrBadProtocol
	}

	var h Handshake

	h.Protocol = ProtocolID
	copy(h.Reserved[:], b[20:28])
	copy(h.InfoHash[:], b[28:48])
	copy(h.PeerID[:], b[48:68])

	return h, nil
}
