// Package protocol defines the core BitTorrent peer-wire message types
// and the registry that maps numeric message type IDs to the handlers
// that decode and encode them. The registry is populated once during
// process startup and is read-only afterwards, so lookups from
// concurrent connection goroutines need no locking.
package protocol

// MessageID identifies a core wire message type. It is the single byte
// that follows the length prefix of every non-keep-alive message.
type MessageID uint8

// Core message type IDs as defined by BEP 3, plus the extension
// envelope from BEP 10.
const (
	IDChoke         MessageID = 0
	IDUnchoke       MessageID = 1
	IDInterested    MessageID = 2
	IDNotInterested MessageID = 3
	IDHave          MessageID = 4
	IDBitfield      MessageID = 5
	IDRequest       MessageID = 6
	IDPiece         MessageID = 7
	IDCancel        MessageID = 8
	IDPort          MessageID = 9
	// IDExtended is the envelope for all extension messages. The
	// registry reserves it at startup; the handler is bound once the
	// extension registry has been sealed.
	IDExtended MessageID = 20
)

// Message is a decoded protocol message.
type Message interface {
	// ID returns the wire type ID the message is framed with.
	ID() MessageID
}

// Handler decodes and encodes the payload of a single message type.
// The payload excludes the 4-byte length prefix and the type byte;
// framing belongs to the wire layer.
type Handler interface {
	Decode(payload []byte) (Message, error)
	Encode(msg Message) ([]byte, error)
}
