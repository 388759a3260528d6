package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrPayloadSize indicates a payload whose length does not match the
// fixed layout of its message type.
var ErrPayloadSize = errors.New("invalid payload length")

// Choke, Unchoke, Interested and NotInterested carry no payload.
type (
	Choke         struct{}
	Unchoke       struct{}
	Interested    struct{}
	NotInterested struct{}
)

func (Choke) ID() MessageID         { return IDChoke }
func (Unchoke) ID() MessageID       { return IDUnchoke }
func (Interested) ID() MessageID    { return IDInterested }
func (NotInterested) ID() MessageID { return IDNotInterested }

// Have announces availability of a single piece.
type Have struct {
	Index uint32
}

func (Have) ID() MessageID { return IDHave }

// BitfieldMsg carries the raw piece availability bitmap.
type BitfieldMsg struct {
	Bits []byte
}

func (BitfieldMsg) ID() MessageID { return IDBitfield }

// Request asks for a block of a piece.
type Request struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

func (Request) ID() MessageID { return IDRequest }

// Piece carries a block of piece data.
type Piece struct {
	Index uint32
	Begin uint32
	Block []byte
}

func (Piece) ID() MessageID { return IDPiece }

// Cancel revokes a previously sent Request.
type Cancel struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

func (Cancel) ID() MessageID { return IDCancel }

// Port advertises a DHT listening port.
type Port struct {
	Port uint16
}

func (Port) ID() MessageID { return IDPort }

// emptyHandler serves the four payload-less message types.
type emptyHandler struct {
	id  MessageID
	msg Message
}

func (h emptyHandler) Decode(payload []byte) (Message, error) {
	if len(payload) != 0 {
		return nil, fmt.Errorf("message type %d: %w", h.id, ErrPayloadSize)
	}

	return h.msg, nil
}

func (h emptyHandler) Encode(Message) ([]byte, error) {
	return nil, nil
}

type haveHandler struct{}

func (haveHandler) Decode(payload []byte) (Message, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("have: %w", ErrPayloadSize)
	}

	return Have{Index: binary.BigEndian.Uint32(payload)}, nil
}

func (haveHandler) Encode(msg Message) ([]byte, error) {
	m, ok := msg.(Have)
	if !ok {
		return nil, fmt.Errorf("have: unexpected message %T", msg)
	}

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, m.Index)

	return buf, nil
}

type bitfieldHandler struct{}

func (bitfieldHandler) Decode(payload []byte) (Message, error) {
	bits := make([]byte, len(payload))
	copy(bits, payload)

	return BitfieldMsg{Bits: bits}, nil
}

func (bitfieldHandler) Encode(msg Message) ([]byte, error) {
	m, ok := msg.(BitfieldMsg)
	if !ok {
		return nil, fmt.Errorf("bitfield: unexpected message %T", msg)
	}

	return m.Bits, nil
}

type requestHandler struct {
	cancel bool
}

func (h requestHandler) Decode(payload []byte) (Message, error) {
	if len(payload) != 12 {
		return nil, fmt.Errorf("request: %w", ErrPayloadSize)
	}

	index := binary.BigEndian.Uint32(payload[0:4])
	begin := binary.BigEndian.Uint32(payload[4:8])
	length := binary.BigEndian.Uint32(payload[8:12])

	if h.cancel {
		return Cancel{Index: index, Begin: begin, Length: length}, nil
	}

	return Request{Index: index, Begin: begin, Length: length}, nil
}

func (h requestHandler) Encode(msg Message) ([]byte, error) {
	var index, begin, length uint32

	switch m := msg.(type) {
	case Request:
		index, begin, length = m.Index, m.Begin, m.Length
	case Cancel:
		index, begin, length = m.Index, m.Begin, m.Length
	default:
		return nil, fmt.Errorf("request: unexpected message %T", msg)
	}

	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], begin)
	binary.BigEndian.PutUint32(buf[8:12], length)

	return buf, nil
}

type pieceHandler struct{}

func (pieceHandler) Decode(payload []byte) (Message, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("piece: %w", ErrPayloadSize)
	}

	block := make([]byte, len(payload)-8)
	copy(block, payload[8:])

	return Piece{
		Index: binary.BigEndian.Uint32(payload[0:4]),
		Begin: binary.BigEndian.Uint32(payload[4:8]),
		Block: block,
	}, nil
}

func (pieceHandler) Encode(msg Message) ([]byte, error) {
	m, ok := msg.(Piece)
	if !ok {
		return nil, fmt.Errorf("piece: unexpected message %T", msg)
	}

	buf := make([]byte, 8+len(m.Block))
	binary.BigEndian.PutUint32(buf[0:4], m.Index)
	binary.BigEndian.PutUint32(buf[4:8], m.Begin)
	copy(buf[8:], m.Block)

	return buf, nil
}

type portHandler struct{}

func (portHandler) Decode(payload []byte) (Message, error) {
	if len(payload) != 2 {
		return nil, fmt.Errorf("port: %w", ErrPayloadSize)
	}

	return Port{Port: binary.BigEndian.Uint16(payload)}, nil
}

func (portHandler) Encode(msg Message) ([]byte, error) {
	m, ok := msg.(Port)
	if !ok {
		return nil, fmt.Errorf("port: unexpected message %T", msg)
	}

	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, m.Port)

	return buf, nil
}

// RegisterStandard registers handlers for the ten standard message
// types (choke through port) with the builder.
func RegisterStandard(b *Builder) error {
	handlers := map[MessageID]Handler{
		IDChoke:         emptyHandler{id: IDChoke, msg: Choke{}},
		IDUnchoke:       emptyHandler{id: IDUnchoke, msg: Unchoke{}},
		IDInterested:    emptyHandler{id: IDInterested, msg: Interested{}},
		IDNotInterested: emptyHandler{id: IDNotInterested, msg: NotInterested{}},
		IDHave:          haveHandler{},
		IDBitfield:      bitfieldHandler{},
		IDRequest:       requestHandler{},
		IDPiece:         pieceHandler{},
		IDCancel:        requestHandler{cancel: true},
		IDPort:          portHandler{},
	}

	for id, h := range handlers {
		if err := b.Register(id, h); err != nil {
			return err
		}
	}

	return nil
}
