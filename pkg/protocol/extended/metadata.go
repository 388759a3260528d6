package extended

import (
	"bufio"
	"bytes"
	"fmt"

	bencode "github.com/jackpal/bencode-go"

	"github.com/btkit/bitwire/pkg/protocol"
)

// MetadataName is the canonical ut_metadata extension name (BEP 9).
const MetadataName = "ut_metadata"

// ut_metadata message kinds.
const (
	MetadataRequest = 0
	MetadataData    = 1
	MetadataReject  = 2
)

// MetadataMessage is a ut_metadata extension message. Data messages
// carry the raw metadata block after the bencoded header.
type MetadataMessage struct {
	MsgType   int
	Piece     int
	TotalSize int
	Block     []byte
}

func (MetadataMessage) ID() protocol.MessageID { return protocol.IDExtended }

type metadataHeader struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size"`
}

// MetadataHandler decodes and encodes ut_metadata messages.
type MetadataHandler struct{}

// Decode parses the bencoded header and, for data messages, the raw
// block that follows it. The decoder is handed a buffer covering the
// whole payload so the header's consumed length can be read back from
// Buffered; the block is whatever the header did not consume.
func (MetadataHandler) Decode(payload []byte) (protocol.Message, error) {
	br := bufio.NewReaderSize(bytes.NewReader(payload), len(payload)+1)

	decoded, err := bencode.Decode(br)
	if err != nil {
		return nil, fmt.Errorf("ut_metadata: decoding header: %w", err)
	}

	dict, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("ut_metadata: header is not a dictionary")
	}

	msgType, ok := dict["msg_type"].(int64)
	if !ok {
		return nil, fmt.Errorf("ut_metadata: missing msg_type")
	}

	msg := MetadataMessage{MsgType: int(msgType)}

	if piece, ok := dict["piece"].(int64); ok {
		msg.Piece = int(piece)
	}

	if size, ok := dict["total_size"].(int64); ok {
		msg.TotalSize = int(size)
	}

	if n := br.Buffered(); msg.MsgType == MetadataData && n > 0 {
		msg.Block = make([]byte, n)
		copy(msg.Block, payload[len(payload)-n:])
	}

	return msg, nil
}

// Encode writes the bencoded header followed by the block for data
// messages.
func (MetadataHandler) Encode(msg protocol.Message) ([]byte, error) {
	m, ok := msg.(MetadataMessage)
	if !ok {
		return nil, fmt.Errorf("ut_metadata: unexpected message %T", msg)
	}

	header := metadataHeader{
		MsgType:   m.MsgType,
		Piece:     m.Piece,
		TotalSize: m.TotalSize,
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, header); err != nil {
		return nil, fmt.Errorf("ut_metadata: encoding header: %w", err)
	}

	if m.MsgType == MetadataData {
		buf.Write(m.Block)
	}

	return buf.Bytes(), nil
}
