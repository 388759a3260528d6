package peer

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btkit/bitwire/pkg/protocol/extended"
)

const (
	// DefaultDialTimeout is the timeout used when establishing TCP
	// connections to peers.
	DefaultDialTimeout = 5 * time.Second
	// DefaultRWTimeout is the default per-message read/write timeout.
	DefaultRWTimeout = 2 * time.Minute
)

// Conn represents a goroutine-safe BitTorrent peer connection. It
// wraps a net.Conn and carries the per-connection state produced by
// connection establishment: the peer's base handshake, the negotiated
// extension mapping and the peer's announced bitfield. A freshly
// wrapped Conn has exchanged nothing yet; the connect package drives
// the handshake and bootstrap sequence.
type Conn struct {
	netConn net.Conn
	r       *Reader
	w       *Writer
	id      uuid.UUID
	localID [20]byte // our peer id
	remote  net.Addr

	mu sync.Mutex // protects writes to netConn

	stateMu    sync.Mutex // protects the negotiated state below
	peerHs     Handshake
	hsDone     bool
	infoHash   [20]byte
	extensions *extended.PeerMapping
	bitfield   *Bitfield

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Wrap adopts an established transport connection. The Conn owns the
// socket from here on; Close tears it down.
func Wrap(netConn net.Conn, localID [20]byte) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		netConn: netConn,
		r:       NewReader(netConn),
		w:       NewWriter(netConn),
		id:      uuid.New(),
		localID: localID,
		remote:  netConn.RemoteAddr(),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		<-c.ctx.Done()
		c.netConn.Close()
	}()

	return c
}

// WriteHandshake sends the 68-byte base handshake.
func (c *Conn) WriteHandshake(h Handshake) error {
	b, err := h.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.netConn.Write(b)

	return err
}

// ReadHandshake reads and validates the peer's 68-byte base handshake
// and records it on the connection.
func (c *Conn) ReadHandshake() (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(c.netConn, buf); err != nil {
		return Handshake{}, err
	}

	h, err := Unmarshal(buf)
	if err != nil {
		return Handshake{}, err
	}

	c.stateMu.Lock()
	c.peerHs = h
	c.hsDone = true
	c.infoHash = h.InfoHash
	c.stateMu.Unlock()

	return h, nil
}

// PeerHandshake returns the peer's base handshake. ok is false until
// ReadHandshake has completed.
func (c *Conn) PeerHandshake() (Handshake, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.peerHs, c.hsDone
}

// InfoHash returns the torrent the connection was established for.
func (c *Conn) InfoHash() [20]byte {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.infoHash
}

// SetInfoHash pins the torrent for an outbound connection before the
// handshake is sent.
func (c *Conn) SetInfoHash(infoHash [20]byte) {
	c.stateMu.Lock()
	c.infoHash = infoHash
	c.stateMu.Unlock()
}

// SetExtensions records the peer-advertised extension mapping
// negotiated for this connection.
func (c *Conn) SetExtensions(pm *extended.PeerMapping) {
	c.stateMu.Lock()
	c.extensions = pm
	c.stateMu.Unlock()
}

// Extensions returns the peer-advertised extension mapping, or nil if
// the peer supports no extensions.
func (c *Conn) Extensions() *extended.PeerMapping {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.extensions
}

// SetPeerBitfield records the peer's announced piece availability.
func (c *Conn) SetPeerBitfield(bf *Bitfield) {
	c.stateMu.Lock()
	c.bitfield = bf
	c.stateMu.Unlock()
}

// PeerBitfield returns the peer's announced piece availability, or nil.
func (c *Conn) PeerBitfield() *Bitfield {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.bitfield
}

// ReadMsg returns the next message (blocks until the socket is closed
// or EOF). It sets a per-message read deadline to detect dead peers.
func (c *Conn) ReadMsg() (Message, error) {
	if err := c.netConn.SetReadDeadline(time.Now().Add(DefaultRWTimeout)); err != nil {
		return Message{}, err
	}

	msg, err := c.r.ReadMsg()
	c.netConn.SetReadDeadline(time.Time{})

	return msg, err
}

// WriteMsg sends a message (thread-safe). This is a low-level method;
// prefer the specific Write* methods defined below.
func (c *Conn) WriteMsg(typ byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteMsg(typ, payload)
}

// WriteKeepAlive writes a keep-alive message.
func (c *Conn) WriteKeepAlive() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteKeepAlive()
}

// WriteChoke writes a choke message.
func (c *Conn) WriteChoke() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteChoke()
}

// WriteUnchoke writes an unchoke message.
func (c *Conn) WriteUnchoke() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteUnchoke()
}

// WriteInterested writes an interested message.
func (c *Conn) WriteInterested() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteInterested()
}

// WriteNotInterested writes a not interested message.
func (c *Conn) WriteNotInterested() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteNotInterested()
}

// WriteHave writes a have message with the given piece index.
func (c *Conn) WriteHave(index uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteHave(index)
}

// WriteRequest writes a request message for a piece block.
func (c *Conn) WriteRequest(index, begin, length uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteRequest(index, begin, length)
}

// WriteCancel writes a cancel message for a piece block.
func (c *Conn) WriteCancel(index, begin, length uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteCancel(index, begin, length)
}

// WritePiece writes a piece message with the given block data.
func (c *Conn) WritePiece(index, begin uint32, block []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WritePiece(index, begin, block)
}

// WriteBitfield writes a bitfield message with the given bitfield data.
func (c *Conn) WriteBitfield(bits []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteBitfield(bits)
}

// WritePort writes a port message with the given port number.
func (c *Conn) WritePort(port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WritePort(port)
}

// WriteExtended writes an extension envelope with the given extension
// ID and inner payload.
func (c *Conn) WriteExtended(extID byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WriteExtended(extID, payload)
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// LocalPeerID returns our peer ID.
func (c *Conn) LocalPeerID() [20]byte {
	return c.localID
}

// Close shuts down the connection and waits for any goroutines to finish.
func (c *Conn) Close() error {
	c.cancel()
	err := c.netConn.Close()
	c.wg.Wait()

	return err
}
