// Package connect governs how a raw transport connection becomes a
// usable peer connection: the base handshake exchange, the unordered
// set of post-handshake callbacks, the ordered bootstrap chain with
// its two fixed trailing steps, and the coordinator that drives the
// whole sequence under a single wall-clock budget.
package connect

import (
	"context"

	"github.com/btkit/bitwire/pkg/peer"
)

// ConnectionHandler is one step of the connection bootstrap chain. It
// runs once per new connection, in registration order, and may send
// protocol messages or mutate connection state. A non-nil error vetoes
// the connection: the chain stops, later handlers (including the
// default ones) do not run, and the connection is closed with the
// error recorded as the reason.
type ConnectionHandler interface {
	Handle(ctx context.Context, c *peer.Conn) error
}

// ConnectionHandlerFunc adapts a function to the ConnectionHandler
// interface.
type ConnectionHandlerFunc func(ctx context.Context, c *peer.Conn) error

func (f ConnectionHandlerFunc) Handle(ctx context.Context, c *peer.Conn) error {
	return f(ctx, c)
}

// HandshakeHandler is invoked exactly once per connection, right after
// the base handshake succeeds and before the bootstrap chain starts.
// Handlers form a set with no ordering guarantee between them, so they
// must be independent of one another; the coordinator runs them
// concurrently. An error fails the connection.
type HandshakeHandler interface {
	OnHandshake(ctx context.Context, c *peer.Conn) error
}

// HandshakeHandlerFunc adapts a function to the HandshakeHandler
// interface.
type HandshakeHandlerFunc func(ctx context.Context, c *peer.Conn) error

func (f HandshakeHandlerFunc) OnHandshake(ctx context.Context, c *peer.Conn) error {
	return f(ctx, c)
}

// TorrentRegistry is the subsystem's view of the torrent metadata
// registry. Lookups answer whether an info hash is served locally and
// what pieces are available for announcement.
type TorrentRegistry interface {
	// Known reports whether the torrent is registered locally.
	Known(infoHash [20]byte) bool
	// Bitfield returns local piece availability for a torrent.
	Bitfield(infoHash [20]byte) (*peer.Bitfield, bool)
}
