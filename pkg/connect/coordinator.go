package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/btkit/bitwire/internal/logger"
	"github.com/btkit/bitwire/pkg/peer"
	"github.com/btkit/bitwire/pkg/protocol"
	"github.com/btkit/bitwire/pkg/protocol/extended"
)

// State tracks a connection through establishment.
type State int

const (
	StateAwaitingHandshake State = iota
	StateHandshakeOK
	StateBootstrapping
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateHandshakeOK:
		return "handshake_ok"
	case StateBootstrapping:
		return "bootstrapping"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrHandshakeRejected indicates the base handshake failed: wrong
	// protocol string, unknown torrent, or a broken exchange.
	ErrHandshakeRejected = errors.New("handshake rejected")
	// ErrHandshakeTimeout indicates establishment did not finish
	// within the configured budget, measured from connection
	// acceptance.
	ErrHandshakeTimeout = errors.New("handshake timeout")
)

// Outcome is the recorded result of one establishment attempt.
type Outcome struct {
	ConnID   uuid.UUID
	Addr     string
	PeerID   [20]byte
	State    State
	Reason   string
	Duration time.Duration
}

// Recorder receives establishment outcomes. Implementations must be
// safe for concurrent use; a nil recorder disables recording.
type Recorder interface {
	RecordOutcome(o Outcome) error
}

// Coordinator turns raw transport connections into fully negotiated
// peer connections, or fails them. It is immutable after construction
// and shared by all connection goroutines; all per-connection state
// lives on the peer.Conn of the attempt.
type Coordinator struct {
	localID           [20]byte
	torrents          TorrentRegistry
	registry          *protocol.Registry
	extProto          *extended.Protocol
	mapping           *extended.Mapping
	handshakeHandlers []HandshakeHandler
	chain             *Chain
	timeout           time.Duration
	recorder          Recorder
}

// Registry returns the sealed core message registry.
func (co *Coordinator) Registry() *protocol.Registry {
	return co.registry
}

// ExtendedProtocol returns the extension envelope handler, which also
// carries the sealed extension registry.
func (co *Coordinator) ExtendedProtocol() *extended.Protocol {
	return co.extProto
}

// LocalMapping returns the local extension name-to-ID assignment,
// needed to encode outbound extension messages.
func (co *Coordinator) LocalMapping() *extended.Mapping {
	return co.mapping
}

// Timeout returns the establishment budget.
func (co *Coordinator) Timeout() time.Duration {
	return co.timeout
}

// EstablishOutbound performs the full establishment sequence on a
// connection we initiated for the given torrent.
func (co *Coordinator) EstablishOutbound(ctx context.Context, nc net.Conn, infoHash [20]byte) (*peer.Conn, error) {
	return co.establish(ctx, nc, infoHash, true)
}

// EstablishInbound performs the full establishment sequence on an
// accepted connection. The torrent is learned from the peer's
// handshake and must be known to the torrent registry.
func (co *Coordinator) EstablishInbound(ctx context.Context, nc net.Conn) (*peer.Conn, error) {
	return co.establish(ctx, nc, [20]byte{}, false)
}

func (co *Coordinator) establish(ctx context.Context, nc net.Conn, infoHash [20]byte, outbound bool) (*peer.Conn, error) {
	// The budget covers the whole sequence, measured from here. A
	// stalled handler cannot extend it.
	ctx, cancel := context.WithTimeout(ctx, co.timeout)
	defer cancel()

	// Force-close the socket when the budget elapses so in-flight
	// reads and writes unblock instead of finishing in the background.
	// The deferred close runs before the deferred cancel, so a settled
	// attempt is always observable before its context reads as done;
	// the watchdog re-checks settled on that path so a late wakeup
	// cannot close a connection that was already handed out.
	settled := make(chan struct{})
	defer close(settled)

	go func() {
		select {
		case <-settled:
		case <-ctx.Done():
			select {
			case <-settled:
			default:
				nc.Close()
			}
		}
	}()

	c := peer.Wrap(nc, co.localID)
	start := time.Now()
	state := StateAwaitingHandshake

	fail := func(err error) (*peer.Conn, error) {
		// Timeout takes precedence: a socket closed by the watchdog
		// surfaces as an I/O error, but the cause is the budget.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrHandshakeTimeout, co.timeout, err)
		}

		c.Close()
		co.record(c, StateFailed, err.Error(), start)
		logger.Infof("connection %s to %s failed in state %s: %v", c.ID(), c.RemoteAddr(), state, err)

		return nil, fmt.Errorf("establishing connection (%s): %w", state, err)
	}

	if err := co.baseHandshake(c, infoHash, outbound); err != nil {
		return fail(err)
	}

	state = StateHandshakeOK

	// Handshake handlers are a set with no inter-handler ordering;
	// run them concurrently so no ordering can be relied upon.
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range co.handshakeHandlers {
		h := h
		g.Go(func() error {
			return h.OnHandshake(gctx, c)
		})
	}

	if err := g.Wait(); err != nil {
		return fail(fmt.Errorf("handshake handler: %w", err))
	}

	state = StateBootstrapping

	if err := co.chain.Run(ctx, c); err != nil {
		return fail(err)
	}

	state = StateEstablished
	co.record(c, state, "", start)
	logger.Debugf("connection %s to %s established in %s", c.ID(), c.RemoteAddr(), time.Since(start))

	return c, nil
}

// baseHandshake exchanges and validates the 68-byte base handshake.
// The initiator writes first; the accepting side reads first so it can
// validate the info hash before answering.
func (co *Coordinator) baseHandshake(c *peer.Conn, infoHash [20]byte, outbound bool) error {
	if outbound {
		c.SetInfoHash(infoHash)

		if err := c.WriteHandshake(peer.NewHandshake(infoHash, co.localID)); err != nil {
			return fmt.Errorf("%w: sending handshake: %v", ErrHandshakeRejected, err)
		}

		hs, err := c.ReadHandshake()
		if err != nil {
			return fmt.Errorf("%w: reading handshake: %v", ErrHandshakeRejected, err)
		}

		if hs.InfoHash != infoHash {
			return fmt.Errorf("%w: info hash mismatch", ErrHandshakeRejected)
		}

		return nil
	}

	hs, err := c.ReadHandshake()
	if err != nil {
		return fmt.Errorf("%w: reading handshake: %v", ErrHandshakeRejected, err)
	}

	if co.torrents == nil || !co.torrents.Known(hs.InfoHash) {
		return fmt.Errorf("%w: unknown info hash %x", ErrHandshakeRejected, hs.InfoHash)
	}

	if err := c.WriteHandshake(peer.NewHandshake(hs.InfoHash, co.localID)); err != nil {
		return fmt.Errorf("%w: sending handshake: %v", ErrHandshakeRejected, err)
	}

	return nil
}

func (co *Coordinator) record(c *peer.Conn, state State, reason string, start time.Time) {
	if co.recorder == nil {
		return
	}

	o := Outcome{
		ConnID:   c.ID(),
		State:    state,
		Reason:   reason,
		Duration: time.Since(start),
	}

	if addr := c.RemoteAddr(); addr != nil {
		o.Addr = addr.String()
	}

	if hs, ok := c.PeerHandshake(); ok {
		o.PeerID = hs.PeerID
	}

	if err := co.recorder.RecordOutcome(o); err != nil {
		logger.Warnf("recording outcome for connection %s: %v", c.ID(), err)
	}
}
