package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/btkit/bitwire/internal/logger"
	"github.com/btkit/bitwire/pkg/peer"
	"github.com/btkit/bitwire/pkg/protocol"
)

// MessageSink receives decoded messages from established connections.
type MessageSink interface {
	OnMessage(c *peer.Conn, msg protocol.Message)
}

// Flagger records peers that send messages with unregistered types.
// The message is dropped either way; flagging is bookkeeping for the
// caller's policy.
type Flagger interface {
	FlagUnknownType(addr string) (int, error)
}

// ManagerConfig holds configuration for a Manager. MaxPeers is the
// maximum number of established connections; the oldest connection is
// evicted when the limit is reached. MaxHalfOpen caps connections that
// are still in the establishment sequence. ListenAddr, if non-empty,
// requests the manager to listen for inbound connections.
type ManagerConfig struct {
	MaxPeers    int
	MaxHalfOpen int64
	ListenAddr  string
}

type dialRequest struct {
	addr     string
	infoHash [20]byte
}

// ConnEntry wraps a connection with metadata for lifecycle management.
type ConnEntry struct {
	Conn    *peer.Conn
	addedAt time.Time
}

// Manager tracks peer connections across their lifecycle: it accepts
// and dials transport connections, runs each through the coordinator,
// keeps the established set bounded, and pumps every established
// connection's messages through the registries to the sink. All
// operations are safe for concurrent use.
type Manager struct {
	cfg     ManagerConfig
	coord   *Coordinator
	sink    MessageSink
	flagger Flagger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	conns  map[string]*ConnEntry // key = net.Addr.String()
	wg     sync.WaitGroup

	halfOpen *semaphore.Weighted

	listener net.Listener

	dialCh   chan dialRequest
	inCh     chan net.Conn
	addCh    chan *peer.Conn
	removeCh chan string
}

// NewManager creates a peer connection manager driving the given
// coordinator. sink and flagger may be nil.
func NewManager(cfg ManagerConfig, coord *Coordinator, sink MessageSink, flagger Flagger) (*Manager, error) {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 200
	}

	if cfg.MaxHalfOpen <= 0 {
		cfg.MaxHalfOpen = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		coord:    coord,
		sink:     sink,
		flagger:  flagger,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[string]*ConnEntry),
		halfOpen: semaphore.NewWeighted(cfg.MaxHalfOpen),
		dialCh:   make(chan dialRequest, 128),
		inCh:     make(chan net.Conn, 32),
		addCh:    make(chan *peer.Conn, 32),
		removeCh: make(chan string, 32),
	}

	if cfg.ListenAddr != "" {
		l, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
		}

		m.listener = l
		m.wg.Add(1)

		go m.acceptLoop(l)
	}

	m.wg.Add(1)

	go m.eventLoop()

	return m, nil
}

// ListenAddr returns the actual listener address, or nil when the
// manager is not listening.
func (m *Manager) ListenAddr() net.Addr {
	if m.listener == nil {
		return nil
	}

	return m.listener.Addr()
}

// acceptLoop handles incoming connections.
func (m *Manager) acceptLoop(l net.Listener) {
	defer m.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}

		select {
		case m.inCh <- conn:
		case <-m.ctx.Done():
			conn.Close()
			return
		}
	}
}

// AddOutbound queues an outbound connection attempt for a torrent.
func (m *Manager) AddOutbound(addr string, infoHash [20]byte) {
	select {
	case m.dialCh <- dialRequest{addr: addr, infoHash: infoHash}:
	case <-m.ctx.Done():
	}
}

// RemovePeer queues a peer for removal.
func (m *Manager) RemovePeer(addr string) {
	select {
	case m.removeCh <- addr:
	case <-m.ctx.Done():
	}
}

// Get returns the established connection for an address, if any.
func (m *Manager) Get(addr string) (*peer.Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.conns[addr]
	if !ok {
		return nil, false
	}

	return entry.Conn, true
}

// Len returns the number of established connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.conns)
}

func (m *Manager) eventLoop() {
	defer m.wg.Done()

	for {
		select {
		case req := <-m.dialCh:
			m.wg.Add(1)

			go func() {
				defer m.wg.Done()
				m.establishOutbound(req)
			}()
		case nc := <-m.inCh:
			m.wg.Add(1)

			go func() {
				defer m.wg.Done()
				m.establishInbound(nc)
			}()
		case c := <-m.addCh:
			m.add(c)
		case addr := <-m.removeCh:
			m.remove(addr)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) establishOutbound(req dialRequest) {
	if err := m.halfOpen.Acquire(m.ctx, 1); err != nil {
		return
	}
	defer m.halfOpen.Release(1)

	dialer := &net.Dialer{Timeout: peer.DefaultDialTimeout}

	nc, err := dialer.DialContext(m.ctx, "tcp", req.addr)
	if err != nil {
		logger.Debugf("dialing %s: %v", req.addr, err)
		return
	}
	// The raw conn is handed to the coordinator; it owns teardown on
	// failure.
	established, err := m.coord.EstablishOutbound(m.ctx, nc, req.infoHash)
	if err != nil {
		return
	}

	m.offer(established)
}

func (m *Manager) establishInbound(nc net.Conn) {
	if err := m.halfOpen.Acquire(m.ctx, 1); err != nil {
		nc.Close()
		return
	}
	defer m.halfOpen.Release(1)

	established, err := m.coord.EstablishInbound(m.ctx, nc)
	if err != nil {
		return
	}

	m.offer(established)
}

func (m *Manager) offer(c *peer.Conn) {
	select {
	case m.addCh <- c:
	case <-m.ctx.Done():
		c.Close()
	}
}

func (m *Manager) add(c *peer.Conn) {
	addr := c.RemoteAddr().String()

	m.mu.Lock()

	if existing, ok := m.conns[addr]; ok {
		existing.Conn.Close()
	}

	// Evict the oldest connection when at capacity.
	if len(m.conns) >= m.cfg.MaxPeers {
		var oldestAddr string

		var oldest time.Time

		for a, e := range m.conns {
			if oldestAddr == "" || e.addedAt.Before(oldest) {
				oldestAddr, oldest = a, e.addedAt
			}
		}

		if oldestAddr != "" {
			m.conns[oldestAddr].Conn.Close()
			delete(m.conns, oldestAddr)
			logger.Debugf("evicted oldest peer %s", oldestAddr)
		}
	}

	m.conns[addr] = &ConnEntry{Conn: c, addedAt: time.Now()}
	m.mu.Unlock()

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.readLoop(c, addr)
	}()
}

func (m *Manager) remove(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.conns[addr]; ok {
		entry.Conn.Close()
		delete(m.conns, addr)
	}
}

// readLoop pumps an established connection: every frame is decoded
// through the registries and handed to the sink. Messages with an
// unregistered type are dropped and the peer is flagged; a missing
// envelope handler closes the connection since negotiation as a whole
// is broken.
func (m *Manager) readLoop(c *peer.Conn, addr string) {
	defer m.RemovePeer(addr)

	for {
		msg, err := c.ReadMsg()
		if err != nil {
			return
		}

		if msg.Type == peer.MsgKeepAlive {
			continue
		}

		var decoded protocol.Message

		if msg.Type == peer.MsgExtended {
			decoded, err = m.coord.ExtendedProtocol().DecodeInbound(c.Extensions(), msg.ExtID, msg.ExtPayload)
		} else {
			decoded, err = m.coord.Registry().Decode(protocol.MessageID(msg.Type), msg.Payload)
		}

		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrExtendedEnvelope):
				logger.Errorf("connection %s: %v; closing", c.ID(), err)
				return
			case errors.Is(err, protocol.ErrUnknownType):
				logger.Warnf("connection %s: dropping message: %v", c.ID(), err)

				if m.flagger != nil {
					if n, ferr := m.flagger.FlagUnknownType(addr); ferr == nil {
						logger.Debugf("peer %s flagged %d times", addr, n)
					}
				}
			default:
				logger.Warnf("connection %s: decode error: %v; closing", c.ID(), err)
				return
			}

			continue
		}

		if m.sink != nil {
			m.sink.OnMessage(c, decoded)
		}
	}
}

// Shutdown closes the listener and all connections and waits for the
// manager's goroutines to finish.
func (m *Manager) Shutdown() error {
	var err error

	if m.listener != nil {
		err = multierr.Append(err, m.listener.Close())
	}

	m.cancel()

	m.mu.Lock()
	for addr, entry := range m.conns {
		err = multierr.Append(err, entry.Conn.Close())
		delete(m.conns, addr)
	}
	m.mu.Unlock()

	m.wg.Wait()

	return err
}
