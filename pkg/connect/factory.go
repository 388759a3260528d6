package connect

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btkit/bitwire/pkg/protocol"
	"github.com/btkit/bitwire/pkg/protocol/extended"
)

// DefaultHandshakeTimeout bounds connection establishment when the
// configuration does not say otherwise.
const DefaultHandshakeTimeout = 30 * time.Second

// ErrAlreadyBuilt indicates a registration attempted after Build.
var ErrAlreadyBuilt = errors.New("factory already built")

// FactoryConfig carries the externally tunable inputs of the
// subsystem.
type FactoryConfig struct {
	// PeerID is our 20-byte peer identifier.
	PeerID [20]byte
	// HandshakeTimeout bounds the whole establishment sequence,
	// measured from connection acceptance. Zero selects the default.
	HandshakeTimeout time.Duration
	// Version is the client version string advertised in the extended
	// handshake ("v" key). Optional.
	Version string
	// Torrents answers info-hash and piece-availability queries.
	Torrents TorrentRegistry
	// Recorder receives establishment outcomes. Optional.
	Recorder Recorder
}

// Factory is the startup-time composition point of the subsystem. All
// message handlers, extension handlers, connection handlers and
// handshake handlers are contributed here before Build seals the
// registries and produces the process-wide Coordinator. Built once at
// startup; registration afterwards is an error.
type Factory struct {
	cfg FactoryConfig

	mu           sync.Mutex
	core         *protocol.Builder
	ext          *extended.Builder
	connHandlers []ConnectionHandler
	hsHandlers   []HandshakeHandler
	built        bool
	err          error
}

// NewFactory creates a factory with the standard message handlers
// pre-registered and the extension envelope ID reserved, so caller
// registrations colliding with either fail immediately.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	f := &Factory{
		cfg:  cfg,
		core: protocol.NewBuilder(),
		ext:  extended.NewBuilder(),
	}

	if err := protocol.RegisterStandard(f.core); err != nil {
		f.err = err
	} else if err := f.core.Reserve(protocol.IDExtended); err != nil {
		f.err = err
	}

	return f
}

// RegisterMessageHandler contributes a handler for a core message
// type ID.
func (f *Factory) RegisterMessageHandler(id protocol.MessageID, h protocol.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.built {
		return ErrAlreadyBuilt
	}

	return f.core.Register(id, h)
}

// RegisterExtendedMessageHandler contributes a handler for an
// extension message type, keyed by its BEP 10 name.
func (f *Factory) RegisterExtendedMessageHandler(name string, h protocol.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.built {
		return ErrAlreadyBuilt
	}

	return f.ext.Register(name, h)
}

// RegisterConnectionHandler appends a step to the bootstrap chain. The
// two default steps always run after every contributed one.
func (f *Factory) RegisterConnectionHandler(h ConnectionHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.built {
		return ErrAlreadyBuilt
	}

	if h == nil {
		return protocol.ErrNilHandler
	}

	f.connHandlers = append(f.connHandlers, h)

	return nil
}

// RegisterHandshakeHandler adds a member to the post-handshake
// callback set.
func (f *Factory) RegisterHandshakeHandler(h HandshakeHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.built {
		return ErrAlreadyBuilt
	}

	if h == nil {
		return protocol.ErrNilHandler
	}

	f.hsHandlers = append(f.hsHandlers, h)

	return nil
}

// Build seals both registries, derives the local extension mapping,
// binds the extension envelope handler, appends the two default
// connection handlers, and returns the process-wide Coordinator. Any
// registration error surfaces here at the latest; a failed Build means
// the process must not start.
func (f *Factory) Build() (*Coordinator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.built {
		return nil, ErrAlreadyBuilt
	}

	if f.err != nil {
		return nil, fmt.Errorf("building protocol registries: %w", f.err)
	}

	f.built = true

	extReg, err := f.ext.Build()
	if err != nil {
		return nil, fmt.Errorf("building extension registry: %w", err)
	}

	mapping, err := extended.NewMapping(extReg.Names())
	if err != nil {
		return nil, fmt.Errorf("deriving extension mapping: %w", err)
	}

	extProto := extended.NewProtocol(extReg)
	if err := f.core.Bind(protocol.IDExtended, extProto); err != nil {
		return nil, fmt.Errorf("binding extension envelope: %w", err)
	}

	registry, err := f.core.Build()
	if err != nil {
		return nil, fmt.Errorf("building message registry: %w", err)
	}

	extHandler, err := NewExtendedProtocolHandler(mapping, f.cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("preparing extended handshake: %w", err)
	}

	hsHandlers := make([]HandshakeHandler, 0, len(f.hsHandlers)+1)
	hsHandlers = append(hsHandlers, f.hsHandlers...)
	hsHandlers = append(hsHandlers, extendedSupportHandler{})

	return &Coordinator{
		localID:           f.cfg.PeerID,
		torrents:          f.cfg.Torrents,
		registry:          registry,
		extProto:          extProto,
		mapping:           mapping,
		handshakeHandlers: hsHandlers,
		chain:             NewChain(f.connHandlers, extHandler, NewBitfieldHandler(f.cfg.Torrents)),
		timeout:           f.cfg.HandshakeTimeout,
		recorder:          f.cfg.Recorder,
	}, nil
}
