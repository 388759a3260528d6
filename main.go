package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/btkit/bitwire/internal/config"
	"github.com/btkit/bitwire/internal/logger"
	"github.com/btkit/bitwire/internal/repository"
	"github.com/btkit/bitwire/pkg/connect"
	"github.com/btkit/bitwire/pkg/peer"
	"github.com/btkit/bitwire/pkg/protocol"
	"github.com/btkit/bitwire/pkg/protocol/extended"
)

// memTorrents is the in-process torrent registry handed to the
// connect subsystem. The real metadata registry lives outside this
// daemon; hashes are supplied on the command line.
type memTorrents struct {
	mu     sync.RWMutex
	pieces map[[20]byte]*peer.Bitfield
}

func newMemTorrents() *memTorrents {
	return &memTorrents{pieces: make(map[[20]byte]*peer.Bitfield)}
}

func (t *memTorrents) addHash(hash [20]byte) {
	t.mu.Lock()
	t.pieces[hash] = peer.NewBitfield(0)
	t.mu.Unlock()
}

func (t *memTorrents) Known(infoHash [20]byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.pieces[infoHash]

	return ok
}

func (t *memTorrents) Bitfield(infoHash [20]byte) (*peer.Bitfield, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bf, ok := t.pieces[infoHash]

	return bf, ok
}

// logSink logs every decoded message; a real session layer would act
// on them.
type logSink struct{}

func (logSink) OnMessage(c *peer.Conn, msg protocol.Message) {
	logger.Debugf("connection %s: received %T", c.ID(), msg)
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	hashArg := flag.String("hash", "", "Hex info hash to serve (40 characters)")
	flag.Parse()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Error getting home directory: %v\n", err)
	}

	dataDir := filepath.Join(homeDir, ".bitwire")

	err = os.MkdirAll(dataDir, 0o755)
	if err != nil {
		log.Fatalf("Error creating data directory: %v\n", err)
	}

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v\n", err)
	}

	err = logger.InitLogging(*debug || cfg.Debug, filepath.Join(dataDir, "bitwire.log"))
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	repo, err := repository.NewBboltRepository(filepath.Join(dataDir, "bitwire.db"))
	if err != nil {
		log.Fatalf("Error creating repository: %v\n", err)
	}
	defer repo.Close()

	torrents := newMemTorrents()

	if *hashArg != "" {
		raw, err := hex.DecodeString(*hashArg)
		if err != nil || len(raw) != 20 {
			log.Fatalf("Invalid info hash %q\n", *hashArg)
		}

		var hash [20]byte
		copy(hash[:], raw)
		torrents.addHash(hash)
	}

	var peerID [20]byte
	copy(peerID[:], "-BW0100-")

	if _, err := rand.Read(peerID[8:]); err != nil {
		log.Fatalf("Error generating peer ID: %v\n", err)
	}

	// Registration pass: everything is contributed before Build seals
	// the registries.
	factory := connect.NewFactory(connect.FactoryConfig{
		PeerID:           peerID,
		HandshakeTimeout: cfg.Peer.HandshakeTimeout,
		Version:          cfg.Peer.ClientVersion,
		Torrents:         torrents,
		Recorder:         repo,
	})

	if err := factory.RegisterExtendedMessageHandler(extended.MetadataName, extended.MetadataHandler{}); err != nil {
		log.Fatalf("Error registering ut_metadata: %v\n", err)
	}

	coordinator, err := factory.Build()
	if err != nil {
		log.Fatalf("Error building protocol factory: %v\n", err)
	}

	manager, err := connect.NewManager(connect.ManagerConfig{
		MaxPeers:    cfg.Peer.MaxPeers,
		MaxHalfOpen: int64(cfg.Peer.TotalHalfOpenConnections),
		ListenAddr:  cfg.Peer.ListenAddr,
	}, coordinator, logSink{}, repo)
	if err != nil {
		log.Fatalf("Error starting connection manager: %v\n", err)
	}

	logger.Infof("listening on %s", manager.ListenAddr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Infof("shutting down")

	if err := manager.Shutdown(); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
