package config

import "time"

const (
	listenAddr               = ":6881"
	handshakeTimeout         = 30 * time.Second
	maxPeers                 = 200
	totalHalfOpenConnections = 100
	clientVersion            = "bitwire 0.1"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Peer: &PeerConfig{
			ListenAddr:               listenAddr,
			HandshakeTimeout:         handshakeTimeout,
			MaxPeers:                 maxPeers,
			TotalHalfOpenConnections: totalHalfOpenConnections,
			ClientVersion:            clientVersion,
		},
	}
}
