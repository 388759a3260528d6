// Package config loads the application configuration from the XDG
// config path, falling back to defaults for anything unset.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "bitwire"

// Config holds the configuration options for the application.
type Config struct {
	Debug bool        `yaml:"debug,omitempty"`
	Peer  *PeerConfig `yaml:"peer,omitempty"`
}

// PeerConfig holds configuration options for peer connections. The
// handshake timeout is the only knob of the establishment core; the
// rest bounds the connection manager.
type PeerConfig struct {
	ListenAddr               string        `yaml:"listenAddr,omitempty"`
	HandshakeTimeout         time.Duration `yaml:"handshakeTimeout,omitempty"`
	MaxPeers                 int           `yaml:"maxPeers,omitempty"`
	TotalHalfOpenConnections int           `yaml:"totalHalfOpenConnections,omitempty"`
	ClientVersion            string        `yaml:"clientVersion,omitempty"`
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default
// configuration.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	peerCfg := zeroOr(cfg.Peer, defaults.Peer)

	return &Config{
		Debug: cfg.Debug,
		Peer: &PeerConfig{
			ListenAddr:               zeroOr(peerCfg.ListenAddr, defaults.Peer.ListenAddr),
			HandshakeTimeout:         zeroOr(peerCfg.HandshakeTimeout, defaults.Peer.HandshakeTimeout),
			MaxPeers:                 zeroOr(peerCfg.MaxPeers, defaults.Peer.MaxPeers),
			TotalHalfOpenConnections: zeroOr(peerCfg.TotalHalfOpenConnections, defaults.Peer.TotalHalfOpenConnections),
			ClientVersion:            zeroOr(peerCfg.ClientVersion, defaults.Peer.ClientVersion),
		},
	}, nil
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
