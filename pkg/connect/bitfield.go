package connect

import (
	"context"
	"fmt"

	"github.com/btkit/bitwire/internal/logger"
	"github.com/btkit/bitwire/pkg/peer"
)

// BitfieldHandler is the default bootstrap step that announces local
// piece availability once all other setup has run. Nothing is sent
// when the torrent has no completed pieces.
type BitfieldHandler struct {
	torrents TorrentRegistry
}

// NewBitfieldHandler creates the bitfield announcement step.
func NewBitfieldHandler(torrents TorrentRegistry) *BitfieldHandler {
	return &BitfieldHandler{torrents: torrents}
}

// Handle implements ConnectionHandler.
func (h *BitfieldHandler) Handle(_ context.Context, c *peer.Conn) error {
	if h.torrents == nil {
		return nil
	}

	bf, ok := h.torrents.Bitfield(c.InfoHash())
	if !ok || bf.Count() == 0 {
		return nil
	}

	if err := c.WriteBitfield(bf.Bytes()); err != nil {
		return fmt.Errorf("announcing bitfield: %w", err)
	}

	logger.Debugf("connection %s: announced %d/%d pieces", c.ID(), bf.Count(), bf.Len())

	return nil
}
