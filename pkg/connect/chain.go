package connect

import (
	"context"
	"fmt"

	"github.com/btkit/bitwire/internal/logger"
	"github.com/btkit/bitwire/pkg/peer"
)

// Chain is the ordered connection bootstrap chain. Caller-contributed
// handlers run first, in registration order; the two default handlers
// (extension negotiation, bitfield announcement) are always appended
// last so that custom setup such as access control gets a chance to
// veto before any baseline protocol traffic is sent.
type Chain struct {
	handlers []ConnectionHandler
}

// NewChain builds the chain from the caller-supplied handlers followed
// by the fixed defaults. The defaults are appended explicitly here
// rather than relying on registration order.
func NewChain(custom []ConnectionHandler, defaults ...ConnectionHandler) *Chain {
	handlers := make([]ConnectionHandler, 0, len(custom)+len(defaults))
	handlers = append(handlers, custom...)
	handlers = append(handlers, defaults...)

	return &Chain{handlers: handlers}
}

// Len returns the number of handlers in the chain.
func (ch *Chain) Len() int {
	return len(ch.handlers)
}

// Run executes each handler in order. The first error stops the chain;
// no later handler runs. The context carries the connection's overall
// establishment deadline.
func (ch *Chain) Run(ctx context.Context, c *peer.Conn) error {
	for _, h := range ch.handlers {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := h.Handle(ctx, c); err != nil {
			logger.Debugf("connection %s vetoed by %T: %v", c.ID(), h, err)
			return fmt.Errorf("connection handler %T: %w", h, err)
		}
	}

	return nil
}
