// Package extended implements the BEP 10 extension protocol: the
// name-keyed handler registry, the lexicographically ordered
// name-to-ID mapping advertised in the extended handshake, and the
// envelope message (core ID 20) that carries extension traffic.
package extended

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btkit/bitwire/pkg/protocol"
)

// ErrEmptyName indicates an extension registration under an empty name.
var ErrEmptyName = errors.New("empty extension name")

// Builder collects extension message handler registrations, keyed by
// extension name. Like the core protocol builder it is a startup-time,
// single-threaded composition object.
type Builder struct {
	handlers map[string]protocol.Handler
	sealed   bool
}

// NewBuilder creates an empty extension registry builder.
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]protocol.Handler)}
}

// Register adds a handler under an extension name. Duplicate names fail
// with protocol.ErrDuplicateRegistration regardless of order.
func (b *Builder) Register(name string, h protocol.Handler) error {
	if b.sealed {
		return protocol.ErrRegistrySealed
	}

	if name == "" {
		return ErrEmptyName
	}

	if h == nil {
		return fmt.Errorf("extension %q: %w", name, protocol.ErrNilHandler)
	}

	if _, ok := b.handlers[name]; ok {
		return fmt.Errorf("extension %q: %w", name, protocol.ErrDuplicateRegistration)
	}

	b.handlers[name] = h

	return nil
}

// Build seals the builder and returns the immutable registry.
func (b *Builder) Build() (*Registry, error) {
	if b.sealed {
		return nil, protocol.ErrRegistrySealed
	}

	b.sealed = true

	handlers := make(map[string]protocol.Handler, len(b.handlers))
	for name, h := range b.handlers {
		handlers[name] = h
	}

	return &Registry{handlers: handlers}, nil
}

// Registry is the immutable name-to-handler mapping for extension
// messages. Safe for concurrent reads without synchronization.
type Registry struct {
	handlers map[string]protocol.Handler
}

// Lookup returns the handler registered under the given name, or
// protocol.ErrUnknownType if absent.
func (r *Registry) Lookup(name string) (protocol.Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("extension %q: %w", name, protocol.ErrUnknownType)
	}

	return h, nil
}

// Names returns the registered extension names sorted
// lexicographically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
