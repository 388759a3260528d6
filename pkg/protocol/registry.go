package protocol

import (
	"fmt"
	"sort"
)

// Builder collects message handler registrations during process
// startup. It is not safe for concurrent use; registration is a
// single-threaded composition pass. Build seals the builder and
// publishes an immutable Registry.
type Builder struct {
	handlers map[MessageID]Handler
	reserved map[MessageID]bool
	sealed   bool
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{
		handlers: make(map[MessageID]Handler),
		reserved: make(map[MessageID]bool),
	}
}

// Register adds a handler for the given message type ID. Registering
// the same ID twice fails with ErrDuplicateRegistration regardless of
// registration order.
func (b *Builder) Register(id MessageID, h Handler) error {
	if b.sealed {
		return ErrRegistrySealed
	}

	if h == nil {
		return fmt.Errorf("message type %d: %w", id, ErrNilHandler)
	}

	if _, ok := b.handlers[id]; ok || b.reserved[id] {
		return fmt.Errorf("message type %d: %w", id, ErrDuplicateRegistration)
	}

	b.handlers[id] = h

	return nil
}

// Reserve marks an ID as taken without binding a handler yet. Used for
// the extension envelope, whose handler can only be constructed after
// the extension registry is sealed. A reserved ID cannot be claimed by
// Register.
func (b *Builder) Reserve(id MessageID) error {
	if b.sealed {
		return ErrRegistrySealed
	}

	if _, ok := b.handlers[id]; ok || b.reserved[id] {
		return fmt.Errorf("message type %d: %w", id, ErrDuplicateRegistration)
	}

	b.reserved[id] = true

	return nil
}

// Bind attaches the handler for a previously reserved ID.
func (b *Builder) Bind(id MessageID, h Handler) error {
	if b.sealed {
		return ErrRegistrySealed
	}

	if h == nil {
		return fmt.Errorf("message type %d: %w", id, ErrNilHandler)
	}

	if !b.reserved[id] {
		return fmt.Errorf("message type %d: %w", id, ErrNotReserved)
	}

	delete(b.reserved, id)
	b.handlers[id] = h

	return nil
}

// Build seals the builder and returns the immutable registry. An ID
// that was reserved but never bound is a configuration error.
func (b *Builder) Build() (*Registry, error) {
	if b.sealed {
		return nil, ErrRegistrySealed
	}

	for id := range b.reserved {
		return nil, fmt.Errorf("message type %d reserved but never bound: %w", id, ErrNilHandler)
	}

	b.sealed = true

	handlers := make(map[MessageID]Handler, len(b.handlers))
	for id, h := range b.handlers {
		handlers[id] = h
	}

	return &Registry{handlers: handlers}, nil
}

// Registry is the immutable ID-to-handler mapping. It is built once at
// startup and safe for concurrent reads without synchronization.
type Registry struct {
	handlers map[MessageID]Handler
}

// Lookup returns the handler registered for the given ID. It fails
// with ErrUnknownType for unregistered IDs; a missing handler for the
// extension envelope is reported as ErrExtendedEnvelope instead, since
// that failure disables negotiation for the whole connection.
func (r *Registry) Lookup(id MessageID) (Handler, error) {
	h, ok := r.handlers[id]
	if !ok {
		if id == IDExtended {
			return nil, ErrExtendedEnvelope
		}

		return nil, fmt.Errorf("message type %d: %w", id, ErrUnknownType)
	}

	return h, nil
}

// Decode looks up the handler for id and decodes the payload with it.
func (r *Registry) Decode(id MessageID, payload []byte) (Message, error) {
	h, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	return h.Decode(payload)
}

// Encode looks up the handler for the message's own ID and encodes it.
func (r *Registry) Encode(msg Message) ([]byte, error) {
	h, err := r.Lookup(msg.ID())
	if err != nil {
		return nil, err
	}

	return h.Encode(msg)
}

// IDs returns the registered message type IDs in ascending order.
func (r *Registry) IDs() []MessageID {
	ids := make([]MessageID, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
