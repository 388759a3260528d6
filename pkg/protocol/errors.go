package protocol

import "errors"

var (
	// ErrDuplicateRegistration indicates two handlers registered under
	// the same message type ID or extension name. This is a
	// configuration error; the process must not start.
	ErrDuplicateRegistration = errors.New("duplicate registration")
	// ErrUnknownType indicates that no handler is registered for a
	// message type. Callers drop the offending message; the connection
	// itself survives.
	ErrUnknownType = errors.New("unknown message type")
	// ErrExtendedEnvelope indicates that the extension envelope (ID 20)
	// itself has no handler. Unlike a generic unknown type this breaks
	// extension negotiation for the whole connection, so it stays
	// distinguishable from ErrUnknownType.
	ErrExtendedEnvelope = errors.New("extension envelope has no handler")
	// ErrRegistrySealed indicates a registration attempted after the
	// registry was built.
	ErrRegistrySealed = errors.New("registry already built")
	// ErrNilHandler indicates an attempt to register a nil handler.
	ErrNilHandler = errors.New("nil handler")
	// ErrNotReserved indicates an attempt to bind a handler to an ID
	// that was never reserved.
	ErrNotReserved = errors.New("message type ID not reserved")
)
