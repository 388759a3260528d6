package extended

import (
	"bytes"
	"errors"
	"fmt"

	bencode "github.com/jackpal/bencode-go"
)

// HandshakeID is the extension ID reserved for the extended handshake
// message itself. Extension names are assigned IDs starting at 1.
const HandshakeID uint8 = 0

// ErrMalformedPayload indicates an extended handshake payload that is
// not a well-formed dictionary of string to non-negative integer.
// Callers treat this as "peer supports no extensions" rather than a
// fatal connection error.
var ErrMalformedPayload = errors.New("malformed extended handshake payload")

// Handshake is the extended handshake message exchanged right after
// the base handshake. M advertises the sender's extension name to ID
// assignment; V is an optional client version string.
type Handshake struct {
	M map[string]int64
	V string
}

// NewHandshake builds the outbound extended handshake advertising the
// local mapping.
func NewHandshake(m *Mapping, version string) *Handshake {
	h := &Handshake{
		M: make(map[string]int64, m.Size()),
		V: version,
	}

	for _, name := range m.Names() {
		id, _ := m.ID(name)
		h.M[name] = int64(id)
	}

	return h
}

// MarshalPayload bencodes the handshake for transmission inside the
// extension envelope under HandshakeID.
func (h *Handshake) MarshalPayload() ([]byte, error) {
	dict := map[string]interface{}{
		"m": h.M,
	}
	if h.V != "" {
		dict["v"] = h.V
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, dict); err != nil {
		return nil, fmt.Errorf("encoding extended handshake: %w", err)
	}

	return buf.Bytes(), nil
}

// ParsePayload decodes a peer's extended handshake payload. A missing
// "m" key is treated as an empty advertisement; anything that is not a
// dictionary of string to non-negative integer fails with
// ErrMalformedPayload.
func ParsePayload(payload []byte) (*Handshake, error) {
	decoded, err := bencode.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	dict, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: not a dictionary", ErrMalformedPayload)
	}

	h := &Handshake{M: make(map[string]int64)}

	if v, ok := dict["v"].(string); ok {
		h.V = v
	}

	mRaw, ok := dict["m"]
	if !ok {
		return h, nil
	}

	mDict, ok := mRaw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: \"m\" is not a dictionary", ErrMalformedPayload)
	}

	for name, raw := range mDict {
		id, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: %q maps to a non-integer", ErrMalformedPayload, name)
		}

		if id < 0 || id > 255 {
			return nil, fmt.Errorf("%w: %q maps to %d", ErrMalformedPayload, name, id)
		}

		h.M[name] = id
	}

	return h, nil
}

// PeerMapping is the peer-advertised extension assignment, scoped to a
// single connection. It is authoritative for interpreting inbound
// extension messages on that connection; the local Mapping is used for
// outbound encoding.
type PeerMapping struct {
	names map[uint8]string
	ids   map[string]uint8
}

// Resolve converts a parsed handshake into the connection's peer
// mapping. An advertised ID of 0 means the peer disabled that
// extension and is skipped.
func (h *Handshake) Resolve() *PeerMapping {
	pm := &PeerMapping{
		names: make(map[uint8]string, len(h.M)),
		ids:   make(map[string]uint8, len(h.M)),
	}

	for name, id := range h.M {
		if id == 0 {
			continue
		}

		pm.names[uint8(id)] = name
		pm.ids[name] = uint8(id)
	}

	return pm
}

// ResolvePayload parses a peer payload and resolves it in one step.
func ResolvePayload(payload []byte) (*PeerMapping, error) {
	h, err := ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	return h.Resolve(), nil
}

// Name returns the extension name the peer advertised under id.
func (pm *PeerMapping) Name(id uint8) (string, bool) {
	name, ok := pm.names[id]
	return name, ok
}

// ID returns the numeric ID the peer advertised for an extension name.
func (pm *PeerMapping) ID(name string) (uint8, bool) {
	id, ok := pm.ids[name]
	return id, ok
}

// Supports reports whether the peer advertised the extension at all.
func (pm *PeerMapping) Supports(name string) bool {
	_, ok := pm.ids[name]
	return ok
}

// Size returns the number of extensions the peer advertised.
func (pm *PeerMapping) Size() int {
	return len(pm.names)
}
