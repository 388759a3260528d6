package extended

import (
	"errors"
	"sort"
)

// ErrTooManyExtensions indicates more registered extension names than
// the single-byte extension ID space can hold.
var ErrTooManyExtensions = errors.New("more than 255 extension names")

// Mapping assigns each registered extension name a numeric ID for the
// lifetime of a connection epoch. Names are sorted lexicographically
// and assigned 1..N in order, so both ends of a connection derive the
// same mapping from the same name set independently. ID 0 is reserved
// for the extended handshake itself and is never assigned.
//
// The mapping is derived from the immutable extension registry, so it
// is computed once at startup and shared read-only by all connections.
type Mapping struct {
	ids   map[string]uint8
	names map[uint8]string
	order []string
}

// NewMapping builds the deterministic name-to-ID assignment for the
// given set of extension names. Rebuilding from the same set always
// yields the same assignment.
func NewMapping(names []string) (*Mapping, error) {
	if len(names) > 255 {
		return nil, ErrTooManyExtensions
	}

	order := make([]string, len(names))
	copy(order, names)
	sort.Strings(order)

	m := &Mapping{
		ids:   make(map[string]uint8, len(order)),
		names: make(map[uint8]string, len(order)),
		order: order,
	}

	for i, name := range order {
		id := uint8(i + 1)
		m.ids[name] = id
		m.names[id] = name
	}

	return m, nil
}

// ID returns the numeric ID assigned to an extension name.
func (m *Mapping) ID(name string) (uint8, bool) {
	id, ok := m.ids[name]
	return id, ok
}

// Name returns the extension name assigned a numeric ID.
func (m *Mapping) Name(id uint8) (string, bool) {
	name, ok := m.names[id]
	return name, ok
}

// Names returns the mapped extension names in assignment order.
func (m *Mapping) Names() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)

	return names
}

// Size returns the number of mapped extensions.
func (m *Mapping) Size() int {
	return len(m.order)
}
