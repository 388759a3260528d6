package extended_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/btkit/bitwire/pkg/protocol/extended"
)

func TestMapping_AlphaSortedAssignment(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  map[string]uint8
	}{
		{
			name:  "empty set",
			names: nil,
			want:  map[string]uint8{},
		},
		{
			name:  "single name",
			names: []string{"ut_metadata"},
			want:  map[string]uint8{"ut_metadata": 1},
		},
		{
			name:  "already sorted",
			names: []string{"lt_donthave", "ut_metadata", "ut_pex"},
			want:  map[string]uint8{"lt_donthave": 1, "ut_metadata": 2, "ut_pex": 3},
		},
		{
			name:  "registration order irrelevant",
			names: []string{"ut_pex", "lt_donthave", "ut_metadata"},
			want:  map[string]uint8{"lt_donthave": 1, "ut_metadata": 2, "ut_pex": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := extended.NewMapping(tt.names)
			if err != nil {
				t.Fatalf("NewMapping: %v", err)
			}

			if m.Size() != len(tt.want) {
				t.Fatalf("size: got %d want %d", m.Size(), len(tt.want))
			}

			for name, wantID := range tt.want {
				id, ok := m.ID(name)
				if !ok || id != wantID {
					t.Fatalf("ID(%q) = %d,%v want %d", name, id, ok, wantID)
				}

				back, ok := m.Name(wantID)
				if !ok || back != name {
					t.Fatalf("Name(%d) = %q,%v want %q", wantID, back, ok, name)
				}
			}

			// ID 0 is reserved for the handshake and never assigned.
			if _, ok := m.Name(0); ok {
				t.Fatal("mapping assigned the reserved ID 0")
			}
		})
	}
}

func TestMapping_Idempotent(t *testing.T) {
	names := []string{"b", "a", "c"}

	first, err := extended.NewMapping(names)
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}

	second, err := extended.NewMapping([]string{"c", "b", "a"})
	if err != nil {
		t.Fatalf("NewMapping: %v", err)
	}

	for _, name := range names {
		a, _ := first.ID(name)

		b, _ := second.ID(name)
		if a != b {
			t.Fatalf("mapping not deterministic for %q: %d vs %d", name, a, b)
		}
	}
}

func TestMapping_TooManyNames(t *testing.T) {
	names := make([]string, 256)
	for i := range names {
		names[i] = fmt.Sprintf("ext_%03d", i)
	}

	_, err := extended.NewMapping(names)
	if !errors.Is(err, extended.ErrTooManyExtensions) {
		t.Fatalf("expected ErrTooManyExtensions, got %v", err)
	}
}
