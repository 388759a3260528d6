package connect_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btkit/bitwire/pkg/connect"
	"github.com/btkit/bitwire/pkg/peer"
)

// newTestConn wraps one end of an in-memory pipe for handlers that only
// need connection identity, not traffic.
func newTestConn(t *testing.T) *peer.Conn {
	t.Helper()

	client, server := net.Pipe()
	c := peer.Wrap(client, [20]byte{})

	t.Cleanup(func() {
		c.Close()
		server.Close()
	})

	return c
}

func stepRecorder(order *[]string, name string, err error) connect.ConnectionHandler {
	return connect.ConnectionHandlerFunc(func(_ context.Context, _ *peer.Conn) error {
		*order = append(*order, name)
		return err
	})
}

func TestChain_RunsInRegistrationOrder(t *testing.T) {
	var order []string

	ch := connect.NewChain(
		[]connect.ConnectionHandler{
			stepRecorder(&order, "first", nil),
			stepRecorder(&order, "second", nil),
		},
		stepRecorder(&order, "default-a", nil),
		stepRecorder(&order, "default-b", nil),
	)

	require.Equal(t, 4, ch.Len())
	require.NoError(t, ch.Run(context.Background(), newTestConn(t)))
	require.Equal(t, []string{"first", "second", "default-a", "default-b"}, order)
}

func TestChain_FirstErrorStopsEverything(t *testing.T) {
	var order []string

	veto := errors.New("access denied")

	ch := connect.NewChain(
		[]connect.ConnectionHandler{
			stepRecorder(&order, "gate", veto),
		},
		stepRecorder(&order, "default-a", nil),
		stepRecorder(&order, "default-b", nil),
	)

	err := ch.Run(context.Background(), newTestConn(t))
	require.ErrorIs(t, err, veto)

	// A veto means the defaults never ran.
	require.Equal(t, []string{"gate"}, order)
}

func TestChain_DefaultErrorStillStops(t *testing.T) {
	var order []string

	boom := errors.New("negotiation broke")

	ch := connect.NewChain(
		nil,
		stepRecorder(&order, "default-a", boom),
		stepRecorder(&order, "default-b", nil),
	)

	require.ErrorIs(t, ch.Run(context.Background(), newTestConn(t)), boom)
	require.Equal(t, []string{"default-a"}, order)
}

func TestChain_StopsOnCancelledContext(t *testing.T) {
	var order []string

	ctx, cancel := context.WithCancel(context.Background())

	ch := connect.NewChain([]connect.ConnectionHandler{
		connect.ConnectionHandlerFunc(func(_ context.Context, _ *peer.Conn) error {
			order = append(order, "first")
			cancel()

			return nil
		}),
		stepRecorder(&order, "second", nil),
	})

	require.ErrorIs(t, ch.Run(ctx, newTestConn(t)), context.Canceled)
	require.Equal(t, []string{"first"}, order)
}
