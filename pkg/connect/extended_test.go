package connect_test

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btkit/bitwire/pkg/connect"
	"github.com/btkit/bitwire/pkg/peer"
)

// scriptedRemote accepts one connection, answers the base handshake
// with the extension bit set, runs the script, and then keeps the
// socket open until the other side hangs up.
func scriptedRemote(t *testing.T, ln net.Listener, infoHash [20]byte, script func(w *peer.Writer)) <-chan struct{} {
	t.Helper()

	done := make(chan struct{})

	go func() {
		defer close(done)

		nc, err := ln.Accept()
		if err != nil {
			return
		}

		defer nc.Close()

		buf := make([]byte, peer.HandshakeLen)
		if _, err := io.ReadFull(nc, buf); err != nil {
			return
		}

		b, err := peer.NewHandshake(infoHash, testID(9)).Marshal()
		if err != nil {
			return
		}

		if _, err := nc.Write(b); err != nil {
			return
		}

		script(peer.NewWriter(nc))
		io.Copy(io.Discard, nc)
	}()

	return done
}

// A peer whose extension advertisement is not a well-formed dictionary
// is treated as supporting no extensions; the connection itself goes
// through.
func TestExtendedBootstrap_MalformedAdvertisementNonFatal(t *testing.T) {
	infoHash := testID(0xAB)
	initiator := buildCoordinator(t, connect.FactoryConfig{
		PeerID:   testID(1),
		Torrents: newMemTorrents(infoHash),
	}, "a_ext")

	ln := listen(t)
	done := scriptedRemote(t, ln, infoHash, func(w *peer.Writer) {
		w.WriteExtended(0, []byte("i42e"))
	})

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	out, err := initiator.EstablishOutbound(context.Background(), nc, infoHash)
	require.NoError(t, err)
	require.Nil(t, out.Extensions())

	out.Close()
	<-done
}

// A peer that sends a non-zero extension ID before advertising its
// mapping violates negotiation ordering and is vetoed.
func TestExtendedBootstrap_ExtensionBeforeAdvertisementVetoes(t *testing.T) {
	infoHash := testID(0xAB)
	recorder := &memRecorder{}
	initiator := buildCoordinator(t, connect.FactoryConfig{
		PeerID:   testID(1),
		Torrents: newMemTorrents(infoHash),
		Recorder: recorder,
	}, "a_ext")

	ln := listen(t)
	done := scriptedRemote(t, ln, infoHash, func(w *peer.Writer) {
		w.WriteExtended(3, []byte("x"))
	})

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	_, err = initiator.EstablishOutbound(context.Background(), nc, infoHash)
	require.Error(t, err)
	require.NotErrorIs(t, err, connect.ErrHandshakeTimeout)
	require.ErrorContains(t, err, "before advertising")
	require.Equal(t, connect.StateFailed, recorder.last(t).State)

	<-done
}
