package protocol_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chessrelay/internal/protocol"
)

func pipeFramer(t *testing.T) (*protocol.Framer, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	return protocol.NewFramer(server), client
}

func TestFramerRoundTrip(t *testing.T) {
	f, client := pipeFramer(t)

	go func() {
		client.Write([]byte("hello\x03world\x03"))
	}()

	msg, err := f.NextMessage()
	require.NoError(t, err)
	require.Equal(t, "hello", msg)

	msg, err = f.NextMessage()
	require.NoError(t, err)
	require.Equal(t, "world", msg)
}

func TestFramerRetainsPartialTail(t *testing.T) {
	f, client := pipeFramer(t)

	go func() {
		client.Write([]byte("par"))
		time.Sleep(10 * time.Millisecond)
		client.Write([]byte("tial\x03"))
	}()

	msg, err := f.NextMessage()
	require.NoError(t, err)
	require.Equal(t, protocol.Incomplete, msg)
	require.Greater(t, f.Pending(), 0)

	msg, err = f.NextMessage()
	require.NoError(t, err)
	require.Equal(t, "partial", msg)
}

func TestFramerClosedPeer(t *testing.T) {
	f, client := pipeFramer(t)
	client.Close()

	_, err := f.NextMessage()
	require.Error(t, err)
}
