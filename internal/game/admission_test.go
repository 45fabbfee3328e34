package game

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chessrelay/internal/protocol"
)

func TestBindUsesRequestedPortWhenFree(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Bind())
	t.Cleanup(func() { s.listener.Close() })

	assert.NotEmpty(t, s.BoundAddress())
}

func TestBindRetriesSuccessorPorts(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { occupied.Close() })
	port := occupied.Addr().(*net.TCPAddr).Port

	s := NewServer(Config{Host: "127.0.0.1", Port: port, Authentication: "auth"}, nil)
	require.NoError(t, s.Bind())
	t.Cleanup(func() { s.listener.Close() })

	chosen := s.listener.Addr().(*net.TCPAddr).Port
	assert.Greater(t, chosen, port)
	assert.Less(t, chosen, port+MaxBindAttempts)
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := newTestServer(t)
	require.NoError(t, s.Bind())
	go s.Serve()
	t.Cleanup(func() {
		s.RequestStop()
		s.listener.Close()
	})
	return s
}

func dialServer(t *testing.T, s *Server) (net.Conn, *protocol.Framer) {
	t.Helper()
	conn, err := net.Dial("tcp", s.BoundAddress())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn, protocol.NewFramer(conn)
}

func TestHandshakeAdmitsNewUser(t *testing.T) {
	s := startTestServer(t)
	conn, f := dialServer(t, s)

	_, err := conn.Write([]byte("auth\x03%NAME alice\x03myPw\x03"))
	require.NoError(t, err)

	msg, err := f.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, "WELCOME alice", msg)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.allUsers) == 1 && len(s.userWaitLoop) == 1 && s.ipAddresses["127.0.0.1"] == 1
	}, time.Second, 10*time.Millisecond)

	s.mergeWaitLoop()
	assert.Len(t, s.onlineUsers, 1)
}

func TestHandshakeRejectsBadSecret(t *testing.T) {
	s := startTestServer(t)
	conn, f := dialServer(t, s)

	_, err := conn.Write([]byte("wrong-secret\x03"))
	require.NoError(t, err)

	msg, err := f.NextMessage()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "%INFO "), "got %q", msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.allUsers)
}

func TestHandshakeRejectsWrongPassword(t *testing.T) {
	s := startTestServer(t)

	conn, f := dialServer(t, s)
	_, err := conn.Write([]byte("auth\x03%NAME bob\x03rightPw\x03"))
	require.NoError(t, err)
	msg, err := f.NextMessage()
	require.NoError(t, err)
	require.Equal(t, "WELCOME bob", msg)
	conn.Close()

	// Sign the first connection off so the name is free to reconnect.
	require.Eventually(t, func() bool {
		s.mergeWaitLoop()
		return len(s.onlineUsers) == 1
	}, time.Second, 10*time.Millisecond)
	s.signOff(s.findOnlineByName("bob"))

	conn2, f2 := dialServer(t, s)
	_, err = conn2.Write([]byte("auth\x03%NAME bob\x03wrongPw\x03"))
	require.NoError(t, err)
	msg, err = f2.NextMessage()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "%INFO "), "got %q", msg)
}

func TestHandshakeRejectsDuplicateOnlineName(t *testing.T) {
	s := startTestServer(t)

	conn, f := dialServer(t, s)
	_, err := conn.Write([]byte("auth\x03%NAME carol\x03pw\x03"))
	require.NoError(t, err)
	msg, err := f.NextMessage()
	require.NoError(t, err)
	require.Equal(t, "WELCOME carol", msg)

	require.Eventually(t, func() bool {
		s.mergeWaitLoop()
		return len(s.onlineUsers) == 1
	}, time.Second, 10*time.Millisecond)

	conn2, f2 := dialServer(t, s)
	_, err = conn2.Write([]byte("auth\x03%NAME carol\x03pw\x03"))
	require.NoError(t, err)
	msg, err = f2.NextMessage()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "%INFO "), "got %q", msg)
}

func TestAdminShortcutPromotesConnection(t *testing.T) {
	s := startTestServer(t)
	conn, f := dialServer(t, s)

	_, err := conn.Write([]byte("adminauth\x03"))
	require.NoError(t, err)

	msg, err := f.NextMessage()
	require.NoError(t, err)
	assert.Contains(t, msg, "database:")
	assert.Contains(t, msg, "program version:")

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.admin != nil
	}, time.Second, 10*time.Millisecond)
}

func TestAdminCollisionReplacesPriorAdmin(t *testing.T) {
	s := startTestServer(t)

	conn1, f1 := dialServer(t, s)
	_, err := conn1.Write([]byte("adminauth\x03"))
	require.NoError(t, err)
	_, err = f1.NextMessage()
	require.NoError(t, err)

	conn2, f2 := dialServer(t, s)
	_, err = conn2.Write([]byte("adminauth\x03"))
	require.NoError(t, err)
	msg, err := f2.NextMessage()
	require.NoError(t, err)
	assert.Contains(t, msg, "database:")

	// The first admin socket is notified then closed; subsequent reads
	// drain the collision notice and then fail.
	conn1.SetReadDeadline(time.Now().Add(time.Second))
	for {
		m, err := f1.NextMessage()
		if err != nil {
			break
		}
		if m == "ERROR: ADMIN SIGNED IN TWICE" {
			break
		}
	}
}
