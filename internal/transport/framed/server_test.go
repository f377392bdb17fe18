package framed

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tundralabs/tundra/internal/core"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(0, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	_, port, err := net.SplitHostPort(s.Addr().String())
	require.NoError(t, err)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitState(t *testing.T, s *Server, want core.ConnState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-s.States():
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func recvPacket(t *testing.T, s *Server) []byte {
	t.Helper()
	select {
	case pkt := <-s.Packets():
		return pkt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func TestServerReceivesFrames(t *testing.T) {
	s := startServer(t)
	waitState(t, s, core.StateListening)

	conn := dial(t, s)
	waitState(t, s, core.StateConnected)

	_, err := conn.Write([]byte{0x00, 0x00, 0x00, 0x05, 'H', 'E', 'L', 'L', 'O'})
	require.NoError(t, err)
	require.Equal(t, []byte("HELLO"), recvPacket(t, s))

	// The read loop restarts by itself after every frame.
	_, err = conn.Write([]byte{0x00, 0x00, 0x00, 0x05, 'W', 'O', 'R', 'L', 'D'})
	require.NoError(t, err)
	require.Equal(t, []byte("WORLD"), recvPacket(t, s))
}

func TestServerAbandonsConnectionOnFramingViolation(t *testing.T) {
	s := startServer(t)
	waitState(t, s, core.StateListening)

	conn := dial(t, s)
	waitState(t, s, core.StateConnected)

	// Header claiming 4097 bytes.
	_, err := conn.Write([]byte{0x00, 0x00, 0x10, 0x01})
	require.NoError(t, err)

	// The connection is closed without any packet emission and the
	// transport returns to listening.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	select {
	case pkt := <-s.Packets():
		t.Fatalf("unexpected packet %q after framing violation", pkt)
	default:
	}
	waitState(t, s, core.StateListening)

	// A fresh peer can connect again.
	conn2 := dial(t, s)
	waitState(t, s, core.StateConnected)
	_, err = conn2.Write([]byte{0x00, 0x00, 0x00, 0x01, 0x42})
	require.NoError(t, err)
	require.Equal(t, []byte{0x42}, recvPacket(t, s))
}

func TestServerRejectsSecondConnection(t *testing.T) {
	s := startServer(t)
	waitState(t, s, core.StateListening)

	conn1 := dial(t, s)
	waitState(t, s, core.StateConnected)

	conn2 := dial(t, s)
	conn2.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := conn2.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF, "second peer must be closed immediately")

	// The first connection is unaffected.
	_, err = conn1.Write([]byte{0x00, 0x00, 0x00, 0x02, 0xca, 0xfe})
	require.NoError(t, err)
	require.Equal(t, []byte{0xca, 0xfe}, recvPacket(t, s))
}

func TestSendWithoutConnection(t *testing.T) {
	s := startServer(t)
	err := s.Send([]byte{0x01})
	require.ErrorIs(t, err, core.ErrNoActiveConnection)
}

func TestSendRejectsOutOfRangePayload(t *testing.T) {
	s := startServer(t)
	require.ErrorIs(t, s.Send(nil), core.ErrFrameLength)
	require.ErrorIs(t, s.Send(make([]byte, MaxPayload+1)), core.ErrFrameLength)
}

func TestSendDeliversFramedPacket(t *testing.T) {
	s := startServer(t)
	waitState(t, s, core.StateListening)

	conn := dial(t, s)
	waitState(t, s, core.StateConnected)

	require.NoError(t, s.Send([]byte("HELLO")))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make([]byte, 9)
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x05, 'H', 'E', 'L', 'L', 'O'}, got)
}

func TestStopStartCycle(t *testing.T) {
	s := NewServer(0, nil)
	require.NoError(t, s.Start())
	waitState(t, s, core.StateListening)

	conn := dial(t, s)
	waitState(t, s, core.StateConnected)

	s.Stop()
	s.Stop() // idempotent
	waitState(t, s, core.StateIdle)
	require.Nil(t, s.Addr())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err, "stop must cancel the active connection")

	// A fresh listener comes up with no residual connection.
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	waitState(t, s, core.StateListening)
	_, _, connected := s.Peer()
	require.False(t, connected)

	conn2 := dial(t, s)
	waitState(t, s, core.StateConnected)
	_, err = conn2.Write([]byte{0x00, 0x00, 0x00, 0x01, 0x07})
	require.NoError(t, err)
	require.Equal(t, []byte{0x07}, recvPacket(t, s))
}

func TestRestartDropsBufferedPackets(t *testing.T) {
	s := NewServer(0, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	waitState(t, s, core.StateListening)

	conn := dial(t, s)
	waitState(t, s, core.StateConnected)

	// Buffer a payload that nobody consumes before Stop.
	_, err := conn.Write([]byte{0x00, 0x00, 0x00, 0x04, 'L', 'A', 'T', 'E'})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(s.Packets()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	require.NoError(t, s.Start())
	waitState(t, s, core.StateListening)

	select {
	case pkt := <-s.Packets():
		t.Fatalf("restarted transport delivered residual packet %q", pkt)
	default:
	}

	conn2 := dial(t, s)
	waitState(t, s, core.StateConnected)
	_, err = conn2.Write([]byte{0x00, 0x00, 0x00, 0x05, 'F', 'R', 'E', 'S', 'H'})
	require.NoError(t, err)
	require.Equal(t, []byte("FRESH"), recvPacket(t, s))
}

func TestStartRejectsBusyPort(t *testing.T) {
	s1 := startServer(t)
	_, port, err := net.SplitHostPort(s1.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	s2 := NewServer(p, nil)
	err = s2.Start()
	require.ErrorIs(t, err, core.ErrListenerCreation)
}
