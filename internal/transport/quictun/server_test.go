package quictun

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/tundralabs/tundra/internal/core"
	"github.com/tundralabs/tundra/internal/transport/framed"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(0, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dialStream(t *testing.T, s *Server) (*quic.Conn, *quic.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, port, err := net.SplitHostPort(s.Addr().String())
	require.NoError(t, err)
	conn, err := quic.DialAddr(ctx, net.JoinHostPort("127.0.0.1", port), &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseWithError(0, "test done") })

	stream, err := conn.OpenStreamSync(ctx)
	require.NoError(t, err)
	return conn, stream
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

	_, stream := dialStream(t, s)
	require.NoError(t, framed.WriteFrame(stream, []byte("HELLO")))
	waitState(t, s, core.StateConnected)

	select {
	case pkt := <-s.Packets():
		require.Equal(t, []byte("HELLO"), pkt)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestSendDeliversFramedPacket(t *testing.T) {
	s := startServer(t)
	waitState(t, s, core.StateListening)

	_, stream := dialStream(t, s)
	// The server claims the slot once the stream carries data.
	require.NoError(t, framed.WriteFrame(stream, []byte{0x01}))
	waitState(t, s, core.StateConnected)
	<-s.Packets()

	require.NoError(t, s.Send([]byte("PONG")))

	got, err := framed.ReadFrame(stream)
	require.NoError(t, err)
	require.Equal(t, []byte("PONG"), got)
}

func TestServerRejectsSecondConnection(t *testing.T) {
	s := startServer(t)
	waitState(t, s, core.StateListening)

	conn1, stream1 := dialStream(t, s)
	require.NoError(t, framed.WriteFrame(stream1, []byte("ONE")))
	waitState(t, s, core.StateConnected)
	require.Equal(t, []byte("ONE"), recvPacket(t, s))

	// The second peer is refused with the busy close code.
	conn2, stream2 := dialStream(t, s)
	require.NoError(t, framed.WriteFrame(stream2, []byte("TWO")))
	select {
	case <-conn2.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("second peer was not closed")
	}
	var appErr *quic.ApplicationError
	require.ErrorAs(t, context.Cause(conn2.Context()), &appErr)
	require.Equal(t, codeBusy, appErr.ErrorCode)

	// The first connection is unaffected.
	require.NoError(t, framed.WriteFrame(stream1, []byte("STILL")))
	require.Equal(t, []byte("STILL"), recvPacket(t, s))
	select {
	case <-conn1.Context().Done():
		t.Fatal("first peer must stay connected")
	default:
	}
}

func TestServerAbandonsConnectionOnFramingViolation(t *testing.T) {
	s := startServer(t)
	waitState(t, s, core.StateListening)

	conn, stream := dialStream(t, s)
	require.NoError(t, framed.WriteFrame(stream, []byte("HI")))
	waitState(t, s, core.StateConnected)
	require.Equal(t, []byte("HI"), recvPacket(t, s))

	// Header claiming 4097 bytes.
	_, err := stream.Write([]byte{0x00, 0x00, 0x10, 0x01})
	require.NoError(t, err)

	// The connection is closed without any packet emission and the
	// transport returns to listening.
	select {
	case <-conn.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("violating peer was not closed")
	}
	select {
	case pkt := <-s.Packets():
		t.Fatalf("unexpected packet %q after framing violation", pkt)
	default:
	}
	waitState(t, s, core.StateListening)

	// A fresh peer can connect again.
	_, stream2 := dialStream(t, s)
	require.NoError(t, framed.WriteFrame(stream2, []byte{0x42}))
	waitState(t, s, core.StateConnected)
	require.Equal(t, []byte{0x42}, recvPacket(t, s))
}

func TestSendWithoutConnection(t *testing.T) {
	s := startServer(t)
	require.ErrorIs(t, s.Send([]byte{0x01}), core.ErrNoActiveConnection)
}

func TestStopStartCycle(t *testing.T) {
	s := NewServer(0, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	waitState(t, s, core.StateListening)

	// Buffer a payload that nobody consumes before Stop.
	_, stream := dialStream(t, s)
	require.NoError(t, framed.WriteFrame(stream, []byte("LATE")))
	waitState(t, s, core.StateConnected)
	require.Eventually(t, func() bool {
		return len(s.Packets()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop() // idempotent

	// A fresh listener comes up with no residual packets.
	require.NoError(t, s.Start())
	waitState(t, s, core.StateListening)
	require.NotNil(t, s.Addr())
	select {
	case pkt := <-s.Packets():
		t.Fatalf("restarted transport delivered residual packet %q", pkt)
	default:
	}
}
