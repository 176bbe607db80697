package mfs

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plcsim/go-mfs/telegram"
)

// testListener accepts loopback connections acting as the warehouse host side.
type testListener struct {
	ln    net.Listener
	conns chan net.Conn
}

func newTestListener(t *testing.T) *testListener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tl := &testListener{
		ln:    ln,
		conns: make(chan net.Conn, 4),
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			tl.conns <- conn
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })

	return tl
}

func (tl *testListener) port() int {
	return tl.ln.Addr().(*net.TCPAddr).Port
}

func (tl *testListener) accept(t *testing.T) net.Conn {
	t.Helper()

	select {
	case conn := <-tl.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound connection")
		return nil
	}
}

func newTestConnection(t *testing.T, opts ...ConnOption) *Connection {
	t.Helper()

	cfg, err := NewConnectionConfig(opts...)
	require.NoError(t, err)

	conn, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Disconnect() })

	return conn
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return nil
		}
	}
}

func TestConnection_NilConfig(t *testing.T) {
	_, err := NewConnection(context.Background(), nil)
	require.ErrorIs(t, err, ErrConnConfigNil)
}

func TestConnection_ValidationBeforeSocket(t *testing.T) {
	require := require.New(t)

	conn := newTestConnection(t)
	_, events := conn.Events().Subscribe()

	require.ErrorIs(conn.Connect("", 5000), ErrValidation)
	require.ErrorIs(conn.Connect("   ", 5000), ErrValidation)
	require.ErrorIs(conn.Connect("127.0.0.1", 0), ErrValidation)
	require.ErrorIs(conn.Connect("127.0.0.1", 65536), ErrValidation)

	// rejection happens before any socket; the state never leaves disconnected
	require.Equal(DisconnectedState, conn.State())

	ev := waitEvent(t, events, ErrorEventKind)
	require.ErrorIs(ev.(*ErrorEvent).Err, ErrValidation)
}

func TestConnection_ConnectRefused(t *testing.T) {
	require := require.New(t)

	// grab a free port and close it again so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(ln.Close())

	conn := newTestConnection(t, WithConnectTimeout(500*time.Millisecond))

	require.ErrorIs(conn.Connect("127.0.0.1", port), ErrConnectFailed)
	require.Equal(DisconnectedState, conn.State())
}

func TestConnection_SendAndReceive(t *testing.T) {
	require := require.New(t)

	tl := newTestListener(t)
	conn := newTestConnection(t, WithPollInterval(50*time.Millisecond))
	_, events := conn.Events().Subscribe()

	require.NoError(conn.Connect("127.0.0.1", tl.port()))
	require.Equal(ConnectedState, conn.State())

	statusEv := waitEvent(t, events, StatusEventKind)
	require.Equal(ConnectingState, statusEv.(*StatusEvent).State)
	statusEv = waitEvent(t, events, StatusEventKind)
	require.Equal(ConnectedState, statusEv.(*StatusEvent).State)

	peer := tl.accept(t)

	// outbound: Send queues, sender writes, peer reads the exact frame
	raw, err := telegram.NewMove("EWM-MFS", "PLC-SIM", 1, "TU0001", "BIN-01", "BIN-99", "05")
	require.NoError(err)
	require.NoError(conn.Send(raw))

	got := make([]byte, telegram.Length)
	require.NoError(peer.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, err = io.ReadFull(peer, got)
	require.NoError(err)
	require.Equal(raw, got)

	sentEv := waitEvent(t, events, SentEventKind)
	require.Equal(telegram.TypeMove, sentEv.(*SentEvent).Telegram.Type)
	require.Equal(uint64(1), conn.GetMetrics().TelegramSendCount.Load())

	// inbound: two frames split across odd chunk boundaries
	first, err := telegram.Encode(telegram.TypeLife, "01", "EWM-MFS", "PLC-SIM", 2, "")
	require.NoError(err)
	second, err := telegram.Encode(telegram.TypeLife, "01", "EWM-MFS", "PLC-SIM", 3, "")
	require.NoError(err)

	stream := append(append([]byte{}, first...), second...)
	for _, chunk := range [][]byte{stream[:50], stream[50:200], stream[200:]} {
		_, err = peer.Write(chunk)
		require.NoError(err)
	}

	recvEv := waitEvent(t, events, RecvEventKind)
	require.Equal(2, recvEv.(*RecvEvent).Telegram.Sequence)
	recvEv = waitEvent(t, events, RecvEventKind)
	require.Equal(3, recvEv.(*RecvEvent).Telegram.Sequence)
	require.Equal(uint64(2), conn.GetMetrics().TelegramRecvCount.Load())
}

func TestConnection_SendErrors(t *testing.T) {
	require := require.New(t)

	conn := newTestConnection(t)

	raw := make([]byte, telegram.Length)
	require.ErrorIs(conn.Send(raw), ErrNotConnected)
	require.ErrorIs(conn.Send(raw[:100]), telegram.ErrFraming)
}

func TestConnection_PeerClose(t *testing.T) {
	require := require.New(t)

	tl := newTestListener(t)
	conn := newTestConnection(t, WithPollInterval(50*time.Millisecond))
	_, events := conn.Events().Subscribe()

	require.NoError(conn.Connect("127.0.0.1", tl.port()))
	peer := tl.accept(t)
	require.NoError(peer.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(conn.WaitState(ctx, DisconnectedState))

	for {
		ev := waitEvent(t, events, StatusEventKind)
		if ev.(*StatusEvent).State == DisconnectedState {
			break
		}
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	require := require.New(t)

	tl := newTestListener(t)
	conn := newTestConnection(t)

	// disconnect before any connect is a no-op
	require.NoError(conn.Disconnect())

	require.NoError(conn.Connect("127.0.0.1", tl.port()))

	for range 3 {
		require.NoError(conn.Disconnect())
		require.Equal(DisconnectedState, conn.State())
	}
}

func TestConnection_ReconnectFreshSession(t *testing.T) {
	require := require.New(t)

	tl := newTestListener(t)
	conn := newTestConnection(t, WithPollInterval(50*time.Millisecond))
	_, events := conn.Events().Subscribe()

	require.NoError(conn.Connect("127.0.0.1", tl.port()))
	epoch1 := conn.Epoch()

	// leave a partial frame in flight, then tear the session down
	peer := tl.accept(t)
	_, err := peer.Write(make([]byte, 64))
	require.NoError(err)
	time.Sleep(200 * time.Millisecond)
	require.NoError(conn.Disconnect())

	require.NoError(conn.Connect("127.0.0.1", tl.port()))
	require.Greater(conn.Epoch(), epoch1)
	peer2 := tl.accept(t)

	// the stale half frame must not complete into a telegram; only the
	// whole frame of the new session is delivered
	raw, err := telegram.Encode(telegram.TypeLife, "01", "EWM-MFS", "PLC-SIM", 42, "")
	require.NoError(err)
	_, err = peer2.Write(raw)
	require.NoError(err)

	recvEv := waitEvent(t, events, RecvEventKind)
	require.Equal(42, recvEv.(*RecvEvent).Telegram.Sequence)
	require.Equal(telegram.TypeLife, recvEv.(*RecvEvent).Telegram.Type)
	require.False(recvEv.(*RecvEvent).Telegram.Degraded)
}
