package sim

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plcsim/go-mfs/logger"
	"github.com/plcsim/go-mfs/mfs"
	"github.com/plcsim/go-mfs/telegram"
)

func TestMain(m *testing.M) {
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	os.Exit(m.Run())
}

// simHarness couples a loopback listener, a connected mfs.Connection and a
// started Simulator acting as the device under test.
type simHarness struct {
	conn *mfs.Connection
	sim  *Simulator
	peer net.Conn
}

func newSimHarness(t *testing.T, opts ...SimOption) *simHarness {
	t.Helper()
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	cfg, err := mfs.NewConnectionConfig(mfs.WithPollInterval(50 * time.Millisecond))
	require.NoError(err)

	conn, err := mfs.NewConnection(context.Background(), cfg)
	require.NoError(err)
	t.Cleanup(func() { _ = conn.Disconnect() })

	sim, err := NewSimulator(context.Background(), conn, opts...)
	require.NoError(err)
	require.NoError(sim.Start())
	t.Cleanup(sim.Stop)

	require.NoError(conn.Connect("127.0.0.1", ln.Addr().(*net.TCPAddr).Port))

	var peer net.Conn
	select {
	case peer = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound connection")
	}
	t.Cleanup(func() { _ = peer.Close() })

	return &simHarness{conn: conn, sim: sim, peer: peer}
}

// readFrame reads one whole telegram frame from the peer side.
func (h *simHarness) readFrame(t *testing.T, timeout time.Duration) *telegram.Telegram {
	t.Helper()

	raw := make([]byte, telegram.Length)
	require.NoError(t, h.peer.SetReadDeadline(time.Now().Add(timeout)))

	_, err := io.ReadFull(h.peer, raw)
	require.NoError(t, err)

	return telegram.Decode(raw)
}

// writeTelegram injects one host telegram into the device.
func (h *simHarness) writeTelegram(t *testing.T, raw []byte) {
	t.Helper()

	_, err := h.peer.Write(raw)
	require.NoError(t, err)
}

func TestSimulator_AutoPong(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithPongDelay(50*time.Millisecond))

	ping, err := telegram.NewLife("EWM-MFS", "PLC-SIM", 1, false)
	require.NoError(err)
	h.writeTelegram(t, ping)

	pong := h.readFrame(t, 2*time.Second)
	require.Equal(telegram.TypeLife, pong.Type)
	require.True(pong.IsPong())
	require.Equal("PLC-SIM", pong.Source)
	require.Equal("EWM-MFS", pong.Destination)
	require.Equal(1, pong.Sequence)
}

func TestSimulator_AutoPongBareLife(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithPongDelay(50*time.Millisecond))

	// some hosts probe with a LIFE frame carrying no data at all
	bare, err := telegram.Encode(telegram.TypeLife, "00", "EWM-MFS", "PLC-SIM", 7, "")
	require.NoError(err)
	h.writeTelegram(t, bare)

	pong := h.readFrame(t, 2*time.Second)
	require.Equal(telegram.TypeLife, pong.Type)
	require.True(pong.IsPong())
}

func TestSimulator_AutoPongIgnoresInboundPong(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithPongDelay(10*time.Millisecond))

	pong, err := telegram.NewLife("EWM-MFS", "PLC-SIM", 3, true)
	require.NoError(err)
	h.writeTelegram(t, pong)

	raw := make([]byte, telegram.Length)
	require.NoError(h.peer.SetReadDeadline(time.Now().Add(300 * time.Millisecond)))
	_, err = io.ReadFull(h.peer, raw)
	require.Error(err)
	require.Zero(h.sim.Journal().TxCount())
}

func TestSimulator_PongRateLimit(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithPongDelay(10*time.Millisecond))

	// a burst of pings inside 200ms earns at most one pong in the
	// following second
	for seq := 1; seq <= 5; seq++ {
		ping, err := telegram.NewLife("EWM-MFS", "PLC-SIM", seq, false)
		require.NoError(err)
		h.writeTelegram(t, ping)
		time.Sleep(40 * time.Millisecond)
	}

	pongs := 0
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		raw := make([]byte, telegram.Length)
		_ = h.peer.SetReadDeadline(deadline)

		if _, err := io.ReadFull(h.peer, raw); err != nil {
			break
		}

		if telegram.Decode(raw).IsPong() {
			pongs++
		}
	}

	require.Equal(1, pongs)
}

func TestSimulator_AutoConfirm(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithConfirmDelay(50*time.Millisecond))

	move, err := telegram.NewMove("EWM-MFS", "PLC-SIM", 9, "TU0001", "BIN-01", "BIN-99", "05")
	require.NoError(err)
	h.writeTelegram(t, move)

	confirm := h.readFrame(t, 2*time.Second)
	require.Equal(telegram.TypeConfirm, confirm.Type)

	fields := confirm.Confirm()
	require.Equal("TU0001", fields.TransferUnit)
	require.Equal("BIN-99", fields.Bin)
	require.Equal(telegram.StatusDone, fields.Status)
	require.Len(fields.Timestamp, 14)

	// journal relates the order and its confirmation
	require.Eventually(func() bool {
		entries := h.sim.Journal().Snapshot()
		var req, ack bool
		for _, entry := range entries {
			switch entry.Handshake {
			case HandshakeReq:
				req = entry.Dir == DirRX
			case HandshakeAck:
				ack = entry.Dir == DirTX
			}
		}
		return req && ack
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSimulator_AutoConfirmDisabled(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithAutoConfirm(false), WithConfirmDelay(10*time.Millisecond))

	move, err := telegram.NewMove("EWM-MFS", "PLC-SIM", 9, "TU0001", "BIN-01", "BIN-99", "05")
	require.NoError(err)
	h.writeTelegram(t, move)

	raw := make([]byte, telegram.Length)
	require.NoError(h.peer.SetReadDeadline(time.Now().Add(300 * time.Millisecond)))
	_, err = io.ReadFull(h.peer, raw)
	require.Error(err)
}

func TestSimulator_SequenceNumbering(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t)

	require.NoError(h.sim.SendLifePing())
	require.NoError(h.sim.SendLifePing())

	first := h.readFrame(t, 2*time.Second)
	second := h.readFrame(t, 2*time.Second)
	require.Equal(1, first.Sequence)
	require.Equal(2, second.Sequence)
	require.Equal(2, h.sim.Sequence())
}

func TestSimulator_ManualSends(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithAutoConfirm(false))

	move, err := telegram.NewMove("EWM-MFS", "PLC-SIM", 3, "TU0042", "BIN-01", "BIN-07", "01")
	require.NoError(err)
	moveTg := telegram.Decode(move)

	require.NoError(h.sim.ConfirmFor(moveTg))
	confirm := h.readFrame(t, 2*time.Second)
	require.Equal(telegram.TypeConfirm, confirm.Type)
	require.Equal("TU0042", confirm.Confirm().TransferUnit)
	require.Equal("BIN-07", confirm.Confirm().Bin)

	require.NoError(h.sim.ErrorFor(moveTg))
	errTg := h.readFrame(t, 2*time.Second)
	require.Equal(telegram.TypeError, errTg.Type)
	require.Equal("E001", errTg.ErrorInfo().Code)
	require.Equal("Manual error for TU TU0042", errTg.ErrorInfo().Message)

	require.NoError(h.sim.SendManual(telegram.Type("ZZ"), "07", "payload", "REQ"))
	unknown := h.readFrame(t, 2*time.Second)
	require.Equal(telegram.Type("ZZ"), unknown.Type)
	require.Equal("07", unknown.SubType)

	// the handshake tag lands on the manual send's journal entry
	require.Eventually(func() bool {
		for _, entry := range h.sim.Journal().Snapshot() {
			if entry.Dir == DirTX && entry.Telegram != nil &&
				entry.Telegram.Type == telegram.Type("ZZ") {
				return entry.Handshake == "REQ"
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSimulator_StaleTimerAfterDisconnect(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithConfirmDelay(300*time.Millisecond))

	move, err := telegram.NewMove("EWM-MFS", "PLC-SIM", 9, "TU0001", "BIN-01", "BIN-99", "05")
	require.NoError(err)
	h.writeTelegram(t, move)

	// tear the session down before the confirm delay elapses
	require.Eventually(func() bool {
		return h.sim.Journal().RxCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(h.conn.Disconnect())

	time.Sleep(500 * time.Millisecond)

	// the scheduled confirmation observed the ended session and did nothing
	require.Zero(h.sim.Journal().TxCount())
	for _, entry := range h.sim.Journal().Snapshot() {
		require.NotEqual(DirTX, entry.Dir)
	}
}

func TestSimulator_StopCancelsPendingReplies(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithConfirmDelay(300*time.Millisecond))

	move, err := telegram.NewMove("EWM-MFS", "PLC-SIM", 9, "TU0001", "BIN-01", "BIN-99", "05")
	require.NoError(err)
	h.writeTelegram(t, move)

	require.Eventually(func() bool {
		return h.sim.Journal().RxCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// the connection stays up; stopping the simulator alone must cancel
	// the scheduled confirmation
	h.sim.Stop()

	time.Sleep(500 * time.Millisecond)

	require.Zero(h.sim.Journal().TxCount())
}

func TestSimulator_AutoLife(t *testing.T) {
	require := require.New(t)

	h := newSimHarness(t, WithAutoLife(false))

	h.sim.SetAutoLife(true, 0)

	// auto-life sends immediately on enable, then on the interval
	ping := h.readFrame(t, 2*time.Second)
	require.Equal(telegram.TypeLife, ping.Type)
	require.True(ping.IsPing())

	h.sim.SetAutoLife(false, 0)

	// with the interval stopped nothing further arrives; the minimum
	// interval of one second keeps this window quiet even if it had not
	// stopped in time
	raw := make([]byte, telegram.Length)
	require.NoError(h.peer.SetReadDeadline(time.Now().Add(300 * time.Millisecond)))
	_, err := io.ReadFull(h.peer, raw)
	require.Error(err)
}

func TestSimulator_NilConnection(t *testing.T) {
	_, err := NewSimulator(context.Background(), nil)
	require.ErrorIs(t, err, ErrConnNil)
}

func TestSimulator_OptionValidation(t *testing.T) {
	require := require.New(t)

	cfg, err := mfs.NewConnectionConfig()
	require.NoError(err)
	conn, err := mfs.NewConnection(context.Background(), cfg)
	require.NoError(err)

	_, err = NewSimulator(context.Background(), conn, WithDeviceID(""))
	require.Error(err)

	_, err = NewSimulator(context.Background(), conn, WithPongDelay(-time.Second))
	require.Error(err)

	_, err = NewSimulator(context.Background(), conn, WithJournalCap(0))
	require.Error(err)

	// sub-second life intervals are raised to the minimum
	s, err := NewSimulator(context.Background(), conn, WithLifeInterval(100*time.Millisecond))
	require.NoError(err)
	require.Equal(MinLifeInterval, time.Duration(s.lifeInterval.Load()))
}
