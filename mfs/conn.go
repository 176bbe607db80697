package mfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plcsim/go-mfs/internal/pool"
	"github.com/plcsim/go-mfs/logger"
	"github.com/plcsim/go-mfs/telegram"
)

// recvChunkSize is the scratch buffer size of one receive-loop read.
const recvChunkSize = 4096

// Connection manages one TCP connection to an SAP EWM MFS host. It owns the
// socket exclusively: an independent sender task drains the outbound queue
// and a receiver task reassembles inbound bytes into whole telegram frames,
// publishing everything that happens as events through the Dispatcher.
//
// A Connection is reusable: after a session ends (Disconnect, peer close or
// stream error) Connect may be called again. Each session gets a new epoch;
// consumers scheduling delayed work against a session should capture Epoch()
// and re-check it when their timers fire.
type Connection struct {
	pctx      context.Context
	ctx       context.Context
	ctxCancel context.CancelFunc
	ctxMutex  sync.RWMutex
	cfg       *ConnectionConfig
	logger    logger.Logger

	conn      net.Conn   // TCP connection
	connMutex sync.Mutex // TCP connection mutex
	opMutex   sync.Mutex // serializes Connect/Disconnect

	stateMgr      *ConnStateMgr
	taskMgr       *TaskManager
	shutdown      atomic.Bool // indicates if has entered shutdown mode
	sessionClosed atomic.Bool // guards closeConn to run once per session
	epoch         atomic.Uint64

	asm        *frameAssembler
	sendChan   chan []byte
	dispatcher *Dispatcher

	metrics ConnectionMetrics // connection metrics
}

// NewConnection creates a new MFS Connection with the given context and
// configuration. It initializes the connection state, task manager, and
// other necessary components. No socket is opened until Connect is called.
// Returns an error if the configuration is invalid or if initialization fails.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	conn := &Connection{
		cfg:      cfg,
		pctx:     ctx,
		logger:   cfg.logger,
		sendChan: make(chan []byte, cfg.sendQueueSize),
		asm:      newFrameAssembler(cfg.recvBufferFrames),
		taskMgr:  NewTaskManager(ctx, cfg.logger),
	}
	conn.dispatcher = NewDispatcher(cfg.eventQueueSize, &conn.metrics, cfg.logger)
	conn.createContext()

	// nothing to tear down before the first session
	conn.sessionClosed.Store(true)

	conn.stateMgr = NewConnStateMgr(ctx, cfg.logger, conn.connStateHandler, conn.statusEventHandler)

	return conn, nil
}

// Events returns the dispatcher carrying this connection's event stream.
func (c *Connection) Events() *Dispatcher {
	return c.dispatcher
}

// GetLogger returns the logger associated with the MFS connection.
func (c *Connection) GetLogger() logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics associated with the MFS connection.
func (c *Connection) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	return c.stateMgr.State()
}

// WaitState waits until the connection reaches the given state or ctx is done.
func (c *Connection) WaitState(ctx context.Context, state ConnState) error {
	return c.stateMgr.WaitState(ctx, state)
}

// Epoch returns the identity of the current session. It increments on every
// Connect, so delayed work scheduled against a session can detect that the
// session has ended.
func (c *Connection) Epoch() uint64 {
	return c.epoch.Load()
}

// Connect validates the endpoint and establishes a TCP session to host:port.
//
// Validation failures are reported as an error event before any socket is
// opened. If a previous session is still alive it is fully stopped, joined
// and drained first, so exactly one session is active afterwards and no stale
// events or frames from the old session reach the new one.
//
// On success the connection is in ConnectedState with both loops running.
// On dial failure the connection reports the error and returns to
// DisconnectedState; the caller may retry.
func (c *Connection) Connect(host string, port int) error {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	if err := validateEndpoint(host, port); err != nil {
		c.logger.Warn("endpoint rejected", "host", host, "port", port, "error", err)
		c.dispatcher.Publish(NewErrorEvent(err))

		return err
	}

	if !c.stateMgr.IsDisconnected() {
		c.disconnectLocked()
	}

	// reconnect discipline: no residue of the previous session may leak
	c.dispatcher.DrainAll()
	c.drainSendChan()

	c.epoch.Add(1)
	c.shutdown.Store(false)
	c.sessionClosed.Store(false)
	c.createContext()
	c.asm.Reset()

	if err := c.stateMgr.ToConnecting(); err != nil {
		return err
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	dialCtx, cancel := context.WithTimeout(c.getContext(), c.cfg.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		c.metrics.incConnRetryCount()
		cerr := fmt.Errorf("%w: %w", ErrConnectFailed, err)
		c.logger.Error("failed to connect to remote", "host", host, "port", port, "error", err)

		_ = c.stateMgr.ToError()
		c.dispatcher.Publish(NewErrorEvent(cerr))
		c.closeConn(c.cfg.closeTimeout)
		c.stateMgr.ToDisconnected()

		return cerr
	}

	c.connMutex.Lock()
	c.conn = conn
	c.connMutex.Unlock()

	if err := c.taskMgr.StartSender("senderTask", c.senderTask, nil, c.sendChan); err != nil {
		return c.failStartup(err)
	}

	if err := c.taskMgr.StartReceiver("receiverTask", recvChunkSize, c.receiverTask, c.cancelReceiverTask); err != nil {
		return c.failStartup(err)
	}

	c.logger.Info("connected to the remote",
		"host", host,
		"port", port,
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", conn.RemoteAddr().String(),
	)

	_ = c.stateMgr.ToConnected()

	return nil
}

// Disconnect stops the session, joins both loops, and closes the socket.
// It is idempotent and safe to call in any state; it returns after the full
// teardown finished and the disconnected status has been published.
func (c *Connection) Disconnect() error {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	c.disconnectLocked()

	return nil
}

// Send queues one 128-byte telegram frame for transmission.
//
// It fails fast with ErrNotConnected while no session is established, and
// with ErrSendTimeout when the outbound queue stays full for the configured
// write timeout.
func (c *Connection) Send(raw []byte) error {
	if len(raw) != telegram.Length {
		return fmt.Errorf("%w: outbound frame is %d bytes, want %d", telegram.ErrFraming, len(raw), telegram.Length)
	}

	if !c.stateMgr.IsConnected() {
		return ErrNotConnected
	}

	timer := pool.GetTimer(c.cfg.writeTimeout)
	defer pool.PutTimer(timer)

	select {
	case c.sendChan <- raw:
		return nil
	case <-timer.C:
		return ErrSendTimeout
	case <-c.getContext().Done():
		return ErrConnClosed
	}
}

// validateEndpoint applies the pre-connect endpoint rules. No socket is
// touched for invalid input.
func validateEndpoint(host string, port int) error {
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrValidation)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrValidation, port)
	}

	return nil
}

// disconnectLocked performs the teardown while opMutex is held.
func (c *Connection) disconnectLocked() {
	c.shutdown.Store(true)

	if c.stateMgr.IsDisconnected() {
		return
	}

	// Runs the teardown handler synchronously; a no-op if an async teardown
	// already moved the state to Disconnecting.
	_ = c.stateMgr.ToDisconnecting()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.closeTimeout)
	defer cancel()

	if err := c.stateMgr.WaitState(ctx, DisconnectedState); err != nil {
		// async completion did not arrive in time; force the final transition
		c.stateMgr.ToDisconnected()
	}
}

// failStartup tears a half-started session down and reports err.
func (c *Connection) failStartup(err error) error {
	c.logger.Error("failed to start connection tasks", "error", err)

	_ = c.stateMgr.ToError()
	c.dispatcher.Publish(NewErrorEvent(err))
	c.closeConn(c.cfg.closeTimeout)
	c.stateMgr.ToDisconnected()

	return err
}

// connStateHandler performs session teardown when the state machine enters
// DisconnectingState. It runs with the state manager's lock held, so it only
// uses Async transitions to move on.
func (c *Connection) connStateHandler(_ ConnState, curState ConnState) {
	if curState != DisconnectingState {
		return
	}

	c.closeConn(c.cfg.closeTimeout)
	c.stateMgr.ToDisconnectedAsync()
}

// statusEventHandler publishes a status event for every externally visible
// state change. DisconnectingState is transient teardown plumbing and is not
// surfaced.
func (c *Connection) statusEventHandler(_ ConnState, curState ConnState) {
	if curState == DisconnectingState {
		return
	}

	c.dispatcher.Publish(NewStatusEvent(curState))
}

// closeConn performs the actual connection closing process with a timeout.
// It cancels the session context, stops the task manager, closes the TCP
// connection exactly once, and waits for all goroutines to terminate. The
// socket is closed on every exit path regardless of why the session ended.
func (c *Connection) closeConn(timeout time.Duration) {
	if !c.sessionClosed.CompareAndSwap(false, true) {
		return
	}

	c.logger.Debug("start closeConn process")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.ctxMutex.RLock()
	ctxCancel := c.ctxCancel
	c.ctxMutex.RUnlock()

	if ctxCancel != nil {
		ctxCancel()
	}

	c.taskMgr.Stop()

	c.connMutex.Lock()
	if c.conn != nil {
		c.logger.Debug("close TCP connection", "method", "closeConn")
		if tcpConn, ok := c.conn.(*net.TCPConn); ok {
			_ = tcpConn.SetLinger(0) // abortive shutdown unblocks any in-progress call
		}

		if err := c.conn.Close(); err != nil {
			c.logger.Error("failed to close TCP connection", "method", "closeConn", "error", err)
		}
		c.conn = nil
	}
	c.connMutex.Unlock()

	go func() {
		c.taskMgr.Wait()
		cancel()
	}()

	// wait all goroutines terminated, bounded by timeout
	<-ctx.Done()

	if errors.Is(ctx.Err(), context.Canceled) {
		c.logger.Debug("close success", "method", "closeConn")
	} else {
		c.logger.Error("close timeout", "method", "closeConn", "error", ctx.Err(), "timeout", timeout)
	}
}

// createContext creates a new context for the session, derived from the
// parent context.
func (c *Connection) createContext() {
	c.ctxMutex.Lock()
	defer c.ctxMutex.Unlock()

	c.ctx, c.ctxCancel = context.WithCancel(c.pctx)
}

// getContext safely returns the current session context.
func (c *Connection) getContext() context.Context {
	c.ctxMutex.RLock()
	defer c.ctxMutex.RUnlock()

	return c.ctx
}

// getConn safely returns the current socket, or nil after close.
func (c *Connection) getConn() net.Conn {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	return c.conn
}

// drainSendChan drops frames a previous session left in the outbound queue.
func (c *Connection) drainSendChan() {
	for {
		select {
		case <-c.sendChan:
		default:
			return
		}
	}
}

// senderTask is the task function for the sender goroutine.
// It writes one outbound frame to the socket and publishes a sent event
// carrying the exact bytes written.
func (c *Connection) senderTask(frame []byte) bool {
	conn := c.getConn()
	if conn == nil {
		return false
	}

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout)); err != nil {
		return false
	}

	if _, err := conn.Write(frame); err != nil {
		c.metrics.incSendErrCount()

		if !errors.Is(err, net.ErrClosed) {
			c.logger.Error("failed to send telegram", "method", "senderTask", "error", err)
			c.dispatcher.Publish(NewErrorEvent(err))
		}
		c.stateMgr.ToDisconnectingAsync()

		return false
	}

	tg := telegram.Decode(frame)

	c.metrics.incTelegramSendCount()
	if tg.Type == telegram.TypeLife {
		c.metrics.incLifeSendCount()
	}

	c.dispatcher.Publish(NewSentEvent(tg))

	return true
}

// cancelReceiverTask triggers session teardown when the receiver goroutine exits.
func (c *Connection) cancelReceiverTask() {
	c.stateMgr.ToDisconnectingAsync()
}

// receiverTask is the task function for the receiver goroutine.
//
// Each iteration polls the socket with a short read deadline so a stop
// request is observed within one poll interval, feeds whatever arrived into
// the frame assembler, and publishes one recv event per whole frame in
// arrival order. A peer close (EOF) ends the session cleanly; a trailing
// partial frame is retained in the assembler and never published.
func (c *Connection) receiverTask(readBuf []byte) bool {
	conn := c.getConn()
	if conn == nil {
		return false
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.pollInterval)); err != nil {
		return false
	}

	n, err := conn.Read(readBuf)
	if n > 0 {
		frames, discarded := c.asm.Append(readBuf[:n])

		if discarded > 0 {
			c.metrics.incOverflow(discarded)
			c.logger.Warn("receive buffer overflow", "method", "receiverTask", "discarded", discarded)
			c.dispatcher.Publish(NewErrorEvent(fmt.Errorf("%w: discarded %d bytes", ErrOverflow, discarded)))
		}

		for _, frame := range frames {
			tg := telegram.Decode(frame)

			c.metrics.incTelegramRecvCount()
			if tg.Type == telegram.TypeLife {
				c.metrics.incLifeRecvCount()
			}

			c.dispatcher.Publish(NewRecvEvent(tg))
		}
	}

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true // poll deadline, loop again
		}

		if errors.Is(err, io.EOF) {
			c.logger.Info("peer closed the connection", "method", "receiverTask")
			return false
		}

		if !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "connection reset by peer") {
			c.logger.Error("failed to read from the connection", "method", "receiverTask", "error", err)
			c.dispatcher.Publish(NewErrorEvent(err))
		}

		return false
	}

	return true
}
