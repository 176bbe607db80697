package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/plcsim/go-mfs/internal/pool"
	"github.com/plcsim/go-mfs/logger"
	"github.com/plcsim/go-mfs/mfs"
	"github.com/plcsim/go-mfs/telegram"
)

// Default reply timings and identifiers.
const (
	DefaultDeviceID      = "PLC-SIM"
	DefaultPeerID        = "EWM-MFS"
	DefaultPongDelay     = 200 * time.Millisecond
	DefaultConfirmDelay  = 500 * time.Millisecond
	DefaultLifeInterval  = 10 * time.Second
	MinLifeInterval      = time.Second
	pongRateLimit        = time.Second
	lifeIntervalTaskName = "autoLifeTask"
)

// ErrConnNil is returned when a Simulator is created without a connection.
var ErrConnNil = errors.New("connection is nil")

// Simulator is a simulated PLC device on top of an mfs.Connection.
//
// It consumes the connection's event stream and reacts per device logic:
// LIFE pings get a delayed PONG, movement orders optionally get a delayed
// completion CONFIRM, and an interval task emits LIFE pings of its own.
// Every reaction and every manual send draws its sequence number from one
// central counter.
type Simulator struct {
	conn    *mfs.Connection
	journal *Journal
	logger  logger.Logger

	ctx       context.Context
	runCtx    context.Context
	runCancel context.CancelFunc
	taskMgr   *mfs.TaskManager

	deviceID     string
	peerID       string
	pongDelay    time.Duration
	confirmDelay time.Duration
	lifeInterval atomic.Int64 // nanoseconds, mutable at runtime
	journalCap   int

	seq         atomic.Uint64 // last used sequence number, wraps at SequenceMod
	autoConfirm atomic.Bool
	autoLife    atomic.Bool
	lastPongAt  atomic.Int64 // unix nanos of the last auto PONG

	// pendingTags maps an outbound sequence number to the handshake tag its
	// journal TX entry should carry, consumed when the sent event arrives.
	pendingTags *xsync.MapOf[int, string]

	subID   uint64
	started atomic.Bool
	stopMu  sync.Mutex
}

// SimOption represents a functional option for configuring a Simulator.
type SimOption interface {
	apply(*Simulator) error
}

type simOptFunc struct {
	applyFunc func(*Simulator) error
}

func (f *simOptFunc) apply(s *Simulator) error { return f.applyFunc(s) }

func newSimOptFunc(fn func(*Simulator) error) *simOptFunc {
	return &simOptFunc{applyFunc: fn}
}

// WithDeviceID sets the simulator's own station identifier, the source field
// of every outbound telegram. The default is "PLC-SIM".
func WithDeviceID(id string) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		if id == "" {
			return errors.New("device id must not be empty")
		}
		s.deviceID = id

		return nil
	})
}

// WithPeerID sets the remote station identifier, the destination field of
// every outbound telegram. The default is "EWM-MFS".
func WithPeerID(id string) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		if id == "" {
			return errors.New("peer id must not be empty")
		}
		s.peerID = id

		return nil
	})
}

// WithPongDelay sets the simulated processing delay before a PONG reply.
// The default is 200 milliseconds.
func WithPongDelay(delay time.Duration) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		if delay < 0 {
			return errors.New("pong delay must not be negative")
		}
		s.pongDelay = delay

		return nil
	})
}

// WithConfirmDelay sets the simulated processing delay before an automatic
// movement confirmation. The default is 500 milliseconds.
func WithConfirmDelay(delay time.Duration) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		if delay < 0 {
			return errors.New("confirm delay must not be negative")
		}
		s.confirmDelay = delay

		return nil
	})
}

// WithLifeInterval sets the interval of self initiated LIFE pings. Values
// below one second are raised to one second. The default is 10 seconds.
func WithLifeInterval(interval time.Duration) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		if interval < MinLifeInterval {
			interval = MinLifeInterval
		}
		s.lifeInterval.Store(int64(interval))

		return nil
	})
}

// WithAutoConfirm enables or disables automatic movement confirmations.
// The default is enabled.
func WithAutoConfirm(enabled bool) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		s.autoConfirm.Store(enabled)

		return nil
	})
}

// WithAutoLife enables or disables self initiated LIFE pings once connected.
// The default is disabled.
func WithAutoLife(enabled bool) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		s.autoLife.Store(enabled)

		return nil
	})
}

// WithJournalCap sets the number of journal entries retained.
// The default is DefaultJournalCap.
func WithJournalCap(capacity int) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		if capacity < 1 {
			return errors.New("journal cap must be positive")
		}
		s.journalCap = capacity

		return nil
	})
}

// WithSimLogger sets the simulator's logger. The default is the connection's
// logger.
func WithSimLogger(l logger.Logger) SimOption {
	return newSimOptFunc(func(s *Simulator) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		s.logger = l

		return nil
	})
}

// NewSimulator creates a Simulator on top of conn. The simulator spans
// connection sessions; Start must be called before it reacts to traffic.
func NewSimulator(ctx context.Context, conn *mfs.Connection, opts ...SimOption) (*Simulator, error) {
	if conn == nil {
		return nil, ErrConnNil
	}

	s := &Simulator{
		conn:         conn,
		logger:       conn.GetLogger(),
		ctx:          ctx,
		deviceID:     DefaultDeviceID,
		peerID:       DefaultPeerID,
		pongDelay:    DefaultPongDelay,
		confirmDelay: DefaultConfirmDelay,
		journalCap:   DefaultJournalCap,
		pendingTags:  xsync.NewMapOf[int, string](),
	}
	s.lifeInterval.Store(int64(DefaultLifeInterval))
	s.autoConfirm.Store(true)

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	s.journal = NewJournal(s.journalCap)
	s.taskMgr = mfs.NewTaskManager(ctx, s.logger)

	return s, nil
}

// Journal returns the traffic journal.
func (s *Simulator) Journal() *Journal {
	return s.journal
}

// DeviceID returns the simulator's station identifier.
func (s *Simulator) DeviceID() string {
	return s.deviceID
}

// Sequence returns the last used sequence number.
func (s *Simulator) Sequence() int {
	return int(s.seq.Load())
}

// Start subscribes to the connection's event stream and runs the device
// logic until Stop is called or the parent context is canceled.
func (s *Simulator) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.runCtx, s.runCancel = context.WithCancel(s.ctx)

	subID, events := s.conn.Events().Subscribe()
	s.subID = subID

	runCtx := s.runCtx

	return s.taskMgr.Start("simEventLoop", func() bool {
		select {
		case <-runCtx.Done():
			return false
		case ev := <-events:
			s.handleEvent(ev)
			return true
		}
	})
}

// Stop unsubscribes from the connection and terminates the device logic.
func (s *Simulator) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if !s.started.CompareAndSwap(true, false) {
		return
	}

	s.conn.Events().Unsubscribe(s.subID)
	s.runCancel()
	s.taskMgr.Stop()
	s.taskMgr.Wait()
}

// SetAutoConfirm toggles automatic movement confirmations at runtime.
func (s *Simulator) SetAutoConfirm(enabled bool) {
	s.autoConfirm.Store(enabled)
	s.journal.System(fmt.Sprintf("auto-confirm %s", onOff(enabled)))
}

// SetAutoLife toggles self initiated LIFE pings at runtime. Enabling while
// connected sends one ping immediately and then pings every interval; the
// interval task stops on disconnect and resumes on the next connect.
// Intervals below one second are raised to one second; an interval of zero
// keeps the current setting.
func (s *Simulator) SetAutoLife(enabled bool, interval time.Duration) {
	if interval > 0 {
		if interval < MinLifeInterval {
			interval = MinLifeInterval
		}
		s.lifeInterval.Store(int64(interval))
	}

	s.autoLife.Store(enabled)
	s.journal.System(fmt.Sprintf("auto-life %s", onOff(enabled)))

	if enabled && s.conn.State().IsConnected() {
		s.startLifeInterval()
	} else if !enabled {
		_ = s.taskMgr.StopInterval(lifeIntervalTaskName)
	}
}

// SendLifePing sends one LIFE ping immediately.
func (s *Simulator) SendLifePing() error {
	raw, err := telegram.NewLife(s.deviceID, s.peerID, s.nextSeq(), false)
	if err != nil {
		return err
	}

	return s.conn.Send(raw)
}

// SendManual sends one arbitrary telegram with the given type code, subtype
// and data section, drawing a sequence number from the central counter.
// Automatic reply rules never touch manual sends. A non-empty hsTag is
// attached to the telegram's journal entry as its handshake annotation.
// Unknown type codes are allowed, so a host can be exercised with telegrams
// outside the defined set.
func (s *Simulator) SendManual(typ telegram.Type, subType, data, hsTag string) error {
	seq := s.nextSeq()

	raw, err := telegram.Encode(typ, subType, s.deviceID, s.peerID, seq, data)
	if err != nil {
		return err
	}

	if hsTag != "" {
		s.pendingTags.Store(seq, hsTag)
	}

	if err := s.conn.Send(raw); err != nil {
		s.pendingTags.Delete(seq)
		return err
	}

	return nil
}

// ConfirmFor sends a manual completion confirmation for the given movement
// order, regardless of the auto-confirm setting.
func (s *Simulator) ConfirmFor(move *telegram.Telegram) error {
	fields := move.Move()

	raw, err := telegram.NewConfirm(s.deviceID, s.peerID, s.nextSeq(),
		fields.TransferUnit, fields.DestBin, telegram.StatusDone)
	if err != nil {
		return err
	}

	return s.conn.Send(raw)
}

// ErrorFor sends a manual error reply for the given movement order.
func (s *Simulator) ErrorFor(move *telegram.Telegram) error {
	fields := move.Move()

	raw, err := telegram.NewError(s.deviceID, s.peerID, s.nextSeq(),
		"E001", fmt.Sprintf("Manual error for TU %s", fields.TransferUnit))
	if err != nil {
		return err
	}

	return s.conn.Send(raw)
}

// nextSeq atomically advances the central sequence counter, wrapping at
// SequenceMod. The first telegram of a run carries sequence 1.
func (s *Simulator) nextSeq() int {
	for {
		cur := s.seq.Load()
		next := (cur + 1) % telegram.SequenceMod

		if s.seq.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

func (s *Simulator) handleEvent(ev mfs.Event) {
	switch ev := ev.(type) {
	case *mfs.RecvEvent:
		s.handleRecv(ev.Telegram)
	case *mfs.SentEvent:
		index := s.journal.Record(DirTX, ev.Telegram)
		if tag, ok := s.pendingTags.LoadAndDelete(ev.Telegram.Sequence); ok {
			s.journal.Tag(index, tag)
		} else if ev.Telegram.Type == telegram.TypeConfirm {
			s.journal.Tag(index, HandshakeAck)
		}
	case *mfs.StatusEvent:
		s.handleStatus(ev.State)
	case *mfs.ErrorEvent:
		s.journal.System(fmt.Sprintf("connection error: %v", ev.Err))
	}
}

func (s *Simulator) handleRecv(tg *telegram.Telegram) {
	index := s.journal.Record(DirRX, tg)

	if tg.Degraded {
		s.logger.Warn("degraded telegram received", "type", tg.Type.String(), "seq", tg.Sequence)
	}

	switch {
	case tg.Type == telegram.TypeLife && !tg.IsPong():
		// Any inbound LIFE counts as a keep-alive probe, including bare
		// frames with empty data. Only a PONG gets no reply, so two
		// simulators facing each other cannot ping-pong forever.
		s.schedulePong()
	case tg.Type == telegram.TypeMove && s.autoConfirm.Load():
		s.journal.Tag(index, HandshakeReq)
		s.scheduleConfirm(tg)
	}
}

func (s *Simulator) handleStatus(state mfs.ConnState) {
	s.journal.System(fmt.Sprintf("connection %s", state.String()))

	switch {
	case state.IsConnected():
		if s.autoLife.Load() {
			s.startLifeInterval()
		}
	case state.IsDisconnected():
		_ = s.taskMgr.StopInterval(lifeIntervalTaskName)
	}
}

func (s *Simulator) startLifeInterval() {
	// replace a possibly running interval so the new cadence applies
	_ = s.taskMgr.StopInterval(lifeIntervalTaskName)

	_, err := s.taskMgr.StartInterval(lifeIntervalTaskName, func() bool {
		if !s.conn.State().IsConnected() {
			return false
		}

		if err := s.SendLifePing(); err != nil {
			s.logger.Warn("auto-life ping failed", "error", err)
		}

		return true
	}, time.Duration(s.lifeInterval.Load()), true)
	if err != nil {
		s.logger.Error("failed to start auto-life task", "error", err)
	}
}

// schedulePong schedules a delayed PONG reply. Replies are rate limited to
// one per second on the wall clock; ping bursts inside the window are
// answered by at most one pong and the rest are dropped.
func (s *Simulator) schedulePong() {
	now := time.Now().UnixNano()
	last := s.lastPongAt.Load()

	if now-last < int64(pongRateLimit) {
		s.logger.Debug("pong suppressed by rate limit")
		return
	}

	if !s.lastPongAt.CompareAndSwap(last, now) {
		return // another ping in flight claimed the window
	}

	s.sendAfter(s.pongDelay, func() {
		raw, err := telegram.NewLife(s.deviceID, s.peerID, s.nextSeq(), true)
		if err != nil {
			return
		}

		if err := s.conn.Send(raw); err != nil {
			s.logger.Debug("pong dropped", "error", err)
		}
	})
}

// scheduleConfirm schedules the delayed completion confirmation of a
// movement order. The confirmation reports the order's transfer unit arrived
// at the destination bin.
func (s *Simulator) scheduleConfirm(move *telegram.Telegram) {
	fields := move.Move()

	s.sendAfter(s.confirmDelay, func() {
		raw, err := telegram.NewConfirm(s.deviceID, s.peerID, s.nextSeq(),
			fields.TransferUnit, fields.DestBin, telegram.StatusDone)
		if err != nil {
			return
		}

		if err := s.conn.Send(raw); err != nil {
			s.logger.Debug("auto-confirm dropped", "error", err, "unit", fields.TransferUnit)
		}
	})
}

// sendAfter runs send after delay on a pooled timer. The session epoch is
// captured now and re-checked when the timer fires, so a reply scheduled in
// a session that has since ended does nothing. The wait is bound to the
// current run context; Stop cancels replies still pending.
func (s *Simulator) sendAfter(delay time.Duration, send func()) {
	epoch := s.conn.Epoch()
	runCtx := s.runCtx

	go func() {
		timer := pool.GetTimer(delay)
		defer pool.PutTimer(timer)

		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
		}

		if s.conn.Epoch() != epoch || !s.conn.State().IsConnected() {
			return
		}

		send()
	}()
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}

	return "off"
}
