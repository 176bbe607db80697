package mfs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/plcsim/go-mfs/logger"
)

// ConnState represents the lifecycle stage of an MFS connection.
type ConnState uint32

// MFS connection states. The lifecycle is
// Disconnected -> Connecting -> Connected -> {Disconnecting, Error} -> Disconnected.
const (
	// DisconnectedState indicates that no TCP connection exists. This is the
	// idle state the connection always returns to.
	DisconnectedState ConnState = iota
	// ConnectingState indicates that a TCP connect attempt is in progress.
	ConnectingState
	// ConnectedState indicates an established connection with both loops running.
	ConnectedState
	// DisconnectingState indicates that session teardown is in progress.
	DisconnectingState
	// ErrorState indicates that the connect attempt or session failed; the
	// connection transitions back to DisconnectedState after reporting.
	ErrorState
)

// IsDisconnected returns if the current state is disconnected.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// IsConnecting returns if the current state is connecting.
func (cs ConnState) IsConnecting() bool { return cs == ConnectingState }

// IsConnected returns if the current state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// String returns string representation of the current state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case DisconnectingState:
		return "disconnecting"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is a function type that represents a handler for
// connection state changes.
//
// Note: the handler will be invoked in a blocking mode with the state
// manager's lock held. Take care with long-running implementations, and only
// use the Async transition methods from inside a handler.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr manages the connection state of an MFS connection.
//
// It provides methods for managing state transitions and notifying listeners
// of state changes. The state transitions are thread safe in concurrent
// environments.
type ConnStateMgr struct {
	mu               sync.Mutex
	ctx              context.Context
	cond             *sync.Cond
	state            atomic.Uint32
	logger           logger.Logger
	asyncStateChange chan ConnState
	handlers         []ConnStateChangeHandler
}

// NewConnStateMgr creates a new ConnStateMgr instance, initializing it to the
// DisconnectedState.
//
// It accepts optional ConnStateChangeHandler functions that will be invoked
// when the connection state changes.
func NewConnStateMgr(ctx context.Context, l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	connState := &ConnStateMgr{
		ctx:              ctx,
		logger:           l,
		asyncStateChange: make(chan ConnState, 10),
		handlers:         make([]ConnStateChangeHandler, 0, len(handlers)),
	}

	if connState.logger == nil {
		connState.logger = logger.GetLogger()
	}

	connState.handlers = append(connState.handlers, handlers...)

	connState.state.Store(uint32(DisconnectedState))
	connState.cond = sync.NewCond(&connState.mu)

	go connState.asyncStateChangeTask()

	return connState
}

// State returns the current connection state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more ConnStateChangeHandler functions to be invoked
// on state changes.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or
// until the context is done. It returns nil if the desired state is reached,
// or an error if the context is canceled or times out.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		select {
		case <-ctx.Done():
			cs.logger.Debug("wait connection state canceled", "cur_state", cs.State(), "desired_state", state)
			return ctx.Err()
		default:
			cs.cond.Wait()
		}
	}

	return nil
}

// ToConnecting transitions the connection state to ConnectingState.
//
// This transition is only allowed from the DisconnectedState.
// If the state is already ConnectingState, the function is a no-op.
func (cs *ConnStateMgr) ToConnecting() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState.IsConnecting() {
		return nil // Already in ConnectingState, no-op
	}

	if !curState.IsDisconnected() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ConnectingState)
	// change state after all handlers finished
	cs.setState(ConnectingState)

	return nil
}

// ToConnected transitions the connection state to ConnectedState.
//
// This transition is only allowed from the ConnectingState and indicates that
// the socket is established and both loops are running.
func (cs *ConnStateMgr) ToConnected() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState.IsConnected() {
		return nil // Already in ConnectedState, no-op
	}

	if !curState.IsConnecting() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ConnectedState)
	cs.setState(ConnectedState)

	return nil
}

// ToError transitions the connection state to ErrorState.
//
// This transition is only allowed from the ConnectingState or ConnectedState.
// If the state is already ErrorState, the function is a no-op.
func (cs *ConnStateMgr) ToError() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState == ErrorState {
		return nil
	}

	if !curState.IsConnecting() && !curState.IsConnected() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ErrorState)
	cs.setState(ErrorState)

	return nil
}

// ToDisconnecting transitions the connection state to DisconnectingState and
// runs the teardown handlers.
//
// This transition is allowed from the ConnectingState, ConnectedState and
// ErrorState. If the state is already DisconnectingState, the function is a
// no-op; from DisconnectedState it returns ErrInvalidTransition, which makes
// repeated disconnect requests harmless.
func (cs *ConnStateMgr) ToDisconnecting() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState == DisconnectingState {
		return nil
	}

	if curState.IsDisconnected() {
		return ErrInvalidTransition
	}

	// change state BEFORE the handlers so teardown code observes it
	cs.setState(DisconnectingState)

	cs.invokeHandlers(curState, DisconnectingState)

	return nil
}

// ToDisconnected transitions the connection state to DisconnectedState.
// This transition is allowed from any state and represents a completed
// teardown or a reset of the connection.
func (cs *ConnStateMgr) ToDisconnected() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState.IsDisconnected() {
		return // Already in DisconnectedState, no need to transition
	}

	// change state to disconnected BEFORE all handlers finished
	cs.setState(DisconnectedState)

	cs.invokeHandlers(curState, DisconnectedState)
}

// ToDisconnectingAsync transitions connection state to DisconnectingState
// asynchronously.
//
// It notifies a background goroutine which performs the transition, so it is
// safe to call from the socket loops and from state change handlers.
func (cs *ConnStateMgr) ToDisconnectingAsync() {
	cs.changeStateAsync(DisconnectingState)
}

// ToDisconnectedAsync transitions connection state to DisconnectedState
// asynchronously.
//
// It notifies a background goroutine which performs the transition, so it is
// safe to call from the socket loops and from state change handlers.
func (cs *ConnStateMgr) ToDisconnectedAsync() {
	cs.changeStateAsync(DisconnectedState)
}

// IsDisconnected returns if the current state is disconnected.
func (cs *ConnStateMgr) IsDisconnected() bool {
	return cs.State().IsDisconnected()
}

// IsConnected returns if the current state is connected.
func (cs *ConnStateMgr) IsConnected() bool {
	return cs.State().IsConnected()
}

// IsConnecting returns if the current state is connecting.
func (cs *ConnStateMgr) IsConnecting() bool {
	return cs.State().IsConnecting()
}

// setState atomically set current state to the newState. It also broadcasts a
// signal to any waiting goroutines.
func (cs *ConnStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

// invokeHandlers invokes all registered ConnStateChangeHandler functions with
// the previous and new states.
func (cs *ConnStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	for _, handler := range cs.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}

// changeStateAsync transitions the desired connection state asynchronously.
//
// If the state is the same as the current state, the function is a no-op.
func (cs *ConnStateMgr) changeStateAsync(state ConnState) {
	if cs.State() == state {
		return
	}

	select {
	case cs.asyncStateChange <- state:
	case <-cs.ctx.Done():
	}
}

// asyncStateChangeTask handles state changing in the background.
func (cs *ConnStateMgr) asyncStateChangeTask() {
	defer cs.logger.Debug("asyncStateChangeTask terminated")

	for {
		select {
		case <-cs.ctx.Done():
			return

		case desiredState := <-cs.asyncStateChange:
			prevState := cs.State()

			if desiredState == prevState {
				break
			}

			var err error
			switch desiredState { //nolint:exhaustive
			case DisconnectedState:
				cs.ToDisconnected()
			case DisconnectingState:
				err = cs.ToDisconnecting()
			default:
				err = ErrInvalidTransition
			}

			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				cs.logger.Error("async connection state transition failed",
					"method", "asyncStateChangeTask",
					"prevState", prevState, "curState", cs.State(), "desiredState", desiredState,
					"error", err,
				)
			}
		}
	}
}
