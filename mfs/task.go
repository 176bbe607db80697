package mfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plcsim/go-mfs/logger"
)

// TaskFunc is one iteration of a managed task loop. Returning false stops
// the task's goroutine.
type TaskFunc func() bool

// TaskRecvFunc is one iteration of a managed receive loop. readBuf is a
// reusable scratch buffer owned by the loop. Returning false stops the
// task's goroutine.
type TaskRecvFunc func(readBuf []byte) bool

// TaskSendFunc handles one outbound frame taken from the sender's input
// channel. Returning false stops the task's goroutine.
type TaskSendFunc func(frame []byte) bool

// TaskCancelFunc runs when a managed goroutine exits or is canceled, for
// releasing resources tied to the task.
type TaskCancelFunc func()

// TaskManager owns the goroutines a Connection runs: the sender and
// receiver loops, event loops and interval tasks. Tasks are started by name,
// signaled to stop by canceling a shared session context, and waited on as a
// group. After Wait the manager recreates its context from the parent, so
// one manager serves the connection across sessions.
type TaskManager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*intervalTask
	mu      sync.RWMutex // guards ctx and cancel
	taskMu  sync.RWMutex // blocks task creation while Wait drains
}

// intervalTask pairs a ticker with a per-task stop channel so StopInterval
// can terminate the goroutine without canceling the whole manager.
type intervalTask struct {
	ticker *time.Ticker
	done   chan struct{}
}

// NewTaskManager creates a TaskManager whose tasks stop when ctx is
// canceled or Stop is called.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)
	return mgr
}

func (mgr *TaskManager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start launches a named goroutine that calls taskFunc in a loop until it
// returns false or the manager stops.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	mgr.logger.Debug("Start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(taskFunc)
	})

	return starter.waitForStart()
}

// StartReceiver launches a named receive loop. taskFunc is called repeatedly
// with a reusable bufSize-byte read buffer; taskCancelFunc, when non-nil,
// runs once the goroutine exits.
func (mgr *TaskManager) StartReceiver(name string, bufSize int, taskFunc TaskRecvFunc, taskCancelFunc TaskCancelFunc) error {
	mgr.logger.Debug("StartReceiver task", "name", name, "buf_size", bufSize)

	if bufSize < 1 {
		return fmt.Errorf("invalid receive buffer size: %d", bufSize)
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		if taskCancelFunc != nil {
			defer taskCancelFunc()
		}

		readBuf := make([]byte, bufSize)
		mgr.runTaskLoop(func() bool {
			return taskFunc(readBuf)
		})
	})

	return starter.waitForStart()
}

// StartSender launches a named goroutine that feeds frames from inputChan to
// taskFunc until the channel closes, taskFunc returns false or the manager
// stops.
func (mgr *TaskManager) StartSender(name string, taskFunc TaskSendFunc, taskCancelFunc TaskCancelFunc, inputChan chan []byte) error {
	mgr.logger.Debug("StartSender task", "name", name)

	if inputChan == nil {
		return fmt.Errorf("input channel is nil")
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		if taskCancelFunc != nil {
			defer taskCancelFunc()
		}

		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-inputChan:
				if !ok {
					mgr.logger.Debug("input channel closed", "name", name)
					return
				}
				if !taskFunc(frame) {
					return
				}
			}
		}
	})

	return starter.waitForStart()
}

// StartInterval launches a named goroutine that runs taskFunc on every tick
// of the given interval. With runNow the first run happens inline before the
// ticker starts; a false return there means the task never starts at all.
// Stop the task by name with StopInterval.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("StartInterval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval: %v", interval)
	}

	task := &intervalTask{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	ticker := task.ticker

	// claim the name before the goroutine exists
	if _, loaded := mgr.tickers.LoadOrStore(name, task); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("interval task %s already exists", name)
	}

	// delete only our own entry in case the name was already reused by a
	// newer interval task
	cleanup := func() {
		ticker.Stop()
		mgr.tickers.CompareAndDelete(name, task)
	}

	if runNow {
		if !mgr.callWithRecoverBool(name, taskFunc) {
			cleanup()
			mgr.logger.Debug(fmt.Sprintf("%s interval task terminated by runNow", name))
			return ticker, nil
		}
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		cleanup()
		return nil, err
	}

	starter.startTask(func() {
		defer cleanup()

		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case <-task.done:
				return
			case <-ticker.C:
				mgr.logger.Debug("execute interval func", "name", name)
				if !mgr.callWithRecoverBool(name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// callWithRecoverBool runs fn with panic recovery; a panic counts as false.
func (mgr *TaskManager) callWithRecoverBool(name string, fn func() bool) bool {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	return fn()
}

// Stop signals every running task to terminate. Follow with Wait to block
// until they have.
func (mgr *TaskManager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		task, ok := value.(*intervalTask)
		if ok {
			task.ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// StopInterval stops the interval task with the given name and terminates its
// goroutine. The name becomes free for a new StartInterval immediately.
func (mgr *TaskManager) StopInterval(name string) error {
	if val, ok := mgr.tickers.LoadAndDelete(name); ok {
		task, ok := val.(*intervalTask)
		if ok {
			task.ticker.Stop()
			close(task.done)

			return nil
		}

		return fmt.Errorf("ticker %s is not an interval task", name)
	}

	return fmt.Errorf("ticker %s not found", name)
}

// Wait blocks until all tasks have terminated, then rearms the manager for
// the next session by recreating its context from the parent.
func (mgr *TaskManager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running tasks.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

// taskStarter carries the startup handshake: the caller learns whether the
// goroutine actually began before its Start call returns.
type taskStarter struct {
	mgr     *TaskManager
	name    string
	started chan error
}

func (mgr *TaskManager) newTaskStarter(name string) (*taskStarter, error) {
	ctx := mgr.getContext()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("task manager already stopped")
	default:
	}

	return &taskStarter{
		mgr:     mgr,
		name:    name,
		started: make(chan error, 1),
	}, nil
}

// startTask launches the goroutine and reports its startup outcome on the
// started channel.
func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.started <- fmt.Errorf("panic during startup: %v", r)
				}
			}()

			s.mgr.count.Add(1)
			s.started <- nil
		}()

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug(fmt.Sprintf("%s task terminated", s.name), "task_count", s.mgr.TaskCount())
		}()

		taskBody()
	}()
}

// waitForStart blocks until the goroutine confirmed startup, bounded by a
// fixed timeout.
func (s *taskStarter) waitForStart() error {
	ctx := s.mgr.getContext()

	select {
	case err := <-s.started:
		if err != nil {
			s.mgr.wg.Done() // compensate for failed start
			return fmt.Errorf("failed to start %s: %w", s.name, err)
		}

		return nil

	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", s.name)

	case <-ctx.Done():
		return fmt.Errorf("context cancelled while starting %s", s.name)
	}
}

// runTaskLoop iterates taskFunc until it returns false or the session
// context is canceled, with panic recovery around the whole loop.
func (mgr *TaskManager) runTaskLoop(taskFunc func() bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "panic", r)
		}
	}()

	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}
