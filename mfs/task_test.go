package mfs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/plcsim/go-mfs/logger"
)

func newTaskTestLogger() *logger.MockLogger {
	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", mock.Anything, mock.Anything).Return()
	mockLogger.On("Fatal", mock.Anything, mock.Anything).Return()
	mockLogger.On("Info", mock.Anything, mock.Anything).Return()
	mockLogger.On("Warn", mock.Anything, mock.Anything).Return()

	return mockLogger
}

func TestTaskManager_Start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTaskTestLogger())

	taskFunc := func() bool {
		return true
	}

	require.NoError(t, taskMgr.Start("testTask", taskFunc))

	// Allow some time for the goroutine to start
	time.Sleep(100 * time.Millisecond)

	// Verify that the task is running
	assert.Equal(t, 1, taskMgr.TaskCount())

	// Cancel the context to stop the task
	cancel()

	// Allow some time for the goroutine to stop
	time.Sleep(100 * time.Millisecond)

	// Verify that the task has stopped
	assert.Equal(t, 0, taskMgr.TaskCount())
}

func TestTaskManager_StartReceiver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockLogger := newTaskTestLogger()
	taskMgr := NewTaskManager(ctx, mockLogger)

	var canceled atomic.Bool

	taskFunc := func(readBuf []byte) bool {
		time.Sleep(10 * time.Millisecond)
		return len(readBuf) == recvChunkSize
	}

	taskCancelFunc := func() {
		canceled.Store(true)
	}

	require.NoError(t, taskMgr.StartReceiver("testReceiver", recvChunkSize, taskFunc, taskCancelFunc))

	// Allow some time for the goroutine to start
	time.Sleep(100 * time.Millisecond)

	// Verify that the task is running
	assert.Equal(t, 1, taskMgr.TaskCount())

	// Cancel the context to stop the task
	cancel()

	// Allow some time for the goroutine to stop
	time.Sleep(100 * time.Millisecond)

	// Verify that the task has stopped
	assert.Equal(t, 0, taskMgr.TaskCount())
	assert.True(t, canceled.Load())
}

func TestTaskManager_StartSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTaskTestLogger())

	var sent atomic.Int32

	inputChan := make(chan []byte, 1)
	taskFunc := func(frame []byte) bool {
		sent.Add(1)
		return true
	}

	require.NoError(t, taskMgr.StartSender("testSender", taskFunc, nil, inputChan))

	// Allow some time for the goroutine to start
	time.Sleep(100 * time.Millisecond)

	// Verify that the task is running
	assert.Equal(t, 1, taskMgr.TaskCount())

	// Send a frame to the channel
	inputChan <- make([]byte, 128)

	// Allow some time for the frame to be processed
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), sent.Load())

	// Cancel the context to stop the task
	cancel()

	// Allow some time for the goroutine to stop
	time.Sleep(100 * time.Millisecond)

	// Verify that the task has stopped
	assert.Equal(t, 0, taskMgr.TaskCount())
}

func TestTaskManager_StartInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTaskTestLogger())

	var runs atomic.Int32

	taskFunc := func() bool {
		runs.Add(1)
		return true
	}

	ticker, err := taskMgr.StartInterval("testInterval", taskFunc, 10*time.Millisecond, true)
	require.NoError(t, err)

	// Allow some time for the interval task to run
	time.Sleep(100 * time.Millisecond)

	// Verify that the task is running
	assert.Equal(t, 1, taskMgr.TaskCount())
	assert.Positive(t, runs.Load())

	// Stop the ticker to stop the task
	cancel()
	ticker.Stop()

	// Allow some time for the goroutine to stop
	time.Sleep(100 * time.Millisecond)

	// Verify that the task has stopped
	assert.Equal(t, 0, taskMgr.TaskCount())
}

func TestTaskManager_StopInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskMgr := NewTaskManager(ctx, newTaskTestLogger())

	_, err := taskMgr.StartInterval("testInterval", func() bool { return true }, 10*time.Millisecond, false)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, taskMgr.TaskCount())

	require.NoError(t, taskMgr.StopInterval("testInterval"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, taskMgr.TaskCount())
}
