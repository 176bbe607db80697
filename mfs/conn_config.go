package mfs

import (
	"errors"
	"time"

	"github.com/plcsim/go-mfs/logger"
)

// ConnectionConfig represents the configuration parameters for an MFS
// connection. The remote endpoint itself is not part of the configuration;
// it is passed to Connection.Connect per attempt.
type ConnectionConfig struct {
	// connectTimeout defines the timeout for establishing the TCP connection.
	// Defaults to 5 seconds.
	connectTimeout time.Duration

	// pollInterval defines the read deadline of each receive-loop iteration.
	// A shorter interval makes stop requests observed sooner at the cost of
	// more wakeups. Defaults to 500 milliseconds.
	pollInterval time.Duration

	// writeTimeout defines the write deadline for each outbound frame and the
	// time Send waits for room in the outbound queue. Defaults to 5 seconds.
	writeTimeout time.Duration

	// closeTimeout defines the timeout for tearing down the whole connection.
	// Defaults to 3 seconds.
	closeTimeout time.Duration

	// sendQueueSize defines the size of the outbound frame queue, which
	// buffers telegrams before the sender task writes them to the peer.
	//
	// This option allows you to control the backpressure level for unsent
	// telegrams. A larger queue size can accommodate bursts of telegrams but
	// might consume more memory.
	//
	// Defaults to 64.
	sendQueueSize int

	// eventQueueSize defines the buffer size of each subscriber's event
	// channel. Defaults to 256.
	eventQueueSize int

	// recvBufferFrames defines the cap of the receive accumulator, in whole
	// frames. Incoming bytes beyond the cap discard the oldest buffered
	// bytes. Defaults to 256 frames (32 KiB).
	recvBufferFrames int

	// logger provides a logger instance for logging MFS-related events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a new MFS connection configuration with
// optional functional options.
//
// It initializes a ConnectionConfig struct with default values and then
// applies the provided options to customize the configuration.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any
// occurred during the configuration process.
func NewConnectionConfig(opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		connectTimeout:   5 * time.Second,
		pollInterval:     500 * time.Millisecond,
		writeTimeout:     5 * time.Second,
		closeTimeout:     3 * time.Second,
		sendQueueSize:    64,
		eventQueueSize:   256,
		recvBufferFrames: 256,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error { return c.applyFunc(cfg) }

func newConnOptFunc(name string, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		applyFunc: f,
	}
}

// WithConnectTimeout sets the timeout for establishing the TCP connection.
// An error is returned if the timeout is outside the valid range
// (0.1-30 seconds) or if the configuration is nil.
//
// The default value is 5 seconds.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 100*time.Millisecond || val > 30*time.Second {
			return errors.New("connect timeout out of range [0.1, 30]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithPollInterval sets the read deadline of each receive-loop iteration.
// An error is returned if the interval is outside the valid range
// (0.01-2 seconds) or if the configuration is nil.
//
// The default value is 500 milliseconds.
func WithPollInterval(val time.Duration) ConnOption {
	return newConnOptFunc("WithPollInterval", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 10*time.Millisecond || val > 2*time.Second {
			return errors.New("poll interval out of range [0.01, 2]")
		}
		cfg.pollInterval = val

		return nil
	})
}

// WithWriteTimeout sets the write deadline for each outbound frame.
// An error is returned if the timeout is outside the valid range
// (0.1-120 seconds) or if the configuration is nil.
//
// The default value is 5 seconds.
func WithWriteTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithWriteTimeout", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 100*time.Millisecond || val > 120*time.Second {
			return errors.New("write timeout out of range [0.1, 120]")
		}
		cfg.writeTimeout = val

		return nil
	})
}

// WithCloseTimeout sets the timeout for tearing down the whole connection.
// An error is returned if the timeout is outside the valid range
// (1-30 seconds) or if the configuration is nil.
//
// The default value is 3 seconds.
func WithCloseTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithCloseTimeout", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		if val < 1*time.Second || val > 30*time.Second {
			return errors.New("close timeout out of range [1, 30]")
		}
		cfg.closeTimeout = val

		return nil
	})
}

// WithSendQueueSize sets the size of the outbound frame queue, which buffers
// telegrams before sending them to the remote peer.
//
// The queue size must be within the range of 1 to 1000.
// An error is returned if the queue size is invalid or if the provided
// ConnectionConfig is nil.
//
// The default value is 64.
func WithSendQueueSize(size int) ConnOption {
	return newConnOptFunc("WithSendQueueSize", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if size < 1 || size > 1000 {
			return errors.New("the send queue size out of range [1, 1000]")
		}

		cfg.sendQueueSize = size

		return nil
	})
}

// WithEventQueueSize sets the buffer size of each subscriber's event channel.
//
// The queue size must be within the range of 1 to 10000.
// An error is returned if the queue size is invalid or if the provided
// ConnectionConfig is nil.
//
// The default value is 256.
func WithEventQueueSize(size int) ConnOption {
	return newConnOptFunc("WithEventQueueSize", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if size < 1 || size > 10000 {
			return errors.New("the event queue size out of range [1, 10000]")
		}

		cfg.eventQueueSize = size

		return nil
	})
}

// WithRecvBufferFrames sets the cap of the receive accumulator in whole
// frames. Incoming bytes beyond the cap discard the oldest buffered bytes
// and raise an overflow error event.
//
// The cap must be within the range of 1 to 4096 frames.
// An error is returned if the cap is invalid or if the provided
// ConnectionConfig is nil.
//
// The default value is 256 frames (32 KiB).
func WithRecvBufferFrames(frames int) ConnOption {
	return newConnOptFunc("WithRecvBufferFrames", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}
		if frames < 1 || frames > 4096 {
			return errors.New("the receive buffer cap out of range [1, 4096] frames")
		}

		cfg.recvBufferFrames = frames

		return nil
	})
}

// WithLogger sets the logger for the MFS connection.
// An error is returned if the configuration is nil.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return ErrConnConfigNil
		}

		cfg.logger = l

		return nil
	})
}
