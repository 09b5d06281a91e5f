// Package lifecycle starts and stops the ingestion bridge as one unit.
//
// Startup order is persistence runtime first, then the consumer loop on its own
// goroutine. Shutdown runs the reverse: raise the StopSignal, join the consumer
// goroutine (bounded), stop the runtime (bounded), close the broker handle.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/pacer/internal/broker"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("coordinator already started")

// Runtime is the persistence side of the bridge.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Consumer is the broker side of the bridge.
type Consumer interface {
	Run(ctx context.Context) error
	DrainResults(timeout time.Duration)
	Close() error
	Live() bool
}

// Options tune shutdown bounds and supervision.
type Options struct {
	ShutdownTimeout time.Duration // Bound for each join during Shutdown (default 5s)
	RestartOnLoss   bool          // Restart the consumer after a lost connection
	RestartDelay    time.Duration // Pause before a restart (default 5s)
}

// Coordinator owns the StopSignal and the lifetimes of the runtime and consumer.
type Coordinator struct {
	stop     *StopSignal
	runtime  Runtime
	consumer Consumer
	opts     Options

	mu      sync.Mutex
	started bool
	lastErr error

	runtimeUp    bool
	done         chan struct{}
	doneOnce     sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a coordinator around an already constructed runtime and consumer.
// The consumer must have been built with the same StopSignal.
func New(stop *StopSignal, runtime Runtime, consumer Consumer, opts Options) *Coordinator {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 5 * time.Second
	}

	return &Coordinator{
		stop:     stop,
		runtime:  runtime,
		consumer: consumer,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

// Start brings up the runtime and launches the consumer goroutine.
// It returns once the runtime is ready; the consumer connects in the background.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if c.stop.IsSet() {
		return fmt.Errorf("coordinator is shutting down")
	}

	if err := c.runtime.Start(ctx); err != nil {
		return fmt.Errorf("failed to start persistence runtime: %w", err)
	}

	c.started = true
	c.runtimeUp = true
	go c.supervise()

	log.Printf("[INFO] Bridge started")
	return nil
}

// supervise runs the consumer until the StopSignal is set or it fails for good.
func (c *Coordinator) supervise() {
	defer c.closeDone()

	for {
		err := c.consumer.Run(c.stop.Context())
		if c.stop.IsSet() {
			return
		}
		if err == nil {
			log.Printf("[INFO] Consumer exited")
			return
		}

		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		if !errors.Is(err, broker.ErrConnectionLost) || !c.opts.RestartOnLoss {
			log.Printf("[ERROR] Consumer stopped: %v", err)
			return
		}

		log.Printf("[WARN] Consumer lost its connection, restarting in %s: %v", c.opts.RestartDelay, err)

		timer := time.NewTimer(c.opts.RestartDelay)
		select {
		case <-c.stop.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Shutdown stops everything in order. Join timeouts are logged and shutdown
// carries on; the returned error joins any component failures. Idempotent.
func (c *Coordinator) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.stop.Set()

		c.mu.Lock()
		started := c.started
		c.mu.Unlock()

		var errs []error

		if started {
			select {
			case <-c.done:
			case <-time.After(c.opts.ShutdownTimeout):
				log.Printf("[WARN] Consumer did not exit within %s, continuing shutdown", c.opts.ShutdownTimeout)
			}
		} else {
			c.closeDone()
		}

		if err := c.runtime.Stop(c.opts.ShutdownTimeout); err != nil {
			log.Printf("[WARN] Persistence runtime stop: %v", err)
			errs = append(errs, fmt.Errorf("persistence runtime: %w", err))
		}

		// The consumer has exited, so writes finishing during the drain
		// above are reported here.
		if started {
			c.consumer.DrainResults(c.opts.ShutdownTimeout)
		}

		if err := c.consumer.Close(); err != nil {
			log.Printf("[WARN] Broker close: %v", err)
			errs = append(errs, fmt.Errorf("broker: %w", err))
		}

		c.mu.Lock()
		c.runtimeUp = false
		c.mu.Unlock()

		c.shutdownErr = errors.Join(errs...)
		log.Printf("[INFO] Bridge shut down")
	})

	return c.shutdownErr
}

// Ready reports true while the runtime is up and the consumer holds a broker
// connection. It is false during a restart delay, after the consumer exited
// for good, and from the start of shutdown.
func (c *Coordinator) Ready() bool {
	if c.stop.IsSet() {
		return false
	}

	c.mu.Lock()
	up := c.runtimeUp
	c.mu.Unlock()
	if !up {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	return c.consumer.Live()
}

// Done is closed when the consumer goroutine has exited for good.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the last error the consumer exited with, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// StopSignal exposes the coordinator's signal.
func (c *Coordinator) StopSignal() *StopSignal {
	return c.stop
}

func (c *Coordinator) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
