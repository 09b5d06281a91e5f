// Package persist runs storage writes on goroutines of their own so that storage
// latency or outages never stall message consumption.
//
// A Runtime owns the store connection for its entire life. Other goroutines only
// hand it WriteTasks through Submit, a non-blocking channel handoff, and learn about
// outcomes through the Results channel.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/pacer/internal/store"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotRunning is returned by Submit before Start succeeded or once Stop began.
	ErrNotRunning = errors.New("persistence runtime is not accepting work")

	// ErrQueueFull is returned by Submit when the task queue is saturated.
	ErrQueueFull = errors.New("persistence queue is full")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("persistence runtime already started")

	// ErrStopTimeout is returned by Stop when the runtime did not finish in time.
	ErrStopTimeout = errors.New("persistence runtime did not stop in time")
)

// Opener opens the store the runtime will own.
type Opener func() (store.Store, error)

// Options configures a Runtime.
type Options struct {
	Open         Opener        // Required: opens the store on the runtime goroutine
	Collection   string        // Required: default collection, created on Start
	QueueSize    int           // Accepted-but-not-started tasks (default 256)
	Concurrency  int           // Writes in flight at once (default 4)
	WriteTimeout time.Duration // Per-write deadline (default 10s)
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Runtime executes WriteTasks against a store on its own goroutines.
type Runtime struct {
	opts Options

	// lifeMu serialises Start and Stop.
	lifeMu sync.Mutex

	// mu guards state and the send side of tasks.
	mu    sync.RWMutex
	state runState

	tasks   chan WriteTask
	results chan Result
	done    chan struct{}

	ctx    context.Context // Parent of every write; cancelled to abort in-flight writes
	cancel context.CancelFunc
}

// New creates a Runtime. It does nothing until Start is called.
func New(opts Options) *Runtime {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		opts:    opts,
		tasks:   make(chan WriteTask, opts.QueueSize),
		results: make(chan Result, opts.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the runtime goroutine, which opens the store and ensures the
// default collection and its timestamp index exist. Start blocks until that
// initialisation has finished and returns its error, so a nil return means
// Submit will be accepted.
func (r *Runtime) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	if state != stateIdle {
		return ErrAlreadyStarted
	}
	if r.opts.Open == nil {
		return fmt.Errorf("persistence runtime has no store opener")
	}

	ready := make(chan error, 1)
	go r.run(ctx, ready)

	if err := <-ready; err != nil {
		r.mu.Lock()
		r.state = stateStopped
		r.mu.Unlock()
		r.cancel()
		return err
	}

	r.mu.Lock()
	r.state = stateRunning
	r.mu.Unlock()

	log.Printf("[INFO] Persistence runtime started (collection=%s, concurrency=%d, queue=%d)",
		r.opts.Collection, r.opts.Concurrency, r.opts.QueueSize)
	return nil
}

// Submit hands task to the runtime without waiting for it to execute.
// Safe for concurrent use. Returns ErrNotRunning or ErrQueueFull when the task
// was not accepted; the caller keeps ownership in that case.
func (r *Runtime) Submit(task WriteTask) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state != stateRunning {
		return ErrNotRunning
	}
	if task.Collection == "" {
		task.Collection = r.opts.Collection
	}

	select {
	case r.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Results delivers the outcome of every executed task. The channel is closed
// once the runtime goroutine has exited. Draining it is optional: when it is
// full, failures are logged by the runtime instead.
func (r *Runtime) Results() <-chan Result {
	return r.results
}

// Running reports whether Submit currently accepts work.
func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == stateRunning
}

// Done is closed when the runtime goroutine has exited and the store is closed.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// Stop stops accepting work, lets already accepted tasks finish, and waits up
// to timeout for the runtime goroutine to close the store. On timeout the
// in-flight writes are cancelled and ErrStopTimeout is returned; the goroutine
// still closes the store once the cancelled writes return.
//
// Safe to call before Start and safe to call more than once.
func (r *Runtime) Stop(timeout time.Duration) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	r.mu.Lock()
	switch r.state {
	case stateIdle:
		// The runtime goroutine never ran, so nothing else will close these.
		r.state = stateStopped
		close(r.results)
		close(r.done)
		r.mu.Unlock()
		r.cancel()
		return nil
	case stateStopping, stateStopped:
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopping
	close(r.tasks)
	r.mu.Unlock()

	log.Printf("[INFO] Persistence runtime stopping...")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-r.done:
		log.Printf("[INFO] Persistence runtime stopped")
	case <-timer.C:
		log.Printf("[ERROR] Persistence runtime did not stop within %s - cancelling in-flight writes", timeout)
		err = ErrStopTimeout
	}

	r.cancel()
	r.mu.Lock()
	r.state = stateStopped
	r.mu.Unlock()
	return err
}

// run is the runtime goroutine. It owns the store from open to close.
func (r *Runtime) run(initCtx context.Context, ready chan<- error) {
	defer close(r.done)
	defer close(r.results)

	st, err := r.opts.Open()
	if err != nil {
		ready <- fmt.Errorf("open store: %w", err)
		return
	}

	if err := st.EnsureCollection(initCtx, r.opts.Collection); err != nil {
		if closeErr := st.Close(); closeErr != nil {
			log.Printf("[ERROR] Failed to close store after setup error: %v", closeErr)
		}
		ready <- fmt.Errorf("ensure collection %s: %w", r.opts.Collection, err)
		return
	}

	ready <- nil

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)

	for task := range r.tasks {
		g.Go(func() error {
			r.execute(st, task)
			return nil
		})
	}
	_ = g.Wait()

	if err := st.Close(); err != nil {
		log.Printf("[ERROR] Failed to close store: %v", err)
	}
}

func (r *Runtime) execute(st store.Store, task WriteTask) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := st.Insert(ctx, task.Collection, task.document())

	r.publish(Result{
		TaskID:     task.ID,
		RunnerID:   task.Sample.RunnerID,
		Collection: task.Collection,
		Err:        err,
		Duration:   time.Since(start),
	})
}

func (r *Runtime) publish(res Result) {
	select {
	case r.results <- res:
	default:
		if res.Failed() {
			log.Printf("[ERROR] Write %s for runner %d failed (result channel full): %v", res.TaskID, res.RunnerID, res.Err)
		}
	}
}
