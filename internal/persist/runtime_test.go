package persist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/pacer/internal/store"
	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records calls and can be told to fail or block.
type fakeStore struct {
	mu          sync.Mutex
	ensured     []string
	docs        []store.Document
	inserts     int
	closed      bool
	ensureErr   error
	insertErr   error
	block       chan struct{} // when non-nil, Insert waits for it or ctx
	insertEnter chan struct{} // signalled on each Insert call when non-nil
}

func (f *fakeStore) EnsureCollection(ctx context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, collection)
	return f.ensureErr
}

func (f *fakeStore) Insert(ctx context.Context, collection string, doc store.Document) error {
	if f.insertEnter != nil {
		f.insertEnter <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return f.insertErr
	}
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStore) snapshot() (docs []store.Document, inserts int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Document(nil), f.docs...), f.inserts, f.closed
}

func openerFor(s store.Store) Opener {
	return func() (store.Store, error) { return s, nil }
}

func newTestRuntime(t *testing.T, fs *fakeStore, opts Options) *Runtime {
	t.Helper()
	opts.Open = openerFor(fs)
	if opts.Collection == "" {
		opts.Collection = "telemetry"
	}
	rt := New(opts)
	t.Cleanup(func() { rt.Stop(time.Second) })
	return rt
}

func waitResult(t *testing.T, rt *Runtime) Result {
	t.Helper()
	select {
	case res := <-rt.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for write result")
		return Result{}
	}
}

func TestRuntime_StartEnsuresCollection(t *testing.T) {
	fs := &fakeStore{}
	rt := newTestRuntime(t, fs, Options{Collection: "runs"})

	require.NoError(t, rt.Start(context.Background()))
	assert.True(t, rt.Running())

	fs.mu.Lock()
	assert.Equal(t, []string{"runs"}, fs.ensured)
	fs.mu.Unlock()
}

func TestRuntime_SubmitWritesAsynchronously(t *testing.T) {
	fs := &fakeStore{}
	rt := newTestRuntime(t, fs, Options{})
	require.NoError(t, rt.Start(context.Background()))

	task := NewWriteTask(telemetry.Sample{RunnerID: 3, TimestampMs: 42}, "")
	require.NoError(t, rt.Submit(task))

	res := waitResult(t, rt)
	assert.False(t, res.Failed())
	assert.Equal(t, task.ID, res.TaskID)
	assert.Equal(t, int64(3), res.RunnerID)
	assert.Equal(t, "telemetry", res.Collection, "empty collection falls back to the default")

	docs, _, _ := fs.snapshot()
	require.Len(t, docs, 1)
	assert.Equal(t, task.ID, docs[0].ID)
	assert.Equal(t, int64(42), docs[0].Sample.TimestampMs)
}

func TestRuntime_FailedWriteIsReportedNotRetried(t *testing.T) {
	fs := &fakeStore{insertErr: errors.New("disk on fire")}
	rt := newTestRuntime(t, fs, Options{})
	require.NoError(t, rt.Start(context.Background()))

	require.NoError(t, rt.Submit(NewWriteTask(telemetry.Sample{RunnerID: 1}, "")))

	res := waitResult(t, rt)
	require.True(t, res.Failed())
	assert.Contains(t, res.Err.Error(), "disk on fire")

	require.NoError(t, rt.Stop(time.Second))
	_, inserts, _ := fs.snapshot()
	assert.Equal(t, 1, inserts, "a failed write must be attempted exactly once")
}

func TestRuntime_SubmitRejectedWhenNotRunning(t *testing.T) {
	fs := &fakeStore{}
	rt := newTestRuntime(t, fs, Options{})

	assert.ErrorIs(t, rt.Submit(NewWriteTask(telemetry.Sample{}, "")), ErrNotRunning, "before Start")

	require.NoError(t, rt.Start(context.Background()))
	require.NoError(t, rt.Stop(time.Second))

	assert.ErrorIs(t, rt.Submit(NewWriteTask(telemetry.Sample{}, "")), ErrNotRunning, "after Stop")
	assert.False(t, rt.Running())
}

func TestRuntime_SubmitDoesNotBlockWhenQueueIsFull(t *testing.T) {
	fs := &fakeStore{block: make(chan struct{}), insertEnter: make(chan struct{}, 10)}
	rt := newTestRuntime(t, fs, Options{QueueSize: 1, Concurrency: 1})
	require.NoError(t, rt.Start(context.Background()))

	// First task occupies the single write slot.
	require.NoError(t, rt.Submit(NewWriteTask(telemetry.Sample{RunnerID: 1}, "")))
	<-fs.insertEnter

	// Second task is picked off the queue by the scheduler, which then waits for a slot.
	require.NoError(t, rt.Submit(NewWriteTask(telemetry.Sample{RunnerID: 2}, "")))

	// Eventually the queue fills and Submit refuses instead of blocking.
	require.Eventually(t, func() bool {
		start := time.Now()
		err := rt.Submit(NewWriteTask(telemetry.Sample{RunnerID: 3}, ""))
		assert.True(t, time.Since(start) < 100*time.Millisecond, "Submit must not block")
		return errors.Is(err, ErrQueueFull)
	}, time.Second, 5*time.Millisecond)

	close(fs.block)
}

func TestRuntime_StartFailures(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		rt := New(Options{
			Collection: "telemetry",
			Open:       func() (store.Store, error) { return nil, errors.New("no route to host") },
		})
		err := rt.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no route to host")
		assert.False(t, rt.Running())
		assert.ErrorIs(t, rt.Submit(NewWriteTask(telemetry.Sample{}, "")), ErrNotRunning)
		assert.NoError(t, rt.Stop(time.Second))
	})

	t.Run("ensure collection error closes store", func(t *testing.T) {
		fs := &fakeStore{ensureErr: errors.New("permission denied")}
		rt := newTestRuntime(t, fs, Options{})
		err := rt.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission denied")

		_, _, closed := fs.snapshot()
		assert.True(t, closed)
	})

	t.Run("missing opener", func(t *testing.T) {
		rt := New(Options{Collection: "telemetry"})
		assert.Error(t, rt.Start(context.Background()))
	})

	t.Run("second start", func(t *testing.T) {
		rt := newTestRuntime(t, &fakeStore{}, Options{})
		require.NoError(t, rt.Start(context.Background()))
		assert.ErrorIs(t, rt.Start(context.Background()), ErrAlreadyStarted)
	})
}

func TestRuntime_StopDrainsAcceptedTasksAndClosesStore(t *testing.T) {
	fs := &fakeStore{}
	rt := newTestRuntime(t, fs, Options{Concurrency: 2})
	require.NoError(t, rt.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, rt.Submit(NewWriteTask(telemetry.Sample{RunnerID: int64(i)}, "")))
	}

	require.NoError(t, rt.Stop(2*time.Second))

	docs, _, closed := fs.snapshot()
	assert.Len(t, docs, 20)
	assert.True(t, closed)

	select {
	case <-rt.Done():
	default:
		t.Fatal("runtime goroutine still running after Stop")
	}

	// Results channel is closed once drained.
	count := 0
	for range rt.Results() {
		count++
	}
	assert.Equal(t, 20, count)
}

func TestRuntime_StopTimeoutCancelsInFlightWrites(t *testing.T) {
	fs := &fakeStore{block: make(chan struct{}), insertEnter: make(chan struct{}, 1)}
	rt := newTestRuntime(t, fs, Options{})
	require.NoError(t, rt.Start(context.Background()))

	require.NoError(t, rt.Submit(NewWriteTask(telemetry.Sample{RunnerID: 1}, "")))
	<-fs.insertEnter

	err := rt.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)

	select {
	case <-rt.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runtime goroutine did not exit after cancellation")
	}
	_, _, closed := fs.snapshot()
	assert.True(t, closed)

	res := <-rt.Results()
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRuntime_StopIsIdempotent(t *testing.T) {
	rt := New(Options{Collection: "telemetry", Open: openerFor(&fakeStore{})})
	assert.NoError(t, rt.Stop(time.Second), "stop before start")
	assert.NoError(t, rt.Stop(time.Second))
	assert.ErrorIs(t, rt.Start(context.Background()), ErrAlreadyStarted)

	select {
	case <-rt.Done():
	default:
		t.Fatal("Done not closed after stop before start")
	}
	_, open := <-rt.Results()
	assert.False(t, open, "results closed after stop before start")

	started := New(Options{Collection: "telemetry", Open: openerFor(&fakeStore{})})
	require.NoError(t, started.Start(context.Background()))
	assert.NoError(t, started.Stop(time.Second))
	assert.NoError(t, started.Stop(time.Second))
}

func TestRuntime_WithSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacer.db")
	rt := New(Options{
		Collection: "telemetry",
		Open:       func() (store.Store, error) { return store.Open("sqlite://" + path) },
	})
	require.NoError(t, rt.Start(context.Background()))

	for i := 1; i <= 3; i++ {
		require.NoError(t, rt.Submit(NewWriteTask(telemetry.Sample{RunnerID: int64(i), TimestampMs: int64(i * 10)}, "")))
	}
	for i := 0; i < 3; i++ {
		res := waitResult(t, rt)
		assert.NoError(t, res.Err)
	}
	require.NoError(t, rt.Stop(time.Second))
}
