package besteffort

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newRunner(t *testing.T) (*Runner, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRunner(logger, time.Second), out
}

func TestGoRunsDetachedFromCaller(t *testing.T) {
	r, _ := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var sawErr error
	r.Go(ctx, "detached", func(ctx context.Context) error {
		<-started
		sawErr = ctx.Err()
		return nil
	})
	cancel()
	close(started)
	r.Wait()

	assert.NoError(t, sawErr)
}

func TestErrorsAndPanicsAreLogged(t *testing.T) {
	r, out := newRunner(t)

	r.Go(context.Background(), "stock", func(context.Context) error {
		return errors.New("throttled")
	}, slog.String("product_id", "p1"))
	r.Go(context.Background(), "email", func(context.Context) error {
		panic("nil map")
	})
	r.Wait()

	logs := out.String()
	assert.Contains(t, logs, `"task":"stock"`)
	assert.Contains(t, logs, `"product_id":"p1"`)
	assert.Contains(t, logs, "throttled")
	assert.Contains(t, logs, `"task":"email"`)
	assert.Contains(t, logs, "panic: nil map")
}

func TestTaskTimeout(t *testing.T) {
	r := NewRunner(slog.New(slog.NewTextHandler(&syncBuffer{}, nil)), 10*time.Millisecond)

	var err atomic.Value
	r.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		err.Store(ctx.Err())
		return ctx.Err()
	})
	r.Wait()

	assert.ErrorIs(t, err.Load().(error), context.DeadlineExceeded)
}

func TestDrain(t *testing.T) {
	r, out := newRunner(t)
	var ran atomic.Int32
	release := make(chan struct{})

	require.True(t, r.Go(context.Background(), "one", func(context.Context) error {
		<-release
		ran.Add(1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	assert.ErrorIs(t, r.Drain(ctx), context.DeadlineExceeded)

	assert.NoError(t, r.Drain(context.Background()))
	assert.Equal(t, int32(1), ran.Load())

	assert.False(t, r.Go(context.Background(), "late", func(context.Context) error {
		ran.Add(1)
		return nil
	}))
	assert.Equal(t, int32(1), ran.Load())
	assert.Contains(t, out.String(), "dropped after shutdown")
	assert.Contains(t, out.String(), `"task":"late"`)
}

func TestWaitContextKeepsAccepting(t *testing.T) {
	r, _ := newRunner(t)
	release := make(chan struct{})
	require.True(t, r.Go(context.Background(), "slow", func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitContext(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.WaitContext(context.Background()))
	assert.True(t, r.Go(context.Background(), "after", func(context.Context) error { return nil }))
	r.Wait()
}
