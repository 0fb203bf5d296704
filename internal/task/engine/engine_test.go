package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"funbot/internal/eventbus"
	logx "funbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) TaskEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev.Data.(TaskEvent)
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestRunsTaskAndRecordsHistory(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	var ran atomic.Bool
	id, err := s.Enqueue(Task{Name: "g1.hitokoto", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ev := waitEvent(t, ch, "task.finished")
	assert.Equal(t, id, ev.ID)
	assert.True(t, ran.Load())

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, s.Snapshot().History[0].Error)
}

func TestPanicAndErrorAreRecorded(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	_, err := s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("kaboom") }})
	require.NoError(t, err)
	ev := waitEvent(t, ch, "task.failed")
	assert.Contains(t, ev.Error, "kaboom")

	_, err = s.Enqueue(Task{Name: "err", Run: func(context.Context) error { return errors.New("nope") }})
	require.NoError(t, err)
	ev = waitEvent(t, ch, "task.failed")
	assert.Equal(t, "nope", ev.Error)

	// The worker survived the panic.
	_, err = s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { return nil }})
	require.NoError(t, err)
	waitEvent(t, ch, "task.finished")
}

func TestTimeoutCancelsTaskContext(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 50 * time.Millisecond}, bus)

	_, err := s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	require.NoError(t, err)
	ev := waitEvent(t, ch, "task.failed")
	assert.Contains(t, ev.Error, context.DeadlineExceeded.Error())
}

func TestOverlapSkip(t *testing.T) {
	s := startEngine(t, Config{Workers: 2}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := s.Enqueue(Task{Name: "same", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	require.NoError(t, err)
	<-started

	_, err = s.Enqueue(Task{Name: "same", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrOverlapSkip)

	_, err = s.Enqueue(Task{Name: "same", Overlap: OverlapAllow, Run: func(context.Context) error { return nil }})
	assert.NoError(t, err)

	close(release)
	require.Eventually(t, func() bool {
		_, err := s.Enqueue(Task{Name: "same", Run: func(context.Context) error { return nil }})
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestQueueFullDrops(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 1}, nil)

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_, err := s.Enqueue(Task{Name: "a", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}})
	require.NoError(t, err)
	<-started

	_, err = s.Enqueue(Task{Name: "b", Run: func(context.Context) error { return nil }})
	require.NoError(t, err)
	_, err = s.Enqueue(Task{Name: "c", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.EqualValues(t, 1, s.Snapshot().DroppedQueueFull)
}

func TestEnqueueValidationAndStopped(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	_, err := s.Enqueue(Task{Name: "x"})
	assert.Error(t, err)
	_, err = s.Enqueue(Task{Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
	_, err = s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
}
