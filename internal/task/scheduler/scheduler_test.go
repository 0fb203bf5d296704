package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"funbot/internal/content"
	"funbot/internal/eventbus"
	"funbot/internal/storage"
	"funbot/internal/task/engine"
	logx "funbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStarted(t *testing.T, docs storage.DocStore, eng Enqueuer, fire FireFunc, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, docs, eng, fire, logx.Nop(), bus)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestIsValidTime(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]bool{
		"00:00":  true,
		"08:30":  true,
		"23:59":  true,
		"24:00":  false,
		"8:30":   false,
		"08:60":  false,
		"0830":   false,
		"":       false,
		" 08:30": false,
	} {
		assert.Equal(t, want, IsValidTime(in), in)
	}
}

func TestAddRejectsInvalidTime(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, nil, logx.Nop(), nil)
	added, err := s.Add(context.Background(), "g1", "hitokoto", "25:00")
	require.ErrorIs(t, err, content.ErrInvalidTimeFormat)
	assert.False(t, added)
	assert.Empty(t, s.Groups())
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestAddStatusRemove(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := newStarted(t, mem, nil, nil, nil)

	added, err := s.Add(ctx, "g1", "hitokoto", "08:30")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Add(ctx, "g1", "hitokoto", "07:00")
	require.NoError(t, err)
	assert.True(t, added)
	_, err = s.Add(ctx, "g2", "joke", "12:00")
	require.NoError(t, err)

	added, err = s.Add(ctx, "g1", "hitokoto", "08:30")
	require.NoError(t, err)
	assert.False(t, added, "duplicate is a no-op")

	want := map[string][]string{"hitokoto": {"07:00", "08:30"}}
	if diff := cmp.Diff(want, s.Status("g1")); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"g1", "g2"}, s.Groups())

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 3)
	first := snap.Schedules[0]
	assert.Equal(t, Job{Group: "g1", Command: "hitokoto", Time: "07:00"}, first.Job)
	assert.Equal(t, 7, first.Next.Hour())
	assert.Equal(t, 0, first.Next.Minute())
	assert.Equal(t, "UTC", first.Next.Location().String())

	// Status is a copy.
	st := s.Status("g1")
	st["hitokoto"][0] = "99:99"
	assert.Equal(t, []string{"07:00", "08:30"}, s.Status("g1")["hitokoto"])

	removed, err := s.Remove(ctx, "g1", "hitokoto", "07:00")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Remove(ctx, "g1", "hitokoto", "07:00")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, s.Snapshot().Schedules, 2)

	b, ok, err := mem.Load(ctx, DocName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"g1":{"hitokoto":["08:30"]},"g2":{"joke":["12:00"]}}`, string(b))

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.Groups())
	assert.Empty(t, s.Snapshot().Schedules)
	b, _, _ = mem.Load(ctx, DocName)
	assert.JSONEq(t, `{}`, string(b))
}

func TestRestoreFromDocument(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Save(ctx, DocName, []byte(`{
  "g1": {"hitokoto": ["08:30", "8:30"], "joke": ["21:05"]},
  "g2": {"renjian": ["00:00"]}
}`)))

	s := newStarted(t, mem, nil, nil, nil)
	assert.Equal(t, map[string][]string{"hitokoto": {"08:30"}, "joke": {"21:05"}}, s.Status("g1"))
	assert.Len(t, s.Snapshot().Schedules, 3)
	assert.True(t, s.Snapshot().Running)

	b, _, _ := mem.Load(ctx, DocName)
	assert.NotContains(t, string(b), `"8:30"`, "invalid entry dropped and table rewritten")
}

func TestRestoreMissingAndInvalid(t *testing.T) {
	ctx := context.Background()

	mem := storage.NewMemory()
	newStarted(t, mem, nil, nil, nil)
	b, ok, _ := mem.Load(ctx, DocName)
	require.True(t, ok, "missing document is created")
	assert.JSONEq(t, `{}`, string(b))

	bad := storage.NewMemory()
	require.NoError(t, bad.Save(ctx, DocName, []byte(`not json`)))
	s := newStarted(t, bad, nil, nil, nil)
	assert.Empty(t, s.Groups())
}

func startEngine(t *testing.T, bus eventbus.Bus) *engine.Service {
	t.Helper()
	e := engine.New(engine.Config{Workers: 2}, logx.Nop(), bus)
	e.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Stop(ctx)
	})
	return e
}

func TestTriggerRunsFireOnEngine(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	eng := startEngine(t, bus)

	got := make(chan Job, 1)
	s := newStarted(t, nil, eng, func(ctx context.Context, j Job) error {
		got <- j
		return nil
	}, bus)

	j := Job{Group: "g1", Command: "weibo_hot", Time: "09:00"}
	s.trigger(j)

	select {
	case fired := <-got:
		assert.Equal(t, j, fired)
	case <-time.After(2 * time.Second):
		t.Fatal("fire not called")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != eventbus.ScheduleFired {
				continue
			}
			fe := ev.Data.(FiredEvent)
			assert.Equal(t, j, fe.Job)
			assert.NotEmpty(t, fe.TaskID)
			assert.Empty(t, fe.Error)
			return
		case <-deadline:
			t.Fatal("no schedule.fired event")
		}
	}
}

func TestTriggerSkipsWhilePreviousRuns(t *testing.T) {
	eng := startEngine(t, nil)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	s := newStarted(t, nil, eng, func(ctx context.Context, j Job) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, nil)

	j := Job{Group: "g1", Command: "dog", Time: "10:00"}
	s.trigger(j)
	<-started
	s.trigger(j)
	close(release)

	select {
	case <-started:
		t.Fatal("overlapping delivery must be skipped")
	case <-time.After(100 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		return len(eng.Snapshot().History) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJobIDKeepsPartsApart(t *testing.T) {
	t.Parallel()
	a := Job{Group: "g_1", Command: "beauty", Time: "09:00"}
	b := Job{Group: "g", Command: "1_beauty", Time: "09:00"}
	assert.NotEqual(t, a.ID(), b.ID())

	s := New(Config{}, nil, nil, nil, logx.Nop(), nil)
	for _, tc := range []struct{ group, cmd string }{{"g|1", "dog"}, {"g1", "dog|cat"}} {
		added, err := s.Add(context.Background(), tc.group, tc.cmd, "09:00")
		require.ErrorIs(t, err, content.ErrInvalidArguments)
		assert.False(t, added)
	}
}

type fullEngine struct{}

func (fullEngine) Enqueue(engine.Task) (string, error) { return "", engine.ErrQueueFull }

func TestTriggerCountsMissedTicks(t *testing.T) {
	s := newStarted(t, nil, fullEngine{}, func(context.Context, Job) error { return nil }, nil)
	_, err := s.Add(context.Background(), "g1", "weibo_hot", "09:00")
	require.NoError(t, err)

	j := Job{Group: "g1", Command: "weibo_hot", Time: "09:00"}
	s.trigger(j)
	s.trigger(j)
	s.trigger(Job{Group: "g2", Command: "dog", Time: "10:00"})

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Missed)
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, 2, snap.Schedules[0].Missed)
}
