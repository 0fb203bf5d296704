package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funbot/internal/content/resolver"
	"funbot/internal/eventbus"
	"funbot/internal/handler"
	"funbot/internal/task/engine"
	"funbot/internal/task/scheduler"
	logx "funbot/pkg/logx"
)

func TestObserve(t *testing.T) {
	m := New(logx.Nop())

	m.Observe(eventbus.Event{Type: eventbus.ContentResolved, Data: resolver.ResolvedEvent{Category: "dog", Source: "local", Kind: "text", Attempts: 1, Took: 20 * time.Millisecond}})
	m.Observe(eventbus.Event{Type: eventbus.ContentResolved, Data: resolver.ResolvedEvent{Category: "dog", Source: "local", Kind: "text", Attempts: 1}})
	m.Observe(eventbus.Event{Type: eventbus.ContentExhausted, Data: resolver.ExhaustedEvent{Category: "weibo_hot", Attempts: 2}})
	m.Observe(eventbus.Event{Type: eventbus.ProviderFailed, Data: resolver.ProviderFailedEvent{Category: "weibo_hot", Kind: "timeout"}})
	m.Observe(eventbus.Event{Type: eventbus.CommandHandled, Data: handler.HandledEvent{Category: "dog", Outcome: "cooldown"}})
	m.Observe(eventbus.Event{Type: eventbus.ScheduleFired, Data: scheduler.FiredEvent{Job: scheduler.Job{Group: "1", Command: "dog", Time: "08:00"}}})
	m.Observe(eventbus.Event{Type: "task.finished", Data: engine.TaskEvent{Name: "x", Duration: time.Second}})
	m.Observe(eventbus.Event{Type: "something.else", Data: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Resolved.WithLabelValues("dog", "local", "text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exhausted.WithLabelValues("weibo_hot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFailure.WithLabelValues("weibo_hot", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("dog", "cooldown", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduleFired.WithLabelValues("dog", "enqueued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("finished")))
}

func TestRunAndHandler(t *testing.T) {
	m := New(logx.Nop())
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.ContentExhausted, Data: resolver.ExhaustedEvent{Category: "cp"}})
		return testutil.ToFloat64(m.Exhausted.WithLabelValues("cp")) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `funbot_content_exhausted_total{category="cp"}`)
	assert.Contains(t, string(body), "go_goroutines")
}
