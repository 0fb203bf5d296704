package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funbot/internal/content"
	kit "funbot/internal/transport"
	logx "funbot/pkg/logx"
)

type sent struct {
	kind  string
	to    kit.ChatTarget
	text  string
	media kit.Media
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	fail error
}

func (f *fakeSender) record(s sent) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return kit.MessageRef{}, f.fail
	}
	f.sent = append(f.sent, s)
	return kit.MessageRef{ChatID: s.to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(sent{kind: "text", to: to, text: text})
}

func (f *fakeSender) SendPhoto(_ context.Context, to kit.ChatTarget, m kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(sent{kind: "photo", to: to, media: m})
}

func (f *fakeSender) SendAudio(_ context.Context, to kit.ChatTarget, m kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(sent{kind: "audio", to: to, media: m})
}

func TestDeliverRoutesByKind(t *testing.T) {
	t.Parallel()
	to := kit.ChatTarget{ChatID: -100}
	tests := []struct {
		name string
		r    content.Result
		kind string
	}{
		{name: "text", r: content.Text("hello"), kind: "text"},
		{name: "ranked", r: content.Ranked("Top:", []content.RankedItem{{Rank: 1, Title: "a"}}), kind: "text"},
		{name: "image", r: content.ImageURL("https://img/x.png"), kind: "photo"},
		{name: "audio", r: content.AudioData([]byte("mp3"), "x.mp3"), kind: "audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSender{}
			d := New(f, logx.Nop())
			require.NoError(t, d.Deliver(context.Background(), to, tt.r))
			require.Len(t, f.sent, 1)
			assert.Equal(t, tt.kind, f.sent[0].kind)
			assert.Equal(t, to, f.sent[0].to)
		})
	}
}

func TestDeliverRankedRendersAsText(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	d := New(f, logx.Nop())
	r := content.Ranked("Top:", []content.RankedItem{{Rank: 1, Title: "a", Score: "9"}})
	require.NoError(t, d.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, r))
	assert.Equal(t, "Top:\n1. a (9)", f.sent[0].text)
}

func TestDeliverWrapsFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("telegram down")
	d := New(&fakeSender{fail: boom}, logx.Nop())
	err := d.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, content.Text("x"))
	require.ErrorIs(t, err, content.ErrDeliveryFailure)
	require.ErrorIs(t, err, boom)
}

func TestDeliverRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	d := New(&fakeSender{}, logx.Nop())
	err := d.Deliver(context.Background(), kit.ChatTarget{ChatID: 1}, content.Result{})
	require.ErrorIs(t, err, content.ErrDeliveryFailure)
}
