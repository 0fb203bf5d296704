package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "funbot/internal/transport"
	logx "funbot/pkg/logx"
)

type recSender struct {
	mu    sync.Mutex
	texts []string
	menu  []kit.BotCommand
}

func (s *recSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (s *recSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	s.menu = cmds
	return nil
}

func (s *recSender) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func noop(context.Context, *Request) error { return nil }

func newManager(t *testing.T, out kit.TextSender) *CommandManager {
	t.Helper()
	m := NewCommandManager(Config{Workers: 2}, logx.Nop(), out, []int64{1})
	m.SetRegistry([]Command{
		{Name: "hitokoto", Aliases: []string{"一言"}, Description: "a random quote", Handle: noop},
		{Name: "cp", Aliases: []string{"宇宙cp"}, AllowArgs: true, Handle: noop},
		{Name: "disable", Access: AccessOwnerOnly, AllowArgs: true, GroupOnly: true, Handle: noop},
	})
	return m
}

func msg(text string, group bool) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: 7, Text: text, IsGroup: group}}
}

func TestMatchStrictArguments(t *testing.T) {
	t.Parallel()
	m := newManager(t, &recSender{})

	tests := []struct {
		text  string
		want  string
		match bool
	}{
		{"/hitokoto", "hitokoto", true},
		{"/hitokoto@funbot", "hitokoto", true},
		{"一言", "hitokoto", true},
		{"  /HITOKOTO  ", "hitokoto", true},
		{"一言 more", "", false},
		{"/hitokoto please", "", false},
		{"宇宙cp alice bob", "cp", true},
		{"/cp", "cp", true},
		{"hello there", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req, cmd, ok := m.match(msg(tt.text, true))
		assert.Equal(t, tt.match, ok, tt.text)
		if ok {
			assert.Equal(t, tt.want, cmd.Name, tt.text)
			assert.Equal(t, "-100", req.Group)
		}
	}

	req, _, ok := m.match(msg(`/cp "alice b" bob`, false))
	require.True(t, ok)
	assert.Equal(t, PrivateGroup, req.Group)
	assert.Equal(t, []string{"alice b", "bob"}, req.Args)
	assert.Equal(t, `"alice b" bob`, req.ArgText)
	assert.Equal(t, "7", req.User())
}

func TestDispatchAccessAndExecution(t *testing.T) {
	out := &recSender{}
	m := NewCommandManager(Config{Workers: 1}, logx.Nop(), out, []int64{1})
	ran := make(chan *Request, 4)
	m.SetRegistry([]Command{
		{Name: "joke", Handle: func(_ context.Context, r *Request) error { ran <- r; return nil }},
		{Name: "disable", Access: AccessOwnerOnly, AllowArgs: true, GroupOnly: true,
			Handle: func(_ context.Context, r *Request) error { ran <- r; return nil }},
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("x") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	updates <- msg("/boom", true)
	updates <- msg("/joke", true)
	select {
	case r := <-ran:
		assert.Equal(t, "joke", r.Command)
		assert.NotEmpty(t, r.ReqID)
	case <-time.After(2 * time.Second):
		t.Fatal("joke not dispatched")
	}

	updates <- msg("/disable joke", true) // from 7, not an owner
	owner := msg("/disable joke", false)
	owner.Message.FromID = 1
	updates <- owner
	updates <- msg("/nope", false)

	require.Eventually(t, func() bool { return len(out.Texts()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{failedReply, "unauthorized", "This command only works in groups.", "Unknown command. Try /help"}, out.Texts())

	cancel()
	require.NoError(t, <-done)
	assert.Nil(t, m.Supervisor())
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	out := &recSender{}
	m := newManager(t, out)

	require.NoError(t, m.UpdateMenu(context.Background()))
	names := make([]string, 0, len(out.menu))
	for _, c := range out.menu {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"cp", "disable", "hitokoto"}, names, "help is hidden")

	public := m.helpText(false)
	assert.Contains(t, public, "<code>/hitokoto</code> a random quote <i>(一言)</i>")
	assert.NotContains(t, public, "disable")
	assert.Contains(t, m.helpText(true), "<b>Admin</b>")

	c, ok := m.Lookup("/H")
	require.True(t, ok)
	assert.Equal(t, "help", c.Name)
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"weibo_hot":  "weibo_hot",
		"Weibo-Hot":  "weibo_hot",
		"一言":        "",
		"9lives":     "cmd_9lives",
		"a  b":       "a_b",
	} {
		assert.Equal(t, want, sanitizeTelegramCommand(in), in)
	}
}
