package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "funbot/internal/transport"
	logx "funbot/pkg/logx"
)

func TestToMessageMentions(t *testing.T) {
	t.Parallel()
	text := "/cp @alice Bob"
	m := &tele.Message{
		ID:     9,
		Text:   text,
		Chat:   &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 7, Username: "carol"},
		Entities: tele.Entities{
			{Type: tele.EntityCommand, Offset: 0, Length: 3},
			{Type: tele.EntityMention, Offset: 4, Length: 6},
			{Type: tele.EntityTMention, Offset: 11, Length: 3, User: &tele.User{ID: 42}},
		},
	}
	got := toMessage(m)
	require.NotNil(t, got)
	assert.True(t, got.IsGroup)
	assert.Equal(t, int64(-100), got.ChatID)
	assert.Equal(t, int64(7), got.FromID)
	assert.Equal(t, []kit.Mention{
		{Username: "alice"},
		{UserID: 42, DisplayName: "Bob"},
	}, got.Mentions)

	assert.Nil(t, toMessage(&tele.Message{Chat: &tele.Chat{ID: 1}}), "no sender")
	private := toMessage(&tele.Message{Chat: &tele.Chat{ID: 5, Type: tele.ChatPrivate}, Sender: &tele.User{ID: 5}})
	assert.False(t, private.IsGroup)
}

func TestMediaFilePrefersData(t *testing.T) {
	t.Parallel()
	f, err := mediaFile(kit.Media{URL: "https://x/y.png", Data: []byte{1}})
	require.NoError(t, err)
	assert.NotNil(t, f.FileReader)

	f, err = mediaFile(kit.Media{URL: "https://x/y.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", f.FileURL)

	_, err = mediaFile(kit.Media{})
	assert.Error(t, err)
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitTelegramText("short", 10, ""))

	line := strings.Repeat("a", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	chunks := splitTelegramText(text, 70, "")
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 70)
		assert.False(t, strings.HasPrefix(c, "\n"))
	}
	assert.Equal(t, text, strings.Join(chunks, "\n"))
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)

	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Stop(t.Context()), "stop before start is a no-op")
}
