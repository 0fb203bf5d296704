package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	// Mentions lists users referenced by text mentions, in message order.
	Mentions []Mention
}

// Mention is a user referenced in a message (an @username or a text mention).
type Mention struct {
	UserID      int64
	Username    string
	DisplayName string
}

// Name returns the best human-readable label for the mention.
func (m Mention) Name() string {
	if s := strings.TrimSpace(m.DisplayName); s != "" {
		return s
	}
	if s := strings.TrimSpace(m.Username); s != "" {
		return s
	}
	if m.UserID != 0 {
		return strconv.FormatInt(m.UserID, 10)
	}
	return ""
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// GroupKey is the throttling and toggle scope for a chat.
func (t ChatTarget) GroupKey() string { return strconv.FormatInt(t.ChatID, 10) }

// TargetFromGroup parses a group key back into a chat target.
func TargetFromGroup(group string) (ChatTarget, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(group), 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, fmt.Errorf("invalid group id %q", group)
	}
	return ChatTarget{ChatID: id}, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
}

// Media is an image or audio payload. Data wins over URL when both are set.
type Media struct {
	URL     string
	Data    []byte
	Name    string
	Caption string
}

// TextSender is the narrow capability needed by log sinks.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// MediaSender sends every content variant the resolver can produce.
type MediaSender interface {
	TextSender
	SendPhoto(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
	SendAudio(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	MediaSender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
