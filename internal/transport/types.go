package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ChatTarget addresses a Telegram chat: either a numeric chat id or a public
// @username (channels bound by username keep the string form).
type ChatTarget struct {
	ChatID   int64
	Username string
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

func (t ChatTarget) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses a stored channel reference ("@name" or a numeric id).
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("empty chat target")
	}
	if strings.HasPrefix(s, "@") {
		return ChatTarget{Username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("invalid chat target %q: %w", s, err)
	}
	return ChatTarget{ChatID: id}, nil
}

// UserTarget addresses a user's direct-message chat.
func UserTarget(userID int64) ChatTarget { return ChatTarget{ChatID: userID} }

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ChannelAccess reports the bot's standing in a channel.
type ChannelAccess struct {
	BotIsAdmin bool
	CanPost    bool
	Title      string
}

// Sender is the outbound delivery capability consumed by the publisher and
// the backup emitter. Implementations must be safe for concurrent use.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photoURL, caption string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, filename string, payload []byte, caption string) (MessageRef, error)
}

// ChannelChecker verifies that the bot can post to a channel before it is
// bound to a project.
type ChannelChecker interface {
	CheckChannel(ctx context.Context, to ChatTarget) (ChannelAccess, error)
}

// Adapter is the full messaging transport surface.
type Adapter interface {
	Sender
	ChannelChecker
	Close() error
}
