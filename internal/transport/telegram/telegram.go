package telegram

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "planbot/internal/transport"
	logx "planbot/pkg/logx"
)

type Config struct {
	Token string
	// PollTimeout bounds the underlying long-poll client. The adapter never
	// starts polling (inbound handling lives outside this process surface),
	// but telebot requires a poller at construction time.
	PollTimeout time.Duration
}

// Adapter implements transport.Adapter on top of telebot.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Close() error {
	// Nothing persistent to tear down: no poller is running.
	return nil
}

// recipient adapts ChatTarget to telebot's Recipient interface so both
// numeric ids and @usernames address chats uniformly.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func toRecipient(t kit.ChatTarget) recipient {
	if t.Username != "" {
		return recipient(t.Username)
	}
	return recipient(strconv.FormatInt(t.ChatID, 10))
}

const (
	textLimit    = 4000
	captionLimit = 1024
)

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctxErr(ctx); err != nil {
			if i > 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		msg, err := a.bot.Send(toRecipient(to), chunk, sendOpt)
		if err != nil {
			if i > 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = messageRef(msg)
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photoURL, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}

	chunks := splitText(caption, captionLimit)

	photo := &tele.Photo{File: tele.FromURL(photoURL), Caption: chunks[0]}
	msg, err := a.bot.Send(toRecipient(to), photo, &tele.SendOptions{ParseMode: opt.ParseMode})
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref := messageRef(msg)

	// Overflowing caption continues as plain follow-up messages.
	for _, chunk := range chunks[1:] {
		if err := ctxErr(ctx); err != nil {
			return ref, err
		}
		if _, err := a.bot.Send(toRecipient(to), chunk, &tele.SendOptions{ParseMode: opt.ParseMode}); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, filename string, payload []byte, caption string) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(payload)),
		FileName: filename,
		Caption:  caption,
	}
	msg, err := a.bot.Send(toRecipient(to), doc)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return messageRef(msg), nil
}

// CheckChannel verifies the bot is an admin that can post, then sends and
// deletes a probe message to prove it end to end.
func (a *Adapter) CheckChannel(ctx context.Context, to kit.ChatTarget) (kit.ChannelAccess, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.ChannelAccess{}, err
	}

	var (
		chat *tele.Chat
		err  error
	)
	if to.Username != "" {
		chat, err = a.bot.ChatByUsername(to.Username)
	} else {
		chat, err = a.bot.ChatByID(to.ChatID)
	}
	if err != nil {
		return kit.ChannelAccess{}, err
	}
	access := kit.ChannelAccess{Title: chat.Title}

	admins, err := a.bot.AdminsOf(chat)
	if err != nil {
		return access, err
	}
	me := a.bot.Me
	for _, m := range admins {
		if m.User == nil || me == nil || m.User.ID != me.ID {
			continue
		}
		access.BotIsAdmin = true
		if m.Role == tele.Creator || m.Role == tele.Administrator {
			access.CanPost = true
		}
		break
	}

	if access.BotIsAdmin && access.CanPost {
		probe, err := a.bot.Send(chat, "Connectivity check: this message is deleted automatically.")
		if err != nil {
			access.CanPost = false
			return access, nil
		}
		if err := a.bot.Delete(probe); err != nil {
			a.log.Debug("probe message cleanup failed", logx.Err(err), logx.String("chat", to.String()))
		}
	}
	return access, nil
}

func messageRef(m *tele.Message) kit.MessageRef {
	if m == nil {
		return kit.MessageRef{}
	}
	ref := kit.MessageRef{MessageID: m.ID}
	if m.Chat != nil {
		ref.ChatID = m.Chat.ID
	}
	return ref
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// splitText splits long messages into chunks that are safe to send,
// preferring newline boundaries near the end of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
