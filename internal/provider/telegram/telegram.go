// Package telegram implements the Telegram provider on the Bot API via long
// polling. Token-authenticated sessions have no pairing step, so the status
// goes straight from initializing to connected. The Bot API never echoes the
// bot's own messages, so bot traffic is synthesized into the queues after
// each successful send; owner-typed traffic does not exist for bot accounts.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/queue"
)

const (
	pollTimeout  = 30 // seconds, long-poll hold
	stopDeadline = 10 * time.Second
)

func init() {
	provider.Register("telegram", New)
}

// Provider drives one Telegram bot session.
type Provider struct {
	botID   string
	queues  *queue.Manager
	cb      provider.Callbacks
	logger  *slog.Logger
	allowed map[string]struct{}

	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	mu        sync.Mutex
	status    provider.Status
	userJID   string
	listening bool
}

// New builds a telegram provider from the registry config.
func New(cfg provider.Config) (provider.ChatProvider, error) {
	if cfg.Settings.Token == "" {
		return nil, fmt.Errorf("telegram: provider token is required")
	}
	if cfg.Queues == nil {
		return nil, fmt.Errorf("telegram: queue manager is required")
	}
	bot, err := telego.NewBot(cfg.Settings.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	var allowed map[string]struct{}
	if len(cfg.Settings.AllowedGroups) > 0 {
		allowed = make(map[string]struct{}, len(cfg.Settings.AllowedGroups))
		for _, g := range cfg.Settings.AllowedGroups {
			allowed[g] = struct{}{}
		}
	}

	return &Provider{
		botID:   cfg.BotID,
		queues:  cfg.Queues,
		cb:      cfg.Callbacks,
		logger:  cfg.Logger.With("provider", "telegram", "bot", cfg.BotID),
		allowed: allowed,
		bot:     bot,
		status:  provider.StatusInitializing,
	}, nil
}

func (p *Provider) Name() string { return "telegram" }

// Start validates the token, begins long polling and transitions to
// connected.
func (p *Provider) Start(ctx context.Context) error {
	p.logger.Info("telegram.start")

	me, err := p.bot.GetMe(ctx)
	if err != nil {
		return provider.Wrap(provider.KindAuth, "telegram.start", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	updates, err := p.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        pollTimeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return provider.Wrap(provider.KindConnection, "telegram.start", err)
	}
	p.pollCancel = cancel
	p.pollDone = make(chan struct{})

	p.mu.Lock()
	p.userJID = me.Username
	p.listening = true
	p.mu.Unlock()
	p.setStatus(provider.StatusConnected)
	p.logger.Info("telegram.connected", "username", me.Username)

	go func() {
		defer close(p.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					select {
					case <-pollCtx.Done():
					default:
						p.logger.Warn("telegram.updates_closed")
						p.mu.Lock()
						p.listening = false
						p.mu.Unlock()
						p.setStatus(provider.StatusDisconnected)
					}
					return
				}
				if update.Message != nil {
					p.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine, so Telegram
// releases the getUpdates lock before any new session starts.
func (p *Provider) Stop(ctx context.Context, cleanup bool) error {
	p.logger.Info("telegram.stop", "cleanup", cleanup)
	if p.pollCancel != nil {
		p.pollCancel()
	}
	if p.pollDone != nil {
		select {
		case <-p.pollDone:
		case <-time.After(stopDeadline):
			p.logger.Warn("telegram.stop_timeout")
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	p.listening = false
	if cleanup {
		p.userJID = ""
	}
	p.mu.Unlock()

	if cleanup {
		p.setStatus(provider.StatusTerminated)
	} else if !p.cachedStatus().Terminal() {
		p.setStatus(provider.StatusDisconnected)
	}
	return nil
}

func (p *Provider) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	isGroup := msg.Chat.Type == telego.ChatTypeGroup || msg.Chat.Type == telego.ChatTypeSupergroup
	if isGroup && !p.groupAllowed(chatID) {
		p.logger.Debug("telegram.group_filtered", "group", chatID)
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	sender := queue.Party{
		Identifier:  strconv.FormatInt(msg.From.ID, 10),
		DisplayName: displayName(msg.From),
	}
	var group *queue.Party
	if isGroup {
		group = &queue.Party{Identifier: chatID, DisplayName: msg.Chat.Title}
	}

	p.queues.Add(ctx, chatID, queue.Inbound{
		Content:           content,
		Sender:            sender,
		Source:            queue.SourceUser,
		OriginatingTimeMS: int64(msg.Date) * 1000,
		Group:             group,
		ProviderMessageID: strconv.Itoa(msg.MessageID),
	})
}

func displayName(u *telego.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

func (p *Provider) groupAllowed(chatID string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	_, ok := p.allowed[chatID]
	return ok
}

// SendMessage posts a text message. The Bot API does not echo bot sends, so
// the message is enqueued as bot traffic here.
func (p *Provider) SendMessage(ctx context.Context, recipient, content string) error {
	id, err := parseChatID(recipient)
	if err != nil {
		return provider.Errf(provider.KindProtocol, "telegram.send", "recipient %q: not a chat id", recipient)
	}
	sent, err := p.bot.SendMessage(ctx, tu.Message(tu.ID(id), content))
	if err != nil {
		return provider.Wrap(provider.KindSend, "telegram.send", err)
	}
	p.enqueueOwn(ctx, recipient, content, sent.MessageID)
	return nil
}

// SendFile posts a document with an optional caption. Telegram infers the
// media type from the payload, so mimeType is unused.
func (p *Provider) SendFile(ctx context.Context, recipient string, data []byte, filename, mimeType, caption string) error {
	id, err := parseChatID(recipient)
	if err != nil {
		return provider.Errf(provider.KindProtocol, "telegram.send_file", "recipient %q: not a chat id", recipient)
	}
	params := tu.Document(tu.ID(id), tu.File(tu.NameReader(bytes.NewReader(data), filename)))
	params.Caption = caption
	sent, err := p.bot.SendDocument(ctx, params)
	if err != nil {
		return provider.Wrap(provider.KindSend, "telegram.send_file", err)
	}
	p.enqueueOwn(ctx, recipient, caption, sent.MessageID)
	return nil
}

func (p *Provider) enqueueOwn(ctx context.Context, recipient, content string, messageID int) {
	p.queues.Add(ctx, recipient, queue.Inbound{
		Content:           content,
		Sender:            queue.Party{Identifier: p.UserJID()},
		Source:            queue.SourceBot,
		OriginatingTimeMS: time.Now().UnixMilli(),
		ProviderMessageID: strconv.Itoa(messageID),
	})
}

// Status returns the session state; with heartbeat it probes the Bot API
// first.
func (p *Provider) Status(ctx context.Context, heartbeat bool) (provider.Status, error) {
	if heartbeat {
		if _, err := p.bot.GetMe(ctx); err != nil {
			return p.cachedStatus(), provider.Wrap(provider.KindConnection, "telegram.status", err)
		}
	}
	return p.cachedStatus(), nil
}

func (p *Provider) cachedStatus() provider.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Provider) setStatus(s provider.Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	p.mu.Unlock()
	p.logger.Info("telegram.status", "status", string(s))
	p.cb.FireStatusChange(p.botID, s)
}

func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userJID != "" && p.listening
}

func (p *Provider) UserJID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userJID
}

// QRCode is empty: telegram sessions authenticate by token.
func (p *Provider) QRCode() string { return "" }

// FetchGroupHistory always fails: the Bot API offers no way to read past
// group messages.
func (p *Provider) FetchGroupHistory(ctx context.Context, groupID string, limit int) ([]provider.HistoryMessage, error) {
	return nil, provider.ErrHistoryUnsupported
}

// ListGroups returns an empty set: the Bot API cannot enumerate the chats a
// bot is in; groups become known from their traffic.
func (p *Provider) ListGroups(ctx context.Context) ([]provider.GroupInfo, error) {
	return []provider.GroupInfo{}, nil
}

func parseChatID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
