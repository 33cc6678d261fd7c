// Package discord implements the Discord provider on the gateway API. Like
// telegram it is token-authenticated (initializing → connected, no QR). The
// gateway does echo the bot's own messages, so classification compares the
// author against the bot identity; owner-typed traffic does not exist for
// bot accounts.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/queue"
)

func init() {
	provider.Register("discord", New)
}

// Provider drives one Discord bot session.
type Provider struct {
	botID   string
	queues  *queue.Manager
	cb      provider.Callbacks
	logger  *slog.Logger
	allowed map[string]struct{}

	session *discordgo.Session

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    provider.Status
	ownUserID string
	userJID   string
	listening bool
}

// New builds a discord provider from the registry config.
func New(cfg provider.Config) (provider.ChatProvider, error) {
	if cfg.Settings.Token == "" {
		return nil, fmt.Errorf("discord: provider token is required")
	}
	if cfg.Queues == nil {
		return nil, fmt.Errorf("discord: queue manager is required")
	}
	session, err := discordgo.New("Bot " + cfg.Settings.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	var allowed map[string]struct{}
	if len(cfg.Settings.AllowedGroups) > 0 {
		allowed = make(map[string]struct{}, len(cfg.Settings.AllowedGroups))
		for _, g := range cfg.Settings.AllowedGroups {
			allowed[g] = struct{}{}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		botID:   cfg.BotID,
		queues:  cfg.Queues,
		cb:      cfg.Callbacks,
		logger:  cfg.Logger.With("provider", "discord", "bot", cfg.BotID),
		allowed: allowed,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		status:  provider.StatusInitializing,
	}, nil
}

func (p *Provider) Name() string { return "discord" }

// Start opens the gateway connection, resolves the bot identity and
// transitions to connected. discordgo reconnects the gateway on its own;
// the connect/disconnect handlers keep the status in step.
func (p *Provider) Start(ctx context.Context) error {
	p.logger.Info("discord.start")

	p.session.AddHandler(p.handleMessageCreate)
	p.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Connect) {
		p.mu.Lock()
		p.listening = true
		p.mu.Unlock()
		p.setStatus(provider.StatusConnected)
	})
	p.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		p.mu.Lock()
		p.listening = false
		p.mu.Unlock()
		p.setStatus(provider.StatusDisconnected)
	})

	if err := p.session.Open(); err != nil {
		return provider.Wrap(provider.KindConnection, "discord.start", err)
	}
	me, err := p.session.User("@me")
	if err != nil {
		_ = p.session.Close()
		return provider.Wrap(provider.KindAuth, "discord.start", err)
	}

	p.mu.Lock()
	p.ownUserID = me.ID
	p.userJID = me.Username
	p.listening = true
	p.mu.Unlock()
	p.setStatus(provider.StatusConnected)
	p.logger.Info("discord.connected", "username", me.Username, "id", me.ID)
	return nil
}

// Stop closes the gateway connection.
func (p *Provider) Stop(ctx context.Context, cleanup bool) error {
	p.logger.Info("discord.stop", "cleanup", cleanup)
	p.cancel()
	err := p.session.Close()

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
	return err
}

// handleMessageCreate classifies one gateway message and enqueues it. The
// bot's own messages come back through the gateway and are kept as bot
// traffic; direct messages have no guild id.
func (p *Provider) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Content == "" {
		return
	}

	isGroup := m.GuildID != ""
	correspondent := m.ChannelID
	if isGroup && !p.groupAllowed(m.ChannelID) {
		p.logger.Debug("discord.group_filtered", "channel", m.ChannelID)
		return
	}

	source := queue.SourceUser
	if m.Author.ID == p.ownID() {
		source = queue.SourceBot
	}

	var group *queue.Party
	if isGroup {
		group = &queue.Party{Identifier: m.ChannelID}
	}
	p.queues.Add(p.ctx, correspondent, queue.Inbound{
		Content:           m.Content,
		Sender:            queue.Party{Identifier: m.Author.ID, DisplayName: m.Author.Username},
		Source:            source,
		OriginatingTimeMS: m.Timestamp.UnixMilli(),
		Group:             group,
		ProviderMessageID: m.ID,
	})
}

func (p *Provider) ownID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownUserID
}

func (p *Provider) groupAllowed(channelID string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	_, ok := p.allowed[channelID]
	return ok
}

// SendMessage posts a text message to a channel. The gateway echo will
// classify it as bot traffic.
func (p *Provider) SendMessage(ctx context.Context, recipient, content string) error {
	if _, err := p.session.ChannelMessageSend(recipient, content); err != nil {
		return provider.Wrap(provider.KindSend, "discord.send", err)
	}
	return nil
}

// SendFile posts a file attachment with an optional caption.
func (p *Provider) SendFile(ctx context.Context, recipient string, data []byte, filename, mimeType, caption string) error {
	_, err := p.session.ChannelMessageSendComplex(recipient, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: mimeType,
			Reader:      bytes.NewReader(data),
		}},
	})
	if err != nil {
		return provider.Wrap(provider.KindSend, "discord.send_file", err)
	}
	return nil
}

// Status returns the session state; with heartbeat it probes the REST API
// first.
func (p *Provider) Status(ctx context.Context, heartbeat bool) (provider.Status, error) {
	if heartbeat {
		if _, err := p.session.User("@me"); err != nil {
			return p.cachedStatus(), provider.Wrap(provider.KindConnection, "discord.status", err)
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
	p.logger.Info("discord.status", "status", string(s))
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

// QRCode is empty: discord sessions authenticate by token.
func (p *Provider) QRCode() string { return "" }

// FetchGroupHistory reads the most recent channel messages through the REST
// API and classifies them by author.
func (p *Provider) FetchGroupHistory(ctx context.Context, groupID string, limit int) ([]provider.HistoryMessage, error) {
	const pageMax = 100 // REST page cap

	own := p.ownID()
	out := make([]provider.HistoryMessage, 0, limit)
	beforeID := ""
	for len(out) < limit {
		page := limit - len(out)
		if page > pageMax {
			page = pageMax
		}
		msgs, err := p.session.ChannelMessages(groupID, page, beforeID, "", "")
		if err != nil {
			return nil, provider.Wrap(provider.KindConnection, "discord.history", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			if m.Author == nil {
				continue
			}
			source := queue.SourceUser
			if m.Author.ID == own {
				source = queue.SourceBot
			}
			out = append(out, provider.HistoryMessage{
				ProviderMessageID: m.ID,
				Sender:            m.Author.ID,
				DisplayName:       m.Author.Username,
				Content:           m.Content,
				Source:            source,
				OriginatingTimeMS: m.Timestamp.UnixMilli(),
			})
		}
		beforeID = msgs[len(msgs)-1].ID
		if len(msgs) < page {
			break
		}
	}
	return out, nil
}

// ListGroups enumerates the text channels of every guild the bot joined.
func (p *Provider) ListGroups(ctx context.Context) ([]provider.GroupInfo, error) {
	out := []provider.GroupInfo{}
	for _, g := range p.session.State.Guilds {
		channels, err := p.session.GuildChannels(g.ID)
		if err != nil {
			return nil, provider.Wrap(provider.KindConnection, "discord.groups", err)
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			out = append(out, provider.GroupInfo{ID: ch.ID, DisplayName: ch.Name})
		}
	}
	return out, nil
}
