// Package autoreply implements the automatic bot reply feature: whitelisted
// incoming messages are answered through the high LLM tier using a bounded
// conversation history kept per correspondent (or shared across all of them,
// per bot configuration).
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/feature"
	"github.com/waclerk/waclerk/internal/llm"
	"github.com/waclerk/waclerk/internal/prompts"
	"github.com/waclerk/waclerk/internal/queue"
)

// sharedContextKey is the history key when the bot runs one shared context.
const sharedContextKey = "shared"

// replyTimeout bounds one handler invocation: LLM call plus the send.
const replyTimeout = 2 * time.Minute

// Sender is the provider surface the feature replies through.
type Sender interface {
	SendMessage(ctx context.Context, recipient, content string) error
}

// Config assembles a reply feature for one bot. Client must already be the
// high-tier, usage-instrumented client from the LLM factory.
type Config struct {
	BotID    string
	BotName  string
	Language string
	Settings botcfg.FeatureConfig
	Context  botcfg.ContextConfig
	Client   llm.Client
	Prompts  *prompts.Registry
	Sender   Sender
	Logger   *slog.Logger
}

// Feature answers whitelisted incoming messages. Failures are logged and the
// message is dropped; the reply echo re-enters through the provider and is
// classified as bot traffic there, so no local bookkeeping of sent replies
// leaks into the main queues.
type Feature struct {
	botID    string
	botName  string
	language string
	settings botcfg.FeatureConfig
	shared   bool
	client   llm.Client
	prompts  *prompts.Registry
	sender   Sender
	history  *queue.Manager
	logger   *slog.Logger
}

func New(cfg Config) (*Feature, error) {
	if cfg.Client == nil {
		return nil, errors.New("autoreply: nil llm client")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("autoreply: nil prompt registry")
	}
	if cfg.Sender == nil {
		return nil, errors.New("autoreply: nil sender")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "autoreply", "bot", cfg.BotID)

	botName := cfg.BotName
	if botName == "" {
		botName = cfg.BotID
	}
	language := cfg.Language
	if language == "" {
		language = "English"
	}
	return &Feature{
		botID:    cfg.BotID,
		botName:  botName,
		language: language,
		settings: cfg.Settings,
		shared:   cfg.Context.Shared,
		client:   cfg.Client,
		prompts:  cfg.Prompts,
		sender:   cfg.Sender,
		history:  queue.NewManager(cfg.BotID, cfg.Context.Bounds(), nil, logger),
		logger:   logger,
	}, nil
}

// HandleMessage is the session message handler. It only ever sees messages
// with source "user"; the session manager filters the rest.
func (f *Feature) HandleMessage(ctx context.Context, correspondentID string, msg queue.Message) {
	match := f.gate(msg)
	if !match.Allowed {
		f.logger.Debug("autoreply.skip", "correspondent", correspondentID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	// Appending first lets the history bounds trim age, characters and
	// count before the snapshot that feeds the model.
	key := f.contextKey(correspondentID)
	f.history.Add(ctx, key, queue.Inbound{
		Content:           msg.Content,
		Sender:            msg.Sender,
		Source:            msg.Source,
		OriginatingTimeMS: msg.OriginatingTimeMS,
		Group:             msg.Group,
		ProviderMessageID: msg.ProviderMessageID,
	})
	q := f.history.GetOrCreateQueue(ctx, key)

	system, err := f.prompts.Render(prompts.AutoReplySystem, prompts.AutoReplyData{
		BotName:  f.botName,
		Language: f.language,
	})
	if err != nil {
		f.logger.Error("autoreply.render", "correspondent", correspondentID, "error", err)
		return
	}

	req := llm.Request{Messages: append(
		[]llm.Message{{Role: llm.RoleSystem, Content: system}},
		f.turns(q.Snapshot())...,
	)}
	resp, err := f.client.Complete(ctx, req)
	if err != nil {
		f.logger.Error("autoreply.llm", "correspondent", correspondentID, "error", err)
		return
	}
	if resp.Content == "" {
		f.logger.Warn("autoreply.empty_completion", "correspondent", correspondentID)
		return
	}

	recipient := msg.Sender.Identifier
	if msg.Group != nil {
		recipient = msg.Group.Identifier
	}
	if err := f.sender.SendMessage(ctx, recipient, resp.Content); err != nil {
		f.logger.Error("autoreply.send", "correspondent", correspondentID, "error", err)
		return
	}

	// Record our own turn so the next invocation sees it.
	f.history.Add(ctx, key, queue.Inbound{
		Content: resp.Content,
		Sender:  queue.Party{Identifier: f.botID, DisplayName: f.botName},
		Source:  queue.SourceBot,
	})
	f.logger.Info("autoreply.replied",
		"correspondent", correspondentID,
		"matched", match.MatchedEntry,
		"chars", len(resp.Content))
}

// gate applies the whitelist: group traffic matches sender and group
// identifiers against the group whitelist, direct traffic matches sender
// identifiers against the direct whitelist. Empty whitelists drop.
func (f *Feature) gate(msg queue.Message) feature.MatchResult {
	if msg.Group != nil {
		ids := append(feature.Identifiers(msg.Sender), feature.Identifiers(*msg.Group)...)
		return feature.Match(ids, f.settings.GroupWhitelist)
	}
	return feature.Match(feature.Identifiers(msg.Sender), f.settings.DirectWhitelist)
}

func (f *Feature) contextKey(correspondentID string) string {
	if f.shared {
		return sharedContextKey
	}
	return correspondentID
}

// turns maps history messages onto conversation turns. Bot turns become
// assistant messages; user turns become user messages, labelled with the
// sender when several people share the context.
func (f *Feature) turns(history []queue.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		if m.Source == queue.SourceBot {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			continue
		}
		content := m.Content
		if f.shared || m.Group != nil {
			content = fmt.Sprintf("%s: %s", senderLabel(m.Sender), content)
		}
		out = append(out, llm.Message{Role: llm.RoleUser, Content: content})
	}
	return out
}

func senderLabel(p queue.Party) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Identifier
}
