package autoreply

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/llm"
	"github.com/waclerk/waclerk/internal/prompts"
	"github.com/waclerk/waclerk/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	mu    sync.Mutex
	reqs  []llm.Request
	reply string
	err   error
}

func (c *fakeClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.reply, FinishReason: "stop"}, nil
}

func (c *fakeClient) Name() string  { return "fake" }
func (c *fakeClient) Model() string { return "fake-model" }

func (c *fakeClient) requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.reqs))
	copy(out, c.reqs)
	return out
}

type sentMessage struct {
	recipient string
	content   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) SendMessage(_ context.Context, recipient, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{recipient, content})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func defaultContext() botcfg.ContextConfig {
	return botcfg.ContextConfig{
		MaxMessages:             50,
		MaxCharacters:           10000,
		MaxDays:                 7,
		MaxCharactersPerMessage: 2000,
	}
}

func newTestFeature(t *testing.T, settings botcfg.FeatureConfig, ctxCfg botcfg.ContextConfig, client *fakeClient, sender *fakeSender) *Feature {
	t.Helper()
	reg, err := prompts.New("", testLogger())
	if err != nil {
		t.Fatalf("prompts.New: %v", err)
	}
	f, err := New(Config{
		BotID:    "bot1",
		BotName:  "Clerk",
		Language: "English",
		Settings: settings,
		Context:  ctxCfg,
		Client:   client,
		Prompts:  reg,
		Sender:   sender,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func userMsg(sender, content string) queue.Message {
	return queue.Message{
		Content: content,
		Sender:  queue.Party{Identifier: sender},
		Source:  queue.SourceUser,
	}
}

func groupMsg(sender, group, content string) queue.Message {
	m := userMsg(sender, content)
	m.Group = &queue.Party{Identifier: group, DisplayName: "Group " + group}
	return m
}

func TestDirectReply(t *testing.T) {
	client := &fakeClient{reply: "hello there"}
	sender := &fakeSender{}
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice"},
	}, defaultContext(), client, sender)

	f.HandleMessage(context.Background(), "alice@s.whatsapp.net", userMsg("alice@s.whatsapp.net", "hi bot"))

	sent := sender.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].recipient != "alice@s.whatsapp.net" {
		t.Errorf("recipient = %q, want sender identifier", sent[0].recipient)
	}
	if sent[0].content != "hello there" {
		t.Errorf("content = %q", sent[0].content)
	}

	reqs := client.requests()
	if len(reqs) != 1 {
		t.Fatalf("llm called %d times, want 1", len(reqs))
	}
	msgs := reqs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("request has %d messages, want system + user", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, "Clerk") {
		t.Errorf("system turn = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != "hi bot" {
		t.Errorf("user turn = %+v, want unprefixed direct content", msgs[1])
	}
}

func TestSecondInvocationSeesAssistantTurn(t *testing.T) {
	client := &fakeClient{reply: "first reply"}
	sender := &fakeSender{}
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice"},
	}, defaultContext(), client, sender)

	f.HandleMessage(context.Background(), "alice", userMsg("alice", "one"))
	f.HandleMessage(context.Background(), "alice", userMsg("alice", "two"))

	reqs := client.requests()
	if len(reqs) != 2 {
		t.Fatalf("llm called %d times, want 2", len(reqs))
	}
	msgs := reqs[1].Messages
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "one"},
		{Role: llm.RoleAssistant, Content: "first reply"},
		{Role: llm.RoleUser, Content: "two"},
	}
	if len(msgs) != 1+len(want) {
		t.Fatalf("second request has %d messages, want %d", len(msgs), 1+len(want))
	}
	for i, w := range want {
		got := msgs[i+1]
		if got.Role != w.Role || got.Content != w.Content {
			t.Errorf("turn %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestGroupReplyTargetsGroup(t *testing.T) {
	client := &fakeClient{reply: "group reply"}
	sender := &fakeSender{}
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:        true,
		GroupWhitelist: []string{"123@g.us"},
	}, defaultContext(), client, sender)

	f.HandleMessage(context.Background(), "123@g.us", groupMsg("bob@s.whatsapp.net", "123@g.us", "anyone?"))

	sent := sender.messages()
	if len(sent) != 1 || sent[0].recipient != "123@g.us" {
		t.Fatalf("sent = %+v, want one message to group identifier", sent)
	}

	reqs := client.requests()
	msgs := reqs[0].Messages
	if msgs[1].Content != "bob@s.whatsapp.net: anyone?" {
		t.Errorf("group turn = %q, want sender-labelled content", msgs[1].Content)
	}
}

func TestGroupWhitelistMatchesSenderToo(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	sender := &fakeSender{}
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:        true,
		GroupWhitelist: []string{"bob@"},
	}, defaultContext(), client, sender)

	f.HandleMessage(context.Background(), "999@g.us", groupMsg("bob@s.whatsapp.net", "999@g.us", "ping"))

	if len(sender.messages()) != 1 {
		t.Fatal("sender identifier in group whitelist should admit the message")
	}
}

func TestWhitelistGate(t *testing.T) {
	tests := []struct {
		name     string
		settings botcfg.FeatureConfig
		msg      queue.Message
	}{
		{
			name:     "empty direct whitelist drops",
			settings: botcfg.FeatureConfig{Enabled: true},
			msg:      userMsg("alice", "hi"),
		},
		{
			name:     "unmatched direct sender drops",
			settings: botcfg.FeatureConfig{Enabled: true, DirectWhitelist: []string{"carol"}},
			msg:      userMsg("alice", "hi"),
		},
		{
			name:     "empty group whitelist drops",
			settings: botcfg.FeatureConfig{Enabled: true, DirectWhitelist: []string{"alice"}},
			msg:      groupMsg("alice", "123@g.us", "hi"),
		},
		{
			name:     "direct whitelist does not admit group traffic",
			settings: botcfg.FeatureConfig{Enabled: true, DirectWhitelist: []string{"123@g.us"}},
			msg:      groupMsg("bob", "123@g.us", "hi"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{reply: "nope"}
			sender := &fakeSender{}
			f := newTestFeature(t, tt.settings, defaultContext(), client, sender)

			f.HandleMessage(context.Background(), "key", tt.msg)

			if n := len(client.requests()); n != 0 {
				t.Errorf("llm called %d times, want 0", n)
			}
			if n := len(sender.messages()); n != 0 {
				t.Errorf("sent %d messages, want 0", n)
			}
		})
	}
}

func TestSharedContextMixesCorrespondents(t *testing.T) {
	client := &fakeClient{reply: "noted"}
	sender := &fakeSender{}
	ctxCfg := defaultContext()
	ctxCfg.Shared = true
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice", "bob"},
	}, ctxCfg, client, sender)

	f.HandleMessage(context.Background(), "alice", userMsg("alice", "from alice"))
	f.HandleMessage(context.Background(), "bob", userMsg("bob", "from bob"))

	reqs := client.requests()
	if len(reqs) != 2 {
		t.Fatalf("llm called %d times, want 2", len(reqs))
	}
	second := reqs[1].Messages
	var sawAlice bool
	for _, m := range second {
		if m.Role == llm.RoleUser && m.Content == "alice: from alice" {
			sawAlice = true
		}
	}
	if !sawAlice {
		t.Errorf("shared context lost the other correspondent's turn: %+v", second)
	}
}

func TestSendFailureSkipsAssistantTurn(t *testing.T) {
	client := &fakeClient{reply: "lost reply"}
	sender := &fakeSender{err: errors.New("provider down")}
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice"},
	}, defaultContext(), client, sender)

	f.HandleMessage(context.Background(), "alice", userMsg("alice", "one"))

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	f.HandleMessage(context.Background(), "alice", userMsg("alice", "two"))

	reqs := client.requests()
	if len(reqs) != 2 {
		t.Fatalf("llm called %d times, want 2", len(reqs))
	}
	for _, m := range reqs[1].Messages {
		if m.Role == llm.RoleAssistant {
			t.Errorf("unsent reply recorded in history: %+v", reqs[1].Messages)
		}
	}
}

func TestLLMFailureIsSwallowed(t *testing.T) {
	client := &fakeClient{err: errors.New("rate limited")}
	sender := &fakeSender{}
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice"},
	}, defaultContext(), client, sender)

	f.HandleMessage(context.Background(), "alice", userMsg("alice", "hi"))

	if n := len(sender.messages()); n != 0 {
		t.Errorf("sent %d messages after llm failure, want 0", n)
	}
}

func TestEmptyCompletionSkipsSend(t *testing.T) {
	client := &fakeClient{reply: ""}
	sender := &fakeSender{}
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice"},
	}, defaultContext(), client, sender)

	f.HandleMessage(context.Background(), "alice", userMsg("alice", "hi"))

	if n := len(sender.messages()); n != 0 {
		t.Errorf("sent %d messages for empty completion, want 0", n)
	}
}

func TestHistoryBoundsTrimBeforeCall(t *testing.T) {
	client := &fakeClient{reply: "r"}
	sender := &fakeSender{}
	ctxCfg := defaultContext()
	ctxCfg.MaxMessages = 2
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice"},
	}, ctxCfg, client, sender)

	for _, content := range []string{"one", "two", "three"} {
		f.HandleMessage(context.Background(), "alice", userMsg("alice", content))
	}

	reqs := client.requests()
	last := reqs[len(reqs)-1].Messages
	// System turn plus at most MaxMessages history turns.
	if len(last) > 3 {
		t.Fatalf("request carries %d messages, want at most 3", len(last))
	}
	if got := last[len(last)-1].Content; got != "three" {
		t.Errorf("latest turn = %q, want the incoming message", got)
	}
}

func TestTurnTruncation(t *testing.T) {
	client := &fakeClient{reply: "r"}
	sender := &fakeSender{}
	ctxCfg := defaultContext()
	ctxCfg.MaxCharactersPerMessage = 5
	f := newTestFeature(t, botcfg.FeatureConfig{
		Enabled:         true,
		DirectWhitelist: []string{"alice"},
	}, ctxCfg, client, sender)

	f.HandleMessage(context.Background(), "alice", userMsg("alice", "abcdefghij"))

	reqs := client.requests()
	if got := reqs[0].Messages[1].Content; got != "abcde" {
		t.Errorf("turn content = %q, want truncated to 5 runes", got)
	}
}
