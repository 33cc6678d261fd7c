package llm

import (
	"context"
	"log/slog"
	"testing"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/config"
)

func testDefaults() config.LLMConfig {
	return config.LLMConfig{
		Provider:     "openai",
		ModelHigh:    "gpt-4o",
		ModelLow:     "gpt-4o-mini",
		Temperature:  0.3,
		APIKeySource: botcfg.KeySourceEnvironment,
	}
}

func TestFactory_ForTier(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	f := NewFactory(testDefaults(), slog.Default())

	tests := []struct {
		name         string
		tierName     string
		tier         botcfg.TierConfig
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{
			name:         "empty tier falls back to defaults",
			tierName:     TierLow,
			tier:         botcfg.TierConfig{},
			wantProvider: "openai",
			wantModel:    "gpt-4o-mini",
		},
		{
			name:         "high tier default model",
			tierName:     TierHigh,
			tier:         botcfg.TierConfig{},
			wantProvider: "openai",
			wantModel:    "gpt-4o",
		},
		{
			name:     "explicit key",
			tierName: TierHigh,
			tier: botcfg.TierConfig{
				Provider:     "anthropic",
				Model:        "claude-3-5-haiku-20241022",
				APIKeySource: botcfg.KeySourceExplicit,
				APIKey:       "sk-explicit",
			},
			wantProvider: "anthropic",
			wantModel:    "claude-3-5-haiku-20241022",
		},
		{
			name:     "explicit source without key fails",
			tierName: TierHigh,
			tier: botcfg.TierConfig{
				Provider:     "openai",
				Model:        "gpt-4o",
				APIKeySource: botcfg.KeySourceExplicit,
			},
			wantErr: true,
		},
		{
			name:     "unknown provider fails",
			tierName: TierHigh,
			tier:     botcfg.TierConfig{Provider: "parrot", Model: "x"},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := f.ForTier(tt.tierName, tt.tier, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ForTier: %v", err)
			}
			if client.Name() != tt.wantProvider {
				t.Errorf("provider = %s, want %s", client.Name(), tt.wantProvider)
			}
			if client.Model() != tt.wantModel {
				t.Errorf("model = %s, want %s", client.Model(), tt.wantModel)
			}
		})
	}
}

func TestFactory_MissingEnvironmentKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	f := NewFactory(testDefaults(), slog.Default())
	if _, err := f.ForTier(TierHigh, botcfg.TierConfig{}, nil); err == nil {
		t.Fatal("expected error when environment key is unset")
	}
}

type fakeClient struct {
	gotReq Request
	resp   *Response
	err    error
}

func (f *fakeClient) Complete(_ context.Context, req Request) (*Response, error) {
	f.gotReq = req
	return f.resp, f.err
}
func (f *fakeClient) Name() string  { return "fake" }
func (f *fakeClient) Model() string { return "fake-model" }

func TestTierClient_DefaultsAndUsageCallback(t *testing.T) {
	fake := &fakeClient{resp: &Response{
		Content: "ok",
		Usage:   &Usage{InputTokens: 10, CachedInputTokens: 4, OutputTokens: 2},
	}}

	var gotModel string
	var gotUsage Usage
	c := &tierClient{
		Client:      fake,
		temperature: 0.7,
		reasoning:   "low",
		logger:      slog.Default(),
		onUsage: func(_ context.Context, model string, usage Usage) {
			gotModel = model
			gotUsage = usage
		},
	}

	if _, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "q"}}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if fake.gotReq.Temperature == nil || *fake.gotReq.Temperature != 0.7 {
		t.Errorf("temperature not defaulted: %v", fake.gotReq.Temperature)
	}
	if fake.gotReq.ReasoningEffort != "low" {
		t.Errorf("reasoning = %q", fake.gotReq.ReasoningEffort)
	}
	if gotModel != "fake-model" {
		t.Errorf("usage model = %q", gotModel)
	}
	if gotUsage.InputTokens != 10 || gotUsage.CachedInputTokens != 4 || gotUsage.OutputTokens != 2 {
		t.Errorf("usage = %+v", gotUsage)
	}
}

func TestTierClient_NoUsageLogsAndSkips(t *testing.T) {
	fake := &fakeClient{resp: &Response{Content: "ok"}}
	called := false
	c := &tierClient{
		Client: fake,
		logger: slog.Default(),
		onUsage: func(context.Context, string, Usage) {
			called = true
		},
	}
	if _, err := c.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if called {
		t.Error("usage callback fired without a usage block")
	}
}
