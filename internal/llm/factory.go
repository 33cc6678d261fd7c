package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/config"
	"github.com/waclerk/waclerk/internal/tracing"
)

// UsageFunc receives the normalized usage of one completed call.
type UsageFunc func(ctx context.Context, model string, usage Usage)

// Factory builds tier clients from bot configuration, filling gaps from the
// platform defaults. Every client it hands out reports usage through the
// given callback; a completion without a usage block logs a warning and
// reports nothing.
type Factory struct {
	defaults config.LLMConfig
	logger   *slog.Logger
}

func NewFactory(defaults config.LLMConfig, logger *slog.Logger) *Factory {
	return &Factory{defaults: defaults, logger: logger}
}

// ForTier builds the client for one tier ("high" or "low").
func (f *Factory) ForTier(tierName string, tier botcfg.TierConfig, onUsage UsageFunc) (Client, error) {
	provider := tier.Provider
	if provider == "" {
		provider = f.defaults.Provider
	}
	model := tier.Model
	if model == "" {
		if tierName == TierLow {
			model = f.defaults.ModelLow
		} else {
			model = f.defaults.ModelHigh
		}
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for tier %q", tierName)
	}

	key, err := f.resolveKey(provider, tier)
	if err != nil {
		return nil, err
	}
	baseURL := tier.BaseURL
	if baseURL == "" {
		baseURL = f.defaults.BaseURL
	}

	var client Client
	switch provider {
	case "openai":
		client = NewOpenAIClient(key, baseURL, model)
	case "anthropic":
		client = NewAnthropicClient(key, baseURL, model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}

	temperature := tier.Temperature
	if temperature == 0 {
		temperature = f.defaults.Temperature
	}
	reasoning := tier.ReasoningEffort
	if reasoning == "" {
		reasoning = f.defaults.ReasoningEffort
	}
	return &tierClient{
		Client:      client,
		temperature: temperature,
		reasoning:   reasoning,
		onUsage:     onUsage,
		logger:      f.logger,
	}, nil
}

func (f *Factory) resolveKey(provider string, tier botcfg.TierConfig) (string, error) {
	source := tier.APIKeySource
	if source == "" {
		source = f.defaults.APIKeySource
	}
	switch source {
	case botcfg.KeySourceExplicit:
		if tier.APIKey == "" {
			return "", fmt.Errorf("api_key_source is explicit but no api_key set")
		}
		return tier.APIKey, nil
	default:
		if v := os.Getenv(envKeyFor(provider)); v != "" {
			return v, nil
		}
		if f.defaults.APIKey != "" {
			return f.defaults.APIKey, nil
		}
		return "", fmt.Errorf("no API key for provider %q: set %s", provider, envKeyFor(provider))
	}
}

func envKeyFor(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}

// tierClient applies the tier's sampling defaults and reports usage after
// each successful completion.
type tierClient struct {
	Client
	temperature float64
	reasoning   string
	onUsage     UsageFunc
	logger      *slog.Logger
}

func (c *tierClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Temperature == nil && c.temperature > 0 {
		t := c.temperature
		req.Temperature = &t
	}
	if req.ReasoningEffort == "" {
		req.ReasoningEffort = c.reasoning
	}

	ctx, span := tracing.StartSpan(ctx, "llm.complete",
		attribute.String("provider", c.Name()),
		attribute.String("model", c.Model()),
	)
	defer span.End()

	resp, err := c.Client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if c.onUsage != nil {
		if resp.Usage == nil {
			c.logger.Warn("llm.usage_missing", "provider", c.Name(), "model", c.Model())
		} else {
			model := resp.Model
			if model == "" {
				model = c.Model()
			}
			c.onUsage(ctx, model, *resp.Usage)
		}
	}
	return resp, nil
}
