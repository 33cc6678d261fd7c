package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Mongo: MongoConfig{
			URL:                       "mongodb://localhost:27017",
			Database:                  "waclerk",
			ServerSelectionTimeoutSec: 5,
		},
		Backend: BackendConfig{
			Host:              "127.0.0.1",
			Port:              8600,
			AutoStartDelaySec: 60,
		},
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               8512,
			BackendURL:         "http://127.0.0.1:8600",
			LoginRatePerMinute: 10,
		},
		Bridge: BridgeConfig{
			WhatsAppServerURL: "http://localhost:3000",
			HTTPTimeoutSec:    30,
			SendPerSecond:     1,
			SendBurst:         5,
		},
		LLM: LLMConfig{
			Provider:     "openai",
			ModelHigh:    "gpt-4o",
			ModelLow:     "gpt-4o-mini",
			Temperature:  0.3,
			APIKeySource: "environment",
		},
		Queue: QueueConfig{
			MaxMessages:             200,
			MaxCharacters:           100000,
			MaxDays:                 7,
			MaxCharactersPerMessage: 4000,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "waclerk",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("MONGODB_URL", &c.Mongo.URL)
	envStr("MONGODB_DATABASE", &c.Mongo.Database)

	envStr("BACKEND_URL", &c.Gateway.BackendURL)
	envInt("BACKEND_PORT", &c.Backend.Port)
	envStr("WACLERK_BACKEND_HOST", &c.Backend.Host)

	envInt("GATEWAY_PORT", &c.Gateway.Port)
	envStr("WACLERK_GATEWAY_HOST", &c.Gateway.Host)
	if v := os.Getenv("WACLERK_COOKIE_SECURE"); v != "" {
		c.Gateway.CookieSecure = v == "true" || v == "1"
	}

	envStr("WHATSAPP_SERVER_URL", &c.Bridge.WhatsAppServerURL)

	envStr("DEFAULT_LLM_PROVIDER", &c.LLM.Provider)
	envStr("DEFAULT_LLM_MODEL_HIGH", &c.LLM.ModelHigh)
	envStr("DEFAULT_LLM_MODEL_LOW", &c.LLM.ModelLow)
	envStr("DEFAULT_LLM_REASONING_EFFORT", &c.LLM.ReasoningEffort)
	envStr("DEFAULT_LLM_API_KEY_SOURCE", &c.LLM.APIKeySource)
	envStr("DEFAULT_LLM_API_KEY", &c.LLM.APIKey)
	envStr("DEFAULT_LLM_BASE_URL", &c.LLM.BaseURL)
	if v := os.Getenv("DEFAULT_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.LLM.Temperature = f
		}
	}

	envStr("WACLERK_PROMPTS_DIR", &c.Prompts.Dir)

	envStr("WACLERK_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("WACLERK_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("WACLERK_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("WACLERK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WACLERK_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to disk as indented JSON (valid JSON5).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
