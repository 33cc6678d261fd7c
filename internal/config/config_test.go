package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoad_MissingFileUsesDefaults verifies that a nonexistent config path is
// not an error and yields the defaults.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg.Mongo.Database != "waclerk" {
		t.Errorf("Mongo.Database = %q, want %q", cfg.Mongo.Database, "waclerk")
	}
	if cfg.Gateway.LoginRatePerMinute != 10 {
		t.Errorf("Gateway.LoginRatePerMinute = %d, want 10", cfg.Gateway.LoginRatePerMinute)
	}
}

// TestLoad_JSON5Comments verifies that the file parser accepts JSON5 comments
// and trailing commas.
func TestLoad_JSON5Comments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
  // local dev
  mongo: { url: "mongodb://db:27017", database: "waclerk_dev", },
  gateway: { port: 9001 },
}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mongo.URL != "mongodb://db:27017" {
		t.Errorf("Mongo.URL = %q, want %q", cfg.Mongo.URL, "mongodb://db:27017")
	}
	if cfg.Gateway.Port != 9001 {
		t.Errorf("Gateway.Port = %d, want 9001", cfg.Gateway.Port)
	}
}

// TestEnvOverrides verifies that environment variables win over file values.
func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		get   func(c *Config) string
		want  string
	}{
		{"mongodb url", "MONGODB_URL", "mongodb://prod:27017", func(c *Config) string { return c.Mongo.URL }, "mongodb://prod:27017"},
		{"backend url", "BACKEND_URL", "http://backend:8600", func(c *Config) string { return c.Gateway.BackendURL }, "http://backend:8600"},
		{"bridge url", "WHATSAPP_SERVER_URL", "http://bridge:3000", func(c *Config) string { return c.Bridge.WhatsAppServerURL }, "http://bridge:3000"},
		{"llm provider", "DEFAULT_LLM_PROVIDER", "anthropic", func(c *Config) string { return c.LLM.Provider }, "anthropic"},
		{"llm high model", "DEFAULT_LLM_MODEL_HIGH", "model-h", func(c *Config) string { return c.LLM.ModelHigh }, "model-h"},
		{"api key source", "DEFAULT_LLM_API_KEY_SOURCE", "explicit", func(c *Config) string { return c.LLM.APIKeySource }, "explicit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Default()
			cfg.ApplyEnvOverrides()
			if got := tt.get(cfg); got != tt.want {
				t.Errorf("after %s=%s: got %q, want %q", tt.key, tt.value, got, tt.want)
			}
		})
	}
}

// TestEnvOverrides_GatewayPort verifies numeric port parsing from GATEWAY_PORT.
func TestEnvOverrides_GatewayPort(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "8080")
	cfg := Default()
	cfg.ApplyEnvOverrides()
	if cfg.Gateway.Port != 8080 {
		t.Errorf("Gateway.Port = %d, want 8080", cfg.Gateway.Port)
	}
}
