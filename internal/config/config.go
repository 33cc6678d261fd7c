package config

import "time"

// Config is the root configuration for the waclerk backend and gateway.
type Config struct {
	Mongo     MongoConfig     `json:"mongo"`
	Backend   BackendConfig   `json:"backend"`
	Gateway   GatewayConfig   `json:"gateway"`
	Bridge    BridgeConfig    `json:"bridge"`
	LLM       LLMConfig       `json:"llm"`
	Queue     QueueConfig     `json:"queue"`
	Prompts   PromptsConfig   `json:"prompts,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// MongoConfig points at the MongoDB deployment backing every collection.
type MongoConfig struct {
	URL      string `json:"url"`
	Database string `json:"database"`
	// ServerSelectionTimeoutSec bounds initial topology discovery.
	ServerSelectionTimeoutSec int `json:"server_selection_timeout_sec,omitempty"`
}

// BackendConfig configures the internal API process (`waclerk serve`).
type BackendConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// AutoStartDelaySec is the pause after startup before bots of
	// quota-enabled owners are linked automatically.
	AutoStartDelaySec int `json:"auto_start_delay_sec,omitempty"`
}

// GatewayConfig configures the public-facing process (`waclerk gateway`).
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// BackendURL is where /api/external requests are proxied to.
	BackendURL string `json:"backend_url"`
	// CookieSecure marks the session cookie Secure; leave false only for
	// plain-HTTP development setups.
	CookieSecure bool `json:"cookie_secure,omitempty"`
	// LoginRatePerMinute is the per-IP login attempt budget.
	LoginRatePerMinute int `json:"login_rate_per_minute,omitempty"`
}

// BridgeConfig configures the external WhatsApp bridge connection.
type BridgeConfig struct {
	// WhatsAppServerURL is the base HTTP URL of the bridge; the WebSocket
	// endpoint is derived from it.
	WhatsAppServerURL string `json:"whatsapp_server_url"`
	HTTPTimeoutSec    int    `json:"http_timeout_sec,omitempty"`
	// SendPerSecond paces outbound messages per bot session.
	SendPerSecond float64 `json:"send_per_second,omitempty"`
	SendBurst     int     `json:"send_burst,omitempty"`
}

// LLMConfig holds the platform defaults applied when a bot configuration
// leaves tier settings unset.
type LLMConfig struct {
	Provider        string  `json:"provider"`
	ModelHigh       string  `json:"model_high"`
	ModelLow        string  `json:"model_low"`
	Temperature     float64 `json:"temperature,omitempty"`
	ReasoningEffort string  `json:"reasoning_effort,omitempty"`
	// APIKeySource is "environment" (key read from env) or "explicit"
	// (key carried in the bot configuration document).
	APIKeySource string `json:"api_key_source"`
	APIKey       string `json:"api_key,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
}

// QueueConfig sets the default correspondent-queue bounds for bots whose
// configuration omits them.
type QueueConfig struct {
	MaxMessages             int `json:"max_messages"`
	MaxCharacters           int `json:"max_characters"`
	MaxDays                 int `json:"max_days"`
	MaxCharactersPerMessage int `json:"max_characters_per_message"`
}

// PromptsConfig locates the editable prompt template directory. Templates
// missing from the directory fall back to the embedded defaults.
type PromptsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter. Disabled when the
// endpoint is empty.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// MongoTimeout returns the configured server-selection timeout.
func (c *Config) MongoTimeout() time.Duration {
	if c.Mongo.ServerSelectionTimeoutSec > 0 {
		return time.Duration(c.Mongo.ServerSelectionTimeoutSec) * time.Second
	}
	return 5 * time.Second
}

// BridgeTimeout returns the HTTP timeout for bridge calls.
func (c *Config) BridgeTimeout() time.Duration {
	if c.Bridge.HTTPTimeoutSec > 0 {
		return time.Duration(c.Bridge.HTTPTimeoutSec) * time.Second
	}
	return 30 * time.Second
}

// AutoStartDelay returns the startup pause before auto-linking bots.
func (c *Config) AutoStartDelay() time.Duration {
	if c.Backend.AutoStartDelaySec > 0 {
		return time.Duration(c.Backend.AutoStartDelaySec) * time.Second
	}
	return 60 * time.Second
}
