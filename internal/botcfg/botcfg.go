// Package botcfg defines the bot configuration document: the per-tenant
// record describing the chat provider, the two LLM tiers, queue bounds,
// feature options, and owner profile. It validates incoming configurations
// and emits the JSON schema the management UI renders forms from.
package botcfg

import (
	"fmt"
	"regexp"
	"time"

	"github.com/adhocore/gronx"

	"github.com/waclerk/waclerk/internal/queue"
)

// Feature names accepted in the features map.
const (
	FeatureAutoReply     = "automatic_bot_reply"
	FeatureGroupTracking = "periodic_group_tracking"
)

// API key source modes for a tier configuration.
const (
	KeySourceEnvironment = "environment"
	KeySourceExplicit    = "explicit"
)

var botIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,30}$`)

// BotConfig is the bot configuration document body (persisted under
// config_data in the bot_configurations collection).
type BotConfig struct {
	BotID  string `json:"bot_id" bson:"bot_id"`
	UserID string `json:"user_id" bson:"user_id"`
	// Activated marks the bot as a candidate for automatic start on boot
	// and after quota reset.
	Activated bool                     `json:"activated" bson:"activated"`
	Provider  ProviderConfig           `json:"provider" bson:"provider"`
	LLM       LLMTiers                 `json:"llm" bson:"llm"`
	Queue     queue.Bounds             `json:"queue" bson:"queue"`
	Context   ContextConfig            `json:"context" bson:"context"`
	Features  map[string]FeatureConfig `json:"features,omitempty" bson:"features,omitempty"`
	Profile   Profile                  `json:"profile" bson:"profile"`
}

// ProviderConfig selects and configures the chat provider.
type ProviderConfig struct {
	Name string `json:"name" bson:"name"`
	// AllowedGroups restricts inbound group traffic; empty allows all.
	AllowedGroups []string `json:"allowed_groups,omitempty" bson:"allowed_groups,omitempty"`
	// Token authenticates providers that use one (telegram, discord).
	Token string `json:"token,omitempty" bson:"token,omitempty"`
}

// LLMTiers holds the two per-bot model configurations.
type LLMTiers struct {
	High TierConfig `json:"high" bson:"high"`
	Low  TierConfig `json:"low" bson:"low"`
}

// TierConfig configures one LLM tier.
type TierConfig struct {
	Provider        string  `json:"provider" bson:"provider"`
	Model           string  `json:"model" bson:"model"`
	Temperature     float64 `json:"temperature,omitempty" bson:"temperature,omitempty"`
	ReasoningEffort string  `json:"reasoning_effort,omitempty" bson:"reasoning_effort,omitempty"`
	APIKeySource    string  `json:"api_key_source" bson:"api_key_source"`
	APIKey          string  `json:"api_key,omitempty" bson:"api_key,omitempty"`
	BaseURL         string  `json:"base_url,omitempty" bson:"base_url,omitempty"`
}

// ContextConfig bounds the conversation history handed to the reply LLM.
// When Shared is true all correspondents feed one history.
type ContextConfig struct {
	Shared                  bool `json:"shared,omitempty" bson:"shared,omitempty"`
	MaxMessages             int  `json:"max_messages" bson:"max_messages"`
	MaxCharacters           int  `json:"max_characters" bson:"max_characters"`
	MaxDays                 int  `json:"max_days" bson:"max_days"`
	MaxCharactersPerMessage int  `json:"max_characters_per_message" bson:"max_characters_per_message"`
}

// Bounds maps the context limits onto queue bounds.
func (c ContextConfig) Bounds() queue.Bounds {
	return queue.Bounds{
		MaxMessages:             c.MaxMessages,
		MaxCharacters:           c.MaxCharacters,
		MaxDays:                 c.MaxDays,
		MaxCharactersPerMessage: c.MaxCharactersPerMessage,
	}
}

// FeatureConfig is one entry of the features map. Enabled plus the options
// of whichever feature the key names.
type FeatureConfig struct {
	Enabled bool `json:"enabled" bson:"enabled"`
	// automatic_bot_reply options.
	DirectWhitelist []string `json:"direct_whitelist,omitempty" bson:"direct_whitelist,omitempty"`
	GroupWhitelist  []string `json:"group_whitelist,omitempty" bson:"group_whitelist,omitempty"`
	// periodic_group_tracking options.
	TrackedGroups []TrackedGroupConfig `json:"tracked_groups,omitempty" bson:"tracked_groups,omitempty"`
}

// TrackedGroupConfig schedules one group for periodic tracking.
type TrackedGroupConfig struct {
	GroupID      string `json:"group_id" bson:"group_id"`
	DisplayName  string `json:"display_name,omitempty" bson:"display_name,omitempty"`
	CronSchedule string `json:"cron_schedule" bson:"cron_schedule"`
}

// Profile carries owner-facing metadata used to localize LLM output.
type Profile struct {
	Timezone string `json:"timezone" bson:"timezone"`
	Language string `json:"language,omitempty" bson:"language,omitempty"`
}

// Location resolves the profile timezone, falling back to UTC.
func (p Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ValidBotID reports whether id is 1–30 chars of [A-Za-z0-9_-].
func ValidBotID(id string) bool { return botIDPattern.MatchString(id) }

// Validate checks the configuration document for structural errors. It does
// not consult owner limits (max_bots, max_enabled_features); those are
// enforced where the owner document is at hand.
func (c *BotConfig) Validate() error {
	if !ValidBotID(c.BotID) {
		return fmt.Errorf("bot_id %q: must be 1-30 chars of [A-Za-z0-9_-]", c.BotID)
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.Provider.Name == "" {
		return fmt.Errorf("provider.name is required")
	}
	if c.Profile.Timezone != "" {
		if _, err := time.LoadLocation(c.Profile.Timezone); err != nil {
			return fmt.Errorf("profile.timezone %q: %w", c.Profile.Timezone, err)
		}
	}
	g := gronx.New()
	for name, fc := range c.Features {
		switch name {
		case FeatureAutoReply:
			// Whitelists may be empty (feature then drops everything),
			// nothing further to check.
		case FeatureGroupTracking:
			for _, tg := range fc.TrackedGroups {
				if tg.GroupID == "" {
					return fmt.Errorf("features.%s: tracked group with empty group_id", name)
				}
				if !g.IsValid(tg.CronSchedule) {
					return fmt.Errorf("features.%s: group %q: invalid cron %q", name, tg.GroupID, tg.CronSchedule)
				}
			}
		default:
			return fmt.Errorf("unknown feature %q", name)
		}
	}
	for _, tier := range []struct {
		name string
		cfg  TierConfig
	}{{"high", c.LLM.High}, {"low", c.LLM.Low}} {
		switch tier.cfg.APIKeySource {
		case "", KeySourceEnvironment:
		case KeySourceExplicit:
			if tier.cfg.APIKey == "" {
				return fmt.Errorf("llm.%s: api_key_source=explicit requires api_key", tier.name)
			}
		default:
			return fmt.Errorf("llm.%s: unknown api_key_source %q", tier.name, tier.cfg.APIKeySource)
		}
	}
	return nil
}

// EnabledFeatureCount returns how many features are switched on.
func (c *BotConfig) EnabledFeatureCount() int {
	n := 0
	for _, fc := range c.Features {
		if fc.Enabled {
			n++
		}
	}
	return n
}

// TrackingConfigs returns the tracked-group configs when the tracking
// feature is enabled, nil otherwise.
func (c *BotConfig) TrackingConfigs() []TrackedGroupConfig {
	fc, ok := c.Features[FeatureGroupTracking]
	if !ok || !fc.Enabled {
		return nil
	}
	return fc.TrackedGroups
}
