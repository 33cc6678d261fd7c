package store

import (
	"time"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/queue"
)

// Roles carried on owner credentials and sessions.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Audit event types.
const (
	AuditLoginSuccess     = "login_success"
	AuditLoginFailed      = "login_failed"
	AuditPermissionDenied = "permission_denied"
	AuditLogout           = "logout"
	AuditAccountLocked    = "account_locked"
	AuditAccountUnlocked  = "account_unlocked"
	AuditUserCreated      = "user_created"
	AuditUserUpdated      = "user_updated"
	AuditUserDeleted      = "user_deleted"
	AuditPasswordReset    = "password_reset"
)

// BotRecord is one document of the bot_configurations collection. The
// configuration body nests under config_data; the unique index lives on
// config_data.bot_id.
type BotRecord struct {
	ConfigData botcfg.BotConfig `bson:"config_data" json:"config_data"`
	// UserJID is the authenticated WhatsApp account bound to this bot,
	// recorded on first successful connect. Cleared by unlink-with-cleanup;
	// non-empty means the bridge holds reusable session credentials.
	UserJID   string    `bson:"user_jid,omitempty" json:"user_jid,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Quota is the rolling LLM budget embedded in a user document.
type Quota struct {
	DollarsPerPeriod float64   `bson:"dollars_per_period" json:"dollars_per_period"`
	DollarsUsed      float64   `bson:"dollars_used" json:"dollars_used"`
	LastReset        time.Time `bson:"last_reset" json:"last_reset"`
	ResetDays        int       `bson:"reset_days" json:"reset_days"`
	Enabled          bool      `bson:"enabled" json:"enabled"`
}

// UserProfile is owner-facing metadata.
type UserProfile struct {
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	Email    string `bson:"email,omitempty" json:"email,omitempty"`
	Phone    string `bson:"phone,omitempty" json:"phone,omitempty"`
	GovID    string `bson:"gov_id,omitempty" json:"gov_id,omitempty"`
	Country  string `bson:"country,omitempty" json:"country,omitempty"`
	Language string `bson:"language,omitempty" json:"language,omitempty"`
}

// User is one document of user_auth_credentials.
type User struct {
	UserID             string      `bson:"user_id" json:"user_id"`
	PasswordHash       string      `bson:"password_hash" json:"-"`
	Role               string      `bson:"role" json:"role"`
	OwnedBots          []string    `bson:"owned_bots" json:"owned_bots"`
	MaxBots            int         `bson:"max_bots" json:"max_bots"`
	MaxEnabledFeatures int         `bson:"max_enabled_features" json:"max_enabled_features"`
	Quota              Quota       `bson:"quota" json:"quota"`
	Profile            UserProfile `bson:"profile" json:"profile"`
	CreatedAt          time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `bson:"updated_at" json:"updated_at"`
}

// ArchivedMessage is one document of the queues collection: a drained queue
// message annotated with its origin.
type ArchivedMessage struct {
	BotID           string `bson:"bot_id" json:"bot_id"`
	ProviderName    string `bson:"provider_name" json:"provider_name"`
	CorrespondentID string `bson:"correspondent_id" json:"correspondent_id"`
	queue.Message   `bson:",inline" json:",inline"`
}

// Session is one document of authenticated_sessions. ExpiresAt is absolute:
// touching a session updates LastAccessed only.
type Session struct {
	SessionID    string    `bson:"session_id" json:"session_id"`
	UserID       string    `bson:"user_id" json:"user_id"`
	Role         string    `bson:"role" json:"role"`
	OwnedBots    []string  `bson:"owned_bots" json:"owned_bots"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	LastAccessed time.Time `bson:"last_accessed" json:"last_accessed"`
	ExpiresAt    time.Time `bson:"expires_at" json:"expires_at"`
	IP           string    `bson:"ip,omitempty" json:"ip,omitempty"`
	UserAgent    string    `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// Expired reports whether the session's absolute lifetime has passed.
func (s *Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Owns reports whether the session's owner list contains botID.
func (s *Session) Owns(botID string) bool {
	for _, b := range s.OwnedBots {
		if b == botID {
			return true
		}
	}
	return false
}

// StaleSession archives an invalidated session.
type StaleSession struct {
	Session       `bson:",inline" json:",inline"`
	InvalidatedAt time.Time `bson:"invalidated_at" json:"invalidated_at"`
	Reason        string    `bson:"reason" json:"reason"`
}

// AuditEvent is one document of audit_logs (30-day TTL on Timestamp).
type AuditEvent struct {
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	EventType string         `bson:"event_type" json:"event_type"`
	UserID    string         `bson:"user_id,omitempty" json:"user_id,omitempty"`
	IP        string         `bson:"ip,omitempty" json:"ip,omitempty"`
	UserAgent string         `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	Details   map[string]any `bson:"details,omitempty" json:"details,omitempty"`
}

// Lockout is one document of account_lockouts (TTL on LockedUntil).
type Lockout struct {
	UserID         string     `bson:"user_id" json:"user_id"`
	FailedAttempts int        `bson:"failed_attempts" json:"failed_attempts"`
	LastAttempt    time.Time  `bson:"last_attempt" json:"last_attempt"`
	LockedUntil    *time.Time `bson:"locked_until,omitempty" json:"locked_until,omitempty"`
}

// Locked reports whether the lockout is active at now.
func (l *Lockout) Locked(now time.Time) bool {
	return l.LockedUntil != nil && now.Before(*l.LockedUntil)
}

// TrackedGroup is group metadata, unique per (bot_id, group_id).
type TrackedGroup struct {
	BotID                string    `bson:"bot_id" json:"bot_id"`
	GroupID              string    `bson:"group_id" json:"group_id"`
	DisplayName          string    `bson:"display_name,omitempty" json:"display_name,omitempty"`
	AlternateIdentifiers []string  `bson:"alternate_identifiers,omitempty" json:"alternate_identifiers,omitempty"`
	CronSchedule         string    `bson:"cron_schedule,omitempty" json:"cron_schedule,omitempty"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

// PeriodMessage is one message inside a tracked period, localized to wire
// order by OriginatingTimeMS.
type PeriodMessage struct {
	ProviderMessageID string `bson:"provider_message_id,omitempty" json:"provider_message_id,omitempty"`
	Sender            string `bson:"sender" json:"sender"`
	SenderDisplay     string `bson:"sender_display,omitempty" json:"sender_display,omitempty"`
	Content           string `bson:"content" json:"content"`
	Source            string `bson:"source" json:"source"`
	OriginatingTimeMS int64  `bson:"originating_time_ms" json:"originating_time_ms"`
}

// TrackedPeriod is one document of tracked_group_periods: the messages one
// scheduled fire captured.
type TrackedPeriod struct {
	BotID         string          `bson:"bot_id" json:"bot_id"`
	GroupID       string          `bson:"group_id" json:"group_id"`
	PeriodStartMS int64           `bson:"periodStart" json:"period_start_ms"`
	PeriodEndMS   int64           `bson:"periodEnd" json:"period_end_ms"`
	MessageCount  int             `bson:"message_count" json:"message_count"`
	Messages      []PeriodMessage `bson:"messages" json:"messages"`
	CreatedAt     time.Time       `bson:"created_at" json:"created_at"`
}

// TrackingState persists the last successful window end per (bot, group).
type TrackingState struct {
	BotID     string `bson:"bot_id" json:"bot_id"`
	GroupID   string `bson:"group_id" json:"group_id"`
	LastRunMS int64  `bson:"last_run_ms" json:"last_run_ms"`
}

// Delivery message types with registered processors.
const (
	DeliveryTypeText           = "text"
	DeliveryTypeActionableItem = "ics_actionable_item"
)

// Destination addresses a delivery job: the bot session to send through and
// the owner it belongs to.
type Destination struct {
	UserID       string `bson:"user_id" json:"user_id"`
	BotID        string `bson:"bot_id" json:"bot_id"`
	ProviderName string `bson:"provider_name" json:"provider_name"`
}

// DeliveryMetadata nests the destination, mirroring the collection's
// message_metadata.message_destination index path.
type DeliveryMetadata struct {
	Destination Destination `bson:"message_destination" json:"message_destination"`
}

// DeliveryJob lives in exactly one of the active/holding/failed collections.
// Content is the opaque per-type payload; processors decode it.
type DeliveryJob struct {
	MessageID    string           `bson:"message_id" json:"message_id"`
	Metadata     DeliveryMetadata `bson:"message_metadata" json:"message_metadata"`
	SendAttempts int              `bson:"send_attempts" json:"send_attempts"`
	CreatedAt    time.Time        `bson:"created_at" json:"created_at"`
	MessageType  string           `bson:"message_type" json:"message_type"`
	Content      map[string]any   `bson:"content" json:"content"`
}

// TokenEvent is one document of token_consumption.
type TokenEvent struct {
	Timestamp         time.Time `bson:"timestamp" json:"timestamp"`
	UserID            string    `bson:"user_id" json:"user_id"`
	BotID             string    `bson:"bot_id" json:"bot_id"`
	FeatureName       string    `bson:"feature_name" json:"feature_name"`
	InputTokens       int       `bson:"input_tokens" json:"input_tokens"`
	CachedInputTokens int       `bson:"cached_input_tokens" json:"cached_input_tokens"`
	OutputTokens      int       `bson:"output_tokens" json:"output_tokens"`
	ConfigTier        string    `bson:"config_tier" json:"config_tier"`
}

// TierRates are dollar-per-million-token prices for one tier.
type TierRates struct {
	InputTokens       float64 `bson:"input_tokens" json:"input_tokens"`
	CachedInputTokens float64 `bson:"cached_input_tokens" json:"cached_input_tokens"`
	OutputTokens      float64 `bson:"output_tokens" json:"output_tokens"`
}

// TokenMenu is the global_configurations document with _id "token_menu".
type TokenMenu struct {
	Tiers map[string]TierRates `bson:"tiers" json:"tiers"`
}
