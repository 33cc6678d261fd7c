// Package store defines the persistence interfaces and document types shared
// across the backend and the gateway. The mongo subpackage implements them;
// tests substitute in-memory fakes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/waclerk/waclerk/internal/botcfg"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on unique-key violations.
var ErrConflict = errors.New("already exists")

// Stores is the top-level container for all storage backends.
type Stores struct {
	Bots     BotStore
	Users    UserStore
	Queues   QueueStore
	Sessions SessionStore
	Audit    AuditStore
	Lockouts LockoutStore
	Tracking TrackingStore
	Delivery DeliveryStore
	Tokens   TokenStore
	Menu     MenuStore
}

// BotStore persists bot configuration records (bot_configurations).
type BotStore interface {
	Get(ctx context.Context, botID string) (*BotRecord, error)
	// List returns records for the given ids; nil lists every record.
	List(ctx context.Context, botIDs []string) ([]BotRecord, error)
	ListByOwner(ctx context.Context, userID string) ([]BotRecord, error)
	// Put upserts the configuration body by bot_id.
	Put(ctx context.Context, cfg botcfg.BotConfig) error
	// Patch sets individual config_data fields.
	Patch(ctx context.Context, botID string, fields map[string]any) error
	Delete(ctx context.Context, botID string) error
	// SetUserJID records (or clears, with "") the authenticated account.
	SetUserJID(ctx context.Context, botID, jid string) error
	SetActivated(ctx context.Context, botID string, activated bool) error
}

// UserStore persists owner credentials (user_auth_credentials).
type UserStore interface {
	Get(ctx context.Context, userID string) (*User, error)
	// List returns users for the given ids; nil lists all.
	List(ctx context.Context, userIDs []string) ([]User, error)
	Create(ctx context.Context, u User) error
	// Update sets top-level fields by name.
	Update(ctx context.Context, userID string, fields map[string]any) error
	Delete(ctx context.Context, userID string) error
	AddOwnedBot(ctx context.Context, userID, botID string) error
	RemoveOwnedBot(ctx context.Context, userID, botID string) error
	// IncDollarsUsed atomically adds amount to quota.dollars_used.
	IncDollarsUsed(ctx context.Context, userID string, amount float64) error
	SetQuotaEnabled(ctx context.Context, userID string, enabled bool) error
	ListQuotaEnabled(ctx context.Context) ([]User, error)
	// ListDueForReset returns users on a reset cycle (reset_days > 0)
	// whose last_reset + reset_days is at or before now.
	ListDueForReset(ctx context.Context, now time.Time) ([]User, error)
	// ResetQuota zeroes dollars_used, stamps last_reset, and re-enables
	// the quota.
	ResetQuota(ctx context.Context, userID string, now time.Time) error
	CountAdmins(ctx context.Context) (int64, error)
}

// QueueStore is the durable archive of drained queue messages (queues).
type QueueStore interface {
	Archive(ctx context.Context, msg ArchivedMessage) error
	// MaxID returns the highest archived message id for a queue, 0 when
	// nothing is archived.
	MaxID(ctx context.Context, botID, correspondentID string) (int64, error)
	ListByBot(ctx context.Context, botID string) ([]ArchivedMessage, error)
	ListByCorrespondent(ctx context.Context, botID, correspondentID string) ([]ArchivedMessage, error)
	DeleteByBot(ctx context.Context, botID string) (int64, error)
	DeleteByCorrespondent(ctx context.Context, botID, correspondentID string) (int64, error)
}

// SessionStore persists authenticated sessions (authenticated_sessions) and
// their stale archive.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Touch updates last_accessed without moving expires_at.
	Touch(ctx context.Context, sessionID string, at time.Time) error
	AddOwnedBot(ctx context.Context, sessionID, botID string) error
	// Invalidate archives the session to stale_authenticated_sessions with
	// the given reason and removes it.
	Invalidate(ctx context.Context, sessionID, reason string, at time.Time) error
	// PurgeStale removes stale archive entries older than the cutoff.
	PurgeStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// AuditStore appends audit events (audit_logs, 30-day TTL).
type AuditStore interface {
	Insert(ctx context.Context, ev AuditEvent) error
}

// LockoutStore persists account lockout state (account_lockouts).
type LockoutStore interface {
	Get(ctx context.Context, userID string) (*Lockout, error)
	Upsert(ctx context.Context, l Lockout) error
	Clear(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TrackingStore persists group metadata, periods, and per-group run state.
type TrackingStore interface {
	// SaveResult upserts the group metadata (merging alternate
	// identifiers), inserts the period when non-nil, and upserts the run
	// state, as one logical operation.
	SaveResult(ctx context.Context, group TrackedGroup, period *TrackedPeriod, state TrackingState) error
	GetState(ctx context.Context, botID, groupID string) (*TrackingState, error)
	// RecentPeriods returns up to n periods sorted by periodEnd descending.
	RecentPeriods(ctx context.Context, botID, groupID string, n int64) ([]TrackedPeriod, error)
	// ListPeriods returns periods for a bot, optionally scoped to a group.
	ListPeriods(ctx context.Context, botID, groupID string) ([]TrackedPeriod, error)
	ListGroups(ctx context.Context, botID string) ([]TrackedGroup, error)
	DeleteGroup(ctx context.Context, botID, groupID string) (int64, error)
	DeleteBot(ctx context.Context, botID string) (int64, error)
}

// Delivery queue segments.
const (
	SegmentActive  = "active"
	SegmentHolding = "holding"
	SegmentFailed  = "failed"
)

// DeliveryStore moves jobs between the three delivery collections. A job is
// in exactly one segment at any time.
type DeliveryStore interface {
	// Enqueue inserts a new job into active.
	Enqueue(ctx context.Context, job DeliveryJob) error
	MoveAllActiveToHolding(ctx context.Context) (int64, error)
	// MoveToActive moves one bot's holding jobs to active.
	MoveToActive(ctx context.Context, botID string) (int64, error)
	// MoveToHolding moves one bot's active jobs to holding.
	MoveToHolding(ctx context.Context, botID string) (int64, error)
	// SampleActive picks one active job uniformly at random; nil when the
	// segment is empty.
	SampleActive(ctx context.Context) (*DeliveryJob, error)
	IncrementAttempts(ctx context.Context, messageID string) error
	DeleteActive(ctx context.Context, messageID string) error
	// MoveToFailed inserts the job into failed and removes it from active.
	MoveToFailed(ctx context.Context, job DeliveryJob) error
	List(ctx context.Context, segment, botID string) ([]DeliveryJob, error)
	Delete(ctx context.Context, segment, messageID string) (int64, error)
}

// TokenStore appends LLM usage events (token_consumption).
type TokenStore interface {
	Insert(ctx context.Context, ev TokenEvent) error
}

// MenuStore reads the pricing table (global_configurations/token_menu).
type MenuStore interface {
	TokenMenu(ctx context.Context) (*TokenMenu, error)
}
