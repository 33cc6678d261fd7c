// Package provider defines the chat-provider abstraction: one long-lived
// client per linked bot that maintains the platform session, pushes inbound
// traffic into the bot's queues, and exposes outbound send and group
// introspection operations. Concrete implementations register themselves by
// name (whatsapp, telegram, discord) and are constructed through New.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/queue"
)

// Status is the provider session state. Transitions follow
// initializing → qr_pending → connected ↔ disconnected → terminated;
// providers without a pairing step skip qr_pending.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusQRPending    Status = "qr_pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusTerminated   Status = "terminated"
)

// Terminal reports whether the session is permanently over; a terminated
// provider is never restarted, only re-linked.
func (s Status) Terminal() bool { return s == StatusTerminated }

// HistoryMessage is one item of a group history fetch, already classified
// by origin the same way live traffic is.
type HistoryMessage struct {
	ProviderMessageID string
	Sender            string
	DisplayName       string
	Content           string
	Source            queue.Source
	OriginatingTimeMS int64
}

// GroupInfo describes one group the session participates in.
type GroupInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Callbacks are fired by a provider on session events. Either field may be
// nil. OnStatusChange fires on every state transition; OnSessionEnd fires
// when the platform session is irrecoverably gone (logged out, QR expired)
// in addition to the terminated status change.
type Callbacks struct {
	OnStatusChange func(botID string, status Status)
	OnSessionEnd   func(botID string)
}

// FireStatusChange invokes OnStatusChange when set.
func (c Callbacks) FireStatusChange(botID string, status Status) {
	if c.OnStatusChange != nil {
		c.OnStatusChange(botID, status)
	}
}

// FireSessionEnd invokes OnSessionEnd when set.
func (c Callbacks) FireSessionEnd(botID string) {
	if c.OnSessionEnd != nil {
		c.OnSessionEnd(botID)
	}
}

// Config carries everything a factory needs to build a provider for one bot.
type Config struct {
	BotID    string
	Settings botcfg.ProviderConfig
	// BridgeURL is the base HTTP URL of the external bridge process, for
	// providers that use one (whatsapp). Token-authenticated providers
	// ignore it.
	BridgeURL string
	// Queues receives all classified inbound traffic.
	Queues    *queue.Manager
	Callbacks Callbacks
	Logger    *slog.Logger
}

// ChatProvider is the session-facing contract every chat platform client
// implements. Start is non-blocking: it brings up the session and returns,
// with traffic flowing through Config.Queues until Stop. Stop with cleanup
// additionally destroys the platform-side session so the next Start requires
// a fresh pairing.
type ChatProvider interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context, cleanup bool) error

	SendMessage(ctx context.Context, recipient, content string) error
	SendFile(ctx context.Context, recipient string, data []byte, filename, mimeType, caption string) error

	// Status returns the session state. With heartbeat it actively probes
	// the transport first; without, it returns the cached state.
	Status(ctx context.Context, heartbeat bool) (Status, error)
	// IsConnected reports full readiness: the session is authenticated
	// (user identity known) and the inbound listener is attached.
	IsConnected() bool
	// UserJID is the platform identity of the linked account, empty until
	// authenticated.
	UserJID() string
	// QRCode returns the current pairing code while status is qr_pending,
	// empty otherwise.
	QRCode() string

	FetchGroupHistory(ctx context.Context, groupID string, limit int) ([]HistoryMessage, error)
	ListGroups(ctx context.Context) ([]GroupInfo, error)
}

// Factory builds a provider instance for one bot.
type Factory func(cfg Config) (ChatProvider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a provider available under a name. It panics on duplicate
// registration; providers register from init so a duplicate is a programming
// error.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("provider: Register called twice for %q", name))
	}
	registry[name] = f
}

// New constructs the named provider.
func New(name string, cfg Config) (ChatProvider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q (registered: %v)", name, Names())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return f(cfg)
}

// Names returns the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
