// Package lifecycle starts and stops bot sessions and reacts to their status
// transitions. It owns the registry of live sessions and is the single place
// that connects a provider's callbacks to the delivery queue, the tracking
// scheduler, and the status event hub.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/events"
	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/session"
	"github.com/waclerk/waclerk/internal/store"
)

// ErrAlreadyLinked is returned by Link when a healthy session exists.
var ErrAlreadyLinked = errors.New("bot already linked")

// callbackTimeout bounds the store and queue work done inside a provider
// status callback.
const callbackTimeout = 30 * time.Second

// Builder constructs a ready-to-start session for a bot configuration. The
// callbacks must be handed to the provider so lifecycle sees its transitions.
type Builder func(ctx context.Context, bot botcfg.BotConfig, cbs provider.Callbacks) (*session.Session, error)

// TrackerJobs is the scheduler surface lifecycle drives on connectivity
// changes.
type TrackerJobs interface {
	UpdateJobs(botID string, configs []botcfg.TrackedGroupConfig, tz string) error
	StopTrackingJobs(botID string) int
	HasJobs(botID string) bool
}

// DeliveryMoves parks and releases a bot's delivery jobs.
type DeliveryMoves interface {
	Activate(ctx context.Context, botID string)
	Hold(ctx context.Context, botID string)
}

// StatusPublisher pushes transitions to connected UI clients.
type StatusPublisher interface {
	Publish(ev events.Event)
}

// Config assembles a Manager.
type Config struct {
	Bots    store.BotStore
	Users   store.UserStore
	Build   Builder
	Tracker TrackerJobs
	Moves   DeliveryMoves
	Hub     StatusPublisher
	Logger  *slog.Logger
}

// Manager owns the live sessions, keyed by bot id.
type Manager struct {
	bots    store.BotStore
	users   store.UserStore
	build   Builder
	tracker TrackerJobs
	moves   DeliveryMoves
	hub     StatusPublisher
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session

	now func() time.Time
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bots:     cfg.Bots,
		users:    cfg.Users,
		build:    cfg.Build,
		tracker:  cfg.Tracker,
		moves:    cfg.Moves,
		hub:      cfg.Hub,
		logger:   logger.With("component", "lifecycle"),
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

// Session returns the live session for a bot.
func (m *Manager) Session(botID string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[botID]
	return s, ok
}

// Provider returns the live provider for a bot, for delivery and tracking
// lookups and for status reads.
func (m *Manager) Provider(botID string) (provider.ChatProvider, bool) {
	s, ok := m.Session(botID)
	if !ok {
		return nil, false
	}
	return s.Provider(), true
}

// Linked lists the bot ids with a registered session.
func (m *Manager) Linked() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Link starts a session for the bot. Linking is exclusive but self-healing:
// a prior session that probes dead is cleaned up and replaced; a healthy one
// (including one still pairing) makes Link fail with ErrAlreadyLinked.
func (m *Manager) Link(ctx context.Context, botID string) error {
	rec, err := m.bots.Get(ctx, botID)
	if err != nil {
		return err
	}
	bot := rec.ConfigData

	m.mu.RLock()
	existing := m.sessions[botID]
	m.mu.RUnlock()
	if existing != nil {
		status, probeErr := existing.Provider().Status(ctx, true)
		if probeErr == nil && status != provider.StatusDisconnected && !status.Terminal() {
			return ErrAlreadyLinked
		}
		m.logger.Warn("lifecycle.replacing_dead_session",
			"bot", botID, "status", string(status))
		if err := existing.Stop(ctx, false); err != nil {
			m.logger.Error("lifecycle.stop_dead", "bot", botID, "error", err)
		}
		m.mu.Lock()
		if m.sessions[botID] == existing {
			delete(m.sessions, botID)
		}
		m.mu.Unlock()
	}

	sess, err := m.build(ctx, bot, provider.Callbacks{
		OnStatusChange: m.onStatusChange,
		OnSessionEnd:   m.onSessionEnd,
	})
	if err != nil {
		return err
	}

	// Reserve the slot before the (slow) provider start so a concurrent Link
	// observes the bot as taken.
	m.mu.Lock()
	if _, taken := m.sessions[botID]; taken {
		m.mu.Unlock()
		_ = sess.Stop(ctx, false)
		return ErrAlreadyLinked
	}
	m.sessions[botID] = sess
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, botID)
		m.mu.Unlock()
		_ = sess.Stop(ctx, false)
		return err
	}

	if err := m.bots.SetActivated(ctx, botID, true); err != nil {
		m.logger.Error("lifecycle.set_activated", "bot", botID, "error", err)
	}
	m.logger.Info("lifecycle.linked", "bot", botID, "provider", bot.Provider.Name)
	return nil
}

// Unlink stops the bot's session and destroys the platform-side pairing.
// Unlinking a bot that is not running only clears the activated flag.
func (m *Manager) Unlink(ctx context.Context, botID string) error {
	sess, ok := m.pop(botID)
	if ok {
		m.tracker.StopTrackingJobs(botID)
		if err := sess.Stop(ctx, true); err != nil {
			return err
		}
	}
	if err := m.bots.SetActivated(ctx, botID, false); err != nil {
		m.logger.Error("lifecycle.set_activated", "bot", botID, "error", err)
	}
	if err := m.bots.SetUserJID(ctx, botID, ""); err != nil {
		m.logger.Error("lifecycle.clear_jid", "bot", botID, "error", err)
	}
	m.logger.Info("lifecycle.unlinked", "bot", botID, "was_running", ok)
	return nil
}

// Reload restarts the bot's session against its current configuration,
// keeping the platform pairing.
func (m *Manager) Reload(ctx context.Context, botID string) error {
	if _, err := m.bots.Get(ctx, botID); err != nil {
		return err
	}
	if sess, ok := m.pop(botID); ok {
		m.tracker.StopTrackingJobs(botID)
		if err := sess.Stop(ctx, false); err != nil {
			m.logger.Error("lifecycle.reload_stop", "bot", botID, "error", err)
		}
	}
	return m.Link(ctx, botID)
}

// Delete unlinks the bot, removes its configuration, and detaches it from
// the owner's owned_bots.
func (m *Manager) Delete(ctx context.Context, botID string) error {
	rec, err := m.bots.Get(ctx, botID)
	if err != nil {
		return err
	}
	owner := rec.ConfigData.UserID

	if sess, ok := m.pop(botID); ok {
		m.tracker.StopTrackingJobs(botID)
		if err := sess.Stop(ctx, true); err != nil {
			m.logger.Error("lifecycle.delete_stop", "bot", botID, "error", err)
		}
	}
	if err := m.bots.Delete(ctx, botID); err != nil {
		return err
	}
	if err := m.users.RemoveOwnedBot(ctx, owner, botID); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("lifecycle.detach_owner", "bot", botID, "owner", owner, "error", err)
	}
	m.logger.Info("lifecycle.deleted", "bot", botID, "owner", owner)
	return nil
}

// StopBot halts a running session without touching the platform pairing or
// the activated flag; quota enforcement uses it so a later reset can bring
// the bot back.
func (m *Manager) StopBot(ctx context.Context, botID string) bool {
	sess, ok := m.pop(botID)
	if !ok {
		return false
	}
	m.tracker.StopTrackingJobs(botID)
	if err := sess.Stop(ctx, false); err != nil {
		m.logger.Error("lifecycle.stop", "bot", botID, "error", err)
	}
	return true
}

// StopAll shuts every session down, without platform cleanup. Used on
// process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()

	for botID, sess := range sessions {
		m.tracker.StopTrackingJobs(botID)
		if err := sess.Stop(ctx, false); err != nil {
			m.logger.Error("lifecycle.stop", "bot", botID, "error", err)
		}
	}
	if len(sessions) > 0 {
		m.logger.Info("lifecycle.stopped_all", "count", len(sessions))
	}
}

// StopOwnerBots halts every running bot of one owner. Returns how many were
// running.
func (m *Manager) StopOwnerBots(ctx context.Context, userID string) int {
	recs, err := m.bots.ListByOwner(ctx, userID)
	if err != nil {
		m.logger.Error("lifecycle.owner_bots", "user", userID, "error", err)
		return 0
	}
	stopped := 0
	for _, rec := range recs {
		if m.StopBot(ctx, rec.ConfigData.BotID) {
			stopped++
		}
	}
	m.logger.Info("lifecycle.owner_stopped", "user", userID, "count", stopped)
	return stopped
}

// StartOwnerBots links every startable bot of one owner: activated, and
// paired before (a recorded account identity means bridge credentials
// exist). Returns how many were started.
func (m *Manager) StartOwnerBots(ctx context.Context, userID string) int {
	recs, err := m.bots.ListByOwner(ctx, userID)
	if err != nil {
		m.logger.Error("lifecycle.owner_bots", "user", userID, "error", err)
		return 0
	}
	started := 0
	for _, rec := range recs {
		if !rec.ConfigData.Activated || rec.UserJID == "" {
			continue
		}
		botID := rec.ConfigData.BotID
		switch err := m.Link(ctx, botID); {
		case err == nil:
			started++
		case errors.Is(err, ErrAlreadyLinked):
		default:
			m.logger.Error("lifecycle.owner_start", "user", userID, "bot", botID, "error", err)
		}
	}
	return started
}

// AutoStartAll links the startable bots of every quota-enabled owner.
func (m *Manager) AutoStartAll(ctx context.Context) int {
	users, err := m.users.ListQuotaEnabled(ctx)
	if err != nil {
		m.logger.Error("lifecycle.autostart_users", "error", err)
		return 0
	}
	started := 0
	for _, u := range users {
		started += m.StartOwnerBots(ctx, u.UserID)
	}
	m.logger.Info("lifecycle.autostart", "started", started)
	return started
}

// pop removes and returns the session for a bot.
func (m *Manager) pop(botID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[botID]
	if ok {
		delete(m.sessions, botID)
	}
	return sess, ok
}

// onStatusChange runs on every provider transition, from the provider's own
// goroutine. Connected releases held deliveries, records the account
// identity, and registers tracking jobs unless already present; disconnected
// and terminated park deliveries and stop tracking fires. Every transition
// is published to the event hub.
func (m *Manager) onStatusChange(botID string, status provider.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	ev := events.Event{BotID: botID, Status: string(status), TS: m.now().UnixMilli()}
	if status == provider.StatusQRPending {
		if prov, ok := m.Provider(botID); ok {
			ev.QR = prov.QRCode()
		}
	}
	if m.hub != nil {
		m.hub.Publish(ev)
	}

	switch status {
	case provider.StatusConnected:
		m.moves.Activate(ctx, botID)
		if prov, ok := m.Provider(botID); ok {
			if jid := prov.UserJID(); jid != "" {
				if err := m.bots.SetUserJID(ctx, botID, jid); err != nil {
					m.logger.Error("lifecycle.record_jid", "bot", botID, "error", err)
				}
			}
		}
		if !m.tracker.HasJobs(botID) {
			m.registerTrackingJobs(ctx, botID)
		}
	case provider.StatusDisconnected, provider.StatusTerminated:
		m.moves.Hold(ctx, botID)
		m.tracker.StopTrackingJobs(botID)
	}
}

// registerTrackingJobs loads the current config and schedules its tracked
// groups.
func (m *Manager) registerTrackingJobs(ctx context.Context, botID string) {
	rec, err := m.bots.Get(ctx, botID)
	if err != nil {
		m.logger.Error("lifecycle.tracking_config", "bot", botID, "error", err)
		return
	}
	configs := rec.ConfigData.TrackingConfigs()
	if len(configs) == 0 {
		return
	}
	if err := m.tracker.UpdateJobs(botID, configs, rec.ConfigData.Profile.Timezone); err != nil {
		m.logger.Error("lifecycle.tracking_jobs", "bot", botID, "error", err)
	}
}

// onSessionEnd runs when the platform session is irrecoverably gone (logged
// out, pairing expired). The session is removed and the bot is deactivated;
// bringing it back requires a fresh Link and QR pairing.
func (m *Manager) onSessionEnd(botID string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	m.logger.Warn("lifecycle.session_ended", "bot", botID)
	if sess, ok := m.pop(botID); ok {
		m.tracker.StopTrackingJobs(botID)
		// The platform session is already gone; no cleanup call needed.
		if err := sess.Stop(ctx, false); err != nil {
			m.logger.Error("lifecycle.session_end_stop", "bot", botID, "error", err)
		}
	}
	if err := m.bots.SetActivated(ctx, botID, false); err != nil {
		m.logger.Error("lifecycle.set_activated", "bot", botID, "error", err)
	}
	if err := m.bots.SetUserJID(ctx, botID, ""); err != nil {
		m.logger.Error("lifecycle.clear_jid", "bot", botID, "error", err)
	}
}
