// Package memory implements the store interfaces on process-local maps. It
// backs unit tests; production uses the mongo sibling.
package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/store"
)

// NewStores returns an empty in-memory store set.
func NewStores() *store.Stores {
	return &store.Stores{
		Bots:     &BotStore{recs: map[string]*store.BotRecord{}},
		Users:    &UserStore{users: map[string]*store.User{}},
		Queues:   &QueueStore{},
		Sessions: &SessionStore{sessions: map[string]*store.Session{}},
		Audit:    &AuditStore{},
		Lockouts: &LockoutStore{lockouts: map[string]*store.Lockout{}},
		Tracking: &TrackingStore{groups: map[string]*store.TrackedGroup{}, state: map[string]*store.TrackingState{}},
		Delivery: NewDeliveryStore(),
		Tokens:   &TokenStore{},
		Menu:     &MenuStore{},
	}
}

// BotStore implements store.BotStore.
type BotStore struct {
	mu   sync.Mutex
	recs map[string]*store.BotRecord
}

func (s *BotStore) Get(_ context.Context, botID string) (*store.BotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[botID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *BotStore) List(_ context.Context, botIDs []string) ([]store.BotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.BotRecord
	if botIDs == nil {
		for _, rec := range s.recs {
			out = append(out, *rec)
		}
		return out, nil
	}
	for _, id := range botIDs {
		if rec, ok := s.recs[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *BotStore) ListByOwner(_ context.Context, userID string) ([]store.BotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.BotRecord
	for _, rec := range s.recs {
		if rec.ConfigData.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *BotStore) Put(_ context.Context, cfg botcfg.BotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if rec, ok := s.recs[cfg.BotID]; ok {
		rec.ConfigData = cfg
		rec.UpdatedAt = now
		return nil
	}
	s.recs[cfg.BotID] = &store.BotRecord{ConfigData: cfg, CreatedAt: now, UpdatedAt: now}
	return nil
}

// Patch supports only the fields the backend patches in practice.
func (s *BotStore) Patch(_ context.Context, botID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[botID]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "activated":
			if b, ok := v.(bool); ok {
				rec.ConfigData.Activated = b
			}
		case "user_id":
			if u, ok := v.(string); ok {
				rec.ConfigData.UserID = u
			}
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *BotStore) Delete(_ context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[botID]; !ok {
		return store.ErrNotFound
	}
	delete(s.recs, botID)
	return nil
}

func (s *BotStore) SetUserJID(_ context.Context, botID, jid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[botID]
	if !ok {
		return store.ErrNotFound
	}
	rec.UserJID = jid
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *BotStore) SetActivated(_ context.Context, botID string, activated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[botID]
	if !ok {
		return store.ErrNotFound
	}
	rec.ConfigData.Activated = activated
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// UserStore implements store.UserStore.
type UserStore struct {
	mu    sync.Mutex
	users map[string]*store.User
}

func (s *UserStore) Get(_ context.Context, userID string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	cp.OwnedBots = append([]string(nil), u.OwnedBots...)
	return &cp, nil
}

func (s *UserStore) List(_ context.Context, userIDs []string) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.User
	if userIDs == nil {
		for _, u := range s.users {
			out = append(out, *u)
		}
		return out, nil
	}
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *UserStore) Create(_ context.Context, u store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.UserID]; ok {
		return store.ErrConflict
	}
	s.users[u.UserID] = &u
	return nil
}

func (s *UserStore) Update(_ context.Context, userID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "password_hash":
			u.PasswordHash, _ = v.(string)
		case "role":
			u.Role, _ = v.(string)
		case "max_bots":
			if n, ok := v.(int); ok {
				u.MaxBots = n
			}
		case "max_enabled_features":
			if n, ok := v.(int); ok {
				u.MaxEnabledFeatures = n
			}
		case "quota":
			if q, ok := v.(store.Quota); ok {
				u.Quota = q
			}
		case "profile":
			if p, ok := v.(store.UserProfile); ok {
				u.Profile = p
			}
		}
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *UserStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, userID)
	return nil
}

func (s *UserStore) AddOwnedBot(_ context.Context, userID, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	for _, b := range u.OwnedBots {
		if b == botID {
			return nil
		}
	}
	u.OwnedBots = append(u.OwnedBots, botID)
	return nil
}

func (s *UserStore) RemoveOwnedBot(_ context.Context, userID, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	kept := u.OwnedBots[:0]
	for _, b := range u.OwnedBots {
		if b != botID {
			kept = append(kept, b)
		}
	}
	u.OwnedBots = kept
	return nil
}

func (s *UserStore) IncDollarsUsed(_ context.Context, userID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Quota.DollarsUsed += amount
	return nil
}

func (s *UserStore) SetQuotaEnabled(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Quota.Enabled = enabled
	return nil
}

func (s *UserStore) ListQuotaEnabled(_ context.Context) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.User
	for _, u := range s.users {
		if u.Quota.Enabled {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *UserStore) ListDueForReset(_ context.Context, now time.Time) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.User
	for _, u := range s.users {
		if u.Quota.ResetDays <= 0 {
			continue
		}
		due := u.Quota.LastReset.Add(time.Duration(u.Quota.ResetDays) * 24 * time.Hour)
		if !due.After(now) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *UserStore) ResetQuota(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Quota.DollarsUsed = 0
	u.Quota.LastReset = now
	u.Quota.Enabled = true
	u.UpdatedAt = now
	return nil
}

func (s *UserStore) CountAdmins(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.users {
		if u.Role == store.RoleAdmin {
			n++
		}
	}
	return n, nil
}

// QueueStore implements store.QueueStore.
type QueueStore struct {
	mu   sync.Mutex
	msgs []store.ArchivedMessage
}

func (s *QueueStore) Archive(_ context.Context, msg store.ArchivedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *QueueStore) MaxID(_ context.Context, botID, correspondentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, m := range s.msgs {
		if m.BotID == botID && m.CorrespondentID == correspondentID && m.ID > max {
			max = m.ID
		}
	}
	return max, nil
}

func (s *QueueStore) ListByBot(_ context.Context, botID string) ([]store.ArchivedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ArchivedMessage
	for _, m := range s.msgs {
		if m.BotID == botID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *QueueStore) ListByCorrespondent(_ context.Context, botID, correspondentID string) ([]store.ArchivedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ArchivedMessage
	for _, m := range s.msgs {
		if m.BotID == botID && m.CorrespondentID == correspondentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *QueueStore) DeleteByBot(_ context.Context, botID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0]
	var n int64
	for _, m := range s.msgs {
		if m.BotID == botID {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	return n, nil
}

func (s *QueueStore) DeleteByCorrespondent(_ context.Context, botID, correspondentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0]
	var n int64
	for _, m := range s.msgs {
		if m.BotID == botID && m.CorrespondentID == correspondentID {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	return n, nil
}

// SessionStore implements store.SessionStore.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	stale    []store.StaleSession
}

func (s *SessionStore) Create(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.SessionID]; ok {
		return store.ErrConflict
	}
	s.sessions[sess.SessionID] = &sess
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	cp.OwnedBots = append([]string(nil), sess.OwnedBots...)
	return &cp, nil
}

func (s *SessionStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.LastAccessed = at
	return nil
}

func (s *SessionStore) AddOwnedBot(_ context.Context, sessionID, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	for _, b := range sess.OwnedBots {
		if b == botID {
			return nil
		}
	}
	sess.OwnedBots = append(sess.OwnedBots, botID)
	return nil
}

func (s *SessionStore) Invalidate(_ context.Context, sessionID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	s.stale = append(s.stale, store.StaleSession{Session: *sess, InvalidatedAt: at, Reason: reason})
	delete(s.sessions, sessionID)
	return nil
}

func (s *SessionStore) PurgeStale(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.stale[:0]
	var n int64
	for _, st := range s.stale {
		if st.InvalidatedAt.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, st)
	}
	s.stale = kept
	return n, nil
}

// Stale returns the archived sessions, newest last.
func (s *SessionStore) Stale() []store.StaleSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.StaleSession(nil), s.stale...)
}

// AuditStore implements store.AuditStore.
type AuditStore struct {
	mu     sync.Mutex
	events []store.AuditEvent
}

func (s *AuditStore) Insert(_ context.Context, ev store.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns all recorded events in insertion order.
func (s *AuditStore) Events() []store.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.AuditEvent(nil), s.events...)
}

// LockoutStore implements store.LockoutStore.
type LockoutStore struct {
	mu       sync.Mutex
	lockouts map[string]*store.Lockout
}

func (s *LockoutStore) Get(_ context.Context, userID string) (*store.Lockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lockouts[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *LockoutStore) Upsert(_ context.Context, l store.Lockout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockouts[l.UserID] = &l
	return nil
}

func (s *LockoutStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lockouts, userID)
	return nil
}

func (s *LockoutStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, l := range s.lockouts {
		if l.LockedUntil != nil && l.LockedUntil.Before(now) {
			delete(s.lockouts, id)
			n++
		}
	}
	return n, nil
}

// TrackingStore implements store.TrackingStore.
type TrackingStore struct {
	mu      sync.Mutex
	groups  map[string]*store.TrackedGroup
	periods []store.TrackedPeriod
	state   map[string]*store.TrackingState
}

func trackingKey(botID, groupID string) string { return botID + "\x00" + groupID }

func (s *TrackingStore) SaveResult(_ context.Context, group store.TrackedGroup, period *store.TrackedPeriod, state store.TrackingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trackingKey(group.BotID, group.GroupID)
	existing, ok := s.groups[key]
	if !ok {
		cp := group
		cp.UpdatedAt = time.Now().UTC()
		s.groups[key] = &cp
	} else {
		existing.DisplayName = group.DisplayName
		existing.CronSchedule = group.CronSchedule
		existing.UpdatedAt = time.Now().UTC()
	merge:
		for _, alt := range group.AlternateIdentifiers {
			for _, have := range existing.AlternateIdentifiers {
				if have == alt {
					continue merge
				}
			}
			existing.AlternateIdentifiers = append(existing.AlternateIdentifiers, alt)
		}
	}
	if period != nil {
		p := *period
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		s.periods = append(s.periods, p)
	}
	s.state[trackingKey(state.BotID, state.GroupID)] = &store.TrackingState{
		BotID: state.BotID, GroupID: state.GroupID, LastRunMS: state.LastRunMS,
	}
	return nil
}

func (s *TrackingStore) GetState(_ context.Context, botID, groupID string) (*store.TrackingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[trackingKey(botID, groupID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *TrackingStore) RecentPeriods(_ context.Context, botID, groupID string, n int64) ([]store.TrackedPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.TrackedPeriod
	for _, p := range s.periods {
		if p.BotID == botID && p.GroupID == groupID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEndMS > out[j].PeriodEndMS })
	if int64(len(out)) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *TrackingStore) ListPeriods(_ context.Context, botID, groupID string) ([]store.TrackedPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.TrackedPeriod
	for _, p := range s.periods {
		if p.BotID != botID {
			continue
		}
		if groupID != "" && p.GroupID != groupID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEndMS > out[j].PeriodEndMS })
	return out, nil
}

func (s *TrackingStore) ListGroups(_ context.Context, botID string) ([]store.TrackedGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.TrackedGroup
	for _, g := range s.groups {
		if g.BotID == botID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *TrackingStore) DeleteGroup(_ context.Context, botID, groupID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	key := trackingKey(botID, groupID)
	if _, ok := s.groups[key]; ok {
		delete(s.groups, key)
		n++
	}
	if _, ok := s.state[key]; ok {
		delete(s.state, key)
		n++
	}
	kept := s.periods[:0]
	for _, p := range s.periods {
		if p.BotID == botID && p.GroupID == groupID {
			n++
			continue
		}
		kept = append(kept, p)
	}
	s.periods = kept
	return n, nil
}

func (s *TrackingStore) DeleteBot(_ context.Context, botID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, g := range s.groups {
		if g.BotID == botID {
			delete(s.groups, key)
			n++
		}
	}
	for key, st := range s.state {
		if st.BotID == botID {
			delete(s.state, key)
			n++
		}
	}
	kept := s.periods[:0]
	for _, p := range s.periods {
		if p.BotID == botID {
			n++
			continue
		}
		kept = append(kept, p)
	}
	s.periods = kept
	return n, nil
}

// DeliveryStore implements store.DeliveryStore.
type DeliveryStore struct {
	mu       sync.Mutex
	segments map[string]map[string]store.DeliveryJob
	rng      *rand.Rand
}

func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{
		segments: map[string]map[string]store.DeliveryJob{
			store.SegmentActive:  {},
			store.SegmentHolding: {},
			store.SegmentFailed:  {},
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *DeliveryStore) Enqueue(_ context.Context, job store.DeliveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[store.SegmentActive][job.MessageID] = job
	return nil
}

func (s *DeliveryStore) MoveAllActiveToHolding(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.segments[store.SegmentActive]
	holding := s.segments[store.SegmentHolding]
	var n int64
	for id, job := range active {
		holding[id] = job
		delete(active, id)
		n++
	}
	return n, nil
}

func (s *DeliveryStore) MoveToActive(_ context.Context, botID string) (int64, error) {
	return s.moveBot(store.SegmentHolding, store.SegmentActive, botID)
}

func (s *DeliveryStore) MoveToHolding(_ context.Context, botID string) (int64, error) {
	return s.moveBot(store.SegmentActive, store.SegmentHolding, botID)
}

func (s *DeliveryStore) moveBot(from, to, botID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.segments[from]
	dst := s.segments[to]
	var n int64
	for id, job := range src {
		if job.Metadata.Destination.BotID != botID {
			continue
		}
		dst[id] = job
		delete(src, id)
		n++
	}
	return n, nil
}

func (s *DeliveryStore) SampleActive(_ context.Context) (*store.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.segments[store.SegmentActive]
	if len(active) == 0 {
		return nil, nil
	}
	pick := s.rng.Intn(len(active))
	for _, job := range active {
		if pick == 0 {
			cp := job
			return &cp, nil
		}
		pick--
	}
	return nil, nil
}

func (s *DeliveryStore) IncrementAttempts(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.segments[store.SegmentActive][messageID]
	if !ok {
		return store.ErrNotFound
	}
	job.SendAttempts++
	s.segments[store.SegmentActive][messageID] = job
	return nil
}

func (s *DeliveryStore) DeleteActive(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.segments[store.SegmentActive][messageID]; !ok {
		return store.ErrNotFound
	}
	delete(s.segments[store.SegmentActive], messageID)
	return nil
}

func (s *DeliveryStore) MoveToFailed(_ context.Context, job store.DeliveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[store.SegmentFailed][job.MessageID] = job
	delete(s.segments[store.SegmentActive], job.MessageID)
	return nil
}

func (s *DeliveryStore) List(_ context.Context, segment, botID string) ([]store.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segment]
	if !ok {
		return nil, store.ErrNotFound
	}
	var out []store.DeliveryJob
	for _, job := range seg {
		if botID != "" && job.Metadata.Destination.BotID != botID {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *DeliveryStore) Delete(_ context.Context, segment, messageID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segment]
	if !ok {
		return 0, store.ErrNotFound
	}
	if _, ok := seg[messageID]; !ok {
		return 0, nil
	}
	delete(seg, messageID)
	return 1, nil
}

// TokenStore implements store.TokenStore.
type TokenStore struct {
	mu     sync.Mutex
	events []store.TokenEvent
}

func (s *TokenStore) Insert(_ context.Context, ev store.TokenEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns all recorded events in insertion order.
func (s *TokenStore) Events() []store.TokenEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.TokenEvent(nil), s.events...)
}

// MenuStore implements store.MenuStore.
type MenuStore struct {
	mu   sync.Mutex
	menu *store.TokenMenu
}

// SetMenu installs the pricing table returned by TokenMenu.
func (s *MenuStore) SetMenu(menu *store.TokenMenu) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu = menu
}

func (s *MenuStore) TokenMenu(_ context.Context) (*store.TokenMenu, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.menu == nil {
		return nil, store.ErrNotFound
	}
	return s.menu, nil
}
