package gateway

import (
	"sync"
	"time"

	"github.com/waclerk/waclerk/internal/store"
)

// maxCachedSessions bounds the cache; past it stale entries are pruned and
// then arbitrary ones evicted.
const maxCachedSessions = 4096

type cacheEntry struct {
	sess     *store.Session
	cachedAt time.Time
}

// sessionCache is the short-TTL write-through cache in front of the
// session collection. The collection stays authoritative: entries age out
// after ttl and every mutation reaches the store first.
type sessionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*cacheEntry
}

func newSessionCache(ttl time.Duration) *sessionCache {
	return &sessionCache{ttl: ttl, entries: make(map[string]*cacheEntry)}
}

// get returns a copy of the cached session. Misses cover TTL expiry and
// session expiry both; either one evicts.
func (c *sessionCache) get(sessionID string, now time.Time) *store.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return nil
	}
	if now.Sub(e.cachedAt) >= c.ttl || e.sess.Expired(now) {
		delete(c.entries, sessionID)
		return nil
	}
	return copySession(e.sess)
}

func (c *sessionCache) put(sess *store.Session, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= maxCachedSessions {
		c.evict(now)
	}
	c.entries[sess.SessionID] = &cacheEntry{sess: copySession(sess), cachedAt: now}
}

func (c *sessionCache) remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// touch refreshes activity on the cached copy without extending expiry.
func (c *sessionCache) touch(sessionID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sessionID]; ok {
		e.sess.LastAccessed = at
	}
}

// addOwnedBot mirrors a successful ownership claim into the cached copy.
func (c *sessionCache) addOwnedBot(sessionID, botID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok || e.sess.Owns(botID) {
		return
	}
	e.sess.OwnedBots = append(e.sess.OwnedBots, botID)
}

func (c *sessionCache) evict(now time.Time) {
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl || e.sess.Expired(now) {
			delete(c.entries, id)
		}
	}
	for id := range c.entries {
		if len(c.entries) < maxCachedSessions {
			break
		}
		delete(c.entries, id)
	}
}

func copySession(s *store.Session) *store.Session {
	cp := *s
	cp.OwnedBots = append([]string(nil), s.OwnedBots...)
	return &cp
}
