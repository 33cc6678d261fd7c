package whatsapp

import (
	"sync"
	"time"
)

const (
	sentCacheSize  = 4096
	sentCacheTTL   = 24 * time.Hour
	pendingEchoTTL = 30 * time.Second
	pendingMax     = 256
)

type sentEntry struct {
	id string
	at time.Time
}

type pendingEcho struct {
	recipient string
	content   string
	at        time.Time
}

// echoTracker resolves the origin of outgoing echoes. The sent set holds the
// provider message ids of everything this process sent, bounded by size and
// age. The pending buffer covers the race where the echo frame arrives
// before the send call returned its id: a send is buffered on departure and
// a matching (recipient, content) echo within pendingEchoTTL is still ours.
type echoTracker struct {
	mu      sync.Mutex
	sent    map[string]time.Time
	order   []sentEntry // insertion order, oldest first
	pending []pendingEcho
	now     func() time.Time
}

func newEchoTracker() *echoTracker {
	return &echoTracker{sent: make(map[string]time.Time), now: time.Now}
}

func (t *echoTracker) recordSent(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneSent(now)
	if _, ok := t.sent[id]; ok {
		return
	}
	t.sent[id] = now
	t.order = append(t.order, sentEntry{id: id, at: now})
	for len(t.order) > sentCacheSize {
		delete(t.sent, t.order[0].id)
		t.order = t.order[1:]
	}
}

func (t *echoTracker) wasSent(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneSent(t.now())
	_, ok := t.sent[id]
	return ok
}

func (t *echoTracker) pruneSent(now time.Time) {
	cutoff := now.Add(-sentCacheTTL)
	for len(t.order) > 0 && t.order[0].at.Before(cutoff) {
		delete(t.sent, t.order[0].id)
		t.order = t.order[1:]
	}
}

func (t *echoTracker) addPending(recipient, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prunePending(t.now())
	t.pending = append(t.pending, pendingEcho{recipient: recipient, content: content, at: t.now()})
	if len(t.pending) > pendingMax {
		t.pending = t.pending[len(t.pending)-pendingMax:]
	}
}

// consumePending reports whether a matching send is buffered, removing the
// matched entry so one send claims at most one echo.
func (t *echoTracker) consumePending(recipient, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prunePending(t.now())
	for i, pe := range t.pending {
		if pe.recipient == recipient && pe.content == content {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (t *echoTracker) prunePending(now time.Time) {
	cutoff := now.Add(-pendingEchoTTL)
	keep := t.pending[:0]
	for _, pe := range t.pending {
		if !pe.at.Before(cutoff) {
			keep = append(keep, pe)
		}
	}
	t.pending = keep
}
