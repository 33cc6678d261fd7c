package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Callback is invoked asynchronously for every enqueued message. Callbacks
// registered on a manager apply to all existing and future queues.
type Callback func(botID, correspondentID string, msg Message)

// Seeder returns the highest archived message id for a queue, so the
// in-memory id counter continues where the archive left off. A zero result
// with nil error means no archived messages exist.
type Seeder func(ctx context.Context, botID, correspondentID string) (int64, error)

// Manager owns every correspondent queue of one bot and fans enqueued
// messages out to registered callbacks. Messages for a given correspondent
// are expected to arrive from a single goroutine (the provider's read loop),
// which keeps per-queue callback dispatch in enqueue order.
type Manager struct {
	botID  string
	bounds Bounds
	seed   Seeder
	logger *slog.Logger

	mu        sync.RWMutex
	queues    map[string]*Queue
	callbacks []Callback
}

// NewManager builds a queue manager for one bot. seed may be nil when no
// archive exists (counters start at 1).
func NewManager(botID string, bounds Bounds, seed Seeder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		botID:  botID,
		bounds: bounds,
		seed:   seed,
		logger: logger.With("bot", botID),
		queues: make(map[string]*Queue),
	}
}

// GetOrCreateQueue returns the queue for a correspondent, creating it on
// first use. Creation seeds the id counter from the archive's max id; a
// seeder failure is logged and the counter starts at 1.
func (m *Manager) GetOrCreateQueue(ctx context.Context, correspondentID string) *Queue {
	m.mu.RLock()
	q, ok := m.queues[correspondentID]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[correspondentID]; ok {
		return q
	}

	var next int64 = 1
	if m.seed != nil {
		maxID, err := m.seed(ctx, m.botID, correspondentID)
		if err != nil {
			m.logger.Warn("queue.seed", "correspondent", correspondentID, "error", err)
		} else {
			next = maxID + 1
		}
	}

	q = newQueue(m.botID, correspondentID, m.bounds, next, m.logger)
	m.queues[correspondentID] = q
	return q
}

// Add enqueues a message for a correspondent and dispatches it to every
// registered callback, each in its own goroutine.
func (m *Manager) Add(ctx context.Context, correspondentID string, in Inbound) Message {
	q := m.GetOrCreateQueue(ctx, correspondentID)
	msg := q.AddMessage(in)

	m.mu.RLock()
	cbs := make([]Callback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.mu.RUnlock()

	for _, cb := range cbs {
		go cb(m.botID, correspondentID, msg)
	}
	return msg
}

// RegisterCallback adds a message callback covering all queues.
func (m *Manager) RegisterCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Queue returns an existing queue without creating one.
func (m *Manager) Queue(correspondentID string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[correspondentID]
	return q, ok
}

// Queues returns the current queue set. The slice is a snapshot; the queues
// themselves are live.
func (m *Manager) Queues() []*Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q)
	}
	return out
}

// DeleteQueue drops a correspondent's queue and its buffered messages.
func (m *Manager) DeleteQueue(correspondentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[correspondentID]; !ok {
		return false
	}
	delete(m.queues, correspondentID)
	return true
}

// BotID returns the owning bot's identifier.
func (m *Manager) BotID() string { return m.botID }
