// Package queue implements the bounded per-correspondent message queues that
// buffer inbound chat traffic for a bot. Each queue enforces four limits at
// all times: message count, total characters, message age, and per-message
// character length. Enqueueing never fails; the queue evicts from the front
// until the new message fits.
package queue

import (
	"log/slog"
	"sync"
	"time"
)

// Source classifies who produced a message.
type Source string

const (
	// SourceUser is a message typed by a correspondent.
	SourceUser Source = "user"
	// SourceBot is a message this platform sent through the bot session.
	SourceBot Source = "bot"
	// SourceUserOutgoing is a message the bot owner typed on their own
	// device, observed as an outgoing echo.
	SourceUserOutgoing Source = "user_outgoing"
)

// Party identifies one side of a conversation: a contact or a group.
type Party struct {
	Identifier           string   `json:"identifier" bson:"identifier"`
	DisplayName          string   `json:"display_name,omitempty" bson:"display_name,omitempty"`
	AlternateIdentifiers []string `json:"alternate_identifiers,omitempty" bson:"alternate_identifiers,omitempty"`
}

// Message is immutable once enqueued.
type Message struct {
	ID                int64  `json:"id" bson:"id"`
	Content           string `json:"content" bson:"content"`
	Sender            Party  `json:"sender" bson:"sender"`
	Source            Source `json:"source" bson:"source"`
	AcceptedTimeMS    int64  `json:"accepted_time_ms" bson:"accepted_time_ms"`
	OriginatingTimeMS int64  `json:"originating_time_ms,omitempty" bson:"originating_time_ms,omitempty"`
	Group             *Party `json:"group,omitempty" bson:"group,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty" bson:"provider_message_id,omitempty"`
}

// Inbound carries the caller-supplied fields of a message about to be
// enqueued; ID and AcceptedTimeMS are assigned by the queue.
type Inbound struct {
	Content           string
	Sender            Party
	Source            Source
	OriginatingTimeMS int64
	Group             *Party
	ProviderMessageID string
}

// Bounds are the queue limits. All four must be positive.
type Bounds struct {
	MaxMessages             int `json:"max_messages" bson:"max_messages"`
	MaxCharacters           int `json:"max_characters" bson:"max_characters"`
	MaxDays                 int `json:"max_days" bson:"max_days"`
	MaxCharactersPerMessage int `json:"max_characters_per_message" bson:"max_characters_per_message"`
}

// Queue is a bounded FIFO for one (bot, correspondent) pair. AddMessage and
// PopMessage serialize on the queue mutex; eviction only happens inside
// AddMessage, so limits hold at every observable point.
type Queue struct {
	botID           string
	correspondentID string
	bounds          Bounds

	mu     sync.Mutex
	msgs   []Message
	chars  int // total content runes across msgs
	nextID int64

	logger *slog.Logger
	now    func() time.Time
}

func newQueue(botID, correspondentID string, bounds Bounds, seed int64, logger *slog.Logger) *Queue {
	if seed < 1 {
		seed = 1
	}
	return &Queue{
		botID:           botID,
		correspondentID: correspondentID,
		bounds:          bounds,
		nextID:          seed,
		logger:          logger,
		now:             time.Now,
	}
}

// AddMessage truncates the content, evicts until the message fits (age, then
// projected total characters, then count), assigns the next id and the accept
// timestamp, and appends. It never fails.
func (q *Queue) AddMessage(in Inbound) Message {
	content, truncated := truncateRunes(in.Content, q.bounds.MaxCharactersPerMessage)
	if truncated {
		q.logger.Debug("queue.truncate",
			"bot", q.botID, "correspondent", q.correspondentID,
			"limit", q.bounds.MaxCharactersPerMessage)
	}
	size := runeLen(content)

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.evictOlderThan(now)
	q.evictForChars(size)
	q.evictForCount()

	msg := Message{
		ID:                q.nextID,
		Content:           content,
		Sender:            in.Sender,
		Source:            in.Source,
		AcceptedTimeMS:    now.UnixMilli(),
		OriginatingTimeMS: in.OriginatingTimeMS,
		Group:             in.Group,
		ProviderMessageID: in.ProviderMessageID,
	}
	q.nextID++
	q.msgs = append(q.msgs, msg)
	q.chars += size
	return msg
}

// PopMessage removes and returns the oldest message. ok is false when the
// queue is empty.
func (q *Queue) PopMessage() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return Message{}, false
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	q.chars -= runeLen(m.Content)
	return m, true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Chars returns the total content character count across queued messages.
func (q *Queue) Chars() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.chars
}

// Snapshot returns a copy of the queued messages in FIFO order.
func (q *Queue) Snapshot() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.msgs))
	copy(out, q.msgs)
	return out
}

// CorrespondentID returns the correspondent this queue buffers for.
func (q *Queue) CorrespondentID() string { return q.correspondentID }

func (q *Queue) evictOlderThan(now time.Time) {
	maxAge := time.Duration(q.bounds.MaxDays) * 24 * time.Hour
	cutoff := now.Add(-maxAge).UnixMilli()
	for len(q.msgs) > 0 && q.msgs[0].AcceptedTimeMS < cutoff {
		q.evictFront("age")
	}
}

// evictForChars pops until the incoming message of the given size fits under
// the total-character limit.
func (q *Queue) evictForChars(incoming int) {
	for len(q.msgs) > 0 && q.chars+incoming > q.bounds.MaxCharacters {
		q.evictFront("characters")
	}
}

func (q *Queue) evictForCount() {
	for len(q.msgs) > 0 && len(q.msgs) >= q.bounds.MaxMessages {
		q.evictFront("count")
	}
}

func (q *Queue) evictFront(reason string) {
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	q.chars -= runeLen(m.Content)
	q.logger.Info("queue.evict",
		"bot", q.botID, "correspondent", q.correspondentID,
		"reason", reason, "message_id", m.ID)
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// truncateRunes cuts s to at most n runes; the second result reports whether
// anything was cut.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
