// Package delivery drains the persistent outgoing-message queue. Jobs are
// enqueued by features (group tracking), parked in holding while their bot is
// offline, and pushed to the owner's own chat by a single consumer goroutine
// once the bot reconnects. Delivery is at-least-once: the attempt counter is
// incremented before the send, so a crash mid-send re-delivers rather than
// drops, and three failed attempts dead-letter the job.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/waclerk/waclerk/internal/store"
	"github.com/waclerk/waclerk/internal/tracing"
)

// maxAttempts is how many sends a job gets before it moves to failed.
const maxAttempts = 3

const (
	cycleMinSleep   = 1 * time.Second
	cycleJitter     = 11 * time.Second
	cycleErrorPause = 5 * time.Second
)

// Target is the live session surface a processor sends through. A
// provider.ChatProvider satisfies it.
type Target interface {
	IsConnected() bool
	UserJID() string
	SendMessage(ctx context.Context, recipient, content string) error
	SendFile(ctx context.Context, recipient string, data []byte, filename, mimeType, caption string) error
}

// SessionLookup resolves a bot id to its live session, if one is linked.
type SessionLookup func(botID string) (Target, bool)

// Manager owns the consumer loop and the segment moves tied to bot
// connectivity.
type Manager struct {
	jobs   store.DeliveryStore
	lookup SessionLookup
	procs  map[string]Processor
	logger *slog.Logger

	sleep func() time.Duration
}

// NewManager builds a manager with the text and ics_actionable_item
// processors registered.
func NewManager(jobs store.DeliveryStore, lookup SessionLookup, logger *slog.Logger) *Manager {
	m := &Manager{
		jobs:   jobs,
		lookup: lookup,
		procs:  map[string]Processor{},
		logger: logger,
		sleep:  func() time.Duration { return cycleMinSleep + rand.N(cycleJitter) },
	}
	m.Register(textProcessor{})
	m.Register(actionableItemProcessor{now: time.Now})
	return m
}

// Register adds a processor for its message type, replacing any previous one.
func (m *Manager) Register(p Processor) { m.procs[p.Type()] = p }

// HoldAll parks every active job. Called once at startup, before any bot has
// reconnected, so jobs for bots that never come back don't burn attempts.
func (m *Manager) HoldAll(ctx context.Context) error {
	n, err := m.jobs.MoveAllActiveToHolding(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("delivery.held_all", "count", n)
	}
	return nil
}

// Activate releases a bot's held jobs back to active. Called on connect.
func (m *Manager) Activate(ctx context.Context, botID string) {
	n, err := m.jobs.MoveToActive(ctx, botID)
	if err != nil {
		m.logger.Error("delivery.activate", "bot_id", botID, "error", err)
		return
	}
	if n > 0 {
		m.logger.Info("delivery.activated", "bot_id", botID, "count", n)
	}
}

// Hold parks a bot's active jobs. Called on disconnect.
func (m *Manager) Hold(ctx context.Context, botID string) {
	n, err := m.jobs.MoveToHolding(ctx, botID)
	if err != nil {
		m.logger.Error("delivery.hold", "bot_id", botID, "error", err)
		return
	}
	if n > 0 {
		m.logger.Info("delivery.held", "bot_id", botID, "count", n)
	}
}

// Run is the consumer loop. Each cycle sleeps a random 1–12 s, samples one
// active job uniformly at random, and tries to deliver it. Random sampling
// spreads sends across bots instead of letting one busy bot starve the rest.
// Run returns when ctx is done; cycle errors are logged, never fatal.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("delivery.consumer_started")
	for {
		if !sleepCtx(ctx, m.sleep()) {
			m.logger.Info("delivery.consumer_stopped")
			return
		}
		if err := m.cycle(ctx); err != nil {
			m.logger.Error("delivery.consume", "error", err)
			if !sleepCtx(ctx, cycleErrorPause) {
				m.logger.Info("delivery.consumer_stopped")
				return
			}
		}
	}
}

// cycle delivers at most one job. A nil error covers the benign outcomes
// (nothing sampled, bot offline, processor failure left for retry); an error
// means the queue itself misbehaved and the loop should back off.
func (m *Manager) cycle(ctx context.Context) error {
	job, err := m.jobs.SampleActive(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "delivery.cycle",
		attribute.String("message_id", job.MessageID),
		attribute.String("message_type", job.MessageType),
		attribute.String("bot_id", job.Metadata.Destination.BotID),
	)
	defer span.End()

	log := m.logger.With("message_id", job.MessageID, "bot_id", job.Metadata.Destination.BotID)

	if job.SendAttempts >= maxAttempts {
		log.Warn("delivery.dead_letter", "attempts", job.SendAttempts)
		return m.jobs.MoveToFailed(ctx, *job)
	}

	proc, ok := m.procs[job.MessageType]
	if !ok {
		log.Warn("delivery.unknown_type", "message_type", job.MessageType)
		return m.jobs.MoveToFailed(ctx, *job)
	}

	target, ok := m.lookup(job.Metadata.Destination.BotID)
	if !ok || !target.IsConnected() {
		// Bot offline between sample and send; leave the job untouched.
		return nil
	}

	// Counted before the send: a crash mid-send costs an attempt, not a
	// duplicate-free guarantee.
	if err := m.jobs.IncrementAttempts(ctx, job.MessageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	job.SendAttempts++

	if err := proc.Process(ctx, *job, target); err != nil {
		log.Error("delivery.process", "message_type", job.MessageType,
			"attempts", job.SendAttempts, "error", err)
		return nil
	}

	if err := m.jobs.DeleteActive(ctx, job.MessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	log.Info("delivery.sent", "message_type", job.MessageType)
	return nil
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
