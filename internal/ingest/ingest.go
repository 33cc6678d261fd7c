// Package ingest drains the in-memory correspondent queues of one bot into
// the durable message archive. One archiver runs per active bot; the queues
// keep absorbing traffic while it sweeps, and a stop performs a final drain
// so nothing buffered is lost on shutdown.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/waclerk/waclerk/internal/queue"
	"github.com/waclerk/waclerk/internal/store"
)

// idleWait bounds how long a sweep sleeps when every queue is empty.
const idleWait = time.Second

// Archiver moves drained queue messages into the archive collection,
// annotated with their origin.
type Archiver struct {
	botID        string
	providerName string
	queues       *queue.Manager
	archive      store.QueueStore
	logger       *slog.Logger

	ctx  context.Context
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewArchiver builds an archiver for one bot's queue manager.
func NewArchiver(botID, providerName string, queues *queue.Manager, archive store.QueueStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		botID:        botID,
		providerName: providerName,
		queues:       queues,
		archive:      archive,
		logger:       logger.With("component", "ingest", "bot", botID),
		stop:         make(chan struct{}),
	}
}

// Start launches the drain loop. ctx bounds the archive writes; the loop
// itself runs until Stop.
func (a *Archiver) Start(ctx context.Context) {
	a.ctx = ctx
	a.wg.Add(1)
	go a.run()
	a.logger.Info("ingest.start")
}

// Stop signals the loop and waits for the final drain to finish.
func (a *Archiver) Stop() {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
	a.logger.Info("ingest.stop")
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for {
		a.drainAll()
		select {
		case <-a.stop:
			a.drainAll()
			return
		case <-time.After(idleWait):
		}
	}
}

// drainAll pops every queue until empty. A failed write is logged and the
// message dropped; the archive is a best-effort record, not a ledger.
func (a *Archiver) drainAll() {
	for _, q := range a.queues.Queues() {
		for {
			msg, ok := q.PopMessage()
			if !ok {
				break
			}
			doc := store.ArchivedMessage{
				BotID:           a.botID,
				ProviderName:    a.providerName,
				CorrespondentID: q.CorrespondentID(),
				Message:         msg,
			}
			if err := a.archive.Archive(a.ctx, doc); err != nil {
				a.logger.Error("ingest.archive",
					"correspondent", q.CorrespondentID(), "message_id", msg.ID, "error", err)
			}
		}
	}
}
