// Package session ties together the per-bot runtime: the queue manager, the
// chat provider, the registered message handlers, and the background
// services that run alongside them. Every dispatched message fans out to all
// handlers concurrently; services stop in reverse registration order.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/queue"
)

// MessageHandler consumes one dispatched message. Handlers run in their own
// goroutines; a panic is logged and swallowed so peers proceed.
type MessageHandler func(ctx context.Context, correspondentID string, msg queue.Message)

type namedHandler struct {
	name string
	fn   MessageHandler
}

// service is a named stop hook registered by whoever started the work.
type service struct {
	name string
	stop func(ctx context.Context) error
}

// Session is the runtime of one active bot.
type Session struct {
	botID  string
	queues *queue.Manager
	prov   provider.ChatProvider
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers []namedHandler
	services []service
	features map[string]any
	stopped  bool
}

// New builds a session around a queue manager and a provider. The dispatch
// callback is attached immediately; traffic only flows once the provider is
// started.
func New(botID string, queues *queue.Manager, prov provider.ChatProvider, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		botID:    botID,
		queues:   queues,
		prov:     prov,
		logger:   logger.With("component", "session", "bot", botID),
		ctx:      ctx,
		cancel:   cancel,
		features: make(map[string]any),
	}
	queues.RegisterCallback(s.dispatch)
	return s
}

func (s *Session) BotID() string { return s.botID }

func (s *Session) Queues() *queue.Manager { return s.queues }

func (s *Session) Provider() provider.ChatProvider { return s.prov }

// RegisterMessageHandler adds a handler to the fan-out. Registration is
// meant to happen before Start.
func (s *Session) RegisterMessageHandler(name string, h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, namedHandler{name: name, fn: h})
}

// RegisterService records a stop hook. Hooks run LIFO on Stop, so later
// registrations (which may depend on earlier ones) come down first.
func (s *Session) RegisterService(name string, stop func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, service{name: name, stop: stop})
}

// RegisterFeature attaches a named feature object for later lookup.
func (s *Session) RegisterFeature(name string, f any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[name] = f
}

// Feature returns a registered feature object.
func (s *Session) Feature(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.features[name]
	return f, ok
}

// Start brings up the provider; inbound traffic follows.
func (s *Session) Start(ctx context.Context) error {
	s.logger.Info("session.start", "provider", s.prov.Name())
	return s.prov.Start(ctx)
}

// Stop tears the session down: services in reverse registration order, then
// the provider. cleanup is passed through to the provider, destroying the
// platform session. Stop is idempotent.
func (s *Session) Stop(ctx context.Context, cleanup bool) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	services := make([]service, len(s.services))
	copy(services, s.services)
	s.mu.Unlock()

	s.logger.Info("session.stop", "cleanup", cleanup, "services", len(services))
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.stop(ctx); err != nil {
			s.logger.Error("session.service_stop", "service", svc.name, "error", err)
		}
	}

	s.cancel()
	return s.prov.Stop(ctx, cleanup)
}

// dispatch fans one enqueued message out to every handler. Bot and
// owner-echo traffic is archived but never handled, so features only ever
// see correspondent messages.
func (s *Session) dispatch(_, correspondentID string, msg queue.Message) {
	if msg.Source != queue.SourceUser {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	handlers := make([]namedHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		go func(h namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("session.handler_panic",
						"handler", h.name, "correspondent", correspondentID,
						"message_id", msg.ID, "panic", r)
				}
			}()
			h.fn(s.ctx, correspondentID, msg)
		}(h)
	}
}
