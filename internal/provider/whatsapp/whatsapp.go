// Package whatsapp implements the bridge-backed WhatsApp provider. An
// external bridge process owns the actual WhatsApp session; this client
// configures it over HTTP, receives traffic over a WebSocket, and classifies
// outgoing echoes as bot- or owner-written before enqueueing.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/queue"
	"github.com/waclerk/waclerk/pkg/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	heartbeatTimeout = 5 * time.Second
	httpTimeout      = 30 * time.Second
	maxBackoff       = 30 * time.Second

	// Outbound pacing keeps the linked account under the platform's spam
	// heuristics; bursts cover multi-part deliveries.
	sendInterval = time.Second
	sendBurst    = 3
)

func init() {
	provider.Register("whatsapp", New)
}

// Provider drives one bridge session. The WebSocket connection is
// mutex-guarded; the read loop reconnects with exponential backoff and the
// session status is whatever the bridge last pushed.
type Provider struct {
	botID         string
	baseURL       string
	wsEndpoint    string
	allowedGroups []string
	allowed       map[string]struct{}

	queues  *queue.Manager
	cb      provider.Callbacks
	httpc   *http.Client
	limiter *rate.Limiter
	echo    *echoTracker
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	listening bool
	status    provider.Status
	qr        string
	userJID   string
}

// New builds a whatsapp provider from the registry config.
func New(cfg provider.Config) (provider.ChatProvider, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp: bridge url is required")
	}
	if cfg.Queues == nil {
		return nil, fmt.Errorf("whatsapp: queue manager is required")
	}
	base := strings.TrimRight(cfg.BridgeURL, "/")
	ws, err := wsEndpoint(base, cfg.BotID)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: bridge url %q: %w", cfg.BridgeURL, err)
	}

	var allowed map[string]struct{}
	if len(cfg.Settings.AllowedGroups) > 0 {
		allowed = make(map[string]struct{}, len(cfg.Settings.AllowedGroups))
		for _, g := range cfg.Settings.AllowedGroups {
			allowed[g] = struct{}{}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		botID:         cfg.BotID,
		baseURL:       base,
		wsEndpoint:    ws,
		allowedGroups: cfg.Settings.AllowedGroups,
		allowed:       allowed,
		queues:        cfg.Queues,
		cb:            cfg.Callbacks,
		httpc:         &http.Client{Timeout: httpTimeout},
		limiter:       rate.NewLimiter(rate.Every(sendInterval), sendBurst),
		echo:          newEchoTracker(),
		logger:        cfg.Logger.With("provider", "whatsapp", "bot", cfg.BotID),
		ctx:           ctx,
		cancel:        cancel,
		status:        provider.StatusInitializing,
	}, nil
}

// wsEndpoint derives the session WebSocket URL from the bridge base URL.
func wsEndpoint(base, botID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sessions/" + url.PathEscape(botID) + "/ws"
	return u.String(), nil
}

func (p *Provider) Name() string { return "whatsapp" }

// Start registers the session with the bridge and begins listening. A
// failing registration is returned to the caller; a failing WebSocket dial
// is not, the read loop keeps retrying.
func (p *Provider) Start(ctx context.Context) error {
	p.logger.Info("whatsapp.start", "bridge", p.baseURL)

	if err := p.initialize(ctx); err != nil {
		return err
	}

	if err := p.connect(); err != nil {
		p.logger.Warn("whatsapp.connect_failed_will_retry", "error", err)
	}
	go p.listenLoop()
	return nil
}

// Stop detaches from the bridge. With cleanup the bridge-side session is
// destroyed too, so the next Start needs a fresh QR pairing.
func (p *Provider) Stop(ctx context.Context, cleanup bool) error {
	p.logger.Info("whatsapp.stop", "cleanup", cleanup)
	p.cancel()
	p.closeConn()

	if cleanup {
		if err := p.deleteSession(ctx); err != nil {
			p.logger.Warn("whatsapp.session_delete", "error", err)
		}
		p.mu.Lock()
		p.userJID = ""
		p.mu.Unlock()
		p.setStatus(provider.StatusTerminated)
		return nil
	}
	// A session already terminated by the bridge stays terminated.
	if !p.cachedStatus().Terminal() {
		p.setStatus(provider.StatusDisconnected)
	}
	return nil
}

// IsConnected reports whether the session is authenticated and the read
// loop holds a live socket.
func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userJID != "" && p.listening
}

func (p *Provider) UserJID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userJID
}

func (p *Provider) QRCode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.qr
}

// Status returns the session state. With heartbeat it pings the bridge
// socket first and degrades to disconnected if the ping cannot be written.
func (p *Provider) Status(ctx context.Context, heartbeat bool) (provider.Status, error) {
	if !heartbeat {
		return p.cachedStatus(), nil
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return p.cachedStatus(), provider.Errf(provider.KindConnection, "whatsapp.status", "bridge socket down")
	}

	deadline := time.Now().Add(heartbeatTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		p.closeConn()
		p.setStatus(provider.StatusDisconnected)
		return p.cachedStatus(), provider.Wrap(provider.KindConnection, "whatsapp.status", err)
	}
	return p.cachedStatus(), nil
}

func (p *Provider) cachedStatus() provider.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// connect dials the session WebSocket.
func (p *Provider) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(p.wsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", p.wsEndpoint, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.listening = true
	p.mu.Unlock()

	p.logger.Info("whatsapp.listening")
	return nil
}

func (p *Provider) closeConn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.listening = false
}

// listenLoop reads bridge frames with automatic reconnection.
func (p *Provider) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()

		if conn == nil {
			p.logger.Info("whatsapp.reconnect_wait", "backoff", backoff)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := p.connect(); err != nil {
				p.logger.Warn("whatsapp.reconnect", "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.ctx.Done():
				return
			default:
			}
			p.logger.Warn("whatsapp.read", "error", err)
			p.closeConn()
			p.setStatus(provider.StatusDisconnected)
			continue
		}

		p.handleFrame(data)
	}
}

func (p *Provider) handleFrame(data []byte) {
	var f wire.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		p.logger.Warn("whatsapp.frame_invalid", "error", err)
		return
	}
	switch f.Type {
	case wire.FrameStatusUpdate:
		var sp wire.StatusPayload
		if err := json.Unmarshal(f.Payload, &sp); err != nil {
			p.logger.Warn("whatsapp.status_payload_invalid", "error", err)
			return
		}
		p.handleStatus(sp)
	case wire.FrameMessages:
		var items []wire.MessageItem
		if err := json.Unmarshal(f.Payload, &items); err != nil {
			p.logger.Warn("whatsapp.messages_payload_invalid", "error", err)
			return
		}
		p.handleMessages(items)
	default:
		p.logger.Debug("whatsapp.frame_skipped", "type", f.Type)
	}
}

// handleStatus applies a bridge status push. A terminated push means the
// platform session is gone for good (logged out, pairing expired): the
// session-end callback fires and the read loop shuts down.
func (p *Provider) handleStatus(sp wire.StatusPayload) {
	st := provider.Status(sp.Status)
	switch st {
	case provider.StatusInitializing, provider.StatusQRPending, provider.StatusConnected,
		provider.StatusDisconnected, provider.StatusTerminated:
	default:
		p.logger.Warn("whatsapp.status_unknown", "status", sp.Status)
		return
	}

	p.mu.Lock()
	if sp.QR != "" {
		p.qr = sp.QR
	}
	if sp.UserJID != "" {
		p.userJID = sp.UserJID
	}
	if st == provider.StatusTerminated {
		p.userJID = ""
	}
	p.mu.Unlock()

	p.setStatus(st)

	if st == provider.StatusTerminated {
		p.logger.Warn("whatsapp.session_ended")
		p.cb.FireSessionEnd(p.botID)
		p.cancel()
		p.closeConn()
	}
}

// setStatus records a transition and fires the status callback. Repeated
// pushes of the current state are dropped so bridge resyncs after a
// reconnect stay quiet.
func (p *Provider) setStatus(s provider.Status) {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return
	}
	p.status = s
	if s != provider.StatusQRPending {
		p.qr = ""
	}
	p.mu.Unlock()

	p.logger.Info("whatsapp.status", "status", string(s))
	p.cb.FireStatusChange(p.botID, s)
}

func (p *Provider) handleMessages(items []wire.MessageItem) {
	for _, item := range items {
		p.handleItem(item)
	}
}

// handleItem classifies one bridge message and enqueues it. Incoming group
// traffic is dropped unless the group is allowed. Outgoing echoes are ours
// (source bot) when the id is in the sent cache or a pending send matches;
// anything else outgoing was typed by the owner on their own device.
func (p *Provider) handleItem(item wire.MessageItem) {
	isGroup := item.Group != ""
	correspondent := item.Sender
	if isGroup {
		correspondent = item.Group
	}

	var source queue.Source
	switch item.Direction {
	case wire.DirectionIncoming:
		if isGroup && !p.groupAllowed(item.Group) {
			p.logger.Debug("whatsapp.group_filtered", "group", item.Group)
			return
		}
		source = queue.SourceUser
	case wire.DirectionOutgoing:
		switch {
		case p.echo.wasSent(item.ProviderMessageID):
			source = queue.SourceBot
		case p.echo.consumePending(correspondent, item.Message):
			source = queue.SourceBot
		default:
			source = queue.SourceUserOutgoing
		}
	default:
		p.logger.Warn("whatsapp.direction_unknown", "direction", item.Direction)
		return
	}

	sender := queue.Party{Identifier: item.Sender, DisplayName: item.DisplayName}
	if item.ActualSender != "" {
		sender.Identifier = item.ActualSender
	} else if item.Direction == wire.DirectionOutgoing {
		// The author of an outgoing message is the linked account unless
		// the bridge says otherwise.
		if jid := p.UserJID(); jid != "" {
			sender.Identifier = jid
		}
	}
	var group *queue.Party
	if isGroup {
		group = &queue.Party{Identifier: item.Group}
	}

	p.queues.Add(p.ctx, correspondent, queue.Inbound{
		Content:           item.Message,
		Sender:            sender,
		Source:            source,
		OriginatingTimeMS: item.OriginatingTime,
		Group:             group,
		ProviderMessageID: item.ProviderMessageID,
	})
}

func (p *Provider) groupAllowed(groupID string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	_, ok := p.allowed[groupID]
	return ok
}
