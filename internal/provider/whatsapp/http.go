package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/waclerk/waclerk/internal/provider"
	"github.com/waclerk/waclerk/internal/queue"
	"github.com/waclerk/waclerk/pkg/wire"
)

// bridgeError is a non-2xx bridge response.
type bridgeError struct {
	status int
	body   string
}

func (e *bridgeError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("bridge returned %d", e.status)
	}
	return fmt.Sprintf("bridge returned %d: %s", e.status, e.body)
}

// kindFor maps a bridge failure to a provider error kind. Auth-shaped
// statuses always win; everything else takes the caller's fallback.
func kindFor(err error, fallback provider.Kind) provider.Kind {
	var be *bridgeError
	if errors.As(err, &be) {
		switch be.status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
			return provider.KindAuth
		}
	}
	return fallback
}

// doJSON performs one bridge HTTP call, marshalling in (when non-nil) and
// decoding the response into out (when non-nil).
func (p *Provider) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return &bridgeError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p *Provider) sessionPath(suffix string) string {
	return "/sessions/" + url.PathEscape(p.botID) + suffix
}

// initialize registers the session configuration with the bridge before
// listening starts.
func (p *Provider) initialize(ctx context.Context) error {
	req := wire.InitializeRequest{
		SessionID:     p.botID,
		AllowedGroups: p.allowedGroups,
	}
	if err := p.doJSON(ctx, http.MethodPost, "/initialize", req, nil); err != nil {
		return provider.Wrap(kindFor(err, provider.KindConnection), "whatsapp.initialize", err)
	}
	return nil
}

// deleteSession destroys the bridge-side session. A 404 means it is already
// gone, which is what the caller wanted.
func (p *Provider) deleteSession(ctx context.Context) error {
	err := p.doJSON(ctx, http.MethodDelete, p.sessionPath(""), nil, nil)
	var be *bridgeError
	if errors.As(err, &be) && be.status == http.StatusNotFound {
		return nil
	}
	return provider.Wrap(kindFor(err, provider.KindConnection), "whatsapp.session_delete", err)
}

// SendMessage posts a text message. The send is buffered for echo
// classification before it leaves, and the bridge-assigned id is recorded
// once the bridge acks.
func (p *Provider) SendMessage(ctx context.Context, recipient, content string) error {
	return p.send(ctx, content, wire.SendRequest{Recipient: recipient, Content: content})
}

// SendFile posts a file as base64 content with filename, mime type and an
// optional caption.
func (p *Provider) SendFile(ctx context.Context, recipient string, data []byte, filename, mimeType, caption string) error {
	return p.send(ctx, caption, wire.SendRequest{
		Recipient: recipient,
		Content:   base64.StdEncoding.EncodeToString(data),
		Filename:  filename,
		MimeType:  mimeType,
		Caption:   caption,
	})
}

func (p *Provider) send(ctx context.Context, echoContent string, req wire.SendRequest) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return provider.Wrap(provider.KindSend, "whatsapp.send", err)
	}
	p.echo.addPending(req.Recipient, echoContent)

	var resp wire.SendResponse
	if err := p.doJSON(ctx, http.MethodPost, p.sessionPath("/send"), req, &resp); err != nil {
		return provider.Wrap(kindFor(err, provider.KindSend), "whatsapp.send", err)
	}
	p.echo.recordSent(resp.ProviderMessageID)

	p.logger.Debug("whatsapp.sent",
		"recipient", req.Recipient, "provider_message_id", resp.ProviderMessageID,
		"file", req.Filename != "")
	return nil
}

// FetchGroupHistory pulls up to limit persisted messages of one group from
// the bridge and classifies each the way live traffic is classified: from_me
// items whose id is in the sent cache were written by this platform, other
// from_me items by the owner.
func (p *Provider) FetchGroupHistory(ctx context.Context, groupID string, limit int) ([]provider.HistoryMessage, error) {
	req := wire.HistoryRequest{GroupID: groupID, Limit: limit}
	var items []wire.HistoryItem
	if err := p.doJSON(ctx, http.MethodPost, p.sessionPath("/history"), req, &items); err != nil {
		return nil, provider.Wrap(kindFor(err, provider.KindConnection), "whatsapp.history", err)
	}

	out := make([]provider.HistoryMessage, 0, len(items))
	for _, it := range items {
		source := queue.SourceUser
		if it.FromMe {
			if p.echo.wasSent(it.ProviderMessageID) {
				source = queue.SourceBot
			} else {
				source = queue.SourceUserOutgoing
			}
		}
		sender := it.Sender
		if it.ActualSender != "" {
			sender = it.ActualSender
		}
		out = append(out, provider.HistoryMessage{
			ProviderMessageID: it.ProviderMessageID,
			Sender:            sender,
			DisplayName:       it.DisplayName,
			Content:           it.Message,
			Source:            source,
			OriginatingTimeMS: it.OriginatingTime,
		})
	}
	return out, nil
}

// ListGroups returns the groups the linked account participates in.
func (p *Provider) ListGroups(ctx context.Context) ([]provider.GroupInfo, error) {
	var items []wire.GroupInfo
	if err := p.doJSON(ctx, http.MethodGet, p.sessionPath("/groups"), nil, &items); err != nil {
		return nil, provider.Wrap(kindFor(err, provider.KindConnection), "whatsapp.groups", err)
	}
	out := make([]provider.GroupInfo, 0, len(items))
	for _, g := range items {
		out = append(out, provider.GroupInfo{ID: g.ID, DisplayName: g.DisplayName})
	}
	return out, nil
}
