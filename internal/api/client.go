// Package api is the HTTP/JSON client for the platform data service. The sync
// core only depends on the DataService interface; the concrete client adds
// tracing and metrics around each call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"coach-messaging/internal/models"
	"coach-messaging/internal/observability"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidSend          = errors.New("invalid send request")
)

// Page selects a message window. Zero value means the server default page.
type Page struct {
	Limit  int
	Offset int
}

// DataService is the consumed boundary contract of the external data layer.
type DataService interface {
	FetchConversations(ctx context.Context) ([]models.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string, page Page) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, content string, attachment *models.Attachment, correlationID string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	FetchUnreadCounts(ctx context.Context) (models.UnreadCounts, error)
}

// Client talks to the data service over HTTP/JSON.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a Client. userID identifies the authenticated session and is
// forwarded on every request.
func NewClient(baseURL, userID string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("component", "api").Logger(),
	}
}

// FetchConversations returns the viewer's conversation summaries.
func (c *Client) FetchConversations(ctx context.Context) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, "fetch_conversations", http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// FetchMessages returns one page of a conversation's messages.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page Page) ([]models.Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if page.Limit > 0 {
		path += "?limit=" + strconv.Itoa(page.Limit) + "&offset=" + strconv.Itoa(page.Offset)
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, "fetch_messages", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage submits a message and returns the canonical server record. The
// server echoes correlationID back on the confirmed message.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, attachment *models.Attachment, correlationID string) (models.Message, error) {
	body := struct {
		Content       string             `json:"content"`
		Attachment    *models.Attachment `json:"attachment,omitempty"`
		CorrelationID string             `json:"correlation_id"`
	}{Content: content, Attachment: attachment, CorrelationID: correlationID}

	var msg models.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "send_message", http.MethodPost, path, body, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// MarkRead marks every message in the conversation read for the viewer.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, "mark_read", http.MethodPost, path, nil, nil)
}

// FetchUnreadCounts returns the viewer's unread snapshot.
func (c *Client) FetchUnreadCounts(ctx context.Context) (models.UnreadCounts, error) {
	var counts models.UnreadCounts
	if err := c.do(ctx, "fetch_unread_counts", http.MethodGet, "/unread", nil, &counts); err != nil {
		return models.UnreadCounts{}, err
	}
	return counts, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := otel.Tracer("coach-messaging/api").Start(ctx, "api."+op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	start := time.Now()
	err := c.roundTrip(ctx, method, path, body, out)
	observability.ObserveRPCDuration(op, time.Since(start).Seconds())
	if err != nil {
		observability.IncRPC(op, "error")
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug().Err(err).Str("op", op).Msg("rpc failed")
		return err
	}
	observability.IncRPC(op, "ok")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-User-Id", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrConversationNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return ErrInvalidSend
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ DataService = (*Client)(nil)
