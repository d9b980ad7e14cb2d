// Package client assembles the messaging sync core: one injectable service
// owned per authenticated session. UI layers subscribe to updates and read
// state through the getters instead of polling the backend themselves.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coach-messaging/internal/api"
	"coach-messaging/internal/cache"
	"coach-messaging/internal/ledger"
	"coach-messaging/internal/models"
	"coach-messaging/internal/notify"
	"coach-messaging/internal/observability"
	"coach-messaging/internal/pipeline"
	"coach-messaging/internal/transport"
)

// UpdateKind tags state-change notifications delivered to subscribers.
type UpdateKind string

const (
	UpdateConversations UpdateKind = "conversations"
	UpdateMessages      UpdateKind = "messages"
	UpdateUnread        UpdateKind = "unread"
	UpdateNotification  UpdateKind = "notification"
)

// Update tells a subscriber which slice of state changed. Subscribers re-read
// the current state through the getters; updates carry no payload and may be
// coalesced under load.
type Update struct {
	Kind           UpdateKind
	ConversationID string
}

// Options configures a Client.
type Options struct {
	UserID          string
	Data            api.DataService
	Push            transport.PushChannel
	Transport       transport.Config
	StaleAfter      time.Duration
	NotificationTTL time.Duration
	Muted           func() bool
	Logger          zerolog.Logger
}

// Client is the process-wide messaging service. It owns the unread ledger, the
// conversation cache, the send pipeline, and the notification dispatcher, and
// coordinates which of them act on each transport event.
type Client struct {
	userID     string
	data       api.DataService
	transport  *transport.Adapter
	ledger     *ledger.Ledger
	cache      *cache.Cache
	pipeline   *pipeline.Pipeline
	dispatcher *notify.Dispatcher
	log        zerolog.Logger

	mu      sync.Mutex
	open    string
	msgGen  map[string]uint64
	started bool
	sub     *transport.Subscription

	subMu       sync.Mutex
	subscribers map[int]chan Update
	nextSubID   int
}

// New wires the core together. The transport is not connected until Start.
func New(opts Options) *Client {
	log := opts.Logger.With().Str("component", "client").Logger()

	c := &Client{
		userID:      opts.UserID,
		data:        opts.Data,
		ledger:      ledger.New(),
		cache:       cache.New(opts.StaleAfter),
		dispatcher:  notify.New(opts.NotificationTTL, opts.Muted),
		log:         log,
		msgGen:      make(map[string]uint64),
		subscribers: make(map[int]chan Update),
	}
	c.transport = transport.New(opts.Push, opts.Data, opts.UserID, opts.Transport, opts.Logger)
	c.pipeline = pipeline.New(opts.Data, c.cache, opts.UserID, opts.Logger)

	c.ledger.SetOnChange(func(change ledger.Change) {
		c.dispatcher.HandleLedgerChange(change)
		c.publish(Update{Kind: UpdateUnread, ConversationID: change.ConversationID})
	})
	c.dispatcher.SetOnChange(func(*models.NotificationEvent) {
		c.publish(Update{Kind: UpdateNotification})
	})
	c.pipeline.SetOnSettled(func(conversationID string) {
		c.publish(Update{Kind: UpdateMessages, ConversationID: conversationID})
		c.publish(Update{Kind: UpdateConversations})
	})
	return c
}

// Start seeds the caches and begins consuming transport events. Safe to call
// once per client.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.refreshConversations()
	go c.refreshUnread()
	c.sub = c.transport.Connect(c.handleEvent)
}

// Stop tears the transport down. In-flight fetches settle against the caches
// but no further events are delivered.
func (c *Client) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

// Subscribe returns a channel of state-change updates and a cancel function.
func (c *Client) Subscribe() (<-chan Update, func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Update, 32)
	c.subscribers[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		if existing, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(existing)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

// Conversations returns the summaries ordered by lastMessageAt descending.
func (c *Client) Conversations() []models.Conversation {
	return c.cache.Conversations()
}

// Messages returns the cached thread synchronously and triggers a background
// refresh if the page is stale. Open conversations are kept fresh by the
// transport's short timer instead.
func (c *Client) Messages(conversationID string) []models.Message {
	if c.cache.IsStale(conversationID) {
		c.refreshMessages(conversationID, false)
	}
	return c.cache.Messages(conversationID)
}

// UnreadTotal returns the aggregate unread count.
func (c *Client) UnreadTotal() int {
	return c.ledger.Total()
}

// UnreadFor returns the unread count for one conversation.
func (c *Client) UnreadFor(conversationID string) int {
	return c.ledger.For(conversationID)
}

// Notification returns the visible alert, or nil.
func (c *Client) Notification() *models.NotificationEvent {
	return c.dispatcher.Current()
}

// PendingSends returns all unsettled optimistic sends.
func (c *Client) PendingSends() []models.PendingSend {
	return c.pipeline.PendingSends()
}

// IsPushAvailable reports transport health.
func (c *Client) IsPushAvailable() bool {
	return c.transport.IsPushAvailable()
}

// Send submits a message; the optimistic entry is visible in Messages before
// Send returns.
func (c *Client) Send(conversationID, content string, attachment *models.Attachment) (string, error) {
	correlationID, err := c.pipeline.Send(conversationID, content, attachment)
	if err != nil {
		return "", err
	}
	c.publish(Update{Kind: UpdateMessages, ConversationID: conversationID})
	c.publish(Update{Kind: UpdateConversations})
	return correlationID, nil
}

// RetrySend re-issues a failed send under its original correlation id.
func (c *Client) RetrySend(correlationID string) error {
	return c.pipeline.Retry(correlationID)
}

// DismissSend drops a failed send.
func (c *Client) DismissSend(correlationID string) error {
	return c.pipeline.Dismiss(correlationID)
}

// DismissNotification closes the visible alert.
func (c *Client) DismissNotification() {
	c.dispatcher.Dismiss()
}

// OpenConversation transitions the session to Open(conversationID). The read
// mark fires immediately; the message fetch runs behind it and never delays
// the mark.
func (c *Client) OpenConversation(conversationID string) {
	c.mu.Lock()
	c.open = conversationID
	c.mu.Unlock()

	c.transport.SetActiveConversation(conversationID)
	c.markRead(conversationID)
	c.refreshMessages(conversationID, true)
}

// CloseConversation transitions back to Closed and refreshes the conversation
// list so ordering reflects anything that happened while the thread was open.
// In-flight message fetches for the closed conversation are invalidated, not
// cancelled.
func (c *Client) CloseConversation() {
	c.mu.Lock()
	prev := c.open
	c.open = ""
	if prev != "" {
		c.msgGen[prev]++
	}
	c.mu.Unlock()

	c.transport.SetActiveConversation("")
	if prev != "" {
		go c.refreshConversations()
	}
}

// MarkRead zeroes the conversation's unread count and informs the server.
func (c *Client) MarkRead(conversationID string) {
	c.markRead(conversationID)
}

// handleEvent is the invalidation coordinator: given one transport event it
// decides which of the ledger and the cache act, and in what order.
func (c *Client) handleEvent(ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage:
		if ev.Message == nil {
			return
		}
		c.handleNewMessage(*ev.Message)
	case models.EventReadReceipt:
		if ev.Receipt == nil {
			return
		}
		c.cache.ApplyReadReceipt(ev.Receipt.ConversationID, ev.Receipt.ReaderID)
		if ev.Receipt.ReaderID == c.userID {
			c.ledger.MarkConversationRead(ev.Receipt.ConversationID)
		}
		c.publish(Update{Kind: UpdateMessages, ConversationID: ev.Receipt.ConversationID})
	case models.EventCountDelta:
		if ev.Delta == nil {
			return
		}
		if ev.Delta.Delta > 0 && c.openConversation() == ev.Delta.ConversationID {
			// The user is already viewing this thread: refresh it and
			// keep it read instead of raising the badge.
			c.refreshMessages(ev.Delta.ConversationID, true)
			c.markRead(ev.Delta.ConversationID)
			return
		}
		c.ledger.ApplyDelta(ev.Delta.ConversationID, ev.Delta.Delta)
	}
}

func (c *Client) handleNewMessage(m models.Message) {
	c.cache.IngestServerMessage(m)

	if c.openConversation() == m.ConversationID {
		// Viewing: fetch the page immediately (bypassing staleness) and
		// mark read; the badge must not flicker up for the open thread.
		c.refreshMessages(m.ConversationID, true)
		if m.SenderID != c.userID {
			c.markRead(m.ConversationID)
		}
	} else if m.SenderID != c.userID {
		c.ledger.ApplyDelta(m.ConversationID, 1)
	}

	c.publish(Update{Kind: UpdateMessages, ConversationID: m.ConversationID})
	c.publish(Update{Kind: UpdateConversations})
}

// markRead applies the optimistic zero and fires the server write in the
// background. A failed server write is not rolled back: the user has already
// seen the messages, and the next snapshot reconciles.
func (c *Client) markRead(conversationID string) {
	c.ledger.MarkConversationRead(conversationID)
	c.cache.ApplyReadReceipt(conversationID, c.userID)

	go func() {
		if err := c.data.MarkRead(context.Background(), conversationID); err != nil {
			c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark-read failed, keeping optimistic zero")
		}
	}()
}

// refreshMessages fetches a conversation's page. Late responses are discarded
// when a newer fetch or a close superseded them.
func (c *Client) refreshMessages(conversationID string, bypassStale bool) {
	if !bypassStale && !c.cache.IsStale(conversationID) {
		return
	}

	c.mu.Lock()
	c.msgGen[conversationID]++
	gen := c.msgGen[conversationID]
	c.mu.Unlock()

	go func() {
		msgs, err := c.data.FetchMessages(context.Background(), conversationID, api.Page{})
		if err != nil {
			// Keep last-known-good; the next poll tick is the retry.
			c.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("message fetch failed")
			return
		}

		c.mu.Lock()
		stale := c.msgGen[conversationID] != gen
		c.mu.Unlock()
		if stale {
			observability.IncStaleResponse()
			return
		}

		c.cache.MergeMessages(conversationID, msgs)
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		c.transport.MarkSeen(ids)
		c.publish(Update{Kind: UpdateMessages, ConversationID: conversationID})
	}()
}

func (c *Client) refreshConversations() {
	conversations, err := c.data.FetchConversations(context.Background())
	if err != nil {
		c.log.Debug().Err(err).Msg("conversation fetch failed")
		return
	}
	c.cache.SetConversations(conversations)
	c.publish(Update{Kind: UpdateConversations})
}

func (c *Client) refreshUnread() {
	counts, err := c.data.FetchUnreadCounts(context.Background())
	if err != nil {
		c.log.Debug().Err(err).Msg("unread fetch failed")
		return
	}
	c.ledger.ApplyServerSnapshot(counts.PerConversation)
}

// State is a point-in-time snapshot of the core, for the debug surface.
type State struct {
	PushAvailable    bool                      `json:"push_available"`
	OpenConversation string                    `json:"open_conversation,omitempty"`
	UnreadTotal      int                       `json:"unread_total"`
	Unread           map[string]int            `json:"unread"`
	Conversations    []models.Conversation     `json:"conversations"`
	PendingSends     []models.PendingSend      `json:"pending_sends,omitempty"`
	Notification     *models.NotificationEvent `json:"notification,omitempty"`
}

// DebugState snapshots the core for inspection.
func (c *Client) DebugState() State {
	return State{
		PushAvailable:    c.IsPushAvailable(),
		OpenConversation: c.openConversation(),
		UnreadTotal:      c.ledger.Total(),
		Unread:           c.ledger.Snapshot(),
		Conversations:    c.cache.Conversations(),
		PendingSends:     c.pipeline.PendingSends(),
		Notification:     c.dispatcher.Current(),
	}
}

func (c *Client) openConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// publish fans an update out to subscribers without blocking: a full
// subscriber channel simply coalesces, since consumers re-read state anyway.
func (c *Client) publish(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}
