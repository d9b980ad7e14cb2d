// Package cache holds conversation summaries and message pages, fresh enough
// to render without a network round trip per read.
package cache

import (
	"sort"
	"sync"
	"time"

	"coach-messaging/internal/models"
)

// Cache is the single owner of Conversation and Message objects for the view
// session. All reads return copies; callers never share slices with the cache.
type Cache struct {
	mu         sync.RWMutex
	summaries  map[string]models.Conversation
	messages   map[string][]models.Message
	fetchedAt  map[string]time.Time
	staleAfter time.Duration
}

// New builds an empty Cache. staleAfter is the threshold after which a cached
// message page triggers a background refresh.
func New(staleAfter time.Duration) *Cache {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return &Cache{
		summaries:  make(map[string]models.Conversation),
		messages:   make(map[string][]models.Message),
		fetchedAt:  make(map[string]time.Time),
		staleAfter: staleAfter,
	}
}

// Conversations returns all summaries ordered by lastMessageAt descending.
func (c *Cache) Conversations() []models.Conversation {
	c.mu.RLock()
	out := make([]models.Conversation, 0, len(c.summaries))
	for _, conv := range c.summaries {
		out = append(out, conv)
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// SetConversations replaces the summary set from a server fetch.
func (c *Cache) SetConversations(conversations []models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = make(map[string]models.Conversation, len(conversations))
	for _, conv := range conversations {
		c.summaries[conv.ID] = conv
	}
}

// Messages returns the cached message page for a conversation, ordered by
// createdAt with ties broken by insertion order.
func (c *Cache) Messages(conversationID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// MessageIDs returns the server ids currently cached for a conversation.
func (c *Cache) MessageIDs(conversationID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for _, m := range c.messages[conversationID] {
		if m.Confirmed() {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// MergeMessages folds a fetched server page into the cache. Local optimistic
// entries survive the merge unless the page carries their correlation id, and
// the page marks the conversation fresh.
func (c *Cache) MergeMessages(conversationID string, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.upsertLocked(m)
	}
	c.fetchedAt[conversationID] = time.Now()
}

// IngestServerMessage inserts or updates a server-confirmed message. A
// matching optimistic placeholder (same correlation id) is replaced in place
// rather than duplicated; an existing record with the same id is updated.
func (c *Cache) IngestServerMessage(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertLocked(m)
}

func (c *Cache) upsertLocked(m models.Message) {
	list := c.messages[m.ConversationID]

	replaced := false
	if m.CorrelationID != "" {
		for i := range list {
			if !list[i].Confirmed() && list[i].CorrelationID == m.CorrelationID {
				list[i] = m
				replaced = true
				break
			}
		}
	}
	if !replaced && m.Confirmed() {
		for i := range list {
			if list[i].ID == m.ID {
				list[i] = m
				replaced = true
				break
			}
		}
	}
	if !replaced {
		list = append(list, m)
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	c.messages[m.ConversationID] = list
	c.bumpSummaryLocked(m)
}

// InsertLocal adds an optimistic placeholder for a send in flight. Placeholders
// bump the conversation's list position exactly like confirmed messages.
func (c *Cache) InsertLocal(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[m.ConversationID] = append(c.messages[m.ConversationID], m)
	c.bumpSummaryLocked(m)
}

// SetDeliveryState flips an optimistic placeholder between pending and failed.
func (c *Cache) SetDeliveryState(conversationID, correlationID string, state models.SendState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.messages[conversationID]
	for i := range list {
		if !list[i].Confirmed() && list[i].CorrelationID == correlationID {
			list[i].Delivery = state
			return
		}
	}
}

// RemoveLocal discards an optimistic placeholder (user dismissed a failed
// send). Confirmed messages are never removed.
func (c *Cache) RemoveLocal(conversationID, correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.messages[conversationID]
	for i := range list {
		if !list[i].Confirmed() && list[i].CorrelationID == correlationID {
			c.messages[conversationID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// ApplyReadReceipt marks every message not sent by the reader as read.
func (c *Cache) ApplyReadReceipt(conversationID, readerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.messages[conversationID]
	for i := range list {
		if list[i].SenderID != readerID {
			list[i].IsRead = true
		}
	}
}

// IsStale reports whether the conversation's message page should be refreshed.
func (c *Cache) IsStale(conversationID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	at, ok := c.fetchedAt[conversationID]
	return !ok || time.Since(at) > c.staleAfter
}

func (c *Cache) bumpSummaryLocked(m models.Message) {
	conv, ok := c.summaries[m.ConversationID]
	if !ok {
		return
	}
	if m.CreatedAt.After(conv.LastMessageAt) {
		msg := m
		conv.LastMessage = &msg
		conv.LastMessageAt = m.CreatedAt
		c.summaries[m.ConversationID] = conv
	}
}
