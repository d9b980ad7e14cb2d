// Package pipeline implements optimistic message sending: immediate local
// visibility, server confirmation, and user-driven retry on failure.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coach-messaging/internal/api"
	"coach-messaging/internal/cache"
	"coach-messaging/internal/models"
	"coach-messaging/internal/observability"
)

var (
	ErrEmptyMessage  = errors.New("message needs content or an attachment")
	ErrUnknownSend   = errors.New("no send with that correlation id")
	ErrSendNotFailed = errors.New("send is not in a failed state")
)

// Pipeline drives sends through the three-state PendingSend lifecycle. Failed
// sends are retained for user-visible retry or dismissal, never auto-retried:
// the correlation id is client-scoped only, so automatic retries could
// duplicate messages.
type Pipeline struct {
	data   api.DataService
	cache  *cache.Cache
	userID string
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*models.PendingSend

	// onSettled runs after a send confirms or fails, outside the lock.
	onSettled func(conversationID string)
}

// New builds a Pipeline writing into the given cache.
func New(data api.DataService, c *cache.Cache, userID string, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		data:    data,
		cache:   c,
		userID:  userID,
		log:     log.With().Str("component", "pipeline").Logger(),
		pending: make(map[string]*models.PendingSend),
	}
}

// SetOnSettled registers the settle hook. Must be set before the pipeline is
// shared.
func (p *Pipeline) SetOnSettled(fn func(conversationID string)) {
	p.onSettled = fn
}

// Send creates a PendingSend, inserts the optimistic message into the cache
// for immediate render, and issues the write in the background. The cache
// insert happens synchronously, so sends to the same conversation always land
// in submission order regardless of how server responses interleave.
func (p *Pipeline) Send(conversationID, content string, attachment *models.Attachment) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachment == nil {
		return "", ErrEmptyMessage
	}

	correlationID := uuid.NewString()
	msg := models.Message{
		ConversationID: conversationID,
		SenderID:       p.userID,
		Content:        content,
		Attachment:     attachment,
		CreatedAt:      time.Now(),
		CorrelationID:  correlationID,
		Delivery:       models.SendPending,
	}

	p.mu.Lock()
	p.pending[correlationID] = &models.PendingSend{
		CorrelationID: correlationID,
		Message:       msg,
		State:         models.SendPending,
		SubmittedAt:   msg.CreatedAt,
	}
	p.mu.Unlock()

	p.cache.InsertLocal(msg)
	observability.IncSend("submitted")

	go p.dispatch(correlationID, msg)
	return correlationID, nil
}

// Retry re-issues a failed send, reusing the original correlation id so the
// server-side record (if the first attempt actually landed) still reconciles
// with the same placeholder.
func (p *Pipeline) Retry(correlationID string) error {
	p.mu.Lock()
	ps, ok := p.pending[correlationID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownSend
	}
	if ps.State != models.SendFailed {
		p.mu.Unlock()
		return ErrSendNotFailed
	}
	ps.State = models.SendPending
	ps.LastError = ""
	msg := ps.Message
	p.mu.Unlock()

	p.cache.SetDeliveryState(msg.ConversationID, correlationID, models.SendPending)
	observability.IncSend("retried")

	go p.dispatch(correlationID, msg)
	return nil
}

// Dismiss drops a failed send and its placeholder.
func (p *Pipeline) Dismiss(correlationID string) error {
	p.mu.Lock()
	ps, ok := p.pending[correlationID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownSend
	}
	if ps.State != models.SendFailed {
		p.mu.Unlock()
		return ErrSendNotFailed
	}
	delete(p.pending, correlationID)
	conversationID := ps.Message.ConversationID
	p.mu.Unlock()

	p.cache.RemoveLocal(conversationID, correlationID)
	observability.IncSend("dismissed")
	p.settle(conversationID)
	return nil
}

// PendingSends returns a copy of all unsettled sends, failed ones included.
func (p *Pipeline) PendingSends() []models.PendingSend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.PendingSend, 0, len(p.pending))
	for _, ps := range p.pending {
		out = append(out, *ps)
	}
	return out
}

func (p *Pipeline) dispatch(correlationID string, msg models.Message) {
	confirmed, err := p.data.SendMessage(context.Background(), msg.ConversationID, msg.Content, msg.Attachment, correlationID)
	if err != nil {
		p.mu.Lock()
		if ps, ok := p.pending[correlationID]; ok {
			ps.State = models.SendFailed
			ps.LastError = err.Error()
		}
		p.mu.Unlock()

		p.cache.SetDeliveryState(msg.ConversationID, correlationID, models.SendFailed)
		observability.IncSend("failed")
		p.log.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("send failed, retained for retry")
		p.settle(msg.ConversationID)
		return
	}

	// The server echoes the correlation id; set it regardless so the cache
	// can swap the placeholder in place.
	confirmed.CorrelationID = correlationID

	p.mu.Lock()
	delete(p.pending, correlationID)
	p.mu.Unlock()

	p.cache.IngestServerMessage(confirmed)
	observability.IncSend("confirmed")
	p.settle(msg.ConversationID)
}

func (p *Pipeline) settle(conversationID string) {
	if p.onSettled != nil {
		p.onSettled(conversationID)
	}
}
